package conf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Bootstrap 全局配置
type Bootstrap struct {
	BuildVersion string `toml:"-"`
	ConfigPath   string `toml:"-"`
	Server       Server `toml:"server"`
	Data         Data   `toml:"data"`
}

type Server struct {
	Debug    bool     `toml:"debug"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	HTTP     HTTP     `toml:"http"`
	Record   Record   `toml:"record"`
	Sensor   Sensor   `toml:"sensor"`
	Streams  []Stream `toml:"streams"`
}

type HTTP struct {
	Port      int    `toml:"port"`
	JwtSecret string `toml:"jwt_secret"`
	PProf     PProf  `toml:"pprof"`
}

type PProf struct {
	Enabled   bool     `toml:"enabled"`
	AccessIps []string `toml:"access_ips"`
}

// Record 录制与分段配置
type Record struct {
	Disabled bool `toml:"disabled"`
	// StorageDir 录像存储根目录，其下固定划分 normal/ 与 protected/ 两个区域
	StorageDir string `toml:"storage_dir"`
	// SegmentMs 分段时长（毫秒），每到一个周期轮换一次分段
	SegmentMs int `toml:"segment_ms"`
	// MinFreeSpaceMB 磁盘剩余空间下限（MB），低于该值触发清理
	MinFreeSpaceMB int `toml:"min_free_space_mb"`
	// BurnToVideo 是否将遥测字幕烧录进视频画面
	BurnToVideo bool `toml:"burn_to_video"`
	// GenerateSidecarSubtitle 未烧录时是否生成 .srt 伴随字幕文件
	// 与 BurnToVideo 互斥，烧录开启时忽略此项
	GenerateSidecarSubtitle bool `toml:"generate_sidecar_subtitle"`
	// CleanupIntervalMin 后台清理协程的执行周期（分钟）
	CleanupIntervalMin int `toml:"cleanup_interval_min"`
}

// Sensor 传感器配置
type Sensor struct {
	// CollisionMagnitudeThreshold 碰撞判定阈值，加速度模长（g）达到该值视为碰撞
	CollisionMagnitudeThreshold float64 `toml:"collision_magnitude_threshold"`
}

// Stream 一路摄像头，ID 是稳定的机位标识
type Stream struct {
	ID        string `toml:"id"`
	Name      string `toml:"name"`
	Source    string `toml:"source"`    // 拉流地址，如 rtsp://...
	Transport string `toml:"transport"` // tcp/udp，默认 tcp
}

type Data struct {
	Database Database `toml:"database"`
}

type Database struct {
	Dsn             string   `toml:"dsn"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold"`
}

// Duration 支持 toml 中以 "60s"、"5m" 形式书写时长
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// SegmentDuration 分段时长，应用默认值
func (r Record) SegmentDuration() time.Duration {
	if r.SegmentMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(r.SegmentMs) * time.Millisecond
}

// CleanupInterval 后台清理周期，应用默认值
func (r Record) CleanupInterval() time.Duration {
	if r.CleanupIntervalMin <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(r.CleanupIntervalMin) * time.Minute
}

// SetupConfig 读取配置文件，文件不存在时写入默认配置
func SetupConfig(bc *Bootstrap, path string) error {
	setDefault(bc)
	bc.ConfigPath = path
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read config: %w", err)
		}
		slog.Info("配置文件不存在，写入默认配置", "path", path)
		return WriteConfig(bc, path)
	}
	if err := toml.Unmarshal(data, bc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	setDefault(bc)
	return nil
}

// setDefault 填充缺省值
func setDefault(bc *Bootstrap) {
	svr := &bc.Server
	if svr.HTTP.Port <= 0 {
		svr.HTTP.Port = 8080
	}
	r := &svr.Record
	if r.StorageDir == "" {
		r.StorageDir = "recordings"
	}
	if r.SegmentMs <= 0 {
		r.SegmentMs = 60000
	}
	if r.MinFreeSpaceMB <= 0 {
		r.MinFreeSpaceMB = 500
	}
	if svr.Sensor.CollisionMagnitudeThreshold <= 0 {
		svr.Sensor.CollisionMagnitudeThreshold = 2.5
	}
	for i := range svr.Streams {
		if svr.Streams[i].Transport == "" {
			svr.Streams[i].Transport = "tcp"
		}
	}
	db := &bc.Data.Database
	if db.Dsn == "" {
		db.Dsn = "dashcam.db"
	}
	if db.MaxIdleConns <= 0 {
		db.MaxIdleConns = 2
	}
	if db.MaxOpenConns <= 0 {
		db.MaxOpenConns = 10
	}
	if db.SlowThreshold <= 0 {
		db.SlowThreshold = Duration(200 * time.Millisecond)
	}
}

// WriteConfig 回写配置文件，凭据修改后持久化
func WriteConfig(bc *Bootstrap, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(bc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
