package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/dashcam/internal/conf"
	"github.com/gowvp/dashcam/internal/core/burnin"
	"github.com/gowvp/dashcam/internal/core/segment"
	"github.com/gowvp/dashcam/internal/core/segment/store/segmentdb"
	"github.com/gowvp/dashcam/internal/core/storage"
	"github.com/gowvp/dashcam/internal/core/storage/store/storagedb"
	"github.com/gowvp/dashcam/internal/core/telemetry"
	"github.com/gowvp/dashcam/pkg/ffkit"
	"github.com/ixugo/goddd/domain/version/versionapi"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
)

var (
	ProviderVersionSet = wire.NewSet(versionapi.NewVersionCore)
	ProviderSet        = wire.NewSet(
		wire.Struct(new(Usecase), "*"),
		NewHTTPHandler,
		versionapi.New,
		NewSampler,
		NewCatalog,
		NewTranscoder, NewPipeline,
		NewFFRecorder,
		NewSegmentStore, NewSegmentCore, NewSegmentAPI,
		NewSessionAPI,
		NewSensorAPI,
		NewStorageAPI,
		NewUserAPI,
	)
)

type Usecase struct {
	Conf    *conf.Bootstrap
	DB      *gorm.DB
	Version versionapi.API

	SessionAPI SessionAPI
	SegmentAPI SegmentAPI
	SensorAPI  SensorAPI
	StorageAPI StorageAPI
	UserAPI    UserAPI
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	cfg := uc.Conf.Server
	if cfg.HTTP.JwtSecret == "" {
		uc.Conf.Server.HTTP.JwtSecret = orm.GenerateRandomString(32)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.NoRoute(func(c *gin.Context) {
		c.JSON(404, "来到了无人的荒漠")
	})
	// 如果启用了 Pprof，设置 Pprof 监控
	if cfg.HTTP.PProf.Enabled {
		web.SetupPProf(g, &cfg.HTTP.PProf.AccessIps) // 设置 Pprof 监控
	}

	setupRouter(g, uc) // 设置路由处理函数
	uc.Version.RecordVersion()
	return g // 返回配置好的 Gin 实例作为 http.Handler
}

// NewSampler 遥测采样器，流集合来自配置
func NewSampler(cfg *conf.Bootstrap) *telemetry.Sampler {
	ids := make([]string, 0, len(cfg.Server.Streams))
	for _, s := range cfg.Server.Streams {
		ids = append(ids, s.ID)
	}
	return telemetry.NewSampler(ids)
}

// NewCatalog 存储目录，带索引存储与启动对账
func NewCatalog(cfg *conf.Bootstrap, db *gorm.DB) (*storage.Catalog, error) {
	store := storagedb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
	catalog, err := storage.NewCatalog(
		cfg.Server.Record.StorageDir,
		cfg.Server.Record.MinFreeSpaceMB,
		storage.WithStore(store),
	)
	if err != nil {
		return nil, err
	}

	// 启动对账重建索引，随后周期清理
	go func() {
		ctx := context.Background()
		if err := catalog.Reconcile(ctx); err != nil {
			slog.Error("启动对账失败", "err", err)
		}
		catalog.StartCleanupWorker(ctx, cfg.Server.Record.CleanupInterval())
	}()
	return catalog, nil
}

func NewTranscoder() *ffkit.Transcoder {
	return ffkit.NewTranscoder()
}

// NewFFRecorder 录制器，一路流一个 ffmpeg 子进程
func NewFFRecorder(cfg *conf.Bootstrap) segment.Recorder {
	sources := make(map[string]ffkit.Source, len(cfg.Server.Streams))
	for _, s := range cfg.Server.Streams {
		sources[s.ID] = ffkit.Source{URL: s.Source, Transport: s.Transport}
	}
	return ffkit.NewRecorder(sources)
}

// NewPipeline 后处理流水线
func NewPipeline(cfg *conf.Bootstrap, tc *ffkit.Transcoder) *burnin.Pipeline {
	r := cfg.Server.Record
	return burnin.NewPipeline(tc, burnin.Config{
		BurnToVideo:             r.BurnToVideo,
		GenerateSidecarSubtitle: r.GenerateSidecarSubtitle,
	})
}

// NewSegmentStore 创建分段存储层
func NewSegmentStore(db *gorm.DB) segment.Storer {
	return segmentdb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
}

// NewSegmentCore 创建会话控制核心服务
// 后处理结果通过回调写回分段记录
func NewSegmentCore(store segment.Storer, cfg *conf.Bootstrap, rec segment.Recorder,
	sampler *telemetry.Sampler, catalog *storage.Catalog, pipeline *burnin.Pipeline,
) *segment.Core {
	core := segment.NewCore(store,
		segment.WithConfig(&cfg.Server.Record),
		segment.WithStreams(cfg.Server.Streams),
		segment.WithRecorder(rec),
		segment.WithSampler(sampler),
		segment.WithCatalog(catalog),
		segment.WithPipeline(pipeline),
	)
	pipeline.OnResult(core.HandleBurnResult)

	// 行车记录仪开机即录
	if core.IsEnabled() && len(cfg.Server.Streams) > 0 {
		go func() {
			if err := core.Start(context.Background()); err != nil {
				slog.Error("开机自动录制失败", "err", err)
			}
		}()
	}
	return core
}
