package segment

import (
	"context"

	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

// 分段文件状态
// OPEN -> CLOSED -> QUEUED -> BURNED | BURN_FAILED
// protected 与状态正交，置位后不再撤销
const (
	StateOpen       = "OPEN"
	StateClosed     = "CLOSED"
	StateQueued     = "QUEUED"
	StateBurned     = "BURNED"
	StateBurnFailed = "BURN_FAILED"
)

// SessionState 会话状态机：IDLE -> RECORDING -> IDLE，启动失败进入 ERROR
type SessionState string

const (
	SessionIdle      SessionState = "IDLE"
	SessionRecording SessionState = "RECORDING"
	SessionError     SessionState = "ERROR"
)

// Segment 一路流在一个轮换周期内的分段记录
// 同一 (session, seq) 下每路流各一行
type Segment struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string `gorm:"index" json:"session_id"`
	Seq       int64  `gorm:"index" json:"seq"` // 会话内单调递增的分段序号
	StreamID  string `gorm:"index" json:"stream_id"`
	// Path 相对存储根目录的路径，保护后更新为保护区路径
	Path      string   `gorm:"index" json:"path"`
	StartedAt orm.Time `gorm:"index" json:"started_at"`
	EndedAt   orm.Time `json:"ended_at"`
	Duration  float64  `json:"duration"` // 秒
	Size      int64    `json:"size"`     // 字节
	State     string   `gorm:"index" json:"state"`
	Protected bool     `gorm:"index" json:"protected"`
	BurnError string   `json:"burn_error,omitempty"`
	CreatedAt orm.Time `json:"created_at"`
	UpdatedAt orm.Time `json:"updated_at"`
}

func (*Segment) TableName() string {
	return "segments"
}

// TimeRange 时间轴数据项，表示一段录像的时间范围
type TimeRange struct {
	ID        int64   `json:"id"`
	StartMs   int64   `json:"start_ms"`
	EndMs     int64   `json:"end_ms"`
	Duration  float64 `json:"duration"`
	State     string  `json:"state"`
	Protected bool    `json:"protected"`
}

// SegmentStorer Instantiation interface
type SegmentStorer interface {
	Find(context.Context, *[]*Segment, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *Segment, ...orm.QueryOption) error
	Add(context.Context, *Segment) error
	Edit(context.Context, *Segment, func(*Segment), ...orm.QueryOption) error
	Del(context.Context, *Segment, ...orm.QueryOption) error
	Count(context.Context, ...orm.QueryOption) (int64, error)

	Session(context.Context, ...func(*gorm.DB) error) error
}

// Storer data persistence
type Storer interface {
	Segment() SegmentStorer
}
