package segment

import (
	"github.com/ixugo/goddd/pkg/web"
)

type FindSegmentInput struct {
	web.PagerFilter
	web.DateFilter
	StreamID  string `form:"stream_id"`  // 流机位 ID
	SessionID string `form:"session_id"` // 会话 ID
	State     string `form:"state"`      // 分段状态
	Protected *bool  `form:"protected"`  // 仅保护/仅常规，不传则不过滤
}

// TimelineInput 时间轴查询参数
type TimelineInput struct {
	web.DateFilter
	StreamID string `form:"stream_id"` // 流机位 ID
}

// MonthlyStatsInput 月度统计查询参数
type MonthlyStatsInput struct {
	StreamID string `form:"stream_id"` // 流机位 ID（可选，不传则查所有机位）
	Year     int    `form:"year"`      // 年份，如 2025
	Month    int    `form:"month"`     // 月份，1-12
}

// MonthlyStatsOutput 月度统计输出
type MonthlyStatsOutput struct {
	Year     int    `json:"year"`      // 年份
	Month    int    `json:"month"`     // 月份
	Days     int    `json:"days"`      // 该月总天数
	HasVideo string `json:"has_video"` // 位图字符串，第 n 天有录像则第 n 位为 1
}

// StopInput 停止会话参数
type StopInput struct {
	Flush bool `json:"flush"` // 为真时最后一个不完整分段照常送后处理
}

// StreamStatus 一路流的实时状态
type StreamStatus struct {
	StreamID   string `json:"stream_id"`
	Name       string `json:"name"`
	ActiveFile string `json:"active_file"`
}

// StatusOutput 会话状态输出
type StatusOutput struct {
	State            string         `json:"state"`
	SessionID        string         `json:"session_id,omitempty"`
	Seq              int64          `json:"seq,omitempty"`
	SegmentStartedAt int64          `json:"segment_started_at,omitempty"` // 当前分段起点（毫秒）
	LastError        string         `json:"last_error,omitempty"`
	FreeSpaceBytes   uint64         `json:"free_space_bytes"`
	Streams          []StreamStatus `json:"streams,omitempty"`
}
