package burnin

import (
	"context"
	"time"

	"github.com/gowvp/dashcam/internal/core/telemetry"
)

// Transcoder 外部转码器，负责把字幕烧入视频与探测时长
type Transcoder interface {
	// Burn 把 subtitlePath 指向的字幕烧入 inputPath，写到 outputPath
	Burn(ctx context.Context, inputPath, subtitlePath, outputPath string) error
	// ProbeDuration 探测媒体文件时长
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}

// Task 一个分段的后处理任务，入队时携带自己的文件与缓冲副本，
// 与后续分段的状态完全无关
type Task struct {
	Seq       int64
	SessionID string
	StartedAt time.Time
	EndedAt   time.Time
	// Files 流机位 -> 已关闭的文件路径
	Files map[string]string
	// Samples 流机位 -> 该分段的遥测缓冲
	Samples map[string][]telemetry.Sample
}

// Result 单个文件的处理结果
type Result struct {
	Seq          int64
	StreamID     string
	Path         string
	SubtitlePath string        // 生成伴随字幕时的 .srt 路径
	Duration     time.Duration // 探测到的媒体时长，探测失败为 0
	Skipped      bool          // 无采样数据，未做处理
	Err          error         // 非 nil 表示烧录失败，原文件保持原样
}
