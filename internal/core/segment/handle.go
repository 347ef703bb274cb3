package segment

import (
	"context"
	"log/slog"
	"sync"
)

// Recorder 外部录制器，负责实际的采集与编码落盘
// stop 返回后文件即视为已安全关闭，可以直接改名或转码
type Recorder interface {
	Start(ctx context.Context, streamID, path string) error
	Stop(ctx context.Context, streamID string) error
}

// Handle 一路流的录制句柄，给调度器一个统一的多流接口
// 不做任何缓冲或转换
type Handle struct {
	StreamID string

	mu         sync.Mutex
	activeFile string
	rec        Recorder
}

func NewHandle(streamID string, rec Recorder) *Handle {
	return &Handle{StreamID: streamID, rec: rec}
}

// Start 让录制器开始写入 path
// 已经活跃时不重复启动，仅记一条诊断日志
func (h *Handle) Start(ctx context.Context, path string) error {
	h.mu.Lock()
	if h.activeFile != "" {
		active := h.activeFile
		h.mu.Unlock()
		slog.WarnContext(ctx, "录制句柄已活跃，忽略重复启动", "stream", h.StreamID, "active", active)
		return nil
	}
	h.mu.Unlock()

	// 不持锁调用录制器
	if err := h.rec.Start(ctx, h.StreamID, path); err != nil {
		return err
	}
	h.mu.Lock()
	h.activeFile = path
	h.mu.Unlock()
	return nil
}

// Stop 让录制器收尾并关闭当前文件，幂等
// 返回刚关闭的文件路径，空闲时返回空串
func (h *Handle) Stop(ctx context.Context) (string, error) {
	h.mu.Lock()
	path := h.activeFile
	h.mu.Unlock()
	if path == "" {
		return "", nil
	}

	if err := h.rec.Stop(ctx, h.StreamID); err != nil {
		return path, err
	}
	h.mu.Lock()
	h.activeFile = ""
	h.mu.Unlock()
	return path, nil
}

// ActiveFile 当前正在写入的文件，空闲时为空串
func (h *Handle) ActiveFile() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeFile
}
