// Package ffkit 基于 ffmpeg 子进程的录制与转码工具
// 录制走 copy 转封装不重编码，开销只有封装层
package ffkit

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

// Source 一路流的拉流参数
type Source struct {
	URL       string // rtsp/rtmp 地址或本地设备
	Transport string // rtsp 传输协议，默认 tcp
}

// Recorder 管理多路 ffmpeg 录制子进程，一路流一个进程
type Recorder struct {
	m       sync.Mutex
	sources map[string]Source
	procs   map[string]*proc
}

type proc struct {
	cmd  *exec.Cmd
	path string
	log  *queue.CirQueue[string]
	done chan error
}

func NewRecorder(sources map[string]Source) *Recorder {
	return &Recorder{
		sources: sources,
		procs:   make(map[string]*proc),
	}
}

// buildRecordArgs 拉流转封装为 mp4，faststart 便于边录边放
func buildRecordArgs(src Source, output string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-user_agent", "FFmpeg GoWVP",
		"-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts+discardcorrupt",
	}
	transport := src.Transport
	if transport == "" {
		transport = "tcp"
	}
	args = append(args,
		"-rtsp_transport", transport,
		"-timeout", "10000000",
		"-i", src.URL,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", output,
	)
	return args
}

// Start 启动一路流的录制进程，写入 output
func (r *Recorder) Start(ctx context.Context, streamID, output string) error {
	r.m.Lock()
	defer r.m.Unlock()

	if _, ok := r.procs[streamID]; ok {
		return fmt.Errorf("stream %s already recording", streamID)
	}
	src, ok := r.sources[streamID]
	if !ok {
		return fmt.Errorf("unknown stream %s", streamID)
	}

	cmd := exec.Command("ffmpeg", buildRecordArgs(src, output)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	p := proc{
		cmd:  cmd,
		path: output,
		log:  queue.NewCirQueue[string](100),
		done: make(chan error, 1),
	}
	go readLines(stderr, p.log)
	go func() { p.done <- cmd.Wait() }()

	r.procs[streamID] = &p
	return nil
}

// Stop 停止一路流的录制
// 先发 SIGINT 让 ffmpeg 写完 moov 收尾，超时再强杀
func (r *Recorder) Stop(ctx context.Context, streamID string) error {
	r.m.Lock()
	p, ok := r.procs[streamID]
	delete(r.procs, streamID)
	r.m.Unlock()
	if !ok {
		return nil
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGINT)
	}
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill ffmpeg: %w", err)
		}
		<-p.done
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-p.done
		return ctx.Err()
	}
	return nil
}

// Log 一路流最近的 ffmpeg 输出，排障用
func (r *Recorder) Log(streamID string) []string {
	r.m.Lock()
	p, ok := r.procs[streamID]
	r.m.Unlock()
	if !ok {
		return nil
	}
	return p.log.Range()
}

// Running 当前正在录制的流
func (r *Recorder) Running() []string {
	r.m.Lock()
	defer r.m.Unlock()
	ids := make([]string, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	return ids
}
