package burnin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gowvp/dashcam/internal/core/telemetry"
)

// Config 后处理开关
// BurnToVideo 开启时忽略 GenerateSidecarSubtitle
type Config struct {
	BurnToVideo             bool
	GenerateSidecarSubtitle bool
}

// Pipeline 分段后处理流水线
// 无界 FIFO 队列配唯一消费协程：串行转码限制资源占用，也避免输出文件争用。
// 入队立即返回，慢转码只会推迟更旧分段的完成，从不阻塞录制与轮换。
// 失败不自动重试：烧录失败时保留未加水印的原始分段（证据优先于水印）。
type Pipeline struct {
	tc       Transcoder
	conf     Config
	onResult func(Result)
	log      *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	running bool
}

type Option func(*Pipeline)

// WithOnResult 注册结果回调，在消费协程内按任务完成顺序触发
func WithOnResult(fn func(Result)) Option {
	return func(p *Pipeline) { p.onResult = fn }
}

func NewPipeline(tc Transcoder, conf Config, opts ...Option) *Pipeline {
	p := Pipeline{
		tc:   tc,
		conf: conf,
		log:  slog.With("worker", "burnin"),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(&p)
	}
	return &p
}

// OnResult 注册结果回调，构造后再接线时使用
// 流水线与会话控制互相引用，回调只能在两者都就绪后挂上
func (p *Pipeline) OnResult(fn func(Result)) {
	p.mu.Lock()
	p.onResult = fn
	p.mu.Unlock()
}

// Enqueue 追加任务并立即返回，消费协程不在运行时顺带拉起
func (p *Pipeline) Enqueue(t Task) {
	p.mu.Lock()
	p.queue = append(p.queue, t)
	if !p.running {
		p.running = true
		go p.work()
	}
	p.mu.Unlock()
}

// QueueLen 当前排队任务数，不含正在处理的任务
func (p *Pipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// WaitIdle 等待队列排空且消费协程退出
// 停止会话不会取消已入队任务，需要干净收尾的调用方在此显式等待
func (p *Pipeline) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.running || len(p.queue) > 0 {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// work 唯一消费协程：逐个任务处理，队列空则退出
func (p *Pipeline) work() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.running = false
			p.cond.Broadcast()
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.process(t)
	}
}

// process 处理一个分段：按流机位顺序逐文件执行
func (p *Pipeline) process(t Task) {
	ctx := context.Background()

	// 回调可能在消费协程运行后才接线，读取须与 OnResult 的写入同锁
	p.mu.Lock()
	onResult := p.onResult
	p.mu.Unlock()

	streamIDs := make([]string, 0, len(t.Files))
	for id := range t.Files {
		streamIDs = append(streamIDs, id)
	}
	sort.Strings(streamIDs)

	for _, streamID := range streamIDs {
		res := p.processFile(ctx, t, streamID)
		if res.Err != nil {
			p.log.Error("分段后处理失败",
				"seq", t.Seq, "stream", streamID, "path", res.Path, "err", res.Err)
		}
		if onResult != nil {
			onResult(res)
		}
	}
}

func (p *Pipeline) processFile(ctx context.Context, t Task, streamID string) Result {
	path := t.Files[streamID]
	res := Result{Seq: t.Seq, StreamID: streamID, Path: path}

	samples := t.Samples[streamID]
	if len(samples) == 0 {
		res.Skipped = true
		return res
	}

	segSeconds := t.EndedAt.Sub(t.StartedAt).Seconds()
	srt := RenderSRT(telemetry.BuildOverlay(samples, segSeconds))

	if !p.conf.BurnToVideo {
		if p.conf.GenerateSidecarSubtitle {
			sidecar := strings.TrimSuffix(path, filepath.Ext(path)) + ".srt"
			if err := os.WriteFile(sidecar, []byte(srt), 0o644); err != nil {
				res.Err = fmt.Errorf("write sidecar: %w", err)
				return res
			}
			res.SubtitlePath = sidecar
		}
		res.Duration = p.probe(ctx, path)
		return res
	}

	// 字幕与临时输出都放在原文件同目录，点号前缀让回收扫描忽略它们，
	// 同目录保证 rename 是原子替换
	dir, base := filepath.Dir(path), filepath.Base(path)
	srtTmp := filepath.Join(dir, "."+base+".overlay.srt")
	outTmp := filepath.Join(dir, "."+base+".burn.mp4")
	defer os.Remove(srtTmp)

	if err := os.WriteFile(srtTmp, []byte(srt), 0o644); err != nil {
		res.Err = fmt.Errorf("write overlay subtitle: %w", err)
		return res
	}
	if err := p.tc.Burn(ctx, path, srtTmp, outTmp); err != nil {
		os.Remove(outTmp)
		res.Err = fmt.Errorf("burn: %w", err)
		return res
	}
	// 替换件必须确认存在且非空，原文件在此之前绝不动
	info, err := os.Stat(outTmp)
	if err != nil || info.Size() == 0 {
		os.Remove(outTmp)
		res.Err = fmt.Errorf("burn output missing or empty: %v", err)
		return res
	}
	if err := os.Rename(outTmp, path); err != nil {
		os.Remove(outTmp)
		res.Err = fmt.Errorf("replace original: %w", err)
		return res
	}

	res.Duration = p.probe(ctx, path)
	return res
}

func (p *Pipeline) probe(ctx context.Context, path string) time.Duration {
	d, err := p.tc.ProbeDuration(ctx, path)
	if err != nil {
		p.log.Warn("探测媒体时长失败", "path", path, "err", err)
		return 0
	}
	return d
}
