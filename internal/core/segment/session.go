package segment

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gowvp/dashcam/internal/core/burnin"
	"github.com/gowvp/dashcam/internal/core/telemetry"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
)

// Start 开始录制会话
// 所有配置流必须全部启动成功，任何一路失败则回滚已启动的流并进入 ERROR
func (c *Core) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.IsEnabled() {
		return reason.ErrBadRequest.Withf("recording is disabled")
	}
	if len(c.streams) == 0 {
		c.mu.Lock()
		c.state = SessionError
		c.lastErr = "no streams configured"
		c.mu.Unlock()
		return reason.ErrBadRequest.Withf("no streams configured")
	}

	c.mu.Lock()
	if c.state == SessionRecording {
		c.mu.Unlock()
		return reason.ErrBadRequest.Withf("session already recording")
	}
	sessionID := uuid.NewString()
	now := time.Now()
	c.sessionID = sessionID
	c.seq = 1
	c.startedAt = now
	c.mu.Unlock()

	// 目录与文件路径先备好，录制器启动不持锁
	files := make(map[string]string, len(c.streams))
	for _, st := range c.streams {
		if err := c.catalog.EnsureStreamDirs(st.ID); err != nil {
			return reason.ErrServer.Withf("ensure dirs stream[%s] err[%s]", st.ID, err.Error())
		}
		files[st.ID] = c.catalog.SegmentPath(st.ID, now, 1)
	}

	started := make([]string, 0, len(c.streams))
	for _, st := range c.streams {
		if err := c.handles[st.ID].Start(ctx, files[st.ID]); err != nil {
			// 回滚已启动的流
			for _, id := range started {
				if _, serr := c.handles[id].Stop(ctx); serr != nil {
					slog.ErrorContext(ctx, "回滚停止录制失败", "stream", id, "err", serr)
				}
			}
			c.mu.Lock()
			c.state = SessionError
			c.lastErr = err.Error()
			c.mu.Unlock()
			return reason.ErrBadRequest.Withf("start stream[%s] err[%s]", st.ID, err.Error())
		}
		started = append(started, st.ID)
	}

	rowIDs := make(map[string]int64, len(c.streams))
	for _, st := range c.streams {
		row := Segment{
			SessionID: sessionID,
			Seq:       1,
			StreamID:  st.ID,
			Path:      c.relPath(files[st.ID]),
			StartedAt: orm.Time{Time: now},
			State:     StateOpen,
		}
		if err := c.store.Segment().Add(ctx, &row); err != nil {
			slog.ErrorContext(ctx, "新增分段记录失败", "stream", st.ID, "err", err)
			continue
		}
		rowIDs[st.ID] = row.ID
	}

	active := make([]string, 0, len(files))
	for _, p := range files {
		active = append(active, p)
	}

	timerCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.state = SessionRecording
	c.lastErr = ""
	c.files = files
	c.rowIDs = rowIDs
	c.cancel = cancel
	c.activeFiles.Store(active)
	c.mu.Unlock()

	c.catalog.SetActiveFiles(active)
	c.sampler.Rebase(now)

	interval := c.conf.SegmentDuration()
	go conc.Timer(timerCtx, interval, interval, func() {
		c.rotate(timerCtx)
	})
	go conc.Timer(timerCtx, time.Second, time.Second, func() {
		c.sampler.Tick(time.Now())
	})

	slog.InfoContext(ctx, "录制会话已启动",
		"session", sessionID, "streams", len(c.streams), "segment", interval.String())
	return nil
}

// rotate 轮换分段：关闭当前文件，换下一组新文件继续录制
// 簿记切换在锁内一次完成，遥测缓冲随切换点原子轮换，录制器 I/O 都在锁外
func (c *Core) rotate(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	// 轮换前检查容量，为新分段腾出空间
	if c.catalog.NeedsCleanup() {
		c.catalog.PerformCleanup(ctx)
	}

	now := time.Now()

	c.mu.Lock()
	if c.state != SessionRecording {
		c.mu.Unlock()
		return
	}
	oldSeq := c.seq
	oldStart := c.startedAt
	oldFiles := c.files
	oldRowIDs := c.rowIDs
	buffers := c.sampler.TakeAndClearAll(now)

	newSeq := oldSeq + 1
	newFiles := make(map[string]string, len(c.streams))
	for _, st := range c.streams {
		newFiles[st.ID] = c.catalog.SegmentPath(st.ID, now, newSeq)
	}
	c.seq = newSeq
	c.startedAt = now
	c.files = newFiles
	c.rowIDs = make(map[string]int64, len(c.streams))

	// 切换期间新旧文件都视为活跃，避免旧文件在关闭前被回收
	union := make([]string, 0, len(oldFiles)+len(newFiles))
	for _, p := range oldFiles {
		union = append(union, p)
	}
	for _, p := range newFiles {
		union = append(union, p)
	}
	c.activeFiles.Store(union)
	c.mu.Unlock()

	c.catalog.SetActiveFiles(union)

	// 收尾旧分段
	c.closeSegments(ctx, oldSeq, oldStart, now, oldFiles, oldRowIDs, buffers)

	// 开启新分段
	newRowIDs := make(map[string]int64, len(c.streams))
	for _, st := range c.streams {
		if err := c.catalog.EnsureStreamDirs(st.ID); err != nil {
			slog.ErrorContext(ctx, "轮换建目录失败", "stream", st.ID, "err", err)
			continue
		}
		if err := c.handles[st.ID].Start(ctx, newFiles[st.ID]); err != nil {
			slog.ErrorContext(ctx, "轮换启动录制失败", "stream", st.ID, "err", err)
			continue
		}
		row := Segment{
			SessionID: c.sessionID,
			Seq:       newSeq,
			StreamID:  st.ID,
			Path:      c.relPath(newFiles[st.ID]),
			StartedAt: orm.Time{Time: now},
			State:     StateOpen,
		}
		if err := c.store.Segment().Add(ctx, &row); err != nil {
			slog.ErrorContext(ctx, "新增分段记录失败", "stream", st.ID, "err", err)
			continue
		}
		newRowIDs[st.ID] = row.ID
	}

	activeNew := make([]string, 0, len(newFiles))
	for _, p := range newFiles {
		activeNew = append(activeNew, p)
	}

	c.mu.Lock()
	c.rowIDs = newRowIDs
	c.activeFiles.Store(activeNew)
	c.mu.Unlock()
	c.catalog.SetActiveFiles(activeNew)

	slog.InfoContext(ctx, "分段已轮换", "session", c.sessionID, "seq", newSeq)
}

// closeSegments 停止一组文件的写入、落库关闭状态，并按需送入后处理队列
func (c *Core) closeSegments(ctx context.Context, seq int64, startedAt, endedAt time.Time,
	files map[string]string, rowIDs map[string]int64, buffers map[string][]telemetry.Sample,
) {
	enqueue := c.shouldEnqueue(buffers)
	duration := endedAt.Sub(startedAt).Seconds()

	for streamID, path := range files {
		if _, err := c.handles[streamID].Stop(ctx); err != nil {
			slog.ErrorContext(ctx, "停止录制失败", "stream", streamID, "err", err)
		}
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		state := StateClosed
		if enqueue && len(buffers[streamID]) > 0 {
			state = StateQueued
		}
		rowID, ok := rowIDs[streamID]
		if !ok {
			continue
		}
		err := c.store.Segment().Edit(ctx, &Segment{}, func(s *Segment) {
			s.EndedAt = orm.Time{Time: endedAt}
			s.Duration = duration
			s.Size = size
			s.State = state
		}, orm.Where("id=?", rowID))
		if err != nil {
			slog.ErrorContext(ctx, "更新分段记录失败", "id", rowID, "err", err)
		}
	}

	if enqueue {
		c.pipeline.Enqueue(burnin.Task{
			Seq:       seq,
			SessionID: c.sessionID,
			StartedAt: startedAt,
			EndedAt:   endedAt,
			Files:     files,
			Samples:   buffers,
		})
	}
}

// shouldEnqueue 后处理开关打开且至少一路流有遥测样本时才入队
func (c *Core) shouldEnqueue(buffers map[string][]telemetry.Sample) bool {
	if c.pipeline == nil || c.conf == nil {
		return false
	}
	if !c.conf.BurnToVideo && !c.conf.GenerateSidecarSubtitle {
		return false
	}
	for _, b := range buffers {
		if len(b) > 0 {
			return true
		}
	}
	return false
}

// Stop 停止录制会话
// flush 为真时，最后一个不完整分段照常送后处理；为假时只关闭落库
func (c *Core) Stop(ctx context.Context, flush bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	now := time.Now()

	c.mu.Lock()
	if c.state != SessionRecording {
		// 错误态允许直接复位
		if c.state == SessionError {
			c.state = SessionIdle
			c.lastErr = ""
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		return reason.ErrBadRequest.Withf("session not recording")
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	seq := c.seq
	startedAt := c.startedAt
	files := c.files
	rowIDs := c.rowIDs
	buffers := c.sampler.TakeAndClearAll(now)
	c.sampler.Deactivate()
	c.state = SessionIdle
	c.files = nil
	c.rowIDs = nil
	c.activeFiles.Store([]string(nil))
	c.mu.Unlock()

	if !flush {
		for k := range buffers {
			buffers[k] = nil
		}
	}
	c.closeSegments(ctx, seq, startedAt, now, files, rowIDs, buffers)

	c.catalog.SetActiveFiles(nil)
	slog.InfoContext(ctx, "录制会话已停止", "session", c.sessionID, "flush", flush)
	return nil
}

// OnCollision 碰撞事件：当前所有 OPEN 文件立即移入保护区
// 只读活跃文件快照，不等待会话迁移锁；保护失败向上返回
func (c *Core) OnCollision(ctx context.Context) error {
	paths, _ := c.activeFiles.Load().([]string)
	if len(paths) == 0 {
		return reason.ErrBadRequest.Withf("no active segment to protect")
	}

	// moved 记录已落位保护区的源路径与新位置
	moved := make(map[string]string, len(paths))
	protect := func(batch []string) error {
		done, err := c.catalog.Protect(ctx, batch)
		for _, src := range done {
			moved[src] = c.catalog.ProtectedPath(src)
		}
		return err
	}
	if err := protect(paths); err != nil {
		return reason.ErrServer.Withf("protect err[%s]", err.Error())
	}

	// 快照与此处之间轮换可能已经换代，簿记改写以锁内的当前文件为准：
	// 只改写确已移动的条目，快照之外新出现的文件补一轮保护。
	// 最多补两轮，仍未创建的新文件不再追赶，当前分段保持常规区簿记
	var current []string
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		missing := make([]string, 0, len(c.files))
		for _, v := range c.files {
			if _, ok := moved[v]; !ok && !c.catalog.IsProtected(v) {
				missing = append(missing, v)
			}
		}
		if len(missing) == 0 || attempt >= 2 {
			for k, v := range c.files {
				if dst, ok := moved[v]; ok {
					c.files[k] = dst
				}
			}
			current = make([]string, 0, len(c.files))
			for _, v := range c.files {
				current = append(current, v)
			}
			c.activeFiles.Store(current)
			c.mu.Unlock()
			if len(missing) > 0 {
				slog.WarnContext(ctx, "碰撞保护未覆盖全部当前文件", "missing", len(missing))
			}
			break
		}
		c.mu.Unlock()
		if err := protect(missing); err != nil {
			return reason.ErrServer.Withf("protect err[%s]", err.Error())
		}
	}
	c.catalog.SetActiveFiles(current)

	// 落库按路径匹配：轮换后已换代的行同样置位保护并改写路径
	for src, dst := range moved {
		rel := c.relPath(src)
		err := c.store.Segment().Edit(ctx, &Segment{}, func(s *Segment) {
			s.Protected = true
			s.Path = c.relPath(dst)
		}, orm.Where("path=?", rel))
		if err != nil {
			slog.ErrorContext(ctx, "更新保护标记失败", "path", rel, "err", err)
		}
	}

	slog.InfoContext(ctx, "碰撞触发，当前分段已保护", "files", len(moved))
	return nil
}

// HandleBurnResult 把后处理结果回写到分段记录
func (c *Core) HandleBurnResult(res burnin.Result) {
	ctx := context.Background()
	rel := c.relPath(res.Path)

	var fn func(*Segment)
	switch {
	case res.Err != nil:
		fn = func(s *Segment) {
			s.State = StateBurnFailed
			s.BurnError = res.Err.Error()
		}
	case res.Skipped:
		fn = func(s *Segment) { s.State = StateClosed }
	default:
		fn = func(s *Segment) {
			s.State = StateBurned
			s.BurnError = ""
			if res.Duration > 0 {
				s.Duration = res.Duration.Seconds()
			}
		}
	}

	err := c.store.Segment().Edit(ctx, &Segment{}, fn,
		orm.Where("path=? AND seq=?", rel, res.Seq))
	if err != nil {
		slog.Error("回写后处理结果失败", "path", rel, "seq", res.Seq, "err", err)
	}
}

// Status 当前会话状态
func (c *Core) Status() *StatusOutput {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := StatusOutput{
		State:     string(c.state),
		SessionID: c.sessionID,
		Seq:       c.seq,
		LastError: c.lastErr,
	}
	if c.state == SessionRecording {
		out.SegmentStartedAt = c.startedAt.UnixMilli()
		out.Streams = make([]StreamStatus, 0, len(c.streams))
		for _, st := range c.streams {
			out.Streams = append(out.Streams, StreamStatus{
				StreamID:   st.ID,
				Name:       st.Name,
				ActiveFile: c.files[st.ID],
			})
		}
	}
	if free, err := c.catalog.Usage(); err == nil {
		out.FreeSpaceBytes = free
	}
	return &out
}
