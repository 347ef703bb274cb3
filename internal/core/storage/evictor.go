package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// candidate 一个可回收的文件
type candidate struct {
	path    string
	modTime time.Time
	size    int64
}

// NeedsCleanup 剩余空间低于下限时为真
// 严格小于：剩余空间恰好等于下限不触发清理
func (c *Catalog) NeedsCleanup() bool {
	free, err := c.freeSpace(c.root)
	if err != nil {
		slog.Warn("获取磁盘剩余空间失败", "err", err)
		return false
	}
	return free < c.minFree
}

// PerformCleanup 回收常规区最旧的文件直到水位恢复
// 逐个删除，每删一个重新检查水位；删除失败记日志后跳过，不中断
// 保护区文件根本不在候选列表内；候选与保护的竞争在每次删除前重新确认
func (c *Catalog) PerformCleanup(ctx context.Context) {
	candidates := c.listCandidates()
	if len(candidates) == 0 {
		return
	}

	var deleted, failed int
	var freedBytes int64
	for _, cand := range candidates {
		if !c.NeedsCleanup() {
			break
		}
		c.mu.Lock()
		if _, open := c.active[cand.path]; open {
			c.mu.Unlock()
			continue
		}
		// 保护可能与回收并发：此刻文件若已被移走，删除自然失败并跳过
		if _, err := os.Stat(cand.path); err != nil {
			c.mu.Unlock()
			continue
		}
		err := os.Remove(cand.path)
		c.mu.Unlock()
		if err != nil {
			if !os.IsNotExist(err) {
				slog.WarnContext(ctx, "删除录像文件失败", "path", cand.path, "err", err)
				failed++
			}
			continue
		}
		deleted++
		freedBytes += cand.size
	}

	cleanupEmptyDirs(filepath.Join(c.root, AreaNormal))

	if deleted > 0 || failed > 0 {
		slog.InfoContext(ctx, "空间回收完成",
			"files_deleted", deleted,
			"failed_files", failed,
			"freed_bytes", freedBytes,
		)
	}
}

// listCandidates 列出常规区可删除的文件，最旧优先，同龄按路径字典序保证确定性
func (c *Catalog) listCandidates() []candidate {
	c.mu.Lock()
	active := make(map[string]struct{}, len(c.active))
	for p := range c.active {
		active[p] = struct{}{}
	}
	c.mu.Unlock()

	normalDir := filepath.Join(c.root, AreaNormal)
	streams, err := os.ReadDir(normalDir)
	if err != nil {
		return nil
	}

	out := make([]candidate, 0, 32)
	for _, st := range streams {
		if !st.IsDir() {
			continue
		}
		dir := filepath.Join(normalDir, st.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, fe := range files {
			if fe.IsDir() || strings.HasPrefix(fe.Name(), ".") {
				continue
			}
			path := filepath.Join(dir, fe.Name())
			if _, open := active[path]; open {
				continue
			}
			info, err := fe.Info()
			if err != nil {
				continue
			}
			out = append(out, candidate{path: path, modTime: info.ModTime(), size: info.Size()})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].modTime.Equal(out[j].modTime) {
			return out[i].modTime.Before(out[j].modTime)
		}
		return out[i].path < out[j].path
	})
	return out
}

// StartCleanupWorker 启动后台清理协程
// 启动时先执行一次，随后按固定周期检查水位
func (c *Catalog) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	slog.Info("storage cleanup worker started",
		"min_free_bytes", c.minFree,
		"interval", interval,
		"root", c.root,
	)

	run := func() {
		if c.NeedsCleanup() {
			c.PerformCleanup(ctx)
			if err := c.Reconcile(ctx); err != nil {
				slog.Warn("目录索引对账失败", "err", err)
			}
		}
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// cleanupEmptyDirs 递归删除空目录
func cleanupEmptyDirs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			subDir := filepath.Join(dir, entry.Name())
			cleanupEmptyDirs(subDir)

			subEntries, err := os.ReadDir(subDir)
			if err == nil && len(subEntries) == 0 {
				_ = os.Remove(subDir)
			}
		}
	}
}
