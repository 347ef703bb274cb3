package storage

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/shirou/gopsutil/v4/disk"
	"gorm.io/gorm"
)

// 存储根目录下固定两个区域，均按流机位分子目录
// normal 区参与空间回收，protected 区永不回收
const (
	AreaNormal    = "normal"
	AreaProtected = "protected"

	// journalFile 保护移动的预写日志，崩溃后由 Reconcile 续完
	journalFile = ".protect.journal"
)

// Catalog 录像文件目录：磁盘水位、回收与保护
type Catalog struct {
	root    string
	minFree uint64 // 字节

	mu     sync.Mutex
	active map[string]struct{} // 正在写入的文件，回收时跳过

	freeSpace func(path string) (uint64, error)
	store     Storer
}

type Option func(*Catalog)

// WithStore 注入目录索引存储，仅作查询视图
func WithStore(store Storer) Option {
	return func(c *Catalog) { c.store = store }
}

// WithFreeSpace 替换磁盘剩余空间探测，测试用
func WithFreeSpace(fn func(path string) (uint64, error)) Option {
	return func(c *Catalog) { c.freeSpace = fn }
}

// NewCatalog 创建目录并准备区域子目录，回放未完成的保护日志
func NewCatalog(root string, minFreeMB int, opts ...Option) (*Catalog, error) {
	c := Catalog{
		root:    root,
		minFree: uint64(minFreeMB) * 1024 * 1024,
		active:  make(map[string]struct{}),
		freeSpace: func(path string) (uint64, error) {
			usage, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return usage.Free, nil
		},
	}
	for _, opt := range opts {
		opt(&c)
	}
	for _, area := range []string{AreaNormal, AreaProtected} {
		if err := os.MkdirAll(filepath.Join(root, area), 0o755); err != nil {
			return nil, fmt.Errorf("create area dir: %w", err)
		}
	}
	if err := c.replayJournal(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Root 存储根目录
func (c *Catalog) Root() string { return c.root }

// NormalDir 一路流的常规区目录
func (c *Catalog) NormalDir(streamID string) string {
	return filepath.Join(c.root, AreaNormal, streamID)
}

// ProtectedDir 一路流的保护区目录
func (c *Catalog) ProtectedDir(streamID string) string {
	return filepath.Join(c.root, AreaProtected, streamID)
}

// SegmentPath 生成分段文件路径
// 文件名编码机位与可排序时间戳，字典序与修改时间序一致
func (c *Catalog) SegmentPath(streamID string, startedAt time.Time, seq int64) string {
	name := fmt.Sprintf("%s_%06d_%s.mp4", startedAt.Format("20060102T150405"), seq, streamID)
	return filepath.Join(c.NormalDir(streamID), name)
}

// EnsureStreamDirs 建立一路流的区域子目录
func (c *Catalog) EnsureStreamDirs(streamID string) error {
	for _, dir := range []string{c.NormalDir(streamID), c.ProtectedDir(streamID)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// SetActiveFiles 更新正在写入的文件集合，这些文件不参与回收
func (c *Catalog) SetActiveFiles(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = make(map[string]struct{}, len(paths))
	for _, p := range paths {
		c.active[p] = struct{}{}
	}
}

// IsProtected 路径是否位于保护区
func (c *Catalog) IsProtected(path string) bool {
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(rel, AreaProtected+string(filepath.Separator))
}

// ProtectedPath 一个常规区文件被保护后的目标路径
func (c *Catalog) ProtectedPath(src string) string {
	if c.IsProtected(src) {
		return src
	}
	streamID := filepath.Base(filepath.Dir(src))
	return filepath.Join(c.ProtectedDir(streamID), filepath.Base(src))
}

// Protect 把一组文件移入保护区，保持按流分组，返回已在保护区落位的源路径
//
// 依赖 rename 只改目录项的语义：文件仍被录制器持有写句柄时移动也安全，
// 已打开的句柄继续写同一个底层文件，因此允许对 OPEN 分段直接保护。
// 幂等：已在保护区的文件视为成功；源与目标都不存在的条目（尚未创建的
// 新分段文件）跳过不计。其余失败必须向上返回，不允许只记日志。
func (c *Catalog) Protect(ctx context.Context, paths []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type move struct{ src, dst string }
	done := make([]string, 0, len(paths))
	moves := make([]move, 0, len(paths))
	for _, src := range paths {
		if c.IsProtected(src) {
			done = append(done, src)
			continue
		}
		streamID := filepath.Base(filepath.Dir(src))
		dst := filepath.Join(c.ProtectedDir(streamID), filepath.Base(src))
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				// 源不在且目标已在保护区，说明此前已移动过
				if _, err2 := os.Stat(dst); err2 == nil {
					done = append(done, src)
				}
				continue
			}
			return done, fmt.Errorf("protect %s: %w", src, err)
		}
		moves = append(moves, move{src: src, dst: dst})
	}
	if len(moves) == 0 {
		return done, nil
	}

	// 预写日志先落盘，崩溃后可续完未尽的移动
	journal := filepath.Join(c.root, journalFile)
	f, err := os.Create(journal)
	if err != nil {
		return done, fmt.Errorf("protect journal: %w", err)
	}
	for _, m := range moves {
		fmt.Fprintf(f, "%s\t%s\n", m.src, m.dst)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return done, fmt.Errorf("protect journal sync: %w", err)
	}
	f.Close()

	for _, m := range moves {
		if err := os.MkdirAll(filepath.Dir(m.dst), 0o755); err != nil {
			return done, fmt.Errorf("protect mkdir: %w", err)
		}
		if err := os.Rename(m.src, m.dst); err != nil {
			return done, fmt.Errorf("protect move %s: %w", m.src, err)
		}
		done = append(done, m.src)
		slog.InfoContext(ctx, "文件已移入保护区", "src", m.src, "dst", m.dst)
	}
	if err := os.Remove(journal); err != nil {
		slog.WarnContext(ctx, "移除保护日志失败", "err", err)
	}
	return done, nil
}

// replayJournal 回放未完成的保护移动
// 源文件仍在则继续移动，源不在视为已完成
func (c *Catalog) replayJournal() error {
	journal := filepath.Join(c.root, journalFile)
	f, err := os.Open(journal)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	for scan.Scan() {
		src, dst, ok := strings.Cut(scan.Text(), "\t")
		if !ok {
			continue
		}
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("replay protect %s: %w", src, err)
		}
		slog.Info("回放保护日志，续完移动", "src", src, "dst", dst)
	}
	return os.Remove(journal)
}

// Usage 存储卷剩余空间（字节）
func (c *Catalog) Usage() (free uint64, err error) {
	return c.freeSpace(c.root)
}

// Reconcile 扫描文件系统重建目录索引
// 先回放保护日志，再整表替换索引行
func (c *Catalog) Reconcile(ctx context.Context) error {
	if err := c.replayJournal(); err != nil {
		return err
	}
	if c.store == nil {
		return nil
	}

	entries := make([]*Entry, 0, 64)
	for _, area := range []string{AreaNormal, AreaProtected} {
		areaDir := filepath.Join(c.root, area)
		streams, err := os.ReadDir(areaDir)
		if err != nil {
			continue
		}
		for _, st := range streams {
			if !st.IsDir() {
				continue
			}
			files, err := os.ReadDir(filepath.Join(areaDir, st.Name()))
			if err != nil {
				continue
			}
			for _, fe := range files {
				if fe.IsDir() || strings.HasPrefix(fe.Name(), ".") {
					continue
				}
				info, err := fe.Info()
				if err != nil {
					continue
				}
				entries = append(entries, &Entry{
					Path:       filepath.Join(area, st.Name(), fe.Name()),
					StreamID:   st.Name(),
					SizeBytes:  info.Size(),
					ModifiedAt: orm.Time{Time: info.ModTime()},
					Protected:  area == AreaProtected,
					UpdatedAt:  orm.Now(),
				})
			}
		}
	}

	return c.store.Entry().Session(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Entry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.CreateInBatches(entries, 200).Error
	})
}
