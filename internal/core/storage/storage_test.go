package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeDisk 可控的磁盘水位：每删除一个文件后重新计算
type fakeDisk struct {
	free uint64
}

func (f *fakeDisk) fn() func(string) (uint64, error) {
	return func(string) (uint64, error) { return f.free, nil }
}

func newTestCatalog(t *testing.T, freeFn func(string) (uint64, error)) *Catalog {
	t.Helper()
	c, err := NewCatalog(t.TempDir(), 500, WithFreeSpace(freeFn))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func writeFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestNeedsCleanupStrictLessThan(t *testing.T) {
	d := fakeDisk{free: 500 * 1024 * 1024}
	c := newTestCatalog(t, d.fn())

	// 剩余空间恰好等于下限：不触发
	if c.NeedsCleanup() {
		t.Error("free == floor should not trigger cleanup")
	}
	d.free--
	if !c.NeedsCleanup() {
		t.Error("free < floor should trigger cleanup")
	}
}

func TestCleanupRespectsProtection(t *testing.T) {
	d := fakeDisk{free: 100 * 1024 * 1024}
	c := newTestCatalog(t, d.fn())

	now := time.Now()
	oldA := filepath.Join(c.NormalDir("front"), "20250601T080000_000001_front.mp4")
	newB := filepath.Join(c.NormalDir("front"), "20250601T090000_000002_front.mp4")
	oldC := filepath.Join(c.ProtectedDir("front"), "20250601T070000_000000_front.mp4")
	writeFile(t, oldA, now.Add(-2*time.Hour))
	writeFile(t, newB, now.Add(-1*time.Hour))
	writeFile(t, oldC, now.Add(-3*time.Hour))

	// 删除最旧的 A 之后水位恢复
	deleted := false
	c.freeSpace = func(string) (uint64, error) {
		if deleted {
			return 600 * 1024 * 1024, nil
		}
		if _, err := os.Stat(oldA); os.IsNotExist(err) {
			deleted = true
			return 600 * 1024 * 1024, nil
		}
		return 100 * 1024 * 1024, nil
	}

	c.PerformCleanup(context.Background())

	if _, err := os.Stat(oldA); !os.IsNotExist(err) {
		t.Error("oldest unprotected file A should be deleted")
	}
	if _, err := os.Stat(newB); err != nil {
		t.Error("newer file B should survive once floor recovered")
	}
	if _, err := os.Stat(oldC); err != nil {
		t.Error("protected file C must never be deleted")
	}
}

func TestCleanupSkipsActiveFiles(t *testing.T) {
	d := fakeDisk{free: 1}
	c := newTestCatalog(t, d.fn())

	now := time.Now()
	open := filepath.Join(c.NormalDir("front"), "20250601T080000_000001_front.mp4")
	closed := filepath.Join(c.NormalDir("front"), "20250601T090000_000002_front.mp4")
	writeFile(t, open, now.Add(-2*time.Hour))
	writeFile(t, closed, now.Add(-1*time.Hour))
	c.SetActiveFiles([]string{open})

	c.PerformCleanup(context.Background())

	if _, err := os.Stat(open); err != nil {
		t.Error("open segment file must not be deleted")
	}
	if _, err := os.Stat(closed); !os.IsNotExist(err) {
		t.Error("closed file should be deleted while floor not recovered")
	}
}

func TestProtectMovesAndIsIdempotent(t *testing.T) {
	d := fakeDisk{free: 1 << 40}
	c := newTestCatalog(t, d.fn())
	ctx := context.Background()

	src := filepath.Join(c.NormalDir("front"), "20250601T080000_000001_front.mp4")
	writeFile(t, src, time.Now())

	done, err := c.Protect(ctx, []string{src})
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || done[0] != src {
		t.Fatalf("done = %v, want [%s]", done, src)
	}
	dst := filepath.Join(c.ProtectedDir("front"), filepath.Base(src))
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("protected copy missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source should be gone after protect")
	}

	// 幂等：对原路径与保护后路径重复调用都应成功且不产生副本
	if done, err := c.Protect(ctx, []string{src}); err != nil || len(done) != 1 {
		t.Fatalf("re-protect by old path: done=%v err=%v", done, err)
	}
	if done, err := c.Protect(ctx, []string{dst}); err != nil || len(done) != 1 {
		t.Fatalf("re-protect by new path: done=%v err=%v", done, err)
	}
	files, err := os.ReadDir(c.ProtectedDir("front"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("protected dir has %d files, want 1", len(files))
	}
	// 预写日志不应残留
	if _, err := os.Stat(filepath.Join(c.Root(), journalFile)); !os.IsNotExist(err) {
		t.Error("journal should be removed after successful protect")
	}
}

func TestProtectSkipsNotYetCreatedFiles(t *testing.T) {
	d := fakeDisk{free: 1 << 40}
	c := newTestCatalog(t, d.fn())
	ctx := context.Background()

	src := filepath.Join(c.NormalDir("front"), "20250601T080000_000001_front.mp4")
	writeFile(t, src, time.Now())
	// 轮换换代期间，新分段路径可能已在簿记但文件尚未创建
	pending := filepath.Join(c.NormalDir("front"), "20250601T081000_000002_front.mp4")

	done, err := c.Protect(ctx, []string{src, pending})
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || done[0] != src {
		t.Fatalf("done = %v, want only existing source", done)
	}
	if _, err := os.Stat(filepath.Join(c.ProtectedDir("front"), filepath.Base(src))); err != nil {
		t.Errorf("existing source should still be protected: %v", err)
	}
	if _, err := os.Stat(filepath.Join(c.Root(), journalFile)); !os.IsNotExist(err) {
		t.Error("journal should be removed after successful protect")
	}
}

func TestJournalReplayFinishesMove(t *testing.T) {
	d := fakeDisk{free: 1 << 40}
	root := t.TempDir()
	c, err := NewCatalog(root, 500, WithFreeSpace(d.fn()))
	if err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(c.NormalDir("front"), "20250601T080000_000001_front.mp4")
	dst := filepath.Join(c.ProtectedDir("front"), filepath.Base(src))
	writeFile(t, src, time.Now())

	// 模拟崩溃：日志已落盘但 rename 未执行
	journal := src + "\t" + dst + "\n"
	if err := os.WriteFile(filepath.Join(root, journalFile), []byte(journal), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewCatalog(root, 500, WithFreeSpace(d.fn())); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Error("replay should finish the pending move")
	}
	if _, err := os.Stat(filepath.Join(root, journalFile)); !os.IsNotExist(err) {
		t.Error("journal should be removed after replay")
	}
}

func TestCleanupDeterministicTieBreak(t *testing.T) {
	d := fakeDisk{free: 1}
	c := newTestCatalog(t, d.fn())

	mtime := time.Now().Add(-time.Hour)
	a := filepath.Join(c.NormalDir("front"), "a.mp4")
	b := filepath.Join(c.NormalDir("front"), "b.mp4")
	writeFile(t, a, mtime)
	writeFile(t, b, mtime)

	got := c.listCandidates()
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2", len(got))
	}
	if got[0].path != a || got[1].path != b {
		t.Errorf("tie-break order = %s, %s; want path-ascending", got[0].path, got[1].path)
	}
}
