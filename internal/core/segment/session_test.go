package segment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gowvp/dashcam/internal/conf"
	"github.com/gowvp/dashcam/internal/core/storage"
	"github.com/gowvp/dashcam/internal/core/telemetry"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

// fakeRecorder 启动即落一个文件，可编排某路流启动失败或停止耗时
type fakeRecorder struct {
	mu        sync.Mutex
	failOn    string
	stopDelay time.Duration
	active    map[string]string
	stops     []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{active: make(map[string]string)}
}

func (f *fakeRecorder) Start(_ context.Context, streamID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if streamID == f.failOn {
		return errors.New("source unreachable")
	}
	if err := os.WriteFile(path, []byte("video "+streamID), 0o644); err != nil {
		return err
	}
	f.active[streamID] = path
	return nil
}

func (f *fakeRecorder) Stop(_ context.Context, streamID string) error {
	if f.stopDelay > 0 {
		time.Sleep(f.stopDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, streamID)
	delete(f.active, streamID)
	return nil
}

type memStore struct {
	db DB
}

func (m memStore) Segment() SegmentStorer { return m.db.Segment() }

// DB 测试内嵌的 sqlite 存储，避免依赖外部数据库
type DB struct {
	db *gorm.DB
}

func (d DB) Segment() SegmentStorer { return sqliteSegments{db: d.db} }

type sqliteSegments struct {
	db *gorm.DB
}

func (s sqliteSegments) Find(ctx context.Context, items *[]*Segment, pager orm.Pager, opts ...orm.QueryOption) (int64, error) {
	db := s.db.WithContext(ctx).Model(&Segment{})
	for _, opt := range opts {
		db = opt(db)
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return 0, err
	}
	if pager != nil {
		db = db.Offset(pager.Offset()).Limit(pager.Limit())
	}
	return total, db.Find(items).Error
}

func (s sqliteSegments) Get(ctx context.Context, out *Segment, opts ...orm.QueryOption) error {
	db := s.db.WithContext(ctx).Model(&Segment{})
	for _, opt := range opts {
		db = opt(db)
	}
	return db.First(out).Error
}

func (s sqliteSegments) Add(ctx context.Context, in *Segment) error {
	return s.db.WithContext(ctx).Create(in).Error
}

func (s sqliteSegments) Edit(ctx context.Context, out *Segment, fn func(*Segment), opts ...orm.QueryOption) error {
	db := s.db.WithContext(ctx).Model(&Segment{})
	for _, opt := range opts {
		db = opt(db)
	}
	if err := db.First(out).Error; err != nil {
		return err
	}
	fn(out)
	return s.db.WithContext(ctx).Save(out).Error
}

func (s sqliteSegments) Del(ctx context.Context, out *Segment, opts ...orm.QueryOption) error {
	db := s.db.WithContext(ctx).Model(&Segment{})
	for _, opt := range opts {
		db = opt(db)
	}
	if err := db.First(out).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(out).Error
}

func (s sqliteSegments) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	db := s.db.WithContext(ctx).Model(&Segment{})
	for _, opt := range opts {
		db = opt(db)
	}
	var total int64
	return total, db.Count(&total).Error
}

func (s sqliteSegments) Session(ctx context.Context, fns ...func(*gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fn := range fns {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func testStore(t *testing.T) Storer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&Segment{}); err != nil {
		t.Fatal(err)
	}
	return memStore{db: DB{db: db}}
}

func testCatalog(t *testing.T) *storage.Catalog {
	t.Helper()
	cat, err := storage.NewCatalog(t.TempDir(), 1, storage.WithFreeSpace(func(string) (uint64, error) {
		return 10 << 30, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

func testCore(t *testing.T, rec Recorder, streams []conf.Stream) *Core {
	t.Helper()
	cfg := conf.Record{SegmentMs: 60000}
	return NewCore(testStore(t),
		WithConfig(&cfg),
		WithStreams(streams),
		WithRecorder(rec),
		WithSampler(telemetry.NewSampler(streamIDs(streams))),
		WithCatalog(testCatalog(t)),
	)
}

func streamIDs(streams []conf.Stream) []string {
	ids := make([]string, 0, len(streams))
	for _, s := range streams {
		ids = append(ids, s.ID)
	}
	return ids
}

func twoStreams() []conf.Stream {
	return []conf.Stream{
		{ID: "front", Name: "前路"},
		{ID: "rear", Name: "后路"},
	}
}

func TestStartWithoutStreamsFails(t *testing.T) {
	c := testCore(t, newFakeRecorder(), nil)
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error when no streams configured")
	}
	if st := c.Status(); st.State != string(SessionError) {
		t.Errorf("state = %s, want ERROR", st.State)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	c := testCore(t, rec, twoStreams())

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	st := c.Status()
	if st.State != string(SessionRecording) {
		t.Fatalf("state = %s, want RECORDING", st.State)
	}
	if st.Seq != 1 || len(st.Streams) != 2 {
		t.Errorf("seq=%d streams=%d, want 1/2", st.Seq, len(st.Streams))
	}
	for _, s := range st.Streams {
		if _, err := os.Stat(s.ActiveFile); err != nil {
			t.Errorf("active file missing for %s: %v", s.StreamID, err)
		}
	}

	// 重复启动被拒绝
	if err := c.Start(ctx); err == nil {
		t.Error("expected error on double start")
	}

	var open []*Segment
	if _, err := c.store.Segment().Find(ctx, &open, &defaultPager{limit: 10}); err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Fatalf("rows = %d, want 2", len(open))
	}
	for _, row := range open {
		if row.State != StateOpen {
			t.Errorf("row state = %s, want OPEN", row.State)
		}
	}

	if err := c.Stop(ctx, false); err != nil {
		t.Fatal(err)
	}
	if st := c.Status(); st.State != string(SessionIdle) {
		t.Errorf("state = %s, want IDLE", st.State)
	}
	if len(rec.stops) != 2 {
		t.Errorf("recorder stops = %d, want 2", len(rec.stops))
	}

	var closed []*Segment
	if _, err := c.store.Segment().Find(ctx, &closed, &defaultPager{limit: 10}); err != nil {
		t.Fatal(err)
	}
	for _, row := range closed {
		if row.State != StateClosed {
			t.Errorf("row state = %s, want CLOSED", row.State)
		}
		if row.Size <= 0 {
			t.Errorf("row size = %d, want > 0", row.Size)
		}
	}

	// 停止后再次停止被拒绝
	if err := c.Stop(ctx, false); err == nil {
		t.Error("expected error on double stop")
	}
}

func TestStartFailureRollsBackStartedStreams(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	rec.failOn = "rear"
	c := testCore(t, rec, twoStreams())

	if err := c.Start(ctx); err == nil {
		t.Fatal("expected start failure")
	}
	st := c.Status()
	if st.State != string(SessionError) {
		t.Errorf("state = %s, want ERROR", st.State)
	}
	if st.LastError == "" {
		t.Error("expected last_error to be populated")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.active) != 0 {
		t.Errorf("active recorders = %d, want 0 after rollback", len(rec.active))
	}
}

func TestRotateClosesOldAndOpensNew(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	c := testCore(t, rec, twoStreams())

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx, false)

	first := c.Status()
	oldFiles := make(map[string]string)
	for _, s := range first.Streams {
		oldFiles[s.StreamID] = s.ActiveFile
	}

	time.Sleep(10 * time.Millisecond)
	c.rotate(ctx)

	st := c.Status()
	if st.Seq != 2 {
		t.Fatalf("seq = %d, want 2", st.Seq)
	}
	for _, s := range st.Streams {
		if s.ActiveFile == oldFiles[s.StreamID] {
			t.Errorf("stream %s still writing old file", s.StreamID)
		}
		if _, err := os.Stat(s.ActiveFile); err != nil {
			t.Errorf("new file missing for %s: %v", s.StreamID, err)
		}
	}

	var rows []*Segment
	if _, err := c.store.Segment().Find(ctx, &rows, &defaultPager{limit: 10}); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	for _, row := range rows {
		switch row.Seq {
		case 1:
			if row.State != StateClosed {
				t.Errorf("seq 1 state = %s, want CLOSED", row.State)
			}
			if row.EndedAt.IsZero() {
				t.Error("seq 1 ended_at not set")
			}
		case 2:
			if row.State != StateOpen {
				t.Errorf("seq 2 state = %s, want OPEN", row.State)
			}
		}
	}
}

func TestCollisionProtectsActiveSegments(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	c := testCore(t, rec, twoStreams())

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx, false)

	if err := c.OnCollision(ctx); err != nil {
		t.Fatal(err)
	}

	st := c.Status()
	for _, s := range st.Streams {
		if !strings.Contains(s.ActiveFile, string(filepath.Separator)+storage.AreaProtected+string(filepath.Separator)) {
			t.Errorf("stream %s file %s not in protected area", s.StreamID, s.ActiveFile)
		}
		if _, err := os.Stat(s.ActiveFile); err != nil {
			t.Errorf("protected file missing: %v", err)
		}
	}

	var rows []*Segment
	if _, err := c.store.Segment().Find(ctx, &rows, &defaultPager{limit: 10}); err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if !row.Protected {
			t.Errorf("row %d not marked protected", row.ID)
		}
		if !strings.HasPrefix(row.Path, storage.AreaProtected+string(filepath.Separator)) {
			t.Errorf("row path %s not rewritten to protected area", row.Path)
		}
	}

	// 幂等：重复触发不报错
	if err := c.OnCollision(ctx); err != nil {
		t.Fatal(err)
	}
}

// 轮换关闭旧分段可能耗时数秒，这期间到达的停止排在轮换之后执行，
// 轮换尾段不允许把已停止的会话重新拉起录制
func TestStopDuringRotateLeavesNothingRecording(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	rec.stopDelay = 30 * time.Millisecond
	c := testCore(t, rec, twoStreams())

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		c.rotate(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	if err := c.Stop(ctx, false); err != nil {
		t.Fatal(err)
	}
	<-done

	rec.mu.Lock()
	running := len(rec.active)
	rec.mu.Unlock()
	if running != 0 {
		t.Fatalf("recorders still running = %d, want 0", running)
	}
	if st := c.Status(); st.State != string(SessionIdle) {
		t.Fatalf("state = %s, want IDLE", st.State)
	}

	var rows []*Segment
	if _, err := c.store.Segment().Find(ctx, &rows, &defaultPager{limit: 10}); err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if row.State == StateOpen {
			t.Errorf("row %d still OPEN after stop", row.ID)
		}
	}

	// 会话可正常重启
	rec.stopDelay = 0
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(ctx, false); err != nil {
		t.Fatal(err)
	}
}

// 碰撞与轮换并发时簿记不允许指向不存在的文件：
// 路径改写只作用于确已移入保护区的条目
func TestCollisionDuringRotateKeepsBookkeepingOnDisk(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	c := testCore(t, rec, twoStreams())

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx, false)

	for i := 0; i < 20; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.rotate(ctx)
		}()
		go func() {
			defer wg.Done()
			if err := c.OnCollision(ctx); err != nil {
				t.Error(err)
			}
		}()
		wg.Wait()

		for _, s := range c.Status().Streams {
			if _, err := os.Stat(s.ActiveFile); err != nil {
				t.Fatalf("iter %d: bookkeeping points at missing file %s: %v", i, s.ActiveFile, err)
			}
		}
	}
}

func TestCollisionWithoutSessionFails(t *testing.T) {
	c := testCore(t, newFakeRecorder(), twoStreams())
	if err := c.OnCollision(context.Background()); err == nil {
		t.Error("expected error when nothing is recording")
	}
}
