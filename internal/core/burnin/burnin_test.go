package burnin

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gowvp/dashcam/internal/core/telemetry"
)

// fakeTranscoder 可编排成功或失败的转码器
type fakeTranscoder struct {
	mu       sync.Mutex
	fail     bool
	burned   []string
	duration time.Duration
}

func (f *fakeTranscoder) Burn(_ context.Context, input, subtitle, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("transcode failed")
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	f.burned = append(f.burned, input)
	return os.WriteFile(output, append(data, []byte(" burned")...), 0o644)
}

func (f *fakeTranscoder) ProbeDuration(_ context.Context, _ string) (time.Duration, error) {
	if f.duration == 0 {
		return 0, errors.New("no duration")
	}
	return f.duration, nil
}

func testTask(t *testing.T, dir string) Task {
	t.Helper()
	path := filepath.Join(dir, "20250601T080000_000001_front.mp4")
	if err := os.WriteFile(path, []byte("original video"), 0o644); err != nil {
		t.Fatal(err)
	}
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.Local)
	return Task{
		Seq:       1,
		StartedAt: start,
		EndedAt:   start.Add(5 * time.Second),
		Files:     map[string]string{"front": path},
		Samples: map[string][]telemetry.Sample{
			"front": {
				{OffsetSeconds: 0, Timestamp: start, StreamID: "front"},
				{OffsetSeconds: 1, Timestamp: start.Add(time.Second), StreamID: "front"},
			},
		},
	}
}

func waitIdle(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.WaitIdle(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestBurnReplacesOriginal(t *testing.T) {
	dir := t.TempDir()
	tc := &fakeTranscoder{duration: 5 * time.Second}

	var results []Result
	var mu sync.Mutex
	p := NewPipeline(tc, Config{BurnToVideo: true}, WithOnResult(func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}))

	task := testTask(t, dir)
	p.Enqueue(task)
	waitIdle(t, p)

	data, err := os.ReadFile(task.Files["front"])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(data, []byte(" burned")) {
		t.Error("original should be replaced by burned output")
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Duration != 5*time.Second {
		t.Errorf("duration = %v, want 5s", results[0].Duration)
	}
}

func TestBurnFailureLeavesOriginalUntouched(t *testing.T) {
	dir := t.TempDir()
	tc := &fakeTranscoder{fail: true}

	var got Result
	p := NewPipeline(tc, Config{BurnToVideo: true}, WithOnResult(func(r Result) { got = r }))

	task := testTask(t, dir)
	before, _ := os.ReadFile(task.Files["front"])

	p.Enqueue(task)
	waitIdle(t, p)

	after, err := os.ReadFile(task.Files["front"])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("original must be byte-identical after failed burn")
	}
	if got.Err == nil {
		t.Error("expected BURN_FAILED result")
	}
	// 目录里不允许残留临时文件
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		for _, e := range entries {
			t.Logf("leftover: %s", e.Name())
		}
		t.Errorf("dir has %d entries, want 1 (original only)", len(entries))
	}
}

func TestSidecarSubtitleMode(t *testing.T) {
	dir := t.TempDir()
	tc := &fakeTranscoder{duration: 5 * time.Second}

	var got Result
	p := NewPipeline(tc, Config{GenerateSidecarSubtitle: true}, WithOnResult(func(r Result) { got = r }))

	task := testTask(t, dir)
	p.Enqueue(task)
	waitIdle(t, p)

	if got.Err != nil {
		t.Fatal(got.Err)
	}
	if got.SubtitlePath == "" {
		t.Fatal("expected sidecar subtitle path")
	}
	data, err := os.ReadFile(got.SubtitlePath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("-->")) {
		t.Error("sidecar should contain srt time ranges")
	}
	// 原文件不做替换
	orig, _ := os.ReadFile(task.Files["front"])
	if !bytes.Equal(orig, []byte("original video")) {
		t.Error("original must not be modified in sidecar mode")
	}
}

func TestTasksProcessedInOrder(t *testing.T) {
	tc := &fakeTranscoder{duration: time.Second}

	var order []int64
	var mu sync.Mutex
	p := NewPipeline(tc, Config{BurnToVideo: true}, WithOnResult(func(r Result) {
		mu.Lock()
		order = append(order, r.Seq)
		mu.Unlock()
	}))

	for i := int64(1); i <= 3; i++ {
		task := testTask(t, t.TempDir())
		task.Seq = i
		p.Enqueue(task)
	}
	waitIdle(t, p)

	if len(order) != 3 {
		t.Fatalf("results = %d, want 3", len(order))
	}
	for i, seq := range order {
		if seq != int64(i+1) {
			t.Errorf("order[%d] = %d, want %d (FIFO)", i, seq, i+1)
		}
	}
}

// 回调在流水线已经消费过任务之后才接线，后续任务仍须触发回调
func TestOnResultWiredAfterFirstTask(t *testing.T) {
	tc := &fakeTranscoder{duration: time.Second}
	p := NewPipeline(tc, Config{BurnToVideo: true})

	p.Enqueue(testTask(t, t.TempDir()))
	waitIdle(t, p)

	var got []Result
	var mu sync.Mutex
	p.OnResult(func(r Result) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})

	task := testTask(t, t.TempDir())
	task.Seq = 2
	p.Enqueue(task)
	waitIdle(t, p)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Seq != 2 {
		t.Fatalf("results = %+v, want the post-wiring task only", got)
	}
}

func TestEmptyBufferSkipped(t *testing.T) {
	dir := t.TempDir()
	tc := &fakeTranscoder{}

	var got Result
	p := NewPipeline(tc, Config{BurnToVideo: true}, WithOnResult(func(r Result) { got = r }))

	task := testTask(t, dir)
	task.Samples = nil
	p.Enqueue(task)
	waitIdle(t, p)

	if !got.Skipped {
		t.Error("file without samples should be skipped")
	}
	if len(tc.burned) != 0 {
		t.Error("transcoder should not be invoked for empty buffers")
	}
}
