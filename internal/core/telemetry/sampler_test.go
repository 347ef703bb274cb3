package telemetry

import (
	"testing"
	"time"
)

func TestTickOffsetUnique(t *testing.T) {
	s := NewSampler([]string{"front", "rear"})
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Rebase(start)

	// 5 秒分段，1Hz 采样，额外在同一秒内重复触发
	for i := 0; i < 5; i++ {
		now := start.Add(time.Duration(i) * time.Second)
		s.Tick(now)
		// 同一整秒的重复 tick 必须被丢弃
		s.Tick(now.Add(300 * time.Millisecond))
	}

	for _, id := range []string{"front", "rear"} {
		got := s.TakeAndClear(id)
		if len(got) != 5 {
			t.Fatalf("stream %s: samples = %d, want 5", id, len(got))
		}
		seen := make(map[int]bool)
		last := -1
		for _, sp := range got {
			if seen[sp.OffsetSeconds] {
				t.Errorf("stream %s: duplicate offset %d", id, sp.OffsetSeconds)
			}
			if sp.OffsetSeconds < last {
				t.Errorf("stream %s: offset not monotonic: %d after %d", id, sp.OffsetSeconds, last)
			}
			seen[sp.OffsetSeconds] = true
			last = sp.OffsetSeconds
		}
	}
}

func TestRotationBoundaryNoLoss(t *testing.T) {
	s := NewSampler([]string{"front"})
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Rebase(start)

	// 轮换前 3 个 tick
	for i := 0; i < 3; i++ {
		s.Tick(start.Add(time.Duration(i) * time.Second))
	}

	// 轮换：缓冲整体取走并切换到新分段起点
	rotateAt := start.Add(3 * time.Second)
	old := s.TakeAndClearAll(rotateAt)

	// 边界处的 tick 落入新分段
	s.Tick(rotateAt)
	s.Tick(rotateAt.Add(time.Second))

	next := s.TakeAndClear("front")

	total := len(old["front"]) + len(next)
	if total != 5 {
		t.Fatalf("total samples = %d, want 5 (old=%d new=%d)", total, len(old["front"]), len(next))
	}
	if len(old["front"]) != 3 {
		t.Errorf("old segment samples = %d, want 3", len(old["front"]))
	}
	// 新分段偏移从 0 重新计数
	if next[0].OffsetSeconds != 0 {
		t.Errorf("new segment first offset = %d, want 0", next[0].OffsetSeconds)
	}
}

func TestTickUsesLatestSnapshot(t *testing.T) {
	s := NewSampler([]string{"front"})
	start := time.Now()
	s.Rebase(start)

	s.Push(Snapshot{Time: start, HasFix: true, Latitude: 31.2, Longitude: 121.5, SpeedKPH: 60})
	s.Tick(start)

	got := s.TakeAndClear("front")
	if len(got) != 1 {
		t.Fatal("expected one sample")
	}
	if got[0].Location == nil {
		t.Fatal("expected location attached")
	}
	if got[0].Location.Latitude != 31.2 {
		t.Errorf("latitude = %v, want 31.2", got[0].Location.Latitude)
	}
}

func TestTickWithoutFix(t *testing.T) {
	s := NewSampler([]string{"front"})
	start := time.Now()
	s.Rebase(start)

	s.Push(Snapshot{Time: start, HasFix: false})
	s.Tick(start)

	got := s.TakeAndClear("front")
	if len(got) != 1 {
		t.Fatal("expected one sample")
	}
	if got[0].Location != nil {
		t.Error("expected nil location when no fix")
	}
}

func TestDeactivateStopsSampling(t *testing.T) {
	s := NewSampler([]string{"front"})
	start := time.Now()
	s.Rebase(start)
	s.Tick(start)
	s.Deactivate()
	s.Tick(start.Add(time.Second))

	if n := s.BufferLen("front"); n != 0 {
		t.Errorf("buffer len after deactivate = %d, want 0", n)
	}
}
