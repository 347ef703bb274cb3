package telemetry

import (
	"testing"
	"time"
)

func makeSamples(start time.Time, offsets ...int) []Sample {
	out := make([]Sample, 0, len(offsets))
	for i, off := range offsets {
		out = append(out, Sample{
			OffsetSeconds: off,
			Timestamp:     start.Add(time.Duration(off) * time.Second),
			StreamID:      "front",
			Location: &Location{
				Latitude:  31.0 + float64(i)*0.001,
				Longitude: 121.0 + float64(i)*0.001,
				SpeedKPH:  float64(40 + i),
			},
		})
	}
	return out
}

func TestBuildOverlayFullSegment(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.Local)
	// 5000ms 分段，t=0..4 各一个采样
	entries := BuildOverlay(makeSamples(start, 0, 1, 2, 3, 4), 5.0)

	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}
	wantRanges := [][2]float64{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {4, 5}}
	for i, e := range entries {
		if e.StartSeconds != wantRanges[i][0] || e.EndSeconds != wantRanges[i][1] {
			t.Errorf("entry %d range = [%v,%v), want [%v,%v)",
				i, e.StartSeconds, e.EndSeconds, wantRanges[i][0], wantRanges[i][1])
		}
		if len(e.Lines) == 0 {
			t.Errorf("entry %d has no text lines", i)
		}
	}
}

func TestBuildOverlayPartialSegment(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.Local)
	// 分段在 3.4s 提前结束，只有 4 个采样，最后一条延伸到 3.4 而非 5
	entries := BuildOverlay(makeSamples(start, 0, 1, 2, 3), 3.4)

	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	last := entries[3]
	if last.StartSeconds != 3 || last.EndSeconds != 3.4 {
		t.Errorf("last range = [%v,%v), want [3,3.4)", last.StartSeconds, last.EndSeconds)
	}
}

func TestBuildOverlayNonOverlapping(t *testing.T) {
	start := time.Now()
	// 丢样场景：偏移不连续
	entries := BuildOverlay(makeSamples(start, 0, 2, 5), 10)

	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].StartSeconds < entries[i-1].EndSeconds {
			t.Errorf("entry %d overlaps previous: [%v,%v) after [%v,%v)",
				i, entries[i].StartSeconds, entries[i].EndSeconds,
				entries[i-1].StartSeconds, entries[i-1].EndSeconds)
		}
	}
	if entries[2].EndSeconds != 10 {
		t.Errorf("last entry end = %v, want 10", entries[2].EndSeconds)
	}
}

func TestBuildOverlayOffsetBeyondEnd(t *testing.T) {
	start := time.Now()
	// 偏移超出分段实际时长的采样被丢弃，不产生负区间
	entries := BuildOverlay(makeSamples(start, 0, 1, 4), 1.5)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].EndSeconds != 1.5 {
		t.Errorf("last entry end = %v, want 1.5", entries[1].EndSeconds)
	}
}

func TestBuildOverlayEmpty(t *testing.T) {
	if got := BuildOverlay(nil, 60); len(got) != 0 {
		t.Errorf("entries = %d, want 0", len(got))
	}
}
