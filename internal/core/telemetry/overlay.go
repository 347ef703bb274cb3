package telemetry

import (
	"fmt"
	"time"
)

// OverlayEntry 叠加描述中的一条记录
// 各条目时间区间互不重叠，按顺序覆盖 [0, 分段时长)
type OverlayEntry struct {
	StartSeconds float64  // 含
	EndSeconds   float64  // 不含
	Lines        []string // 叠加文本，每个元素一行
}

// BuildOverlay 把采样序列转换为叠加描述
// 每个采样覆盖 [offset, 下一采样 offset)，最后一条延伸到实际分段结束时刻
// segmentSeconds 小于最后一个偏移时不会产生负区间，该条目被丢弃
func BuildOverlay(samples []Sample, segmentSeconds float64) []OverlayEntry {
	entries := make([]OverlayEntry, 0, len(samples))
	for i, sp := range samples {
		start := float64(sp.OffsetSeconds)
		if start >= segmentSeconds {
			break
		}
		end := segmentSeconds
		if i+1 < len(samples) {
			next := float64(samples[i+1].OffsetSeconds)
			if next < end {
				end = next
			}
		}
		if end <= start {
			continue
		}
		entries = append(entries, OverlayEntry{
			StartSeconds: start,
			EndSeconds:   end,
			Lines:        overlayLines(sp),
		})
	}
	return entries
}

// overlayLines 单个采样的叠加文本
func overlayLines(sp Sample) []string {
	lines := make([]string, 0, 2)
	lines = append(lines, sp.Timestamp.Format(time.DateTime))
	if loc := sp.Location; loc != nil {
		lines = append(lines, fmt.Sprintf("%.6f, %.6f  %.0f km/h  %.0f°",
			loc.Latitude, loc.Longitude, loc.SpeedKPH, loc.Bearing))
	}
	return lines
}
