package burnin

import (
	"fmt"
	"strings"

	"github.com/gowvp/dashcam/internal/core/telemetry"
)

// RenderSRT 把叠加描述渲染为 SubRip 字幕
func RenderSRT(entries []telemetry.OverlayEntry) string {
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%d\n%s --> %s\n", i+1, srtTime(e.StartSeconds), srtTime(e.EndSeconds))
		for _, line := range e.Lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// srtTime SubRip 时间格式 HH:MM:SS,mmm
func srtTime(seconds float64) string {
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3600000
	ms %= 3600000
	m := ms / 60000
	ms %= 60000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
