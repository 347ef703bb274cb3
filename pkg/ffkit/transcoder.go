package ffkit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

// Transcoder 调用 ffmpeg/ffprobe 做字幕压印与时长探测
type Transcoder struct {
	// Preset 压印重编码使用的 x264 preset，空则 veryfast
	Preset string
}

func NewTranscoder() *Transcoder {
	return &Transcoder{}
}

// buildBurnArgs 把 srt 字幕压进画面，音频流原样拷贝
func (t *Transcoder) buildBurnArgs(input, subtitle, output string) []string {
	preset := t.Preset
	if preset == "" {
		preset = "veryfast"
	}
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-i", input,
		"-vf", fmt.Sprintf("subtitles=%s", escapeFilterPath(subtitle)),
		"-c:v", "libx264",
		"-preset", preset,
		"-c:a", "copy",
		"-movflags", "+faststart",
		"-y", output,
	}
}

// escapeFilterPath ffmpeg filter 参数里的特殊字符需要转义
func escapeFilterPath(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`)
	return r.Replace(p)
}

// Burn 压印字幕到视频，输出到 output
func (t *Transcoder) Burn(ctx context.Context, input, subtitle, output string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", t.buildBurnArgs(input, subtitle, output)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	log := queue.NewCirQueue[string](100)
	readLines(stderr, log)
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w; %s", err, strings.Join(log.Range(), " | "))
	}
	return nil
}

// ProbeDuration 用 ffprobe 读取视频时长
func (t *Transcoder) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseDuration(string(out))
}

// parseDuration 解析 ffprobe 输出的秒数
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("no duration in probe output")
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// readLines 逐行读入环形队列，只留最近的输出
func readLines(r io.Reader, log *queue.CirQueue[string]) {
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		log.Push(scan.Text())
	}
}
