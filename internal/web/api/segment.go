package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/dashcam/internal/conf"
	"github.com/gowvp/dashcam/internal/core/segment"
	"github.com/grafov/m3u8"
	"github.com/ixugo/goddd/pkg/web"
)

// SegmentAPI 为 http 提供业务方法
type SegmentAPI struct {
	core *segment.Core
	conf *conf.Bootstrap
}

func NewSegmentAPI(core *segment.Core, conf *conf.Bootstrap) SegmentAPI {
	return SegmentAPI{core: core, conf: conf}
}

func RegisterSegment(g gin.IRouter, api SegmentAPI, handler ...gin.HandlerFunc) {
	{
		group := g.Group("/segments", handler...)
		group.GET("", web.WrapH(api.findSegments))
		group.GET("/timeline", web.WrapH(api.getTimeline))
		group.GET("/monthly", web.WrapH(api.getMonthlyStats))
		// HLS 播放列表（根据流机位和时间范围生成 m3u8）
		group.GET("/streams/:stream_id/index.m3u8", api.streamPlaylist)
		group.GET("/:id", web.WrapH(api.getSegment))
		group.DELETE("/:id", web.WrapH(api.delSegment))
		group.GET("/:id/download", api.downloadSegment)
	}

	// 静态文件服务，用于访问录像 MP4 文件
	// 路径格式: /static/segments/normal/front/xxx.mp4?token=xxx
	// Gin Static 支持 HTTP Range 请求，实现边下载边播放（秒播）
	if api.conf != nil && api.conf.Server.Record.StorageDir != "" {
		slog.Info("注册录像静态文件服务", "path", "/static/segments", "dir", api.conf.Server.Record.StorageDir)
		g.Static("/static/segments", api.conf.Server.Record.StorageDir)
	}
}

// findSegments 分页查询分段列表
func (a SegmentAPI) findSegments(c *gin.Context, in *segment.FindSegmentInput) (any, error) {
	items, total, err := a.core.FindSegments(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

// getTimeline 获取时间轴数据
func (a SegmentAPI) getTimeline(c *gin.Context, in *segment.TimelineInput) (any, error) {
	items, err := a.core.GetTimeline(c.Request.Context(), in)
	return gin.H{"items": items}, err
}

func (a SegmentAPI) getSegment(c *gin.Context, _ *struct{}) (*segment.Segment, error) {
	segmentID, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return a.core.GetSegment(c.Request.Context(), segmentID)
}

func (a SegmentAPI) delSegment(c *gin.Context, _ *struct{}) (*segment.Segment, error) {
	segmentID, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return a.core.DelSegment(c.Request.Context(), segmentID)
}

// getMonthlyStats 获取月度录像统计
func (a SegmentAPI) getMonthlyStats(c *gin.Context, in *segment.MonthlyStatsInput) (*segment.MonthlyStatsOutput, error) {
	return a.core.GetMonthlyStats(c.Request.Context(), in)
}

// downloadSegment 下载录像文件
func (a SegmentAPI) downloadSegment(c *gin.Context) {
	segmentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 1, "msg": "invalid segment id"})
		return
	}

	seg, err := a.core.GetSegment(c.Request.Context(), segmentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": err.Error()})
		return
	}

	// 构建文件完整路径
	filePath := a.core.GetFullPath(seg.Path)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": "segment file not found"})
		return
	}

	// 设置下载文件名
	fileName := filepath.Base(filePath)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", fileName))
	c.File(filePath)
}

// streamPlaylist 生成 HLS m3u8 播放列表
// 根据流机位和时间范围，动态生成包含多个 MP4 片段的 m3u8 文件
// 路径: /segments/streams/:stream_id/index.m3u8?start_ms=xxx&end_ms=xxx&token=xxx
func (a SegmentAPI) streamPlaylist(c *gin.Context) {
	streamID := c.Param("stream_id")
	if streamID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": 1, "msg": "stream_id is required"})
		return
	}

	startMs, _ := strconv.ParseInt(c.Query("start_ms"), 10, 64)
	endMs, _ := strconv.ParseInt(c.Query("end_ms"), 10, 64)
	token := c.Query("token")

	if startMs <= 0 || endMs <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 1, "msg": "start_ms and end_ms are required"})
		return
	}

	// 获取时间范围内的分段列表（需要完整路径信息）
	segments, _, err := a.core.FindSegments(c.Request.Context(), &segment.FindSegmentInput{
		StreamID:    streamID,
		PagerFilter: web.PagerFilter{Page: 1, Size: 10000},
		DateFilter:  web.DateFilter{StartMs: startMs, EndMs: endMs},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 1, "msg": err.Error()})
		return
	}

	if len(segments) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": "no segments found in time range"})
		return
	}

	// 生成 m3u8 内容（带 token）
	m3u8Content := a.generateM3U8WithToken(segments, token)

	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("Cache-Control", "no-cache")
	c.String(http.StatusOK, m3u8Content)
}

// generateM3U8WithToken 根据分段列表生成 m3u8 播放列表（每个 MP4 URL 带 token）
func (a SegmentAPI) generateM3U8WithToken(segments []*segment.Segment, token string) string {
	count := len(segments)
	if count == 0 {
		return ""
	}

	// 创建媒体播放列表 (winSize=0 表示 VOD，不使用滑动窗口)
	pl, err := m3u8.NewMediaPlaylist(0, uint(count))
	if err != nil {
		return ""
	}

	// 设置为 VOD 类型
	pl.MediaType = m3u8.VOD

	// 分段按时间升序排列
	sorted := make([]*segment.Segment, len(segments))
	copy(sorted, segments)
	for i := 0; i < len(sorted)-1; i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i].StartedAt.After(sorted[j].StartedAt.Time) {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	// 添加每个分段
	// URL 格式: /static/segments/{path}?token=xxx
	// 使用相对路径（以 / 开头），让浏览器相对于当前域名访问
	// 每个分段是独立的 MP4，DTS 从 0 开始，片段间必须加 DISCONTINUITY
	// 告诉 HLS.js 重置解码器，避免 DTS 不连续导致的解析错误
	for i, seg := range sorted {
		if i > 0 {
			pl.SetDiscontinuity()
		}

		relativePath := strings.TrimPrefix(filepath.ToSlash(seg.Path), "/")

		var uri string
		if token != "" {
			uri = fmt.Sprintf("/static/segments/%s?token=%s", relativePath, token)
		} else {
			uri = fmt.Sprintf("/static/segments/%s", relativePath)
		}
		_ = pl.Append(uri, seg.Duration, "")
	}

	// 关闭播放列表，添加 #EXT-X-ENDLIST 标签
	pl.Close()

	return pl.String()
}
