package segment

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/dashcam/internal/conf"
	"github.com/gowvp/dashcam/internal/core/burnin"
	"github.com/gowvp/dashcam/internal/core/storage"
	"github.com/gowvp/dashcam/internal/core/telemetry"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
)

// Core business domain
// 会话控制器：串起录制句柄、遥测采样、轮换调度、后处理与保护
type Core struct {
	store    Storer
	conf     *conf.Record
	streams  []conf.Stream
	recorder Recorder
	sampler  *telemetry.Sampler
	catalog  *storage.Catalog
	pipeline *burnin.Pipeline

	// opMu 串行化会话迁移（启动、轮换、停止），跨录制器 I/O 持有，
	// 轮换关闭阶段落在中间的 Stop 会排队到轮换完成后再执行；
	// 碰撞保护不取此锁，只依赖 activeFiles 快照
	opMu sync.Mutex

	// mu 保护当前分段簿记；仅覆盖内存多步序列，绝不跨录制器/转码器 I/O 持有
	mu        sync.Mutex
	state     SessionState
	sessionID string
	seq       int64
	startedAt time.Time
	files     map[string]string // 流机位 -> 当前 OPEN 文件（绝对路径）
	rowIDs    map[string]int64  // 流机位 -> 当前 OPEN 行 id
	handles   map[string]*Handle
	cancel    context.CancelFunc
	lastErr   string

	// activeFiles 当前 OPEN 文件集合的无锁快照，碰撞保护走这里，
	// 不等待轮换锁也不进后处理队列
	activeFiles atomic.Value // []string
}

type Option func(*Core)

// WithConfig 注入录制配置
func WithConfig(cfg *conf.Record) Option {
	return func(c *Core) { c.conf = cfg }
}

// WithStreams 注入配置的流集合
func WithStreams(streams []conf.Stream) Option {
	return func(c *Core) { c.streams = streams }
}

// WithRecorder 注入外部录制器
func WithRecorder(rec Recorder) Option {
	return func(c *Core) { c.recorder = rec }
}

// WithSampler 注入遥测采样器
func WithSampler(s *telemetry.Sampler) Option {
	return func(c *Core) { c.sampler = s }
}

// WithCatalog 注入存储目录
func WithCatalog(cat *storage.Catalog) Option {
	return func(c *Core) { c.catalog = cat }
}

// WithPipeline 注入后处理流水线
func WithPipeline(p *burnin.Pipeline) Option {
	return func(c *Core) { c.pipeline = p }
}

// NewCore create business domain
func NewCore(store Storer, opts ...Option) *Core {
	c := Core{
		store: store,
		state: SessionIdle,
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.handles = make(map[string]*Handle, len(c.streams))
	for _, st := range c.streams {
		c.handles[st.ID] = NewHandle(st.ID, c.recorder)
	}
	c.activeFiles.Store([]string(nil))
	return &c
}

// IsEnabled 录制总开关
func (c *Core) IsEnabled() bool {
	return c.conf != nil && !c.conf.Disabled
}

// GetFullPath 把数据库中的相对路径还原为绝对路径
func (c *Core) GetFullPath(relativePath string) string {
	if filepath.IsAbs(relativePath) || c.catalog == nil {
		return relativePath
	}
	return filepath.Join(c.catalog.Root(), relativePath)
}

// relPath 把存储根目录下的绝对路径折算为入库的相对路径
func (c *Core) relPath(abs string) string {
	rel, err := filepath.Rel(c.catalog.Root(), abs)
	if err != nil {
		return abs
	}
	return rel
}

// FindSegments 分页查询分段列表，支持流机位、状态与时间范围筛选
func (c *Core) FindSegments(ctx context.Context, in *FindSegmentInput) ([]*Segment, int64, error) {
	query := orm.NewQuery(5).OrderBy("started_at DESC")

	if in.StreamID != "" {
		query.Where("stream_id = ?", in.StreamID)
	}
	if in.SessionID != "" {
		query.Where("session_id = ?", in.SessionID)
	}
	if in.State != "" {
		query.Where("state = ?", in.State)
	}
	if in.Protected != nil {
		query.Where("protected = ?", *in.Protected)
	}
	if in.StartMs > 0 && in.EndMs > 0 {
		query.Where("started_at >= ? AND ended_at <= ?", in.StartAt(), in.EndAt())
	}

	items := make([]*Segment, 0, in.Limit())
	total, err := c.store.Segment().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// GetSegment Query a single object
func (c *Core) GetSegment(ctx context.Context, id int64) (*Segment, error) {
	out := Segment{ID: id}
	if err := c.store.Segment().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// DelSegment 删除分段记录（仅记录，文件回收由存储目录负责）
func (c *Core) DelSegment(ctx context.Context, id int64) (*Segment, error) {
	var out Segment
	if err := c.store.Segment().Del(ctx, &out, orm.Where("id=?", id)); err != nil {
		return nil, reason.ErrDB.Withf(`Del id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// GetTimeline 获取一路流的时间轴数据
func (c *Core) GetTimeline(ctx context.Context, in *TimelineInput) ([]TimeRange, error) {
	if in.StreamID == "" {
		return nil, reason.ErrBadRequest.Withf("stream_id is required")
	}
	if in.StartMs <= 0 || in.EndMs <= 0 {
		return nil, reason.ErrBadRequest.Withf("start_ms and end_ms are required")
	}

	query := orm.NewQuery(2).OrderBy("started_at ASC")
	query.Where("stream_id = ?", in.StreamID)
	// 查询时间范围内有重叠的分段
	query.Where("started_at < ? AND ended_at > ?", in.EndAt(), in.StartAt())

	var segments []*Segment
	pager := &defaultPager{limit: 1000}
	if _, err := c.store.Segment().Find(ctx, &segments, pager, query.Encode()...); err != nil {
		return nil, reason.ErrDB.Withf(`GetTimeline err[%s]`, err.Error())
	}

	result := make([]TimeRange, 0, len(segments))
	for _, s := range segments {
		result = append(result, TimeRange{
			ID:        s.ID,
			StartMs:   s.StartedAt.UnixMilli(),
			EndMs:     s.EndedAt.UnixMilli(),
			Duration:  s.Duration,
			State:     s.State,
			Protected: s.Protected,
		})
	}
	return result, nil
}

// GetMonthlyStats 获取月度录像统计
// 返回指定月份每天是否有分段的位图字符串
func (c *Core) GetMonthlyStats(ctx context.Context, in *MonthlyStatsInput) (*MonthlyStatsOutput, error) {
	if in.Year <= 0 || in.Month < 1 || in.Month > 12 {
		return nil, reason.ErrBadRequest.Withf("invalid year or month")
	}

	firstDay := time.Date(in.Year, time.Month(in.Month), 1, 0, 0, 0, 0, time.Local)
	lastDay := firstDay.AddDate(0, 1, 0).Add(-time.Nanosecond)
	daysInMonth := lastDay.Day()

	query := orm.NewQuery(2)
	query.Where("started_at >= ? AND started_at <= ?", orm.Time{Time: firstDay}, orm.Time{Time: lastDay})
	if in.StreamID != "" {
		query.Where("stream_id = ?", in.StreamID)
	}

	var segments []*Segment
	pager := &defaultPager{limit: 10000}
	if _, err := c.store.Segment().Find(ctx, &segments, pager, query.Encode()...); err != nil {
		return nil, reason.ErrDB.Withf(`GetMonthlyStats err[%s]`, err.Error())
	}

	bitmap := make([]byte, daysInMonth)
	for i := range bitmap {
		bitmap[i] = '0'
	}
	for _, s := range segments {
		day := s.StartedAt.Day()
		if day >= 1 && day <= daysInMonth {
			bitmap[day-1] = '1'
		}
	}

	return &MonthlyStatsOutput{
		Year:     in.Year,
		Month:    in.Month,
		Days:     daysInMonth,
		HasVideo: string(bitmap),
	}, nil
}

// defaultPager 内部使用的分页器，避免传入 nil 导致空指针
type defaultPager struct {
	limit int
}

func (p *defaultPager) Offset() int { return 0 }
func (p *defaultPager) Limit() int  { return p.limit }
