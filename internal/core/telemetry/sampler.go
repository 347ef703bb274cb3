package telemetry

import (
	"sync"
	"time"
)

// slot 固定的每流缓冲槽，以整数下标索引，避免并发场景下的临时 map 共享
type slot struct {
	streamID     string
	active       bool
	segmentStart time.Time
	lastOffset   int
	samples      []Sample
}

// Sampler 遥测采样器
// 由会话控制器以 1 秒周期驱动 Tick，缓冲区变更全部在内部互斥锁内完成，
// 不做任何 I/O，锁内耗时可忽略
type Sampler struct {
	mu     sync.Mutex
	latest Snapshot
	fresh  bool
	slots  []slot
	index  map[string]int
}

// NewSampler 按配置的流集合创建采样器，槽位在创建后固定不变
func NewSampler(streamIDs []string) *Sampler {
	s := Sampler{
		slots: make([]slot, 0, len(streamIDs)),
		index: make(map[string]int, len(streamIDs)),
	}
	for i, id := range streamIDs {
		s.slots = append(s.slots, slot{streamID: id, lastOffset: -1})
		s.index[id] = i
	}
	return &s
}

// Push 传感器推送最新快照，仅覆盖缓存值
func (s *Sampler) Push(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	s.fresh = true
}

// Latest 当前缓存的快照
func (s *Sampler) Latest() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.fresh
}

// Rebase 激活所有槽位并重置分段起点，轮换和会话启动时调用
func (s *Sampler) Rebase(segmentStart time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		s.slots[i].active = true
		s.slots[i].segmentStart = segmentStart
		s.slots[i].lastOffset = -1
		s.slots[i].samples = nil
	}
}

// Deactivate 停用所有槽位并清空缓冲，会话停止时调用
func (s *Sampler) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		s.slots[i].active = false
		s.slots[i].lastOffset = -1
		s.slots[i].samples = nil
	}
}

// Tick 采样一次：把最新快照按整秒偏移追加到每个活跃槽位
// 同一偏移重复触发时丢弃，保证 (分段,流) 内偏移唯一
func (s *Sampler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var loc *Location
	if s.fresh && s.latest.HasFix {
		loc = &Location{
			Latitude:  s.latest.Latitude,
			Longitude: s.latest.Longitude,
			Altitude:  s.latest.Altitude,
			SpeedKPH:  s.latest.SpeedKPH,
			Bearing:   s.latest.Bearing,
		}
	}

	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.active {
			continue
		}
		offset := int(now.Sub(sl.segmentStart) / time.Second)
		if offset < 0 || offset <= sl.lastOffset {
			continue
		}
		sl.lastOffset = offset
		sl.samples = append(sl.samples, Sample{
			OffsetSeconds: offset,
			Timestamp:     now,
			StreamID:      sl.streamID,
			Location:      loc,
		})
	}
}

// TakeAndClear 原子地取走一路流的缓冲并清空
func (s *Sampler) TakeAndClear(streamID string) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[streamID]
	if !ok {
		return nil
	}
	out := s.slots[i].samples
	s.slots[i].samples = nil
	s.slots[i].lastOffset = -1
	return out
}

// TakeAndClearAll 在同一个临界区内取走全部缓冲并切换到新的分段起点
// 轮换边界上的 Tick 要么完整落入旧分段，要么完整落入新分段，绝不拆分
func (s *Sampler) TakeAndClearAll(newStart time.Time) map[string][]Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Sample, len(s.slots))
	for i := range s.slots {
		sl := &s.slots[i]
		if len(sl.samples) > 0 {
			out[sl.streamID] = sl.samples
		}
		sl.samples = nil
		sl.lastOffset = -1
		sl.segmentStart = newStart
	}
	return out
}

// Clear 清空一路流的缓冲
func (s *Sampler) Clear(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[streamID]; ok {
		s.slots[i].samples = nil
		s.slots[i].lastOffset = -1
	}
}

// BufferLen 一路流当前缓冲的采样数
func (s *Sampler) BufferLen(streamID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[streamID]; ok {
		return len(s.slots[i].samples)
	}
	return 0
}
