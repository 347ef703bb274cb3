package telemetry

import "time"

// Snapshot 传感器最近一次上报的快照
// 由外部传感器异步推送，采样协程只读取缓存值，绝不同步等待传感器
type Snapshot struct {
	Time     time.Time `json:"time"`
	HasFix   bool      `json:"has_fix"` // 是否有有效定位
	Latitude float64   `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude float64   `json:"altitude"`  // 海拔（米）
	SpeedKPH float64   `json:"speed_kph"` // 速度（km/h）
	Bearing  float64   `json:"bearing"`   // 航向角（度）
}

// Location 定位信息，附着在采样点上，无定位时为 nil
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	SpeedKPH  float64 `json:"speed_kph"`
	Bearing   float64 `json:"bearing"`
}

// Sample 一个采样点，每路流每个整秒至多一条
type Sample struct {
	// OffsetSeconds 相对分段起点的整秒偏移，(分段,流) 内唯一且单调不减
	OffsetSeconds int       `json:"offset_seconds"`
	Timestamp     time.Time `json:"timestamp"`
	StreamID      string    `json:"stream_id"`
	Location      *Location `json:"location,omitempty"`
}
