package api

import (
	"log/slog"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/dashcam/internal/conf"
	"github.com/gowvp/dashcam/internal/core/segment"
	"github.com/gowvp/dashcam/internal/core/telemetry"
	"github.com/ixugo/goddd/pkg/web"
	"github.com/jinzhu/copier"
)

// SensorAPI 接收车载传感器上报：GPS 定位与加速度
type SensorAPI struct {
	conf    *conf.Bootstrap
	core    *segment.Core
	sampler *telemetry.Sampler
}

func NewSensorAPI(conf *conf.Bootstrap, core *segment.Core, sampler *telemetry.Sampler) SensorAPI {
	return SensorAPI{conf: conf, core: core, sampler: sampler}
}

func RegisterSensor(g gin.IRouter, api SensorAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/sensor", handler...)
	group.POST("/location", web.WrapH(api.postLocation))
	group.POST("/accel", web.WrapH(api.postAccel))
	group.POST("/collision", web.WrapH(api.postCollision))
}

// locationInput GPS 上报，无定位时 has_fix 为 false，其余字段忽略
type locationInput struct {
	HasFix    bool    `json:"has_fix"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	SpeedKPH  float64 `json:"speed_kph"`
	Bearing   float64 `json:"bearing"`
}

// postLocation 更新最新定位快照，采样协程每秒取一次
func (a SensorAPI) postLocation(_ *gin.Context, in *locationInput) (gin.H, error) {
	var snap telemetry.Snapshot
	if err := copier.Copy(&snap, in); err != nil {
		return nil, err
	}
	snap.Time = time.Now()
	a.sampler.Push(snap)
	return gin.H{"msg": "ok"}, nil
}

// accelInput 加速度上报（g）
type accelInput struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// postAccel 加速度模长达到阈值判定为碰撞，立即保护当前分段
func (a SensorAPI) postAccel(c *gin.Context, in *accelInput) (gin.H, error) {
	magnitude := math.Sqrt(in.X*in.X + in.Y*in.Y + in.Z*in.Z)
	threshold := a.conf.Server.Sensor.CollisionMagnitudeThreshold
	if magnitude < threshold {
		return gin.H{"msg": "ok", "collision": false}, nil
	}

	slog.WarnContext(c.Request.Context(), "检测到碰撞",
		"magnitude", magnitude, "threshold", threshold)
	if err := a.core.OnCollision(c.Request.Context()); err != nil {
		return nil, err
	}
	return gin.H{"msg": "ok", "collision": true}, nil
}

// postCollision 外部直接判定的碰撞事件（如急刹按钮、外置 G-sensor）
func (a SensorAPI) postCollision(c *gin.Context, _ *struct{}) (gin.H, error) {
	if err := a.core.OnCollision(c.Request.Context()); err != nil {
		return nil, err
	}
	return gin.H{"msg": "ok"}, nil
}
