package api

import (
	"github.com/gin-gonic/gin"
	"github.com/gowvp/dashcam/internal/core/segment"
	"github.com/ixugo/goddd/pkg/web"
)

// SessionAPI 录制会话控制
type SessionAPI struct {
	core *segment.Core
}

func NewSessionAPI(core *segment.Core) SessionAPI {
	return SessionAPI{core: core}
}

func RegisterSession(g gin.IRouter, api SessionAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/session", handler...)
	group.GET("/status", web.WrapH(api.getStatus))
	group.POST("/start", web.WrapH(api.start))
	group.POST("/stop", web.WrapH(api.stop))
}

func (a SessionAPI) getStatus(_ *gin.Context, _ *struct{}) (*segment.StatusOutput, error) {
	return a.core.Status(), nil
}

func (a SessionAPI) start(c *gin.Context, _ *struct{}) (*segment.StatusOutput, error) {
	if err := a.core.Start(c.Request.Context()); err != nil {
		return nil, err
	}
	return a.core.Status(), nil
}

func (a SessionAPI) stop(c *gin.Context, in *segment.StopInput) (*segment.StatusOutput, error) {
	if err := a.core.Stop(c.Request.Context(), in.Flush); err != nil {
		return nil, err
	}
	return a.core.Status(), nil
}
