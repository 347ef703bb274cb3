package api

import (
	"github.com/gin-gonic/gin"
	"github.com/gowvp/dashcam/internal/conf"
	"github.com/gowvp/dashcam/internal/core/storage"
	"github.com/ixugo/goddd/pkg/web"
)

// StorageAPI 存储水位与目录索引
type StorageAPI struct {
	conf    *conf.Bootstrap
	catalog *storage.Catalog
}

func NewStorageAPI(conf *conf.Bootstrap, catalog *storage.Catalog) StorageAPI {
	return StorageAPI{conf: conf, catalog: catalog}
}

func RegisterStorage(g gin.IRouter, api StorageAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/storage", handler...)
	group.GET("/usage", web.WrapH(api.getUsage))
	group.GET("/entries", web.WrapH(api.findEntries))
	group.POST("/cleanup", web.WrapH(api.cleanup))
	group.POST("/reconcile", web.WrapH(api.reconcile))
}

type getUsageOutput struct {
	FreeSpaceBytes uint64 `json:"free_space_bytes"`
	MinFreeSpaceMB int    `json:"min_free_space_mb"`
	NeedsCleanup   bool   `json:"needs_cleanup"`
}

func (a StorageAPI) getUsage(_ *gin.Context, _ *struct{}) (*getUsageOutput, error) {
	free, err := a.catalog.Usage()
	if err != nil {
		return nil, err
	}
	return &getUsageOutput{
		FreeSpaceBytes: free,
		MinFreeSpaceMB: a.conf.Server.Record.MinFreeSpaceMB,
		NeedsCleanup:   a.catalog.NeedsCleanup(),
	}, nil
}

func (a StorageAPI) findEntries(c *gin.Context, in *storage.FindEntryInput) (any, error) {
	items, total, err := a.catalog.FindEntries(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

// cleanup 手动触发一轮空间回收
func (a StorageAPI) cleanup(c *gin.Context, _ *struct{}) (gin.H, error) {
	a.catalog.PerformCleanup(c.Request.Context())
	return gin.H{"msg": "ok"}, nil
}

// reconcile 手动触发文件系统对账，重建目录索引
func (a StorageAPI) reconcile(c *gin.Context, _ *struct{}) (gin.H, error) {
	if err := a.catalog.Reconcile(c.Request.Context()); err != nil {
		return nil, err
	}
	return gin.H{"msg": "ok"}, nil
}
