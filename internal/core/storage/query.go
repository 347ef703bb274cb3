package storage

import (
	"context"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

type FindEntryInput struct {
	web.PagerFilter
	StreamID  string `form:"stream_id"` // 流机位 ID
	Protected *bool  `form:"protected"` // 仅保护区/仅常规区，不传则不过滤
}

// FindEntries 查询目录索引
// 索引是对账产物，最多滞后一个对账周期
func (c *Catalog) FindEntries(ctx context.Context, in *FindEntryInput) ([]*Entry, int64, error) {
	if c.store == nil {
		return nil, 0, reason.ErrBadRequest.Withf("catalog index is not configured")
	}

	query := orm.NewQuery(2).OrderBy("modified_at DESC")
	if in.StreamID != "" {
		query.Where("stream_id = ?", in.StreamID)
	}
	if in.Protected != nil {
		query.Where("protected = ?", *in.Protected)
	}

	items := make([]*Entry, 0, in.Limit())
	total, err := c.store.Entry().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}
