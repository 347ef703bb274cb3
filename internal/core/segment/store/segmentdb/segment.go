package segmentdb

import (
	"context"

	"github.com/gowvp/dashcam/internal/core/segment"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ segment.Storer = DB{}

type DB struct {
	db *gorm.DB
}

func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// AutoMigrate 迁移分段表结构
func (d DB) AutoMigrate(ok bool) DB {
	if ok {
		if err := d.db.AutoMigrate(&segment.Segment{}); err != nil {
			panic(err)
		}
	}
	return d
}

func (d DB) Segment() segment.SegmentStorer {
	return Segments{db: d.db}
}

type Segments struct {
	db *gorm.DB
}

func (s Segments) Find(ctx context.Context, items *[]*segment.Segment, pager orm.Pager, opts ...orm.QueryOption) (int64, error) {
	db := s.db.WithContext(ctx).Model(&segment.Segment{})
	for _, opt := range opts {
		db = opt(db)
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return 0, err
	}
	if pager != nil {
		db = db.Offset(pager.Offset()).Limit(pager.Limit())
	}
	return total, db.Find(items).Error
}

func (s Segments) Get(ctx context.Context, out *segment.Segment, opts ...orm.QueryOption) error {
	db := s.db.WithContext(ctx).Model(&segment.Segment{})
	for _, opt := range opts {
		db = opt(db)
	}
	return db.First(out).Error
}

func (s Segments) Add(ctx context.Context, in *segment.Segment) error {
	return s.db.WithContext(ctx).Create(in).Error
}

func (s Segments) Edit(ctx context.Context, out *segment.Segment, fn func(*segment.Segment), opts ...orm.QueryOption) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		db := tx.Model(&segment.Segment{})
		for _, opt := range opts {
			db = opt(db)
		}
		if err := db.First(out).Error; err != nil {
			return err
		}
		fn(out)
		return tx.Save(out).Error
	})
}

func (s Segments) Del(ctx context.Context, out *segment.Segment, opts ...orm.QueryOption) error {
	db := s.db.WithContext(ctx).Model(&segment.Segment{})
	for _, opt := range opts {
		db = opt(db)
	}
	if err := db.First(out).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(out).Error
}

func (s Segments) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	db := s.db.WithContext(ctx).Model(&segment.Segment{})
	for _, opt := range opts {
		db = opt(db)
	}
	var total int64
	return total, db.Count(&total).Error
}

func (s Segments) Session(ctx context.Context, fns ...func(*gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fn := range fns {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}
