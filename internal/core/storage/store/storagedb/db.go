package storagedb

import (
	"context"

	"github.com/gowvp/dashcam/internal/core/storage"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ storage.Storer = DB{}

type DB struct {
	db *gorm.DB
}

func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// AutoMigrate 迁移目录索引表结构
func (d DB) AutoMigrate(ok bool) DB {
	if ok {
		if err := d.db.AutoMigrate(&storage.Entry{}); err != nil {
			panic(err)
		}
	}
	return d
}

func (d DB) Entry() storage.EntryStorer {
	return Entries{db: d.db}
}

type Entries struct {
	db *gorm.DB
}

func (e Entries) Find(ctx context.Context, items *[]*storage.Entry, pager orm.Pager, opts ...orm.QueryOption) (int64, error) {
	db := e.db.WithContext(ctx).Model(&storage.Entry{})
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

func (e Entries) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	db := e.db.WithContext(ctx).Model(&storage.Entry{})
	for _, opt := range opts {
		db = opt(db)
	}
	var total int64
	return total, db.Count(&total).Error
}

func (e Entries) Session(ctx context.Context, fns ...func(*gorm.DB) error) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fn := range fns {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}
