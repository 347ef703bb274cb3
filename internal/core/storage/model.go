package storage

import (
	"context"

	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

// Entry 目录索引中的一条文件记录
// 索引从文件系统对账重建，仅作查询视图，文件系统才是事实来源
type Entry struct {
	ID         int64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Path       string   `gorm:"uniqueIndex" json:"path"` // 相对存储根目录的路径
	StreamID   string   `gorm:"index" json:"stream_id"`
	SizeBytes  int64    `json:"size_bytes"`
	ModifiedAt orm.Time `json:"modified_at"`
	Protected  bool     `gorm:"index" json:"protected"`
	UpdatedAt  orm.Time `json:"updated_at"`
}

func (*Entry) TableName() string {
	return "catalog_entries"
}

// EntryStorer Instantiation interface
type EntryStorer interface {
	Find(context.Context, *[]*Entry, orm.Pager, ...orm.QueryOption) (int64, error)
	Count(context.Context, ...orm.QueryOption) (int64, error)
	Session(context.Context, ...func(*gorm.DB) error) error
}

// Storer data persistence
type Storer interface {
	Entry() EntryStorer
}
