package storetest

import (
	"context"

	"github.com/chirino/content-migrator/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormFixture seeds legacy tables through a GORM connection.
type GormFixture struct {
	DB *gorm.DB
}

func (f GormFixture) AddUser(ctx context.Context, id string, active bool) error {
	return f.DB.WithContext(ctx).Create(&model.User{ID: id, Active: active}).Error
}

func (f GormFixture) AddAttachment(ctx context.Context, a model.LegacyAttachment) (model.LegacyAttachment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return a, f.DB.WithContext(ctx).Create(&a).Error
}

func (f GormFixture) AddNote(ctx context.Context, n model.LegacyNote) (model.LegacyNote, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return n, f.DB.WithContext(ctx).Create(&n).Error
}
