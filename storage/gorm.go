// Package storage provides registry.Store backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skland-checkin-bot/model"
	"skland-checkin-bot/registry"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite opens (or creates) the SQLite database at path and migrates
// the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting per connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&model.Account{}, &model.GroupMember{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

type GormStore struct {
	db *gorm.DB
}

var _ registry.Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, id registry.Identity) (registry.Account, bool, error) {
	var acc model.Account
	err := s.db.WithContext(ctx).Where("identity = ?", string(id)).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return registry.Account{}, false, nil
	}
	if err != nil {
		return registry.Account{}, false, err
	}
	return toAccount(acc), true, nil
}

// Put upserts the token inside a transaction so readers never see a
// half-written row. An existing row keeps its ID and therefore its Seq.
func (s *GormStore) Put(ctx context.Context, id registry.Identity, token, displayName string, boundAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acc model.Account
		err := tx.Where("identity = ?", string(id)).First(&acc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&model.Account{
				Identity:    string(id),
				Token:       token,
				DisplayName: displayName,
				BoundAt:     boundAt,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&acc).Updates(map[string]any{
			"token":        token,
			"display_name": displayName,
			"bound_at":     boundAt,
		}).Error
	})
}

func (s *GormStore) Delete(ctx context.Context, id registry.Identity) (bool, error) {
	result := s.db.WithContext(ctx).Where("identity = ?", string(id)).Delete(&model.Account{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) DeleteIfToken(ctx context.Context, id registry.Identity, token string) (bool, error) {
	result := s.db.WithContext(ctx).Where("identity = ? AND token = ?", string(id), token).Delete(&model.Account{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) List(ctx context.Context) ([]registry.Account, error) {
	var rows []model.Account
	if err := s.db.WithContext(ctx).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]registry.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, toAccount(r))
	}
	return out, nil
}

func (s *GormStore) AddMember(ctx context.Context, group string, id registry.Identity) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.GroupMember{GroupID: group, Identity: string(id)}).Error
}

func (s *GormStore) Members(ctx context.Context, group string) ([]registry.Identity, error) {
	var rows []model.GroupMember
	if err := s.db.WithContext(ctx).Where("group_id = ?", group).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]registry.Identity, 0, len(rows))
	for _, r := range rows {
		out = append(out, registry.Identity(r.Identity))
	}
	return out, nil
}

func toAccount(a model.Account) registry.Account {
	return registry.Account{
		Identity:    registry.Identity(a.Identity),
		Token:       a.Token,
		DisplayName: a.DisplayName,
		Seq:         a.ID,
		BoundAt:     a.BoundAt,
	}
}
