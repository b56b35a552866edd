// Package database keeps the store-wide SQLite file: the origin directory
// mappings and the persisted per-sandbox usage counters.
package database

import (
	"time"

	"emperror.dev/errors"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/veilfs/veilfs/internal/models"
	"github.com/veilfs/veilfs/store"
)

// Database implements both store.OriginDatabase and store.QuotaNotifier on a
// single gorm-managed SQLite file.
type Database struct {
	db *gorm.DB
}

var (
	_ store.OriginDatabase = (*Database)(nil)
	_ store.QuotaNotifier  = (*Database)(nil)
)

// Open opens the database file at the given path and ensures that the
// models have been fully migrated.
func Open(path string) (*Database, error) {
	instance, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "database: could not open database file")
	}
	if err := instance.AutoMigrate(&models.Origin{}, &models.Usage{}); err != nil {
		return nil, errors.WithStack(err)
	}
	return &Database{db: instance}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(sqlDB.Close())
}

func (d *Database) Has(origin string) (bool, error) {
	var count int64
	if err := d.db.Model(&models.Origin{}).Where("key = ?", origin).Count(&count).Error; err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

// GetPath returns the opaque directory name for an origin, assigning a new
// UUID-derived name the first time the origin is seen.
func (d *Database) GetPath(origin string) (string, error) {
	var o models.Origin
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ?", origin).First(&o).Error; err == nil {
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		o = models.Origin{
			Key:       origin,
			Directory: uuid.New().String(),
			CreatedAt: time.Now().Unix(),
		}
		return tx.Create(&o).Error
	})
	if err != nil {
		return "", errors.WithStack(err)
	}
	return o.Directory, nil
}

func (d *Database) Remove(origin string) error {
	if err := d.db.Where("key = ?", origin).Delete(&models.Origin{}).Error; err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(d.db.Where("origin_key = ?", origin).Delete(&models.Usage{}).Error)
}

func (d *Database) ListAll() ([]store.OriginRecord, error) {
	var rows []models.Origin
	if err := d.db.Order("key").Find(&rows).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	out := make([]store.OriginRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.OriginRecord{Origin: r.Key, Directory: r.Directory})
	}
	return out, nil
}

// UpdateUsage applies a signed delta to the persisted counter for a tree,
// creating the row on first use.
func (d *Database) UpdateUsage(origin string, st store.StorageType, delta int64) error {
	return errors.WithStack(d.db.Transaction(func(tx *gorm.DB) error {
		u, err := usageRow(tx, origin, st)
		if err != nil {
			return err
		}
		u.Bytes += delta
		return tx.Save(u).Error
	}))
}

// InvalidateUsage flags the counter stale without touching its value.
func (d *Database) InvalidateUsage(origin string, st store.StorageType) error {
	return errors.WithStack(d.db.Transaction(func(tx *gorm.DB) error {
		u, err := usageRow(tx, origin, st)
		if err != nil {
			return err
		}
		u.Valid = false
		return tx.Save(u).Error
	}))
}

// SetUsage replaces the counter with an authoritative rescan result and
// marks it valid again.
func (d *Database) SetUsage(origin string, st store.StorageType, bytes int64) error {
	return errors.WithStack(d.db.Transaction(func(tx *gorm.DB) error {
		u, err := usageRow(tx, origin, st)
		if err != nil {
			return err
		}
		u.Bytes = bytes
		u.Valid = true
		return tx.Save(u).Error
	}))
}

// Usage returns the persisted counter and whether it can be trusted. A
// missing row counts as an invalid zero so fresh sandboxes go through one
// cheap rescan.
func (d *Database) Usage(origin string, st store.StorageType) (int64, bool, error) {
	var u models.Usage
	err := d.db.Where("origin_key = ? AND storage_type = ?", origin, string(st)).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, errors.WithStack(err)
	}
	return u.Bytes, u.Valid, nil
}

func usageRow(tx *gorm.DB, origin string, st store.StorageType) (*models.Usage, error) {
	var u models.Usage
	err := tx.Where("origin_key = ? AND storage_type = ?", origin, string(st)).First(&u).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	u = models.Usage{OriginKey: origin, StorageType: string(st), Valid: true}
	if err := tx.Create(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
