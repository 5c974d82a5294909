package sieve

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheEntry is the row layout of GormCacheStore.
type CacheEntry struct {
	Key       string     `gorm:"column:cache_key;primaryKey;size:64"`
	Value     []byte     `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
}

func (CacheEntry) TableName() string { return "sieve_cache" }

// GormCacheStore keeps cache entries in a SQL table. Expired rows are skipped
// on read and removed by Purge.
type GormCacheStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormCacheStore migrates the cache table and returns the store.
func NewGormCacheStore(db *gorm.DB) (*GormCacheStore, error) {
	if err := db.AutoMigrate(&CacheEntry{}); err != nil {
		return nil, fmt.Errorf("migrate cache table: %w", err)
	}
	return &GormCacheStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *GormCacheStore) Get(key string) ([]byte, bool, error) {
	var rows []CacheEntry
	if err := s.db.Where("cache_key = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	e := rows[0]
	if e.ExpiresAt != nil && !s.now().Before(*e.ExpiresAt) {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (s *GormCacheStore) Set(key string, value []byte, ttl time.Duration) error {
	e := CacheEntry{Key: key, Value: value}
	if ttl > 0 {
		t := s.now().Add(ttl)
		e.ExpiresAt = &t
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&e).Error
}

func (s *GormCacheStore) Delete(key string) error {
	return s.db.Where("cache_key = ?", key).Delete(&CacheEntry{}).Error
}

// Purge deletes expired rows and returns how many were removed.
func (s *GormCacheStore) Purge() (int64, error) {
	res := s.db.Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).Delete(&CacheEntry{})
	return res.RowsAffected, res.Error
}
