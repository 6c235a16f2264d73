package models

import (
	"time"
)

// CacheEntry backs the database implementation of cache.Store, used when no
// redis instance is configured. Expired rows are purged by the maintenance
// sweeper and ignored on read.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
