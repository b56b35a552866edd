package models

// Origin maps an origin key onto the opaque directory name its sandboxes
// live under. The directory name is a freshly drawn UUID, so on-disk
// listings leak nothing about the origins being stored.
type Origin struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	Key       string `gorm:"uniqueIndex;not null" json:"key"`
	Directory string `gorm:"uniqueIndex;not null" json:"directory"`

	// Unix timestamp of when the mapping was first created.
	CreatedAt int64 `gorm:"not null" json:"created_at"`
}

// Usage is the persisted byte counter for one (origin, storage type) tree.
// When Valid is false the counter is stale and must be recomputed from a
// full scan before being trusted.
type Usage struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	OriginKey   string `gorm:"uniqueIndex:idx_usage_origin_type;not null" json:"origin"`
	StorageType string `gorm:"uniqueIndex:idx_usage_origin_type;not null" json:"storage_type"`
	Bytes       int64  `gorm:"not null;default:0" json:"bytes"`
	Valid       bool   `gorm:"not null;default:true" json:"valid"`
}
