package entities

import "time"

// Repository is the write-target record of a repository. StorageKey NULL
// means the platform default credential set.
type Repository struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ProjectID     string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_repo_name,priority:1" json:"projectId"`
	Name          string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_repo_name,priority:2" json:"name"`
	StorageKey    *string   `gorm:"column:credentials_key;type:varchar(128)" json:"credentialsKey"`
	OldStorageKey *string   `gorm:"column:old_credentials_key;type:varchar(128)" json:"oldCredentialsKey"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TableName returns the table name for GORM.
func (Repository) TableName() string {
	return "repositories"
}

// Key returns the active storage key with the default as ""
func (r *Repository) Key() string {
	if r.StorageKey == nil {
		return ""
	}
	return *r.StorageKey
}
