package entities

import "time"

// TaskState is the lifecycle state of a migration task
type TaskState string

const (
	TaskStateCreated   TaskState = "CREATED"
	TaskStateExecuting TaskState = "EXECUTING"
	TaskStateSuccess   TaskState = "SUCCESS"
	TaskStateFailed    TaskState = "FAILED"
)

// IsTerminal reports whether no further transition is possible
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSuccess || s == TaskStateFailed
}

// Valid reports whether s is a known state
func (s TaskState) Valid() bool {
	switch s {
	case TaskStateCreated, TaskStateExecuting, TaskStateSuccess, TaskStateFailed:
		return true
	}
	return false
}

// MigrationTask moves one repository from SrcStorageKey to DstStorageKey.
//
// ActiveKey holds "project/repo" while the task is not terminal and NULL
// afterwards. Its unique index gives "one active task per repository" on
// both SQLite and MySQL without partial indexes.
type MigrationTask struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id" yaml:"id"`
	CreatedBy      string    `gorm:"type:varchar(128);not null" json:"createdBy" yaml:"createdBy"`
	CreatedAt      time.Time `gorm:"not null" json:"createdAt" yaml:"createdAt"`
	LastModifiedBy string    `gorm:"type:varchar(128);not null" json:"lastModifiedBy" yaml:"lastModifiedBy"`
	LastModifiedAt time.Time `gorm:"not null;index" json:"lastModifiedAt" yaml:"lastModifiedAt"`

	ProjectID string  `gorm:"type:varchar(128);not null;index:idx_task_repo" json:"projectId" yaml:"projectId"`
	RepoName  string  `gorm:"type:varchar(128);not null;index:idx_task_repo" json:"repoName" yaml:"repoName"`
	ActiveKey *string `gorm:"type:varchar(257);uniqueIndex" json:"-" yaml:"-"`

	// SrcStorageKey NULL means the platform default credential set
	SrcStorageKey *string `gorm:"type:varchar(128)" json:"srcStorageKey" yaml:"srcStorageKey"`
	DstStorageKey string  `gorm:"type:varchar(128);not null" json:"dstStorageKey" yaml:"dstStorageKey"`

	State         TaskState  `gorm:"type:varchar(16);not null;index" json:"state" yaml:"state"`
	StartBoundary *time.Time `json:"startBoundary" yaml:"startBoundary"`
	MigratedCount int64      `gorm:"not null;default:0" json:"migratedCount" yaml:"migratedCount"`
	TotalCount    *int64     `json:"totalCount" yaml:"totalCount"`

	// CorrectedCount is the resume position of the correction pass
	CorrectedCount int64 `gorm:"not null;default:0" json:"correctedCount" yaml:"correctedCount"`
}

// TableName returns the table name for GORM.
func (MigrationTask) TableName() string {
	return "migrate_repo_storage_tasks"
}

// RepoKey returns the "project/repo" identity used by ActiveKey
func RepoKey(projectID, repoName string) string {
	return projectID + "/" + repoName
}

// SrcKey returns the source storage key with the default as ""
func (t *MigrationTask) SrcKey() string {
	if t.SrcStorageKey == nil {
		return ""
	}
	return *t.SrcStorageKey
}

// Progress returns migrated/total as a percentage, 0 when total is unknown
func (t *MigrationTask) Progress() float64 {
	if t.TotalCount == nil || *t.TotalCount == 0 {
		return 0
	}
	return float64(t.MigratedCount) / float64(*t.TotalCount) * 100
}
