package entities

import "time"

// MigrateFailedNode records a node whose copy failed during a migration task
type MigrateFailedNode struct {
	ID         uint      `gorm:"primaryKey" json:"id" yaml:"id"`
	TaskID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_failed_task_node,priority:1" json:"taskId" yaml:"taskId"`
	NodeID     uint      `gorm:"not null;uniqueIndex:idx_failed_task_node,priority:2" json:"nodeId" yaml:"nodeId"`
	ProjectID  string    `gorm:"type:varchar(128);not null;index:idx_failed_repo,priority:1" json:"projectId" yaml:"projectId"`
	RepoName   string    `gorm:"type:varchar(128);not null;index:idx_failed_repo,priority:2" json:"repoName" yaml:"repoName"`
	FullPath   string    `gorm:"type:varchar(767);not null" json:"fullPath" yaml:"fullPath"`
	Digest     string    `gorm:"type:varchar(64)" json:"digest" yaml:"digest"`
	Size       int64     `json:"size" yaml:"size"`
	RetryTimes int       `gorm:"not null;default:0" json:"retryTimes" yaml:"retryTimes"`
	Reason     string    `gorm:"type:text" json:"reason" yaml:"reason"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// TableName returns the table name for GORM.
func (MigrateFailedNode) TableName() string {
	return "migrate_failed_nodes"
}
