package entities

import "time"

// BlockNode is one block of a multi-block node. Blocks are versioned by
// time: a block belongs to a node snapshot when it was created at or before
// the snapshot and not deleted at or before it.
type BlockNode struct {
	ID           uint       `gorm:"primaryKey"`
	ProjectID    string     `gorm:"type:varchar(128);not null;index:idx_block_node,priority:1"`
	RepoName     string     `gorm:"type:varchar(128);not null;index:idx_block_node,priority:2"`
	NodeFullPath string     `gorm:"type:varchar(500);not null;index:idx_block_node,priority:3"`
	Digest       string     `gorm:"type:varchar(64);not null"`
	StartPos     int64      `gorm:"not null;default:0"`
	Size         int64      `gorm:"not null;default:0"`
	CreatedAt    time.Time  `gorm:"not null"`
	DeletedAt    *time.Time `gorm:"column:deleted_at"`
}

// TableName returns the table name for GORM.
func (BlockNode) TableName() string {
	return "block_nodes"
}
