package entities

import "time"

// MultiBlockDigest marks a node whose content is a set of blocks in the block store
const MultiBlockDigest = "0000000000000000000000000000000000000000000000000000000000000000"

// DefaultStorageMarker is how the default credential set is written into
// pending-copy markers. NULL already means "no pending copy".
const DefaultStorageMarker = "default"

// Node is a file or folder in a repository catalog
type Node struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ProjectID  string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_node_path,priority:1;index:idx_node_scope,priority:1" json:"projectId"`
	RepoName   string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_node_path,priority:2;index:idx_node_scope,priority:2" json:"repoName"`
	FullPath   string    `gorm:"type:varchar(500);not null;uniqueIndex:idx_node_path,priority:3" json:"fullPath"`
	Folder     bool      `gorm:"not null;default:false" json:"folder"`
	Digest     string    `gorm:"type:varchar(64)" json:"digest"`
	Size       int64     `gorm:"not null;default:0" json:"size"`
	Compressed bool      `gorm:"not null;default:false" json:"compressed"`
	CreatedAt  time.Time `gorm:"not null;index:idx_node_scope,priority:3" json:"createdAt"`

	// Pending-copy markers are set by writers that stored bytes in one
	// credential set while the repository was being redirected to another
	PendingCopyFrom *string `gorm:"type:varchar(128);index" json:"pendingCopyFrom,omitempty"`
	PendingCopyTo   *string `gorm:"type:varchar(128)" json:"pendingCopyTo,omitempty"`
}

// TableName returns the table name for GORM.
func (Node) TableName() string {
	return "nodes"
}

// IsMultiBlock reports whether the node content lives in the block store
func (n *Node) IsMultiBlock() bool {
	return n.Digest == MultiBlockDigest
}

// MarkerToKey converts a pending-copy marker to a storage key
func MarkerToKey(marker *string) string {
	if marker == nil || *marker == DefaultStorageMarker {
		return ""
	}
	return *marker
}

// KeyToMarker converts a storage key to its pending-copy marker
func KeyToMarker(key string) string {
	if key == "" {
		return DefaultStorageMarker
	}
	return key
}
