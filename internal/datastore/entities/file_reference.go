package entities

// FileReference counts the nodes and blocks referencing a blob in one
// credential set. StorageKey "" is the default set. Count never goes below
// zero; a blob is reclaimable only at zero.
type FileReference struct {
	Digest     string `gorm:"primaryKey;type:varchar(64)"`
	StorageKey string `gorm:"primaryKey;column:credentials_key;type:varchar(128)"`
	Count      int64  `gorm:"column:ref_count;not null;default:0"`
}

// TableName returns the table name for GORM.
func (FileReference) TableName() string {
	return "file_references"
}
