// Package entities contains the GORM models of the repository metadata store:
// migration tasks, catalog nodes and blocks, blob reference counts,
// repositories and failed node records.
//
// All timestamps are stored in UTC. SQLite compares datetimes as text, so
// mixed offsets would break the createdAt range queries used by the cursor.
package entities
