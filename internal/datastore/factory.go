package datastore

import (
	"github.com/tphakala/repomigrate/internal/conf"
	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
)

// NewManager creates the manager selected by settings.Type and initializes
// its schema.
func NewManager(settings *conf.DatabaseSettings, log logger.Logger) (Manager, error) {
	var (
		manager Manager
		err     error
	)

	switch settings.Type {
	case conf.DatabaseMySQL:
		manager, err = NewMySQLManager(&MySQLConfig{
			Host:               settings.MySQL.Host,
			Port:               settings.MySQL.Port,
			Username:           settings.MySQL.Username,
			Password:           settings.MySQL.Password,
			Database:           settings.MySQL.Database,
			MaxOpenConns:       settings.MySQL.MaxOpenConns,
			Logger:             log,
			SlowQueryThreshold: settings.SlowQueryThreshold,
		})
	case conf.DatabaseSQLite, "":
		manager, err = NewSQLiteManager(Config{
			DataDir:            settings.SQLite.Path,
			Logger:             log,
			SlowQueryThreshold: settings.SlowQueryThreshold,
		})
	default:
		return nil, errors.Newf("unsupported database type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, dbError(err, "open_database")
	}

	if err := manager.Initialize(); err != nil {
		_ = manager.Close()
		return nil, dbError(err, "initialize_schema")
	}

	if log != nil {
		log.Info("metadata store ready",
			logger.String("type", settings.Type),
			logger.String("path", manager.Path()))
	}
	return manager, nil
}

// Stores bundles the stores built over one database.
type Stores struct {
	Tasks        *TaskStore
	Nodes        *NodeStore
	Blocks       *BlockStore
	References   *ReferenceStore
	Repositories *RepositoryStore
	FailedNodes  *FailedNodeStore
}

// NewStores builds every store over manager's database.
func NewStores(manager Manager) *Stores {
	db := manager.DB()
	return &Stores{
		Tasks:        NewTaskStore(db),
		Nodes:        NewNodeStore(db),
		Blocks:       NewBlockStore(db),
		References:   NewReferenceStore(db),
		Repositories: NewRepositoryStore(db),
		FailedNodes:  NewFailedNodeStore(db),
	}
}
