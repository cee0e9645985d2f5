package storage

import (
	"maps"
	"slices"
	"sync"

	"github.com/tphakala/repomigrate/internal/conf"
	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
)

// DefaultKeyName is how the default credential set appears in logs
const DefaultKeyName = "default"

// Registry resolves storage keys to backends. The empty key is the
// platform default credential set.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// NewRegistryFromSettings builds one backend per configured credential set.
func NewRegistryFromSettings(settings *conf.StorageSettings, log logger.Logger) (*Registry, error) {
	registry := NewRegistry()

	build := func(key string, cred *conf.CredentialSettings) error {
		backend, err := NewBackend(key, cred, log)
		if err != nil {
			_ = registry.Close()
			return err
		}
		registry.Register(key, backend)
		return nil
	}

	if err := build("", &settings.Default); err != nil {
		return nil, err
	}
	for _, key := range slices.Sorted(maps.Keys(settings.Credentials)) {
		cred := settings.Credentials[key]
		if err := build(key, &cred); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewBackend creates the backend described by cred.
func NewBackend(key string, cred *conf.CredentialSettings, log logger.Logger) (Backend, error) {
	name := key
	if name == "" {
		name = DefaultKeyName
	}

	switch cred.Type {
	case conf.StorageTypeLocal, "":
		return NewLocalBackend(name, LocalBackendConfig{Path: cred.Path, Compress: cred.Compress})
	case conf.StorageTypeSFTP:
		return NewSFTPBackend(name, SFTPBackendConfig{
			Host:           cred.Host,
			Port:           cred.Port,
			Username:       cred.Username,
			Password:       cred.Password,
			KeyFile:        cred.KeyFile,
			KnownHostsFile: cred.KnownHostsFile,
			BasePath:       cred.BasePath,
			Timeout:        cred.Timeout,
		}, log)
	case conf.StorageTypeFTP:
		return NewFTPBackend(name, FTPBackendConfig{
			Host:     cred.Host,
			Port:     cred.Port,
			Username: cred.Username,
			Password: cred.Password,
			BasePath: cred.BasePath,
			Timeout:  cred.Timeout,
			MaxConns: cred.MaxConnections,
		}, log)
	default:
		return nil, errors.Newf("storage %s: unsupported type %q", name, cred.Type).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Register adds or replaces the backend for key.
func (r *Registry) Register(key string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[key] = backend
}

// Resolve returns the backend for key or ErrUnknownStorageKey.
func (r *Registry) Resolve(key string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backend, ok := r.backends[key]
	if !ok {
		return nil, errors.New(ErrUnknownStorageKey).
			Component("storage").
			Category(errors.CategoryNotFound).
			Context("storage_key", displayKey(key)).
			Build()
	}
	return backend, nil
}

// Has reports whether key is configured.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[key]
	return ok
}

// Keys returns the configured keys in sorted order, the default key as "".
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.backends))
}

// Close closes every backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, backend := range r.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func displayKey(key string) string {
	if key == "" {
		return DefaultKeyName
	}
	return key
}
