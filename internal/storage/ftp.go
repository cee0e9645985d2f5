package storage

import (
	"context"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"

	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
)

// FTPBackendConfig holds configuration for the FTP backend
type FTPBackendConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	BasePath string
	Timeout  time.Duration
	MaxConns int
}

// FTPBackend stores blobs on an FTP server using a small pool of control
// connections.
type FTPBackend struct {
	name     string
	config   FTPBackendConfig
	log      logger.Logger
	connPool chan *ftp.ServerConn

	mu     sync.Mutex
	closed bool
}

// NewFTPBackend creates an FTP backend. Connections are opened on demand.
func NewFTPBackend(name string, config FTPBackendConfig, log logger.Logger) (*FTPBackend, error) {
	if config.Host == "" {
		return nil, errors.Newf("ftp storage %s: host is required", name).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if config.Port == 0 {
		config.Port = DefaultFTPPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxConns <= 0 {
		config.MaxConns = DefaultMaxConns
	}
	if config.BasePath == "" {
		config.BasePath = "blobs"
	}
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}

	return &FTPBackend{
		name:     name,
		config:   config,
		log:      log,
		connPool: make(chan *ftp.ServerConn, config.MaxConns),
	}, nil
}

// Name returns the backend name
func (b *FTPBackend) Name() string {
	return b.name
}

// getConnection gets a connection from the pool or creates a new one
func (b *FTPBackend) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-b.connPool:
		if conn.NoOp() == nil {
			return conn, nil
		}
		_ = conn.Quit()
	default:
	}
	return b.connect(ctx)
}

// returnConnection returns a connection to the pool or closes it if the pool is full
func (b *FTPBackend) returnConnection(conn *ftp.ServerConn) {
	if conn == nil {
		return
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		_ = conn.Quit()
		return
	}

	select {
	case b.connPool <- conn:
	default:
		if err := conn.Quit(); err != nil {
			b.log.Debug("failed to close ftp connection",
				logger.String("backend", b.name),
				logger.Error(err))
		}
	}
}

func (b *FTPBackend) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := net.JoinHostPort(b.config.Host, strconv.Itoa(b.config.Port))
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(b.config.Timeout))
	if err != nil {
		return nil, err
	}

	if b.config.Username != "" {
		if err := conn.Login(b.config.Username, b.config.Password); err != nil {
			_ = conn.Quit()
			return nil, errors.New(err).
				Component("storage").
				Category(errors.CategoryConfiguration).
				Context("backend", b.name).
				Context("operation", "login").
				Build()
		}
	}
	return conn, nil
}

// withConn runs op on a pooled connection. The connection is returned to
// the pool on success and discarded on failure.
func (b *FTPBackend) withConn(ctx context.Context, op func(*ftp.ServerConn) error) error {
	conn, err := b.getConnection(ctx)
	if err != nil {
		return err
	}
	if err := op(conn); err != nil {
		if isFTPNotFound(err) {
			b.returnConnection(conn)
		} else {
			_ = conn.Quit()
		}
		return err
	}
	b.returnConnection(conn)
	return nil
}

func (b *FTPBackend) path(digest string) string {
	return blobPath(b.config.BasePath, digest)
}

// Exists asks the server for the blob size
func (b *FTPBackend) Exists(ctx context.Context, digest string) (bool, error) {
	if err := validateDigest(digest); err != nil {
		return false, err
	}

	exists := false
	err := b.withConn(ctx, func(conn *ftp.ServerConn) error {
		_, err := conn.FileSize(b.path(digest))
		if err == nil {
			exists = true
		}
		return err
	})
	switch {
	case err == nil:
		return exists, nil
	case isFTPNotFound(err):
		return false, nil
	default:
		return false, ioError(err, b.name, "size", digest)
	}
}

// Open retrieves the blob. The connection stays busy until the reader is closed.
func (b *FTPBackend) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	if err := validateDigest(digest); err != nil {
		return nil, err
	}

	conn, err := b.getConnection(ctx)
	if err != nil {
		return nil, ioError(err, b.name, "connect", digest)
	}

	resp, err := conn.Retr(b.path(digest))
	if err != nil {
		if isFTPNotFound(err) {
			b.returnConnection(conn)
			return nil, notFound(b.name, digest)
		}
		_ = conn.Quit()
		return nil, ioError(err, b.name, "retr", digest)
	}
	return &ftpReader{resp: resp, conn: conn, backend: b}, nil
}

// Put stores the blob under a temporary name and renames it into place
func (b *FTPBackend) Put(ctx context.Context, digest string, r io.Reader) (int64, error) {
	if err := validateDigest(digest); err != nil {
		return 0, err
	}

	target := b.path(digest)
	tempName := path.Join(path.Dir(target), tempPrefix+uuid.NewString())
	src := &countingReader{r: ctxReader{ctx: ctx, r: r}}

	err := b.withConn(ctx, func(conn *ftp.ServerConn) error {
		if err := b.makeDirs(conn, path.Dir(target)); err != nil {
			return err
		}
		if err := conn.Stor(tempName, src); err != nil {
			_ = conn.Delete(tempName)
			return err
		}
		// RNTO onto an existing file fails on many servers
		if err := conn.Delete(target); err != nil && !isFTPNotFound(err) {
			_ = conn.Delete(tempName)
			return err
		}
		if err := conn.Rename(tempName, target); err != nil {
			_ = conn.Delete(tempName)
			return err
		}
		return nil
	})
	if err != nil {
		return src.n, ioError(err, b.name, "put", digest)
	}
	return src.n, nil
}

// makeDirs creates every missing directory of dir
func (b *FTPBackend) makeDirs(conn *ftp.ServerConn, dir string) error {
	current := ""
	for part := range strings.SplitSeq(dir, "/") {
		if part == "" {
			if current == "" {
				current = "/"
			}
			continue
		}
		current = path.Join(current, part)
		if err := conn.MakeDir(current); err != nil && !isDirectoryExistsError(err) {
			return err
		}
	}
	return nil
}

// Delete removes the blob
func (b *FTPBackend) Delete(ctx context.Context, digest string) error {
	if err := validateDigest(digest); err != nil {
		return err
	}
	err := b.withConn(ctx, func(conn *ftp.ServerConn) error {
		return conn.Delete(b.path(digest))
	})
	if err != nil && !isFTPNotFound(err) {
		return ioError(err, b.name, "delete", digest)
	}
	return nil
}

// Close closes all connections in the pool
func (b *FTPBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	var lastErr error
	for {
		select {
		case conn := <-b.connPool:
			if err := conn.Quit(); err != nil {
				lastErr = err
			}
		default:
			return lastErr
		}
	}
}

// isFTPNotFound reports a 550 reply
func isFTPNotFound(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable
}

func isDirectoryExistsError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "file exists") ||
		strings.Contains(errStr, "already exists") ||
		strings.Contains(errStr, "directory exists") ||
		isFTPNotFound(err)
}

// ftpReader returns its connection to the pool once the transfer is closed
type ftpReader struct {
	resp    *ftp.Response
	conn    *ftp.ServerConn
	backend *FTPBackend
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	err := r.resp.Close()
	if err != nil {
		_ = r.conn.Quit()
		return err
	}
	r.backend.returnConnection(r.conn)
	return nil
}
