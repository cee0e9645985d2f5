package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
)

// SFTPBackendConfig holds configuration for the SFTP backend
type SFTPBackendConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string
	BasePath       string
	Timeout        time.Duration
}

// SFTPBackend stores blobs on an SFTP server. A single SSH connection is
// shared by all operations and re-established after a failure.
type SFTPBackend struct {
	name   string
	config SFTPBackendConfig
	log    logger.Logger

	mu     sync.Mutex
	ssh    *ssh.Client
	client *sftp.Client
}

// NewSFTPBackend creates an SFTP backend. The connection is opened on first use.
func NewSFTPBackend(name string, config SFTPBackendConfig, log logger.Logger) (*SFTPBackend, error) {
	if config.Host == "" {
		return nil, errors.Newf("sftp storage %s: host is required", name).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if config.Port == 0 {
		config.Port = DefaultSSHPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.BasePath == "" {
		config.BasePath = "blobs"
	}
	if config.KeyFile == "" && config.Password == "" {
		return nil, errors.Newf("sftp storage %s: no authentication method provided", name).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}

	return &SFTPBackend{name: name, config: config, log: log}, nil
}

// Name returns the backend name
func (b *SFTPBackend) Name() string {
	return b.name
}

func (b *SFTPBackend) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    b.config.Username,
		Timeout: b.config.Timeout,
	}

	if b.config.KnownHostsFile != "" {
		callback, err := knownhosts.New(b.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to load known_hosts: %w", err)
		}
		config.HostKeyCallback = callback
	} else {
		b.log.Warn("sftp host key verification disabled, set known_hosts_file",
			logger.String("backend", b.name),
			logger.String("host", b.config.Host))
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in through configuration
	}

	switch {
	case b.config.KeyFile != "":
		key, err := os.ReadFile(b.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		config.Auth = []ssh.AuthMethod{ssh.Password(b.config.Password)}
	}
	return config, nil
}

// connect returns the shared client, dialing when needed
func (b *SFTPBackend) connect(ctx context.Context) (*sftp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return b.client, nil
	}

	config, err := b.clientConfig()
	if err != nil {
		return nil, err
	}

	type connResult struct {
		ssh    *ssh.Client
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := net.JoinHostPort(b.config.Host, strconv.Itoa(b.config.Port))
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{ssh: sshConn, client: client}
	}()

	select {
	case <-ctx.Done():
		// Close a connection that completes after cancellation
		go func() {
			if result := <-resultChan; result.client != nil {
				_ = result.client.Close()
				_ = result.ssh.Close()
			}
		}()
		return nil, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			return nil, result.err
		}
		b.ssh = result.ssh
		b.client = result.client
		return b.client, nil
	}
}

// reset drops the shared connection after a transport failure
func (b *SFTPBackend) reset(err error) {
	if err == nil || !IsTransientError(err) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.closeLocked()
}

func (b *SFTPBackend) closeLocked() error {
	var errs []error
	if b.client != nil {
		errs = append(errs, b.client.Close())
		b.client = nil
	}
	if b.ssh != nil {
		errs = append(errs, b.ssh.Close())
		b.ssh = nil
	}
	return errors.Join(errs...)
}

func (b *SFTPBackend) path(digest string) string {
	return blobPath(b.config.BasePath, digest)
}

// Exists stats the blob on the server
func (b *SFTPBackend) Exists(ctx context.Context, digest string) (bool, error) {
	if err := validateDigest(digest); err != nil {
		return false, err
	}
	client, err := b.connect(ctx)
	if err != nil {
		return false, ioError(err, b.name, "connect", digest)
	}

	_, err = client.Stat(b.path(digest))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		b.reset(err)
		return false, ioError(err, b.name, "stat", digest)
	}
}

// Open opens the remote blob for reading
func (b *SFTPBackend) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	if err := validateDigest(digest); err != nil {
		return nil, err
	}
	client, err := b.connect(ctx)
	if err != nil {
		return nil, ioError(err, b.name, "connect", digest)
	}

	file, err := client.Open(b.path(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(b.name, digest)
		}
		b.reset(err)
		return nil, ioError(err, b.name, "open", digest)
	}
	return file, nil
}

// Put uploads to a temporary name and renames it over the final path
func (b *SFTPBackend) Put(ctx context.Context, digest string, r io.Reader) (int64, error) {
	if err := validateDigest(digest); err != nil {
		return 0, err
	}
	client, err := b.connect(ctx)
	if err != nil {
		return 0, ioError(err, b.name, "connect", digest)
	}

	target := b.path(digest)
	if err := client.MkdirAll(path.Dir(target)); err != nil {
		b.reset(err)
		return 0, ioError(err, b.name, "mkdir", digest)
	}

	tempPath := path.Join(path.Dir(target), tempPrefix+uuid.NewString())
	dst, err := client.Create(tempPath)
	if err != nil {
		b.reset(err)
		return 0, ioError(err, b.name, "create", digest)
	}

	src := &countingReader{r: ctxReader{ctx: ctx, r: r}}
	if _, err := io.CopyBuffer(dst, src, make([]byte, CopyBufferSize)); err != nil {
		_ = dst.Close()
		_ = client.Remove(tempPath)
		b.reset(err)
		return src.n, ioError(err, b.name, "write", digest)
	}
	if err := dst.Close(); err != nil {
		_ = client.Remove(tempPath)
		b.reset(err)
		return src.n, ioError(err, b.name, "close", digest)
	}

	if err := client.PosixRename(tempPath, target); err != nil {
		_ = client.Remove(tempPath)
		b.reset(err)
		return src.n, ioError(err, b.name, "rename", digest)
	}
	return src.n, nil
}

// Delete removes the remote blob
func (b *SFTPBackend) Delete(ctx context.Context, digest string) error {
	if err := validateDigest(digest); err != nil {
		return err
	}
	client, err := b.connect(ctx)
	if err != nil {
		return ioError(err, b.name, "connect", digest)
	}
	if err := client.Remove(b.path(digest)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		b.reset(err)
		return ioError(err, b.name, "delete", digest)
	}
	return nil
}

// Close closes the shared connection
func (b *SFTPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}
