package migrate

import (
	"context"
	"io"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
	"github.com/tphakala/repomigrate/internal/observability/metrics"
	"github.com/tphakala/repomigrate/internal/storage"
)

// BlobCopier copies node content between two credential sets and keeps
// the reference counts of both sides in step.
type BlobCopier struct {
	blobs    BlobStore
	blocks   BlockLister
	locks    *keyedMutex
	recorder metrics.MigrationRecorder
	log      logger.Logger
}

// NewBlobCopier creates a copier. A nil recorder or logger disables metrics
// or logging respectively.
func NewBlobCopier(blobs BlobStore, blocks BlockLister, recorder metrics.MigrationRecorder, log logger.Logger) *BlobCopier {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	return &BlobCopier{
		blobs:    blobs,
		blocks:   blocks,
		locks:    newKeyedMutex(),
		recorder: recorder,
		log:      log.Module(logger.ComponentCopier),
	}
}

// MigrateNode copies every digest of node from srcKey to dstKey and moves
// one reference per digest. A digest missing at srcKey is skipped.
func (c *BlobCopier) MigrateNode(ctx context.Context, node *entities.Node, srcKey, dstKey string) (int64, error) {
	return c.eachDigest(ctx, node, srcKey, dstKey, func(digest string) (int64, error) {
		n, copied, err := c.copyDigest(ctx, node, digest, srcKey, dstKey)
		if err != nil || !copied {
			return n, err
		}
		c.adjustReferences(ctx, digest, srcKey, dstKey)
		return n, nil
	})
}

// TransferNode copies the bytes of node without touching reference counts.
func (c *BlobCopier) TransferNode(ctx context.Context, node *entities.Node, srcKey, dstKey string) (int64, error) {
	return c.eachDigest(ctx, node, srcKey, dstKey, func(digest string) (int64, error) {
		n, _, err := c.copyDigest(ctx, node, digest, srcKey, dstKey)
		return n, err
	})
}

// CorrectNode repairs a node written around the redirect. Per digest:
// present at dstKey without references gets its references moved, absent
// at dstKey but already referenced there gets its bytes copied, absent and
// unreferenced gets a full migration.
func (c *BlobCopier) CorrectNode(ctx context.Context, node *entities.Node, srcKey, dstKey string) (int64, error) {
	return c.eachDigest(ctx, node, srcKey, dstKey, func(digest string) (int64, error) {
		exists, err := c.blobs.Exists(ctx, digest, dstKey)
		if err != nil {
			return 0, err
		}
		refs, err := c.blobs.RefCount(ctx, digest, dstKey)
		if err != nil {
			return 0, err
		}

		switch {
		case exists && refs == 0:
			c.adjustReferences(ctx, digest, srcKey, dstKey)
			return 0, nil
		case exists:
			return 0, nil
		case refs > 0:
			n, _, err := c.copyDigest(ctx, node, digest, srcKey, dstKey)
			return n, err
		default:
			n, copied, err := c.copyDigest(ctx, node, digest, srcKey, dstKey)
			if err != nil || !copied {
				return n, err
			}
			c.adjustReferences(ctx, digest, srcKey, dstKey)
			return n, nil
		}
	})
}

// Digests returns the blob digests holding node content. Blocks of a
// multi-block node are listed as of the node's creation time.
func (c *BlobCopier) Digests(ctx context.Context, node *entities.Node) ([]string, error) {
	if !node.IsMultiBlock() {
		return []string{node.Digest}, nil
	}

	blocks, err := c.blocks.ListBlocks(ctx, node.ProjectID, node.RepoName, node.FullPath, node.CreatedAt)
	if err != nil {
		return nil, err
	}
	digests := make([]string, 0, len(blocks))
	for i := range blocks {
		digests = append(digests, blocks[i].Digest)
	}
	return digests, nil
}

// eachDigest runs fn for every digest of node with the route lock held.
func (c *BlobCopier) eachDigest(ctx context.Context, node *entities.Node, srcKey, dstKey string, fn func(digest string) (int64, error)) (int64, error) {
	if srcKey == dstKey {
		return 0, errors.New(ErrSameStorageKey).
			Component("migrate").
			Category(errors.CategoryValidation).
			BlobContext(node.Digest, srcKey, dstKey).
			Build()
	}

	digests, err := c.Digests(ctx, node)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, digest := range digests {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		unlock := c.locks.Lock(routeKey(digest, srcKey, dstKey))
		n, err := fn(digest)
		unlock()
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// copyDigest copies one blob. copied is false when the source blob does not
// exist, which is not an error.
func (c *BlobCopier) copyDigest(ctx context.Context, node *entities.Node, digest, srcKey, dstKey string) (n int64, copied bool, err error) {
	exists, err := c.blobs.Exists(ctx, digest, srcKey)
	if err != nil {
		return 0, false, err
	}
	if !exists {
		c.logMissingSource(node, digest, srcKey)
		return 0, false, nil
	}

	n, err = c.blobs.Copy(ctx, digest, srcKey, dstKey)
	if errors.Is(err, storage.ErrBlobNotFound) {
		// Deleted between the existence check and the copy
		c.logMissingSource(node, digest, srcKey)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// adjustReferences moves one reference of digest from srcKey to dstKey.
// When srcKey had nothing left to release the destination only gains a
// reference if it has none, so a repeated copy does not inflate counts.
// Failures are logged and never fail the node.
func (c *BlobCopier) adjustReferences(ctx context.Context, digest, srcKey, dstKey string) {
	released, err := c.blobs.DecrementRef(ctx, digest, srcKey)
	if err != nil {
		c.recorder.RecordReferenceAdjustFailure(metrics.RefOpDecrement)
		c.log.Warn("failed to decrement blob reference",
			logger.Digest(digest),
			logger.StorageKey("storage_key", srcKey),
			logger.Error(err))
	}

	if !released {
		count, err := c.blobs.RefCount(ctx, digest, dstKey)
		if err == nil && count > 0 {
			return
		}
	}

	if _, err := c.blobs.IncrementRef(ctx, digest, dstKey); err != nil {
		c.recorder.RecordReferenceAdjustFailure(metrics.RefOpIncrement)
		c.log.Warn("failed to increment blob reference",
			logger.Digest(digest),
			logger.StorageKey("storage_key", dstKey),
			logger.Error(err))
	}
}

func (c *BlobCopier) logMissingSource(node *entities.Node, digest, srcKey string) {
	c.log.Warn("source blob missing, skipping",
		logger.ProjectID(node.ProjectID),
		logger.RepoName(node.RepoName),
		logger.NodePath(node.FullPath),
		logger.Digest(digest),
		logger.StorageKey("storage_key", srcKey))
}

func displayKey(key string) string {
	if key == "" {
		return storage.DefaultKeyName
	}
	return key
}
