// Package archive lands raw API responses in a local directory, S3 or GCS
// before they are mapped, so a load can be replayed or audited.
package archive

import (
	"context"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/config"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

// Store writes objects under a key
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
	Close() error
}

// Archiver compresses bodies and names them
// <prefix>/<entity>/<run_id>.json[.ext] in a Store
type Archiver struct {
	store      Store
	compressor Compressor
	prefix     string
	logger     *zap.Logger
}

// NewArchiver wraps store
func NewArchiver(store Store, compressor Compressor, prefix string, logger *zap.Logger) *Archiver {
	if compressor == nil {
		compressor = noneCompressor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:      store,
		compressor: compressor,
		prefix:     strings.Trim(prefix, "/"),
		logger:     logger.With(zap.String("component", "archive")),
	}
}

// Key returns the object key for an entity body of a run
func (a *Archiver) Key(entity, runID string) string {
	name := runID + ".json" + a.compressor.Extension()
	if a.prefix == "" {
		return path.Join(entity, name)
	}
	return path.Join(a.prefix, entity, name)
}

// Archive compresses body and stores it, returning the key written
func (a *Archiver) Archive(ctx context.Context, entity, runID string, body []byte) (string, error) {
	key := a.Key(entity, runID)
	data, err := a.compressor.Compress(body)
	if err != nil {
		return "", err
	}
	if err := a.store.Put(ctx, key, data); err != nil {
		return "", errors.Wrapf(err, errors.GetType(err), "failed to archive %s", key)
	}
	a.logger.Debug("archived response",
		zap.String("key", key),
		zap.Int("raw_bytes", len(body)),
		zap.Int("stored_bytes", len(data)))
	return key, nil
}

// Close closes the store
func (a *Archiver) Close() error {
	return a.store.Close()
}

// New builds the archiver described by cfg. It returns nil when archiving
// is disabled.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	compressor, err := NewCompressor(Algorithm(cfg.Compression))
	if err != nil {
		return nil, err
	}

	var store Store
	switch cfg.Backend {
	case "", "local":
		store, err = NewLocalStore(cfg.Path)
	case "s3":
		store, err = NewS3Store(ctx, cfg.Bucket, cfg.Region)
	case "gcs":
		store, err = NewGCSStore(ctx, cfg.Bucket, cfg.CredentialsFile)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown archive backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewArchiver(store, compressor, cfg.Prefix, logger), nil
}
