// Package sink mirrors finished run artifacts to S3-compatible object
// storage. The local output tree stays the source of truth: a failed upload
// is logged and retried the next time the same chunk completes, and never
// fails the run.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/gridsignal/scenariogen/checkpoint"
	"github.com/gridsignal/scenariogen/core"
	"github.com/gridsignal/scenariogen/dataset"
	"github.com/gridsignal/scenariogen/internal/logging"
	"github.com/gridsignal/scenariogen/scheduler"
)

// objectStore is the slice of the minio client the mirror needs, narrow so
// tests can substitute an in-memory fake.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Config selects the target bucket. Credentials left empty are filled
// from the environment via WithEnvCredentials.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Secure    bool
	AccessKey string
	SecretKey string
}

// WithEnvCredentials fills empty credentials from MINIO_ACCESS_KEY and
// MINIO_SECRET_KEY.
func (c S3Config) WithEnvCredentials() S3Config {
	if c.AccessKey == "" {
		c.AccessKey = os.Getenv("MINIO_ACCESS_KEY")
	}
	if c.SecretKey == "" {
		c.SecretKey = os.Getenv("MINIO_SECRET_KEY")
	}
	return c
}

// S3Mirror copies chunk files and ledgers into a bucket as they finish.
type S3Mirror struct {
	store  objectStore
	bucket string
	prefix string
	log    logging.Logger
}

// NewS3Mirror builds a mirror backed by a minio client. Constructing the
// client does not dial; call Verify to fail fast on a bad target.
func NewS3Mirror(cfg S3Config, log logging.Logger) (*S3Mirror, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("sink: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("sink: bucket is required")
	}
	if log == nil {
		log = logging.Noop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	return &S3Mirror{store: client, bucket: cfg.Bucket, prefix: cfg.Prefix, log: log}, nil
}

// Verify confirms the bucket is reachable and exists.
func (m *S3Mirror) Verify(ctx context.Context) error {
	ok, err := m.store.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", m.bucket)
	}
	return nil
}

// MirrorFile uploads one local file under the given remote name.
func (m *S3Mirror) MirrorFile(ctx context.Context, localPath, remoteName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	key := m.key(remoteName)
	_, err = m.store.PutObject(ctx, m.bucket, key, f, st.Size(), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Object keys always use forward slashes, independent of the local OS.
func (m *S3Mirror) key(name string) string {
	return path.Join(m.prefix, name)
}

// Observer returns a scheduler.Observer that mirrors each finished chunk
// file and the instance ledger from the output tree rooted at root.
func (m *S3Mirror) Observer(root string) scheduler.Observer {
	return &chunkMirror{mirror: m, root: root}
}

type chunkMirror struct {
	mirror *S3Mirror
	root   string
}

func (c *chunkMirror) ScenarioDone(instance string, scenarioID int, outcome *core.SolveOutcome) {
}

func (c *chunkMirror) ChunkDone(instance string, chunk, written, requested int) {
	ctx := context.Background()
	m := c.mirror

	// A chunk where every scenario dropped has no file; only the ledger
	// records it.
	if written > 0 {
		name := dataset.ChunkFileName(chunk)
		err := m.MirrorFile(ctx, filepath.Join(c.root, instance, name), path.Join(instance, name))
		if err != nil {
			m.log.Warn(ctx, "chunk mirror failed",
				logging.String("instance", instance),
				logging.Int("chunk", chunk),
				logging.String("error", err.Error()),
			)
		}
	}

	err := m.MirrorFile(ctx,
		filepath.Join(c.root, instance, checkpoint.LedgerFileName),
		path.Join(instance, checkpoint.LedgerFileName),
	)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warn(ctx, "ledger mirror failed",
			logging.String("instance", instance),
			logging.String("error", err.Error()),
		)
	}
}
