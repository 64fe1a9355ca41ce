package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// Sink stores snapshot bytes by name.
type Sink interface {
	// Load returns the bytes last saved under name, or ErrNoSnapshot.
	Load(ctx context.Context, name string) ([]byte, error)
	// Save replaces the bytes stored under name.
	Save(ctx context.Context, name string, data []byte) error
}

// SnapshotExt is the file extension used by the file sink.
const SnapshotExt = ".cachem"

type fileSink struct {
	dir     string
	syncDir func(dir string) error
}

// NewFileSink creates a Sink that keeps each snapshot in <dir>/<name>.cachem.
// A save writes a temporary file in dir, syncs it, renames it over the
// previous snapshot and syncs dir, so a crash leaves either the old or the
// new snapshot.
func NewFileSink(dir string) Sink {
	return &fileSink{dir: dir, syncDir: syncDir}
}

// syncDir flushes the directory entry changes of dir, such as a rename.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}

// SnapshotPath returns the file the file sink uses for name under dir.
func SnapshotPath(dir, name string) string {
	return filepath.Join(dir, name+SnapshotExt)
}

func (s *fileSink) Load(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(SnapshotPath(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, name)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, name, err)
	}
	return data, nil
}

func (s *fileSink) Save(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, name, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, name, err)
	}

	if err := os.Rename(tmpName, SnapshotPath(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, name, err)
	}
	if err := s.syncDir(s.dir); err != nil {
		return fmt.Errorf("%w: %s: sync %s: %v", ErrSaveFailed, name, s.dir, err)
	}
	return nil
}

type redisSink struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSink creates a Sink that keeps each snapshot as a Redis string
// under prefix+name.
func NewRedisSink(client redis.UniversalClient, prefix string) Sink {
	return &redisSink{client: client, prefix: prefix}
}

func (s *redisSink) Load(ctx context.Context, name string) ([]byte, error) {
	k := s.prefix + name
	data, err := s.client.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, k)
		}
		return nil, fmt.Errorf("%w: redis get %s: %v", ErrLoadFailed, k, err)
	}
	return data, nil
}

func (s *redisSink) Save(ctx context.Context, name string, data []byte) error {
	k := s.prefix + name
	if err := s.client.Set(ctx, k, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set %s: %v", ErrSaveFailed, k, err)
	}
	return nil
}
