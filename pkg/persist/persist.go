// Package persist saves cache contents to durable storage and loads them back
// at startup.
//
// A snapshot of one cache is the length-prefixed sequence of its records in
// the codec encoding. Snapshots are produced by Targets and stored by a Sink
// under the target's name; the Manager drives both for every registered
// cache.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/logging"
	"github.com/cachem/cachem/pkg/store"
)

var (
	// ErrNoSnapshot is returned by Sink.Load when nothing was saved under a
	// name yet.
	ErrNoSnapshot = errors.New("persist: no snapshot")
	// ErrLoadFailed wraps failures to read or decode a snapshot.
	ErrLoadFailed = errors.New("persist: load failed")
	// ErrSaveFailed wraps failures to write a snapshot.
	ErrSaveFailed = errors.New("persist: save failed")
)

// Target is a named collection that can be written to and restored from a
// snapshot.
type Target interface {
	Name() string
	// Snapshot appends the current contents to w.
	Snapshot(w *codec.Writer)
	// Restore replaces the current contents with the snapshot read from r.
	// r holds exactly one snapshot; leftover bytes are an error.
	Restore(r *codec.Reader) error
}

// Contents is what Bind needs from a store.
type Contents[R any] interface {
	store.AllFetcher[R]
	store.Replacer[R]
}

type boundStore[R any] struct {
	name     string
	contents Contents[R]
	seq      codec.Codec[[]R]
}

// Bind turns a store into a Target named name, encoding records with rec.
func Bind[R any](name string, contents Contents[R], rec codec.Codec[R]) Target {
	return &boundStore[R]{name: name, contents: contents, seq: codec.SliceOf(rec)}
}

func (b *boundStore[R]) Name() string { return b.name }

func (b *boundStore[R]) Snapshot(w *codec.Writer) {
	b.seq.Encode(w, b.contents.FetchAll())
}

func (b *boundStore[R]) Restore(r *codec.Reader) error {
	records, err := b.seq.Decode(r)
	if err != nil {
		return err
	}
	if r.Remaining() > 0 {
		return fmt.Errorf("%w: %d bytes after snapshot", codec.ErrTrailingBytes, r.Remaining())
	}
	b.contents.Replace(records)
	return nil
}

// Manager snapshots and restores a fixed set of targets through one Sink.
type Manager struct {
	sink    Sink
	logger  *slog.Logger
	targets []Target
	names   map[string]bool
}

// NewManager creates a Manager writing to sink. A nil logger discards
// output.
func NewManager(sink Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{sink: sink, logger: logger, names: make(map[string]bool)}
}

// Register adds t. Names must be unique and usable as a file name.
func (m *Manager) Register(t Target) error {
	name := t.Name()
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("persist: invalid target name %q", name)
	}
	if m.names[name] {
		return fmt.Errorf("persist: target %q registered twice", name)
	}
	m.names[name] = true
	m.targets = append(m.targets, t)
	return nil
}

// RestoreAll loads the snapshot of every target. A target without a
// snapshot is left empty. The first unreadable or undecodable snapshot
// aborts the restore.
func (m *Manager) RestoreAll(ctx context.Context) error {
	for _, t := range m.targets {
		data, err := m.sink.Load(ctx, t.Name())
		if errors.Is(err, ErrNoSnapshot) {
			m.logger.Info("no snapshot, starting empty", "target", t.Name())
			continue
		}
		if err != nil {
			return err
		}
		if err := t.Restore(codec.NewBytesReader(data)); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrLoadFailed, t.Name(), err)
		}
		m.logger.Info("snapshot restored", "target", t.Name(), "bytes", len(data))
	}
	return nil
}

// SnapshotAll saves every target. A failing target does not stop the
// others; all failures are returned joined.
func (m *Manager) SnapshotAll(ctx context.Context) error {
	var errs []error
	w := codec.NewWriter(4096)
	for _, t := range m.targets {
		w.Reset()
		t.Snapshot(w)
		if err := m.sink.Save(ctx, t.Name(), w.Bytes()); err != nil {
			m.logger.Error("snapshot failed", "target", t.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		m.logger.Info("snapshot saved", "target", t.Name(), "bytes", w.Len())
	}
	return errors.Join(errs...)
}
