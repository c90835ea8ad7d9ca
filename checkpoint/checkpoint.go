// Package checkpoint persists per-instance chunk completion so interrupted
// generation runs resume instead of redoing work.
//
// Two sources record completion and neither is trusted alone: the chunk
// files themselves, matched by name in the instance output directory, and a
// small JSON ledger rewritten after every completed chunk. Readers always
// take the union, which makes a lost ledger update harmless: concurrent
// tasks may overwrite each other's ledger (last writer wins) but never the
// chunk files, so the union still reflects every completed chunk.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridsignal/scenariogen/internal/logging"
)

// LedgerFileName is the per-instance ledger file, living next to the chunk
// files it describes.
const LedgerFileName = "ledger.json"

var chunkFilePattern = regexp.MustCompile(`^chunk_(\d{4,})\.msgpack$`)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventChunkCompleted EventType = iota
)

// Event is emitted to subscribers when a chunk is marked complete.
type Event struct {
	Type     EventType
	Instance string
	Chunk    int

	// Done and Total describe instance progress after this event.
	Done  int
	Total int
}

// ledgerJSON is the on-disk ledger shape.
type ledgerJSON struct {
	CompletedChunks []int     `json:"completed_chunks"`
	TotalChunks     int       `json:"total_chunks"`
	UpdatedAt       time.Time `json:"updated_at"`
	UpdatedBy       string    `json:"updated_by,omitempty"`
}

// Store tracks chunk completion for every instance under one output root.
// It is safe for concurrent use within a process; across processes the
// union rule in Completed provides the coordination.
type Store struct {
	mu sync.RWMutex

	root  string
	runID string
	log   logging.Logger

	// marked holds completions made by this process, per instance. It lets
	// Completed answer without waiting for the filesystem to settle.
	marked map[string]map[int]bool

	subs []func(Event)
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithLogger routes ledger warnings somewhere visible.
func WithLogger(l logging.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRunID stamps ledger updates with the given task identity instead of a
// generated one.
func WithRunID(id string) StoreOption {
	return func(s *Store) {
		if id != "" {
			s.runID = id
		}
	}
}

// NewStore creates a store rooted at the output directory that holds one
// subdirectory per instance.
func NewStore(root string, opts ...StoreOption) *Store {
	s := &Store{
		root:   root,
		runID:  uuid.NewString(),
		log:    logging.Noop(),
		marked: make(map[string]map[int]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// InstanceDir returns the output directory for an instance.
func (s *Store) InstanceDir(instance string) string {
	return filepath.Join(s.root, instance)
}

// LedgerPath returns the ledger file path for an instance.
func (s *Store) LedgerPath(instance string) string {
	return filepath.Join(s.InstanceDir(instance), LedgerFileName)
}

// Completed reconstructs the completed chunk set for an instance as the
// union of the directory listing, the ledger, and completions recorded by
// this process. A missing directory or ledger simply contributes nothing;
// an unreadable ledger is logged and skipped, never fatal.
func (s *Store) Completed(ctx context.Context, instance string) (map[int]bool, error) {
	done := make(map[int]bool)

	entries, err := os.ReadDir(s.InstanceDir(instance))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("checkpoint: listing %s: %w", s.InstanceDir(instance), err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := chunkFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 {
			continue
		}
		done[idx] = true
	}

	for _, idx := range s.readLedger(ctx, instance) {
		done[idx] = true
	}

	s.mu.RLock()
	for idx := range s.marked[instance] {
		done[idx] = true
	}
	s.mu.RUnlock()

	return done, nil
}

// readLedger parses the instance ledger, returning nil on any problem. A
// corrupt ledger means the listing carries the resume alone.
func (s *Store) readLedger(ctx context.Context, instance string) []int {
	raw, err := os.ReadFile(s.LedgerPath(instance))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		s.log.Warn(ctx, "ledger unreadable, resuming from file listing only",
			logging.String("instance", instance),
			logging.String("error", err.Error()))
		return nil
	}
	var ledger ledgerJSON
	if err := json.Unmarshal(raw, &ledger); err != nil {
		s.log.Warn(ctx, "ledger corrupt, resuming from file listing only",
			logging.String("instance", instance),
			logging.String("error", err.Error()))
		return nil
	}
	return ledger.CompletedChunks
}

// MarkComplete records a completed chunk: it folds the chunk into the
// recomputed completed set, rewrites the ledger atomically, and notifies
// subscribers. The chunk counts as complete for this process even if the
// ledger write fails, because the chunk file already exists on disk.
func (s *Store) MarkComplete(ctx context.Context, instance string, chunk, totalChunks int) error {
	if chunk < 1 {
		return fmt.Errorf("checkpoint: chunk index %d out of range", chunk)
	}

	done, err := s.Completed(ctx, instance)
	if err != nil {
		return err
	}
	done[chunk] = true

	s.mu.Lock()
	if s.marked[instance] == nil {
		s.marked[instance] = make(map[int]bool)
	}
	s.marked[instance][chunk] = true
	event := Event{
		Type:     EventChunkCompleted,
		Instance: instance,
		Chunk:    chunk,
		Done:     len(done),
		Total:    totalChunks,
	}
	subs := append([]func(Event){}, s.subs...)
	s.mu.Unlock()

	err = s.writeLedger(instance, done, totalChunks)

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return err
}

// writeLedger rewrites the full ledger via a temporary file and an atomic
// rename, so readers never observe a partial ledger.
func (s *Store) writeLedger(instance string, done map[int]bool, totalChunks int) error {
	completed := make([]int, 0, len(done))
	for idx := range done {
		completed = append(completed, idx)
	}
	sort.Ints(completed)

	payload, err := json.MarshalIndent(ledgerJSON{
		CompletedChunks: completed,
		TotalChunks:     totalChunks,
		UpdatedAt:       time.Now().UTC(),
		UpdatedBy:       s.runID,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal ledger: %w", err)
	}

	dir := s.InstanceDir(instance)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(dir, LedgerFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.LedgerPath(instance)); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Subscribe registers a callback for store events. It returns an
// unsubscribe function.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
	idx := len(s.subs) - 1

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < 0 || idx >= len(s.subs) {
			return
		}
		s.subs = append(s.subs[:idx], s.subs[idx+1:]...)
		idx = -1
	}
}
