// Package snapshot persists per-symbol market snapshots between runs and
// reports what changed since the previous one.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/seenimoa/marketlens/internal/analysis/technical"
	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// volumeWindow is the number of trailing bars averaged into VolumeAvg.
const volumeWindow = 20

// Snapshot is the stored state of one symbol.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	VolumeAvg float64   `json:"volume_avg"`
	RSI       *float64  `json:"rsi,omitempty"`
	PCR       *float64  `json:"pcr,omitempty"`
}

// FromFrame builds a snapshot from the last close, the 20-bar average volume
// and RSI(14) when there is enough history. It reports false for an empty frame.
func FromFrame(symbol string, f *models.Frame, pcr *float64, now time.Time) (Snapshot, bool) {
	last, ok := f.Last()
	if !ok {
		return Snapshot{}, false
	}
	s := Snapshot{
		Timestamp: now,
		Symbol:    symbol,
		Price:     last.Close,
		VolumeAvg: technical.AverageVolume(f.Bars, volumeWindow),
		PCR:       pcr,
	}
	if rsi, ok := technical.RSILatest(f.Bars, 14); ok {
		s.RSI = &rsi
	}
	return s, true
}

// Store is a JSON object of snapshots keyed by symbol in a single file.
// Writes replace the file atomically. Concurrent writers in other
// processes are not coordinated.
type Store struct {
	path string
	mu   sync.Mutex
	log  *logger.Entry
}

// NewStore returns a store backed by path. The file is created on first write.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		log:  logger.GetLogger().WithComponent("snapshot").WithField("path", path),
	}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load reads all snapshots. A missing file is an empty store; an unreadable
// or corrupt file is logged and treated as empty.
func (s *Store) Load() (map[string]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (map[string]Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	out := map[string]Snapshot{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.WithError(err).Warn("corrupt snapshot file, starting fresh")
		return map[string]Snapshot{}, nil
	}
	return out, nil
}

// Get returns the stored snapshot for symbol.
func (s *Store) Get(symbol string) (Snapshot, bool, error) {
	all, err := s.Load()
	if err != nil {
		return Snapshot{}, false, err
	}
	snap, ok := all[symbol]
	return snap, ok, nil
}

// Record compares cur with the stored snapshot for its symbol, then stores
// cur in its place. Load, compare and overwrite happen under one lock.
func (s *Store) Record(cur Snapshot) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	var prev *Snapshot
	if p, ok := all[cur.Symbol]; ok {
		prev = &p
	}
	changes := Detect(prev, cur)

	all[cur.Symbol] = cur
	if err := s.write(all); err != nil {
		return nil, err
	}
	s.log.WithFields(logger.Fields{"symbol": cur.Symbol, "changes": len(changes)}).Debug("snapshot recorded")
	return changes, nil
}

// write replaces the file via a temp file in the same directory and a rename.
func (s *Store) write(all map[string]Snapshot) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshots: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshots: %w", err)
	}
	return nil
}
