package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/price-scraper/internal/schema"
)

const (
	StatusOpen     = "open"
	StatusResolved = "resolved"

	triageFile = "triage.json"
)

var ErrNotFound = errors.New("triage entry not found")

// TriageEntry is a batch that failed validation, kept unchanged with the
// failure cases that rejected it.
type TriageEntry struct {
	ID        string               `json:"id"`
	RunID     string               `json:"run_id,omitempty"`
	SourceURL string               `json:"source_url"`
	Batch     []schema.Row         `json:"batch"`
	Failures  []schema.FailureCase `json:"failures"`
	Status    string               `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Note      string               `json:"note,omitempty"`
}

// TriageStore keeps failed batches in a single JSON file under dir.
type TriageStore struct {
	mu       sync.RWMutex
	entries  map[string]*TriageEntry
	filename string
}

func NewTriageStore(dir string) (*TriageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create triage dir: %w", err)
	}

	ts := &TriageStore{
		entries:  make(map[string]*TriageEntry),
		filename: filepath.Join(dir, triageFile),
	}

	if err := ts.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return ts, nil
}

// Add stores a copy of a failed batch and returns the entry's ID. Nothing is
// kept when the file cannot be written.
func (ts *TriageStore) Add(entry *TriageEntry) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if len(entry.Failures) == 0 {
		return "", fmt.Errorf("triage entry has no failure cases")
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = StatusOpen
	}

	stored := *entry
	ts.entries[entry.ID] = &stored
	if err := ts.save(); err != nil {
		delete(ts.entries, entry.ID)
		return "", fmt.Errorf("failed to save triage entry: %w", err)
	}
	return entry.ID, nil
}

// Get returns a copy of the entry.
func (ts *TriageStore) Get(id string) (*TriageEntry, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	entry, exists := ts.entries[id]
	if !exists {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// List returns copies of the entries with the given status, oldest first. An
// empty status lists everything.
func (ts *TriageStore) List(status string) []*TriageEntry {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var out []*TriageEntry
	for _, entry := range ts.entries {
		if status == "" || entry.Status == status {
			cp := *entry
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (ts *TriageStore) Resolve(id, note string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, exists := ts.entries[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	prev := *entry
	entry.Status = StatusResolved
	entry.UpdatedAt = time.Now()
	entry.Note = note

	if err := ts.save(); err != nil {
		*entry = prev
		return fmt.Errorf("failed to save triage entry: %w", err)
	}
	return nil
}

func (ts *TriageStore) Stats() map[string]int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	stats := make(map[string]int)
	for _, entry := range ts.entries {
		stats[entry.Status]++
	}
	stats["total"] = len(ts.entries)
	return stats
}

func (ts *TriageStore) save() error {
	data, err := json.MarshalIndent(ts.entries, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := ts.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, ts.filename)
}

func (ts *TriageStore) Load() error {
	data, err := os.ReadFile(ts.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &ts.entries)
}
