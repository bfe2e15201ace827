// Package telemetry keeps a per-session event log and writes it out when the
// session ends.
package telemetry

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type Event struct {
	Time  time.Time `json:"time"`
	Key   string    `json:"key"`
	Value any       `json:"value"`
}

type Sink interface {
	AppendEvent(at time.Time, key string, value any)
}

// Recorder buffers events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) AppendEvent(at time.Time, key string, value any) {
	r.mu.Lock()
	r.events = append(r.events, Event{Time: at, Key: key, Value: value})
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Keys returns the distinct event keys in sorted order.
func (r *Recorder) Keys() []string {
	seen := map[string]bool{}
	for _, e := range r.Events() {
		seen[e.Key] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Discard drops every event.
type Discard struct{}

func (Discard) AppendEvent(time.Time, string, any) {}

type SessionMetadata struct {
	ID        string             `json:"id"`
	Started   time.Time          `json:"started"`
	Ended     time.Time          `json:"ended"`
	Odorants  []int32            `json:"odorants"`
	Dilutions []int32            `json:"dilutions"`
	Reason    string             `json:"reason"`
	Metrics   map[string]float64 `json:"metrics"`
	Events    []Event            `json:"events"`
}

type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// Save writes <dir>/<id>/events.json and events.csv and returns the directory.
func (s *Store) Save(meta SessionMetadata) (string, error) {
	dir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	jsonFile, err := os.Create(filepath.Join(dir, "events.json"))
	if err != nil {
		return "", err
	}
	defer jsonFile.Close()

	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(dir, "events.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	if err := w.Write([]string{"time", "key", "value"}); err != nil {
		return "", err
	}
	for _, e := range meta.Events {
		row := []string{e.Time.Format(time.RFC3339Nano), e.Key, fmt.Sprint(e.Value)}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *Store) Load(id string) (*SessionMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, "events.json"))
	if err != nil {
		return nil, err
	}
	var meta SessionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) List() ([]SessionMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionMetadata{}, nil
		}
		return nil, err
	}

	sessions := make([]SessionMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		sessions = append(sessions, *meta)
	}
	return sessions, nil
}
