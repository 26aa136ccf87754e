package state

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"MarketScanner/internal/fsutil"
	"MarketScanner/internal/model"
)

// RunState is the snapshot of the most recent scan, kept for chat commands and restarts.
type RunState struct {
	LastScanAt time.Time `json:"last_scan_at"`
	Duration   string    `json:"duration,omitempty"`
	Universe   int       `json:"universe"`
	Scanned    int       `json:"scanned"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Crossovers []string  `json:"crossovers"`
	Highs      []string  `json:"highs"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FromResult builds the snapshot of one scan.
func FromResult(res *model.ScanResult, runErr error) RunState {
	s := RunState{
		LastScanAt: res.StartedAt,
		Duration:   res.Duration().Round(time.Second).String(),
		Universe:   res.Universe,
		Scanned:    res.Scanned,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		Crossovers: res.CrossoverTickers(),
		Highs:      res.HighTickers(),
	}
	if runErr != nil {
		s.LastError = runErr.Error()
	}
	return s
}

// Load reads the state from a JSON file. Returns a zero state if the file doesn't exist.
func Load(filePath string) (*RunState, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &RunState{}, nil
		}
		return nil, err
	}
	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save writes the state to a JSON file.
func Save(filePath string, s *RunState) error {
	s.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filePath, data, 0o644)
}

// Store guards the in-memory state and persists every update.
type Store struct {
	mu       sync.Mutex
	state    *RunState
	filePath string
}

// NewStore loads the state at filePath, starting empty when there is none.
func NewStore(filePath string) (*Store, error) {
	s, err := Load(filePath)
	if err != nil {
		return nil, err
	}
	return &Store{state: s, filePath: filePath}, nil
}

// Get returns a copy of the current state.
func (st *Store) Get() RunState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.state
}

// Set replaces the state and writes it to disk.
func (st *Store) Set(s RunState) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state = &s
	return Save(st.filePath, st.state)
}
