package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/example/ride-sharing/internal/models"
)

// DefaultStateFile is where FileStore writes when no path is configured.
const DefaultStateFile = "rideshare_data.json"

// State is the serialized system snapshot: four ordered collections.
type State struct {
	Drivers    []models.DriverRecord    `json:"drivers"`
	Passengers []models.PassengerRecord `json:"passengers"`
	Requests   []models.RequestRecord   `json:"requests"`
	Rides      []models.RideRecord      `json:"rides"`
}

// EmptyState has non-nil collections so it serializes as empty arrays.
func EmptyState() State {
	return State{
		Drivers:    []models.DriverRecord{},
		Passengers: []models.PassengerRecord{},
		Requests:   []models.RequestRecord{},
		Rides:      []models.RideRecord{},
	}
}

func (s State) normalize() State {
	if s.Drivers == nil {
		s.Drivers = []models.DriverRecord{}
	}
	if s.Passengers == nil {
		s.Passengers = []models.PassengerRecord{}
	}
	if s.Requests == nil {
		s.Requests = []models.RequestRecord{}
	}
	if s.Rides == nil {
		s.Rides = []models.RideRecord{}
	}
	return s
}

// Store defines persistence operations for system snapshots.
type Store interface {
	Save(ctx context.Context, s State) error
	Load(ctx context.Context) (State, error)
}

// FileStore keeps the snapshot as indented JSON on disk.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultStateFile
	}
	return &FileStore{Path: path}
}

func (f *FileStore) Save(_ context.Context, s State) error {
	b, err := json.MarshalIndent(s.normalize(), "", "    ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".rideshare-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

// Load returns an empty state when the file does not exist.
func (f *FileStore) Load(_ context.Context) (State, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return EmptyState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, fmt.Errorf("decode state %s: %w", f.Path, err)
	}
	return s.normalize(), nil
}

type MemoryStore struct {
	mu    sync.RWMutex
	state *State
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s = s.normalize()
	m.state = &s
	m.saves++
	return nil
}

func (m *MemoryStore) Load(_ context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return EmptyState(), nil
	}
	return *m.state, nil
}

// Saves reports how many snapshots have been written.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
