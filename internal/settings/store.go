package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"incubator-link/internal/device"
)

type Store struct {
	mu   sync.RWMutex
	path string
	cur  Settings
	now  func() time.Time
}

func Open(dir string) (*Store, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "settings.json")

	s := &Store{path: path, cur: Defaults(), now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Store) Patch(fn func(*Settings)) error {
	s.mu.Lock()
	cp := s.cur
	fn(&cp)
	s.cur = cp
	s.mu.Unlock()
	return s.save()
}

// Load returns the persisted endpoint, if any.
func (s *Store) Load() (device.Endpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lk := s.cur.LastKnown
	if lk == nil || lk.Address == "" || lk.Port <= 0 {
		return device.Endpoint{}, false, nil
	}
	return device.Endpoint{Address: lk.Address, Port: lk.Port, Mode: lk.Mode}, true, nil
}

// Save persists ep as the last known endpoint.
func (s *Store) Save(ep device.Endpoint, mode device.Mode) error {
	err := s.Patch(func(st *Settings) {
		st.LastKnown = &LastKnown{Address: ep.Address, Port: ep.Port, Mode: mode, SavedAt: s.now().UTC()}
	})
	if err != nil {
		return fmt.Errorf("save last known endpoint: %w", err)
	}
	return nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.save()
		}
		return err
	}
	var cfg Settings
	if err := json.Unmarshal(b, &cfg); err != nil {
		// keep defaults if corrupt
		return nil
	}
	if cfg.Version == 0 {
		return s.save()
	}
	s.mu.Lock()
	s.cur = cfg
	s.mu.Unlock()
	return nil
}

func (s *Store) save() error {
	s.mu.RLock()
	cfg := s.cur
	s.mu.RUnlock()

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
