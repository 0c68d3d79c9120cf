// Package settings implements the versioned index-settings journal: the
// authoritative registry of index descriptors, serialized to two JSON
// files with bounded per-index history.
package settings

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/index"
)

// HistoryVersionLimit bounds the retained prior records per index.
const HistoryVersionLimit = 3

// Default on-disk file names inside the application package.
const (
	SettingsFile        = "marqo_index_settings.json"
	SettingsHistoryFile = "marqo_index_settings_history.json"
)

// Store is the append-only versioned registry. Concurrent writers to the
// same index are serialized by the monotonic version check: of two racers
// computing the same target version, one fails with a conflict.
type Store struct {
	current map[string]*index.IndexDescriptor
	history map[string][]*index.IndexDescriptor
}

// Parse constructs a store from the raw contents of the two settings files.
// Empty input means an empty store.
func Parse(settingsJSON, historyJSON string) (*Store, error) {
	s := &Store{
		current: map[string]*index.IndexDescriptor{},
		history: map[string][]*index.IndexDescriptor{},
	}

	if settingsJSON != "" {
		var raw map[string]*index.IndexDescriptor
		if err := json.Unmarshal([]byte(settingsJSON), &raw); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err)
		}
		for name, record := range raw {
			if err := record.Initialize(); err != nil {
				return nil, err
			}
			s.current[name] = record
		}
	}
	if historyJSON != "" {
		var raw map[string][]*index.IndexDescriptor
		if err := json.Unmarshal([]byte(historyJSON), &raw); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err)
		}
		for name, records := range raw {
			for _, record := range records {
				if err := record.Initialize(); err != nil {
					return nil, err
				}
			}
			s.history[name] = records
		}
	}
	return s, nil
}

// Save applies the versioned save contract. The target version is
// (record.Version or 0) + 1; it must follow the current version exactly,
// or be 1 for a new index. The accepted record is stored with the target
// version and the previous record, if any, moves to the head of history.
func (s *Store) Save(record *index.IndexDescriptor) (*index.IndexDescriptor, error) {
	targetVersion := record.Version + 1
	name := record.Name

	if current, exists := s.current[name]; exists {
		if current.Version+1 != targetVersion {
			return nil, errors.OperationConflict(
				"conflict in version detected while saving index %s: current version %d, new version %d",
				name, current.Version, targetVersion)
		}
		s.moveToHistory(name)
	} else {
		if targetVersion != 1 {
			return nil, errors.OperationConflict(
				"conflict in version detected while saving index %s: "+
					"the index does not exist or has been deleted, and we are trying to upgrade it to version %d",
				name, targetVersion)
		}
		// A history under this name means an index with the same name was
		// deleted. Start fresh.
		delete(s.history, name)
	}

	saved, err := record.WithVersion(targetVersion)
	if err != nil {
		return nil, err
	}
	s.current[name] = saved
	return saved, nil
}

// Delete moves the current record to the head of history and removes it
// from the current map. An absent name is a no-op with a warning.
func (s *Store) Delete(name string) {
	if _, exists := s.current[name]; !exists {
		slog.Warn("index setting does not exist, nothing to delete", "index", name)
		return
	}
	s.moveToHistory(name)
	delete(s.current, name)
}

// Get returns the current record for a name, or nil when absent.
func (s *Store) Get(name string) *index.IndexDescriptor {
	return s.current[name]
}

// List returns every current record.
func (s *Store) List() []*index.IndexDescriptor {
	records := make([]*index.IndexDescriptor, 0, len(s.current))
	for _, record := range s.current {
		records = append(records, record)
	}
	return records
}

// History returns the retained prior records for a name, newest first.
func (s *Store) History(name string) []*index.IndexDescriptor {
	return s.history[name]
}

func (s *Store) moveToHistory(name string) {
	record := s.current[name]
	s.history[name] = append([]*index.IndexDescriptor{record}, s.history[name]...)
	if len(s.history[name]) > HistoryVersionLimit {
		s.history[name] = s.history[name][:HistoryVersionLimit]
	}
}

// SaveToFiles serializes the store to the two settings JSON files.
func (s *Store) SaveToFiles(settingsPath, historyPath string) error {
	settingsData, err := json.Marshal(s.current)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	historyData, err := json.Marshal(s.history)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	if err := os.WriteFile(settingsPath, settingsData, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	if err := os.WriteFile(historyPath, historyData, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}
