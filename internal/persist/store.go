package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"pkt.systems/agentmux/schema"
	"pkt.systems/pslog"
)

// Document is the single persisted JSON state: user settings plus the stored
// project/panel items. There is no schema versioning; unknown fields are
// ignored and missing fields fall back to defaults on load.
type Document struct {
	Settings    schema.Settings      `json:"settings"`
	StoredItems []schema.UnifiedItem `json:"storedItems"`
}

// Store persists the document to a single file with atomic writes.
type Store struct {
	path string
	log  pslog.Logger

	mu  sync.Mutex
	doc Document
}

// NewStore loads (or initializes) the document at dir/state.json.
func NewStore(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	s := &Store{path: filepath.Join(dir, "state.json"), log: logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss")
			}
			return nil
		}
		return err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		if s.log != nil {
			s.log.Warn("state load failed, starting fresh", "err", err)
		}
		return nil
	}
	s.doc = doc
	if s.log != nil {
		s.log.Debug("state load ok", "items", len(doc.StoredItems))
	}
	return nil
}

// Settings returns the current settings.
func (s *Store) Settings() schema.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Settings
}

// UpdateSettings replaces the settings and persists the document.
func (s *Store) UpdateSettings(settings schema.Settings) error {
	s.mu.Lock()
	s.doc.Settings = settings
	doc := s.snapshotLocked()
	s.mu.Unlock()
	return s.save(doc)
}

// Items returns a copy of the stored items.
func (s *Store) Items() []schema.UnifiedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]schema.UnifiedItem, len(s.doc.StoredItems))
	copy(items, s.doc.StoredItems)
	return items
}

// Item returns the stored item with the given id.
func (s *Store) Item(id string) (schema.UnifiedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.doc.StoredItems {
		if item.ID == id {
			return item, nil
		}
	}
	return schema.UnifiedItem{}, schema.ErrItemNotFound
}

// CreateItem validates and appends a stored item, assigning an id when the
// caller did not. Duplicate names are a structured validation failure.
func (s *Store) CreateItem(item schema.UnifiedItem) (schema.UnifiedItem, error) {
	if strings.TrimSpace(item.Name) == "" {
		return schema.UnifiedItem{}, schema.ErrInvalidRequest
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	s.mu.Lock()
	for _, existing := range s.doc.StoredItems {
		if strings.EqualFold(existing.Name, item.Name) {
			s.mu.Unlock()
			return schema.UnifiedItem{}, schema.ErrDuplicateName
		}
	}
	s.doc.StoredItems = append(s.doc.StoredItems, item)
	doc := s.snapshotLocked()
	s.mu.Unlock()
	if err := s.save(doc); err != nil {
		return schema.UnifiedItem{}, err
	}
	return item, nil
}

// UpdateItem replaces the stored item with the same id.
func (s *Store) UpdateItem(item schema.UnifiedItem) (schema.UnifiedItem, error) {
	s.mu.Lock()
	found := false
	for idx, existing := range s.doc.StoredItems {
		if existing.ID == item.ID {
			s.doc.StoredItems[idx] = item
			found = true
			continue
		}
		if strings.EqualFold(existing.Name, item.Name) {
			s.mu.Unlock()
			return schema.UnifiedItem{}, schema.ErrDuplicateName
		}
	}
	if !found {
		s.mu.Unlock()
		return schema.UnifiedItem{}, schema.ErrItemNotFound
	}
	doc := s.snapshotLocked()
	s.mu.Unlock()
	if err := s.save(doc); err != nil {
		return schema.UnifiedItem{}, err
	}
	return item, nil
}

// DeleteItem removes the stored item with the given id.
func (s *Store) DeleteItem(id string) error {
	s.mu.Lock()
	kept := s.doc.StoredItems[:0]
	found := false
	for _, item := range s.doc.StoredItems {
		if item.ID == id {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	s.doc.StoredItems = kept
	if !found {
		s.mu.Unlock()
		return schema.ErrItemNotFound
	}
	doc := s.snapshotLocked()
	s.mu.Unlock()
	return s.save(doc)
}

func (s *Store) snapshotLocked() Document {
	doc := Document{Settings: s.doc.Settings}
	doc.StoredItems = make([]schema.UnifiedItem, len(s.doc.StoredItems))
	copy(doc.StoredItems, s.doc.StoredItems)
	return doc
}

func (s *Store) save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "items", len(doc.StoredItems))
	}
	return nil
}
