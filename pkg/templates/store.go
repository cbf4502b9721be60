// Package templates provides the message template store. Templates are kept
// in a single JSON file; exactly one template is active whenever the store is
// non-empty, and the store enforces that on every write. Readers always get
// copies, and the file is re-read when another process has modified it, so a
// caller asking for the active template sees the latest activation.
package templates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a template ID does not exist.
	ErrNotFound = errors.New("templates: template not found")
	// ErrNoActive is returned when the store holds no templates.
	ErrNoActive = errors.New("templates: no active template")
	// ErrLastTemplate is returned when deleting the only remaining template.
	ErrLastTemplate = errors.New("templates: cannot delete the last template")
)

// Template is a named, reusable message body.
type Template struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Body     string `json:"body"`
	IsActive bool   `json:"is_active"`
}

// fileFormat is the JSON structure written to disk.
type fileFormat struct {
	Templates []Template `json:"templates"`
}

// legacyFormat is the layout written by earlier versions: the body lived in
// "content" and activation was a separate top-level ID.
type legacyFormat struct {
	Templates []struct {
		ID      int    `json:"id"`
		Name    string `json:"name"`
		Content string `json:"content"`
	} `json:"templates"`
	ActiveTemplateID *int `json:"active_template_id"`
}

// Store manages templates persisted to a JSON file. It is safe for
// concurrent use: writes are serialized through the rename so the file always
// holds the latest in-memory state.
type Store struct {
	// writeMu orders reloads and change-plus-persist sequences.
	writeMu   sync.Mutex
	mu        sync.RWMutex
	templates []Template
	filePath  string
	modTime   time.Time
}

// Open creates a Store backed by the given file and loads existing data. A
// missing file yields an empty store.
func Open(filePath string) (*Store, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("templates: resolve path: %w", err)
	}

	s := &Store{filePath: abs}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.filePath }

// List returns all templates in order.
func (s *Store) List() []Template {
	s.refresh()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.templates)
}

// Get returns the template with the given ID.
func (s *Store) Get(id int) (Template, error) {
	s.refresh()

	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.index(id)
	if i < 0 {
		return Template{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	return s.templates[i], nil
}

// Active returns a copy of the active template.
func (s *Store) Active() (Template, error) {
	s.refresh()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.templates {
		if t.IsActive {
			return t, nil
		}
	}

	return Template{}, ErrNoActive
}

// NextID returns the ID the next added template will receive.
func (s *Store) NextID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nextID()
}

func (s *Store) nextID() int {
	maxID := 0
	for _, t := range s.templates {
		maxID = max(maxID, t.ID)
	}
	return maxID + 1
}

// Add appends a new template. An empty name becomes "Template N". The first
// template added to an empty store is always activated.
func (s *Store) Add(name, body string, activate bool) (Template, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.reloadIfStale()

	s.mu.Lock()
	t := Template{ID: s.nextID(), Name: strings.TrimSpace(name), Body: body}
	if t.Name == "" {
		t.Name = fmt.Sprintf("Template %d", t.ID)
	}
	if activate || len(s.templates) == 0 {
		s.deactivateAll()
		t.IsActive = true
	}
	s.templates = append(s.templates, t)
	snap := s.snapshot()
	s.mu.Unlock()

	return t, s.persistSnapshot(snap)
}

// Update changes the name and/or body of a template. Nil arguments leave the
// field unchanged.
func (s *Store) Update(id int, name, body *string) (Template, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.reloadIfStale()

	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return Template{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if name != nil {
		s.templates[i].Name = strings.TrimSpace(*name)
	}
	if body != nil {
		s.templates[i].Body = *body
	}
	t := s.templates[i]
	snap := s.snapshot()
	s.mu.Unlock()

	return t, s.persistSnapshot(snap)
}

// Delete removes a template. The last remaining template cannot be deleted.
// Deleting the active template activates the first remaining one.
func (s *Store) Delete(id int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.reloadIfStale()

	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if len(s.templates) <= 1 {
		s.mu.Unlock()
		return ErrLastTemplate
	}
	wasActive := s.templates[i].IsActive
	s.templates = slices.Delete(s.templates, i, i+1)
	if wasActive {
		s.templates[0].IsActive = true
	}
	snap := s.snapshot()
	s.mu.Unlock()

	return s.persistSnapshot(snap)
}

// Activate marks the given template active and every other one inactive.
func (s *Store) Activate(id int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.reloadIfStale()

	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.deactivateAll()
	s.templates[i].IsActive = true
	snap := s.snapshot()
	s.mu.Unlock()

	return s.persistSnapshot(snap)
}

// index returns the slice position of id or -1. Must be called with mu held.
func (s *Store) index(id int) int {
	return slices.IndexFunc(s.templates, func(t Template) bool { return t.ID == id })
}

// deactivateAll clears every IsActive flag. Must be called with mu held.
func (s *Store) deactivateAll() {
	for i := range s.templates {
		s.templates[i].IsActive = false
	}
}

// --- persistence ---

// refresh reloads the file when it changed on disk since the last load or
// save. Errors keep the in-memory copy.
func (s *Store) refresh() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.reloadIfStale()
}

// reloadIfStale is refresh for callers already holding writeMu.
func (s *Store) reloadIfStale() {
	info, err := os.Stat(s.filePath)
	if err != nil {
		return
	}

	s.mu.RLock()
	stale := !info.ModTime().Equal(s.modTime)
	s.mu.RUnlock()

	if stale {
		_ = s.load()
	}
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("templates: read file: %w", err)
	}

	var modTime time.Time
	if info, err := os.Stat(s.filePath); err == nil {
		modTime = info.ModTime()
	}

	list, err := decode(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.templates = normalize(list)
	s.modTime = modTime
	s.mu.Unlock()

	return nil
}

// decode parses either the current or the legacy file layout.
func decode(data []byte) ([]Template, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("templates: parse file: %w", err)
	}

	if _, legacy := probe["active_template_id"]; legacy || bytes.Contains(probe["templates"], []byte(`"content"`)) {
		var lf legacyFormat
		if err := json.Unmarshal(trimmed, &lf); err != nil {
			return nil, fmt.Errorf("templates: parse legacy file: %w", err)
		}

		list := make([]Template, 0, len(lf.Templates))
		for _, t := range lf.Templates {
			list = append(list, Template{
				ID:       t.ID,
				Name:     t.Name,
				Body:     t.Content,
				IsActive: lf.ActiveTemplateID != nil && *lf.ActiveTemplateID == t.ID,
			})
		}
		return list, nil
	}

	var ff fileFormat
	if err := json.Unmarshal(trimmed, &ff); err != nil {
		return nil, fmt.Errorf("templates: parse file: %w", err)
	}

	return ff.Templates, nil
}

// normalize enforces the single-active invariant on loaded data: the first
// active template wins, and an empty activation falls back to the first one.
func normalize(list []Template) []Template {
	found := false
	for i := range list {
		if list[i].IsActive {
			if found {
				list[i].IsActive = false
			}
			found = true
		}
	}
	if !found && len(list) > 0 {
		list[0].IsActive = true
	}
	return list
}

// snapshot returns a copy of the current data. Must be called while s.mu is
// held.
func (s *Store) snapshot() fileFormat {
	return fileFormat{Templates: slices.Clone(s.templates)}
}

// persistSnapshot writes the given snapshot to disk. It must be called with
// writeMu held and mu released.
func (s *Store) persistSnapshot(ff fileFormat) error {
	if ff.Templates == nil {
		ff.Templates = []Template{}
	}

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("templates: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o750); err != nil {
		return fmt.Errorf("templates: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".templates-*.tmp")
	if err != nil {
		return fmt.Errorf("templates: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName) //nolint:gosec // tmpName comes from os.CreateTemp in a known directory
		return fmt.Errorf("templates: write temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName) //nolint:gosec // tmpName comes from os.CreateTemp in a known directory
		return fmt.Errorf("templates: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.filePath); err != nil { //nolint:gosec // tmpName comes from os.CreateTemp in a known directory
		_ = os.Remove(tmpName) //nolint:gosec // tmpName comes from os.CreateTemp in a known directory
		return fmt.Errorf("templates: rename temp file: %w", err)
	}

	if info, err := os.Stat(s.filePath); err == nil {
		s.mu.Lock()
		s.modTime = info.ModTime()
		s.mu.Unlock()
	}

	return nil
}

// ImportText seeds an empty store from a plain-text template file, the
// single-template layout used before templates.json existed. It is a no-op
// when the store already has templates or the file is missing or blank.
func ImportText(s *Store, textPath string) error {
	if len(s.List()) > 0 {
		return nil
	}

	data, err := os.ReadFile(textPath) //nolint:gosec // path comes from the workspace directory
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("templates: import text: %w", err)
	}

	body := strings.TrimSpace(string(data))
	if body == "" {
		return nil
	}

	_, err = s.Add("Default", body, true)
	return err
}
