// Package registry persists the entity ids assigned to each unique id.
// The file is YAML and is rewritten wholesale on Save.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const fileVersion = 1

var (
	// ErrNotFound is returned when no entity has the requested id
	ErrNotFound = errors.New("entity not found")
	// ErrTaken is returned when the target entity id is already registered
	ErrTaken = errors.New("entity id already taken")
	// ErrInvalidEntityID is returned for ids not shaped like platform.object_id
	ErrInvalidEntityID = errors.New("invalid entity id")
)

// Entry is one registered entity
type Entry struct {
	UniqueID      string `yaml:"unique_id" json:"unique_id"`
	EntityID      string `yaml:"entity_id" json:"entity_id"`
	Platform      string `yaml:"platform" json:"platform"`
	ConfigEntryID string `yaml:"config_entry_id,omitempty" json:"config_entry_id,omitempty"`
}

type file struct {
	Version  int     `yaml:"version"`
	Entities []Entry `yaml:"entities"`
}

// Registry maps unique ids to entity ids
type Registry struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	byUnique map[string]*Entry
	byEntity map[string]string
}

// New creates an empty registry that saves to path
func New(path string, logger zerolog.Logger) *Registry {
	return &Registry{
		path:     path,
		logger:   logger,
		byUnique: make(map[string]*Entry),
		byEntity: make(map[string]string),
	}
}

// Open loads the registry at path. A missing file yields an empty registry.
func Open(path string, logger zerolog.Logger) (*Registry, error) {
	r := New(path, logger)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}

	for _, e := range f.Entities {
		if e.UniqueID == "" || e.EntityID == "" {
			continue
		}
		entry := e
		r.byUnique[e.UniqueID] = &entry
		r.byEntity[e.EntityID] = e.UniqueID
	}
	return r, nil
}

// Path returns the file the registry saves to
func (r *Registry) Path() string {
	return r.path
}

// Save writes the registry to disk, creating directories as needed
func (r *Registry) Save() error {
	if r.path == "" {
		return nil
	}

	f := file{Version: fileVersion, Entities: r.Entries()}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("registry: create dir: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("registry: replace %s: %w", r.path, err)
	}
	return nil
}

// Entries returns all entries sorted by entity id
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.byUnique))
	for _, e := range r.byUnique {
		entries = append(entries, *e)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.EntityID, b.EntityID)
	})
	return entries
}

// Get returns the entry registered for a unique id
func (r *Registry) Get(uniqueID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byUnique[uniqueID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Lookup returns the entry that owns an entity id
func (r *Registry) Lookup(entityID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uid, ok := r.byEntity[entityID]
	if !ok {
		return Entry{}, false
	}
	return *r.byUnique[uid], true
}

// Register returns the entry for uniqueID, creating it with suggested as
// entity id when absent. A taken suggestion gets a numeric suffix.
func (r *Registry) Register(uniqueID, suggested, configEntryID string) (Entry, error) {
	platform, _, err := splitEntityID(suggested)
	if err != nil {
		return Entry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byUnique[uniqueID]; ok {
		return *e, nil
	}

	entityID := suggested
	for n := 2; ; n++ {
		if _, taken := r.byEntity[entityID]; !taken {
			break
		}
		entityID = suggested + "_" + strconv.Itoa(n)
	}

	entry := &Entry{
		UniqueID:      uniqueID,
		EntityID:      entityID,
		Platform:      platform,
		ConfigEntryID: configEntryID,
	}
	r.byUnique[uniqueID] = entry
	r.byEntity[entityID] = uniqueID

	r.logger.Debug().
		Str("unique_id", uniqueID).
		Str("entity_id", entityID).
		Msg("Registered entity")

	return *entry, nil
}

// Rename moves an entity to a new entity id on the same platform
func (r *Registry) Rename(from, to string) error {
	fromPlatform, _, err := splitEntityID(from)
	if err != nil {
		return err
	}
	toPlatform, _, err := splitEntityID(to)
	if err != nil {
		return err
	}
	if fromPlatform != toPlatform {
		return fmt.Errorf("%w: cannot move %s to platform %s", ErrInvalidEntityID, from, toPlatform)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	uid, ok := r.byEntity[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	if _, taken := r.byEntity[to]; taken {
		return fmt.Errorf("%w: %s", ErrTaken, to)
	}

	r.byUnique[uid].EntityID = to
	delete(r.byEntity, from)
	r.byEntity[to] = uid
	return nil
}

func splitEntityID(entityID string) (platform, objectID string, err error) {
	platform, objectID, ok := strings.Cut(entityID, ".")
	if !ok || platform == "" || objectID == "" || strings.Contains(objectID, ".") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	}
	return platform, objectID, nil
}
