// Package registry provides the persistent face registry: named sets of
// enrolled reference encodings.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrNotFound is returned for operations on an unknown person.
var ErrNotFound = errors.New("person not found in registry")

// ErrDuplicateSource is returned when enrolling a source photo that is
// already recorded for the same person.
var ErrDuplicateSource = errors.New("source already enrolled for person")

// Embedding is one enrolled reference encoding with its provenance.
type Embedding struct {
	Source   string    `json:"source"`
	Encoding []float32 `json:"encoding"`
}

type person struct {
	Embeddings []Embedding `json:"embeddings"`
}

type document struct {
	People map[string]person `json:"people"`
}

// Registry is a face registry backed by a single JSON document rewritten
// wholesale on every mutation. A person always has at least one embedding:
// removing the last one removes the person.
type Registry struct {
	path string
	mu   sync.RWMutex
	doc  document
}

// Open loads the registry at path. A missing or corrupt backing file yields
// an empty registry, never an error.
func Open(path string) *Registry {
	r := &Registry{path: path, doc: document{People: make(map[string]person)}}
	data, err := os.ReadFile(path)
	if err != nil {
		return r
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil || doc.People == nil {
		return r
	}
	r.doc = doc
	return r
}

// Enroll records an encoding for name from the given source photo.
// Returns ErrDuplicateSource when the same source is already enrolled for name.
func (r *Registry) Enroll(name, source string, encoding []float32) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(encoding) == 0 {
		return fmt.Errorf("encoding cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.doc.People[name]
	for _, e := range p.Embeddings {
		if e.Source == source {
			return fmt.Errorf("enroll %q from %q: %w", name, source, ErrDuplicateSource)
		}
	}
	p.Embeddings = append(p.Embeddings, Embedding{Source: source, Encoding: encoding})
	r.doc.People[name] = p
	return r.persist()
}

// List returns enrolled names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.doc.People))
	for name := range r.doc.People {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns how many embeddings are enrolled for name, 0 if unknown.
func (r *Registry) Count(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.doc.People[name].Embeddings)
}

// VectorsFor returns the reference encodings enrolled for name.
// Returns ErrNotFound when name is unknown; never returns an empty slice.
func (r *Registry) VectorsFor(name string) ([][]float32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.doc.People[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	out := make([][]float32, len(p.Embeddings))
	for i, e := range p.Embeddings {
		out[i] = e.Encoding
	}
	return out, nil
}

// Remove deletes name and all enrolled encodings.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.doc.People[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	delete(r.doc.People, name)
	return r.persist()
}

// RemoveEmbedding deletes the encoding enrolled from source for name.
// Removing the last encoding removes the person entirely, so a person never
// exists with zero embeddings.
func (r *Registry) RemoveEmbedding(name, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.doc.People[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	kept := p.Embeddings[:0]
	for _, e := range p.Embeddings {
		if e.Source != source {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(p.Embeddings) {
		return fmt.Errorf("%q has no embedding from %q: %w", name, source, ErrNotFound)
	}
	if len(kept) == 0 {
		delete(r.doc.People, name)
	} else {
		p.Embeddings = kept
		r.doc.People[name] = p
	}
	return r.persist()
}

// persist rewrites the backing file wholesale via temp file + rename.
// Callers must hold the write lock.
func (r *Registry) persist() error {
	data, err := json.Marshal(r.doc)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
