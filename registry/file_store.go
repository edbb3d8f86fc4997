package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/heraldbot/herald/identity"
	"github.com/heraldbot/herald/internal/fsstore"
)

const registryFileVersion = 1

type registryFile struct {
	Version int                            `json:"version"`
	Scopes  map[string]map[string][]string `json:"scopes"`
}

// FileStore persists the registry as one JSON document. Every operation is a
// full load-modify-store cycle; nothing is cached between commands, so
// external edits and process restarts are picked up without staleness. The
// mutex serializes read-modify-write cycles should the caller ever stop
// being strictly sequential.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (registryFile, error) {
	doc := registryFile{Version: registryFileVersion, Scopes: map[string]map[string][]string{}}
	if _, err := fsstore.ReadJSON(s.path, &doc); err != nil {
		return registryFile{}, fmt.Errorf("load subgroup registry: %w", err)
	}
	if doc.Scopes == nil {
		doc.Scopes = map[string]map[string][]string{}
	}
	return doc, nil
}

func (s *FileStore) store(doc registryFile) error {
	doc.Version = registryFileVersion
	if err := fsstore.WriteJSONAtomic(s.path, doc); err != nil {
		return fmt.Errorf("store subgroup registry: %w", err)
	}
	return nil
}

func (s *FileStore) Add(ctx context.Context, scopeKey, name string, members []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name = CanonicalName(name)
	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	scope := doc.Scopes[scopeKey]
	if scope == nil {
		scope = map[string][]string{}
		doc.Scopes[scopeKey] = scope
	}

	set := scope[name]
	for _, member := range members {
		if containsIdentity(set, member) {
			continue
		}
		set = append(set, member)
	}
	scope[name] = set

	if err := s.store(doc); err != nil {
		return 0, err
	}
	return len(set), nil
}

func (s *FileStore) Remove(ctx context.Context, scopeKey, name string, members []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name = CanonicalName(name)
	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	scope := doc.Scopes[scopeKey]
	set, exists := scope[name]
	if !exists {
		return 0, nil
	}

	kept := set[:0]
	for _, member := range set {
		drop := false
		for _, target := range members {
			if identity.SameIdentity(member, target) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, member)
		}
	}
	// An emptied set stays listed under its name; only Delete removes it.
	scope[name] = kept

	if err := s.store(doc); err != nil {
		return 0, err
	}
	return len(kept), nil
}

func (s *FileStore) Show(ctx context.Context, scopeKey, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	members := doc.Scopes[scopeKey][CanonicalName(name)]
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

func (s *FileStore) List(ctx context.Context, scopeKey string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for name, members := range doc.Scopes[scopeKey] {
		out = append(out, Entry{Name: name, Size: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, scopeKey, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name = CanonicalName(name)
	doc, err := s.load()
	if err != nil {
		return false, err
	}
	scope := doc.Scopes[scopeKey]
	if _, exists := scope[name]; !exists {
		return false, nil
	}
	delete(scope, name)

	if err := s.store(doc); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Lookup(ctx context.Context, conversationKey, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name = CanonicalName(name)
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	// An emptied-but-retained name shadows the global scope; only a name
	// the conversation never defined (or deleted) falls through.
	members, exists := doc.Scopes[conversationKey][name]
	if !exists {
		members = doc.Scopes[GlobalScope][name]
	}
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

func containsIdentity(set []string, member string) bool {
	for _, existing := range set {
		if identity.SameIdentity(existing, member) {
			return true
		}
	}
	return false
}
