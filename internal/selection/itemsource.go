package selection

import (
	"sort"
	"strings"
	"sync"
)

// SourceKind tags where an item comes from.
type SourceKind string

const (
	SourceNative     SourceKind = "native"
	SourceItemsAdder SourceKind = "itemsadder"
	SourceOraxen     SourceKind = "oraxen"
)

// ItemRef is a parsed item reference of the form "[source:]id".
type ItemRef struct {
	Source SourceKind
	ID     string
}

func (r ItemRef) String() string {
	if r.Source == SourceNative {
		return r.ID
	}
	return string(r.Source) + ":" + r.ID
}

// ParseItemRef splits an item reference. References without a known prefix,
// and "minecraft:" references, are native.
func ParseItemRef(raw string) ItemRef {
	s := strings.TrimSpace(raw)
	prefix, rest, ok := strings.Cut(s, ":")
	if !ok {
		return ItemRef{Source: SourceNative, ID: s}
	}
	switch strings.ToLower(prefix) {
	case "minecraft":
		return ItemRef{Source: SourceNative, ID: rest}
	case string(SourceItemsAdder):
		return ItemRef{Source: SourceItemsAdder, ID: rest}
	case string(SourceOraxen):
		return ItemRef{Source: SourceOraxen, ID: rest}
	default:
		return ItemRef{Source: SourceNative, ID: s}
	}
}

// ItemSource is a capability that can vouch for item identifiers of one kind.
type ItemSource interface {
	Kind() SourceKind
	Available() bool
	Exists(id string) bool
}

// StaticSource is an ItemSource backed by a fixed identifier set.
// An empty set accepts every identifier.
type StaticSource struct {
	kind      SourceKind
	available bool
	ids       map[string]struct{}
}

func NewStaticSource(kind SourceKind, available bool, ids ...string) *StaticSource {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[strings.ToLower(id)] = struct{}{}
	}
	return &StaticSource{kind: kind, available: available, ids: m}
}

func (s *StaticSource) Kind() SourceKind { return s.kind }
func (s *StaticSource) Available() bool  { return s.available }
func (s *StaticSource) Exists(id string) bool {
	if !s.available {
		return false
	}
	if len(s.ids) == 0 {
		return true
	}
	_, ok := s.ids[strings.ToLower(id)]
	return ok
}

// Sources dispatches item references to the source registered for their kind.
type Sources struct {
	mu sync.RWMutex
	m  map[SourceKind]ItemSource
}

// DefaultSources registers an always-available native source and marks the
// external plugin sources unavailable until the host registers them.
func DefaultSources() *Sources {
	s := &Sources{m: map[SourceKind]ItemSource{}}
	s.Register(NewStaticSource(SourceNative, true))
	s.Register(NewStaticSource(SourceItemsAdder, false))
	s.Register(NewStaticSource(SourceOraxen, false))
	return s
}

func (s *Sources) Register(src ItemSource) {
	if src == nil {
		return
	}
	s.mu.Lock()
	if s.m == nil {
		s.m = map[SourceKind]ItemSource{}
	}
	s.m[src.Kind()] = src
	s.mu.Unlock()
}

// Lookup returns the source for a kind.
func (s *Sources) Lookup(kind SourceKind) (ItemSource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.m[kind]
	return src, ok
}

// Check reports whether the reference's source is registered and available,
// and whether that source knows the identifier.
func (s *Sources) Check(raw string) (ref ItemRef, available, exists bool) {
	ref = ParseItemRef(raw)
	src, ok := s.Lookup(ref.Source)
	if !ok || !src.Available() {
		return ref, false, false
	}
	return ref, true, src.Exists(ref.ID)
}

// Kinds lists registered kinds, sorted.
func (s *Sources) Kinds() []SourceKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SourceKind, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
