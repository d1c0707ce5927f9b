package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"

	"medvoice/internal/apperrors"
	"medvoice/internal/breaker"
)

// Entry is one registered provider: its config, the adapter implementing the
// capability contract, and the breaker guarding it.
type Entry struct {
	Config  Config
	Impl    any
	Breaker *breaker.Breaker

	order int
}

// Transcriber returns the entry's transcription capability.
func (e *Entry) Transcriber() (Transcriber, bool) {
	impl, ok := e.Impl.(Transcriber)
	return impl, ok
}

// LanguageDetector returns the entry's language detection capability.
func (e *Entry) LanguageDetector() (LanguageDetector, bool) {
	impl, ok := e.Impl.(LanguageDetector)
	return impl, ok
}

// Translator returns the entry's translation capability.
func (e *Entry) Translator() (Translator, bool) {
	impl, ok := e.Impl.(Translator)
	return impl, ok
}

// Retriever returns the entry's retrieval capability.
func (e *Entry) Retriever() (Retriever, bool) {
	impl, ok := e.Impl.(Retriever)
	return impl, ok
}

// Generator returns the entry's generation capability.
func (e *Entry) Generator() (Generator, bool) {
	impl, ok := e.Impl.(Generator)
	return impl, ok
}

// Synthesizer returns the entry's synthesis capability.
func (e *Entry) Synthesizer() (Synthesizer, bool) {
	impl, ok := e.Impl.(Synthesizer)
	return impl, ok
}

// BreakerFactory builds the breaker for a registered provider.
type BreakerFactory func(cfg Config) *breaker.Breaker

// Registry holds every registered provider grouped by service kind. It is
// constructed once at startup and passed by reference; registration after
// startup is allowed but selection never mutates entries.
type Registry struct {
	mu         sync.RWMutex
	entries    map[Kind][]*Entry
	byKey      map[string]*Entry
	newBreaker BreakerFactory
	count      int
}

// NewRegistry creates an empty registry. newBreaker is invoked once per
// registered provider.
func NewRegistry(newBreaker BreakerFactory) *Registry {
	return &Registry{
		entries:    make(map[Kind][]*Entry),
		byKey:      make(map[string]*Entry),
		newBreaker: newBreaker,
	}
}

func key(kind Kind, name string) string {
	return string(kind) + "/" + name
}

// Register adds a provider. The impl must satisfy the capability contract
// for cfg.Kind; a duplicate (kind, name) pair is an error.
func (r *Registry) Register(cfg Config, impl any) error {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if impl == nil {
		return apperrors.RequiredField("provider implementation")
	}
	if !Implements(impl, cfg.Kind) {
		return apperrors.InvalidField("provider "+cfg.Name, "does not implement "+string(cfg.Kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(cfg.Kind, cfg.Name)
	if _, exists := r.byKey[k]; exists {
		return apperrors.AlreadyExists("provider", k)
	}

	entry := &Entry{
		Config:  cfg,
		Impl:    impl,
		Breaker: r.newBreaker(cfg),
		order:   r.count,
	}
	r.count++
	r.byKey[k] = entry

	list := append(r.entries[cfg.Kind], entry)
	// Priority order, ties by registration order.
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Config.Priority != list[j].Config.Priority {
			return list[i].Config.Priority < list[j].Config.Priority
		}
		return list[i].order < list[j].order
	})
	r.entries[cfg.Kind] = list
	return nil
}

// ByKind returns the providers of a kind in priority order.
func (r *Registry) ByKind(kind Kind) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.entries[kind]
	out := make([]*Entry, len(list))
	copy(out, list)
	return out
}

// Select returns the providers of a kind passing the filter, in priority
// order. A nil filter selects all.
func (r *Registry) Select(kind Kind, filter func(*Entry) bool) []*Entry {
	list := r.ByKind(kind)
	if filter == nil {
		return list
	}
	return lo.Filter(list, func(e *Entry, _ int) bool { return filter(e) })
}

// Get looks up a provider by kind and name.
func (r *Registry) Get(kind Kind, name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byKey[key(kind, name)]
	return e, ok
}

// Find returns every registration of a provider name across kinds.
func (r *Registry) Find(name string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, list := range r.entries {
		for _, e := range list {
			if e.Config.Name == name {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Names lists provider names of a kind in priority order.
func (r *Registry) Names(kind Kind) []string {
	return lo.Map(r.ByKind(kind), func(e *Entry, _ int) string { return e.Config.Name })
}

// All returns every entry in registration order.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.byKey))
	for _, e := range r.byKey {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Status describes one provider for the ops surface.
type Status struct {
	Name         string         `json:"name"`
	Kind         Kind           `json:"kind"`
	Adapter      string         `json:"adapter"`
	Priority     int            `json:"priority"`
	PrivacySafe  bool           `json:"privacy_safe"`
	CostTier     int            `json:"cost_tier,omitempty"`
	Circuit      breaker.Record `json:"circuit"`
	CircuitError string         `json:"circuit_error,omitempty"`
}

// Snapshot assembles the status of every provider, reading circuit state
// from the backing store. A store failure for one provider is reported on
// its status rather than failing the whole snapshot.
func (r *Registry) Snapshot(ctx context.Context) []Status {
	entries := r.All()
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		st := Status{
			Name:        e.Config.Name,
			Kind:        e.Config.Kind,
			Adapter:     e.Config.Adapter,
			Priority:    e.Config.Priority,
			PrivacySafe: e.Config.PrivacySafe,
			CostTier:    e.Config.CostTier,
		}
		rec, err := e.Breaker.Snapshot(ctx)
		if err != nil {
			st.CircuitError = err.Error()
		} else {
			st.Circuit = rec
		}
		out = append(out, st)
	}
	return out
}
