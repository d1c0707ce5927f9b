package testutil

import (
	"context"
	"sync"
	"time"

	"medvoice/internal/breaker"
	"medvoice/internal/provider"
)

// FakeProvider implements every capability contract with injectable func
// fields. A nil field falls back to a canned success so tests only wire the
// behavior they exercise.
type FakeProvider struct {
	Name string

	TranscribeFunc func(ctx context.Context, req provider.TranscribeRequest) (*provider.Transcript, error)
	DetectFunc     func(ctx context.Context, text string) (string, error)
	TranslateFunc  func(ctx context.Context, req provider.TranslateRequest) (*provider.Translation, error)
	RetrieveFunc   func(ctx context.Context, query string, limit int) ([]provider.ContextItem, error)
	GenerateFunc   func(ctx context.Context, req provider.GenerateRequest) (string, error)
	SynthesizeFunc func(ctx context.Context, req provider.SynthesizeRequest) (*provider.Speech, error)
	PingFunc       func(ctx context.Context) error

	mu    sync.Mutex
	calls map[string]int
}

// NewFakeProvider creates a fake with canned defaults.
func NewFakeProvider(name string) *FakeProvider {
	return &FakeProvider{Name: name, calls: make(map[string]int)}
}

func (f *FakeProvider) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
}

// Calls returns how many times the named method ran.
func (f *FakeProvider) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeProvider) Transcribe(ctx context.Context, req provider.TranscribeRequest) (*provider.Transcript, error) {
	f.record("Transcribe")
	if f.TranscribeFunc != nil {
		return f.TranscribeFunc(ctx, req)
	}
	return &provider.Transcript{
		Text:       "patient reports mild headache",
		Language:   "en",
		Confidence: 0.9,
		Provider:   f.Name,
		Final:      true,
	}, nil
}

func (f *FakeProvider) DetectLanguage(ctx context.Context, text string) (string, error) {
	f.record("DetectLanguage")
	if f.DetectFunc != nil {
		return f.DetectFunc(ctx, text)
	}
	return "en", nil
}

func (f *FakeProvider) Translate(ctx context.Context, req provider.TranslateRequest) (*provider.Translation, error) {
	f.record("Translate")
	if f.TranslateFunc != nil {
		return f.TranslateFunc(ctx, req)
	}
	return &provider.Translation{
		Text:           req.Text,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Provider:       f.Name,
	}, nil
}

func (f *FakeProvider) Retrieve(ctx context.Context, query string, limit int) ([]provider.ContextItem, error) {
	f.record("Retrieve")
	if f.RetrieveFunc != nil {
		return f.RetrieveFunc(ctx, query, limit)
	}
	items := []provider.ContextItem{
		{Content: "headache care guideline", Source: "kb/1", Score: 0.92},
		{Content: "hydration advice", Source: "kb/2", Score: 0.81},
	}
	if limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (f *FakeProvider) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	f.record("Generate")
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, req)
	}
	return "Please rest and stay hydrated.", nil
}

func (f *FakeProvider) Synthesize(ctx context.Context, req provider.SynthesizeRequest) (*provider.Speech, error) {
	f.record("Synthesize")
	if f.SynthesizeFunc != nil {
		return f.SynthesizeFunc(ctx, req)
	}
	return &provider.Speech{
		Audio:    []byte("RIFFfake"),
		Format:   provider.FormatWAV,
		Provider: f.Name,
	}, nil
}

func (f *FakeProvider) Ping(ctx context.Context) error {
	f.record("Ping")
	if f.PingFunc != nil {
		return f.PingFunc(ctx)
	}
	return nil
}

// NewRegistry builds a registry whose breakers share one in-memory store.
// A nil now uses the wall clock.
func NewRegistry(now func() time.Time) (*provider.Registry, *breaker.MemoryStore) {
	store := breaker.NewMemoryStore()
	reg := provider.NewRegistry(func(cfg provider.Config) *breaker.Breaker {
		opts := []breaker.Option{}
		if now != nil {
			opts = append(opts, breaker.WithClock(now))
		}
		return breaker.New(cfg.Name, cfg.BreakerSettings(), store, opts...)
	})
	return reg, store
}
