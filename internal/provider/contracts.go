package provider

import (
	"context"
)

// The capability contracts below are the only coupling between the pipeline
// core and concrete providers. Adapters implement one or more of them and are
// registered at startup; the core never imports an adapter package.
// Following SOLID principles:
// - Single Responsibility: one contract per pipeline stage
// - Open/Closed: new providers can be added without modifying existing code
// - Liskov Substitution: all implementations of a contract are interchangeable
// - Dependency Inversion: the orchestrator depends on abstractions only

// Transcriber converts captured audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (*Transcript, error)
}

// LanguageDetector identifies the language of a piece of text, returning an
// ISO 639-1 code such as "en" or "es".
type LanguageDetector interface {
	DetectLanguage(ctx context.Context, text string) (string, error)
}

// Translator translates text between languages. Implementations may signal a
// soft failure via Translation.Failed instead of an error.
type Translator interface {
	Translate(ctx context.Context, req TranslateRequest) (*Translation, error)
}

// Retriever fetches up to limit knowledge snippets relevant to the query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]ContextItem, error)
}

// Generator produces the assistant response text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Synthesizer converts response text into spoken audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (*Speech, error)
}

// Pinger is an optional capability. Adapters that implement it are probed by
// the background health loop while their circuit is open.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Implements reports whether impl satisfies the capability contract for kind.
func Implements(impl any, kind Kind) bool {
	switch kind {
	case KindTranscription:
		_, ok := impl.(Transcriber)
		return ok
	case KindLanguageDetection:
		_, ok := impl.(LanguageDetector)
		return ok
	case KindTranslation:
		_, ok := impl.(Translator)
		return ok
	case KindRetrieval:
		_, ok := impl.(Retriever)
		return ok
	case KindGeneration:
		_, ok := impl.(Generator)
		return ok
	case KindSynthesis:
		_, ok := impl.(Synthesizer)
		return ok
	default:
		return false
	}
}
