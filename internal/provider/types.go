package provider

import (
	"time"
)

// Kind identifies the logical pipeline service a provider implements.
type Kind string

const (
	KindTranscription     Kind = "transcription"
	KindLanguageDetection Kind = "language_detection"
	KindTranslation       Kind = "translation"
	KindRetrieval         Kind = "retrieval"
	KindGeneration        Kind = "generation"
	KindSynthesis         Kind = "synthesis"
)

// Kinds lists every pipeline service kind in stage order.
func Kinds() []Kind {
	return []Kind{
		KindTranscription,
		KindLanguageDetection,
		KindTranslation,
		KindRetrieval,
		KindGeneration,
		KindSynthesis,
	}
}

// Valid reports whether k is a known service kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTranscription, KindLanguageDetection, KindTranslation,
		KindRetrieval, KindGeneration, KindSynthesis:
		return true
	default:
		return false
	}
}

func (k Kind) String() string { return string(k) }

// AudioFormat defines supported audio formats
type AudioFormat string

const (
	FormatWAV  AudioFormat = "wav"
	FormatMP3  AudioFormat = "mp3"
	FormatOGG  AudioFormat = "ogg"
	FormatWEBM AudioFormat = "webm"
	FormatPCM  AudioFormat = "pcm"
)

// TranscribeRequest carries one utterance of captured audio.
type TranscribeRequest struct {
	Audio  []byte      `json:"-"`
	Format AudioFormat `json:"format,omitempty"`

	// LanguageHints lists languages the speaker may be using, most likely
	// first. Empty means unknown.
	LanguageHints []string `json:"language_hints,omitempty"`

	// Prompt is an optional context prompt for better accuracy.
	Prompt string `json:"prompt,omitempty"`
}

// Transcript is the result of one transcription call.
type Transcript struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence"` // 0.0 - 1.0

	Words []Word `json:"words,omitempty"`

	Provider string        `json:"provider,omitempty"`
	Elapsed  time.Duration `json:"elapsed,omitempty"`
	Final    bool          `json:"final"`
}

// Word represents a single word with timing information
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability,omitempty"`
}

// TranslateRequest asks for text translation between two languages.
type TranslateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// Translation is the result of a translation call. A provider may report a
// failed translation without returning an error; callers must check Failed
// before using Text.
type Translation struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`
	Failed         bool   `json:"failed"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Provider       string `json:"provider,omitempty"`
}

// ContextItem is one retrieved knowledge snippet for grounding generation.
type ContextItem struct {
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// GenerateRequest asks for an assistant response.
type GenerateRequest struct {
	Prompt   string        `json:"prompt"`
	System   string        `json:"system,omitempty"`
	Context  []ContextItem `json:"context,omitempty"`
	Language string        `json:"language,omitempty"`

	// MaxTokens bounds the response length. 0 means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// SynthesizeRequest asks for spoken audio for the given text.
type SynthesizeRequest struct {
	Text     string      `json:"text"`
	Language string      `json:"language,omitempty"`
	Voice    string      `json:"voice,omitempty"`
	Format   AudioFormat `json:"format,omitempty"`
}

// Speech is synthesized audio. Cached marks audio served from the fallback
// clip store rather than a live synthesis call.
type Speech struct {
	Audio    []byte      `json:"-"`
	Format   AudioFormat `json:"format,omitempty"`
	Voice    string      `json:"voice,omitempty"`
	Provider string      `json:"provider,omitempty"`
	Cached   bool        `json:"cached"`
}
