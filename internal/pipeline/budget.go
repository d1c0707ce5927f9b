package pipeline

import "time"

// Stage names as they appear in metrics, ledger entries and logs.
const (
	StageTranscription     = "transcription"
	StageLanguageDetection = "language_detection"
	StageTranslation       = "translation"
	StageRetrieval         = "retrieval"
	StageGeneration        = "generation"
	StageSynthesis         = "synthesis"
)

// Budgets caps each stage of a voice turn. A stage never gets more time
// than the smaller of its own budget and what remains of the total.
type Budgets struct {
	Transcription     time.Duration `yaml:"transcription" json:"transcription"`
	LanguageDetection time.Duration `yaml:"language_detection" json:"language_detection"`
	Translation       time.Duration `yaml:"translation" json:"translation"`
	Retrieval         time.Duration `yaml:"retrieval" json:"retrieval"`
	Generation        time.Duration `yaml:"generation" json:"generation"`
	Synthesis         time.Duration `yaml:"synthesis" json:"synthesis"`
	Total             time.Duration `yaml:"total" json:"total"`
}

// DefaultBudgets targets a sub-second conversational turn.
func DefaultBudgets() Budgets {
	return Budgets{
		Transcription:     200 * time.Millisecond,
		LanguageDetection: 50 * time.Millisecond,
		Translation:       200 * time.Millisecond,
		Retrieval:         300 * time.Millisecond,
		Generation:        300 * time.Millisecond,
		Synthesis:         150 * time.Millisecond,
		Total:             700 * time.Millisecond,
	}
}

func (b Budgets) normalized() Budgets {
	d := DefaultBudgets()
	if b.Transcription <= 0 {
		b.Transcription = d.Transcription
	}
	if b.LanguageDetection <= 0 {
		b.LanguageDetection = d.LanguageDetection
	}
	if b.Translation <= 0 {
		b.Translation = d.Translation
	}
	if b.Retrieval <= 0 {
		b.Retrieval = d.Retrieval
	}
	if b.Generation <= 0 {
		b.Generation = d.Generation
	}
	if b.Synthesis <= 0 {
		b.Synthesis = d.Synthesis
	}
	if b.Total <= 0 {
		b.Total = d.Total
	}
	return b
}

// Stage returns the configured budget for a stage name.
func (b Budgets) Stage(stage string) time.Duration {
	switch stage {
	case StageTranscription:
		return b.Transcription
	case StageLanguageDetection:
		return b.LanguageDetection
	case StageTranslation:
		return b.Translation
	case StageRetrieval:
		return b.Retrieval
	case StageGeneration:
		return b.Generation
	case StageSynthesis:
		return b.Synthesis
	default:
		return 0
	}
}

// Thresholds tune the degradation ladder against the remaining total
// budget.
type Thresholds struct {
	// RetrievalFull and RetrievalReduced split the retrieval limit: more
	// remaining than RetrievalFull gets RetrievalFullLimit results, more
	// than RetrievalReduced gets RetrievalReducedLimit, anything less gets
	// RetrievalMinLimit.
	RetrievalFull    time.Duration `yaml:"retrieval_full" json:"retrieval_full"`
	RetrievalReduced time.Duration `yaml:"retrieval_reduced" json:"retrieval_reduced"`

	RetrievalFullLimit    int `yaml:"retrieval_full_limit" json:"retrieval_full_limit"`
	RetrievalReducedLimit int `yaml:"retrieval_reduced_limit" json:"retrieval_reduced_limit"`
	RetrievalMinLimit     int `yaml:"retrieval_min_limit" json:"retrieval_min_limit"`

	// ContextTruncate shortens the retrieved context to ContextMaxItems
	// when less than this remains before generation.
	ContextTruncate time.Duration `yaml:"context_truncate" json:"context_truncate"`
	ContextMaxItems int           `yaml:"context_max_items" json:"context_max_items"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		RetrievalFull:         600 * time.Millisecond,
		RetrievalReduced:      400 * time.Millisecond,
		RetrievalFullLimit:    5,
		RetrievalReducedLimit: 3,
		RetrievalMinLimit:     1,
		ContextTruncate:       400 * time.Millisecond,
		ContextMaxItems:       2,
	}
}

func (t Thresholds) normalized() Thresholds {
	d := DefaultThresholds()
	if t.RetrievalFull <= 0 {
		t.RetrievalFull = d.RetrievalFull
	}
	if t.RetrievalReduced <= 0 {
		t.RetrievalReduced = d.RetrievalReduced
	}
	if t.RetrievalFullLimit <= 0 {
		t.RetrievalFullLimit = d.RetrievalFullLimit
	}
	if t.RetrievalReducedLimit <= 0 {
		t.RetrievalReducedLimit = d.RetrievalReducedLimit
	}
	if t.RetrievalMinLimit <= 0 {
		t.RetrievalMinLimit = d.RetrievalMinLimit
	}
	if t.ContextTruncate <= 0 {
		t.ContextTruncate = d.ContextTruncate
	}
	if t.ContextMaxItems <= 0 {
		t.ContextMaxItems = d.ContextMaxItems
	}
	return t
}

// RetrievalLimit maps the remaining budget onto a result limit. The reduced
// tier includes its lower bound: with defaults, exactly 400ms remaining
// still gets 3 items, and only below 400ms does retrieval drop to 1 (the
// same line where context truncation kicks in).
func (t Thresholds) RetrievalLimit(remaining time.Duration) int {
	switch {
	case remaining > t.RetrievalFull:
		return t.RetrievalFullLimit
	case remaining >= t.RetrievalReduced:
		return t.RetrievalReducedLimit
	default:
		return t.RetrievalMinLimit
	}
}
