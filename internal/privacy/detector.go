package privacy

import (
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"

	"medvoice/internal/apperrors"
)

// Pattern categories reported on detections.
const (
	CategorySSN         = "ssn"
	CategoryMRN         = "mrn"
	CategoryPhone       = "phone"
	CategoryEmail       = "email"
	CategoryDOB         = "dob"
	CategoryInsuranceID = "insurance_id"
	CategoryClinical    = "clinical_terms"
)

// Identifier patterns. A single match is strong evidence, scored 0.9.
var identifierPatterns = map[string]string{
	CategorySSN:         `\b\d{3}-\d{2}-\d{4}\b`,
	CategoryMRN:         `(?i)\bmrn[:\s#]*\d{6,10}\b`,
	CategoryPhone:       `\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}\b`,
	CategoryEmail:       `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
	CategoryDOB:         `(?i)\b(?:date of birth|dob)\b[:\s]*(?:\d{1,2}[/-]\d{1,2}[/-]\d{2,4})?|\b(?:0?[1-9]|1[0-2])[/-](?:0?[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`,
	CategoryInsuranceID: `(?i)\b(?:policy|member|insurance)\s*(?:id|number|no\.?|#)[:\s]*[A-Za-z0-9-]{6,}\b`,
}

// Clinical vocabulary. Keyword evidence is weaker than an identifier match:
// it needs at least two distinct terms and is scored 0.5 plus 0.1 per term,
// capped below the identifier score.
var clinicalKeywords = []string{
	"patient", "diagnosis", "diagnosed", "medication", "prescription",
	"symptom", "symptoms", "treatment", "doctor", "physician", "nurse",
	"hospital", "clinic", "allergy", "allergies", "dosage", "chronic",
	"diabetes", "hypertension", "asthma", "surgery", "therapy", "biopsy",
	"referral", "immunization", "vaccine", "bloodwork", "prognosis",
}

const (
	identifierConfidence = 0.9
	keywordBase          = 0.5
	keywordStep          = 0.1
	keywordMinHits       = 2
)

// DetectorConfig tunes PHI detection. Extra patterns and keywords from
// deployment config are merged into the built-in sets at startup.
type DetectorConfig struct {
	// Threshold is the confidence at or above which text counts as PHI.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// ExtraPatterns maps category names to additional regular expressions.
	ExtraPatterns map[string]string `yaml:"extra_patterns" json:"extra_patterns,omitempty"`

	// ExtraKeywords extends the clinical vocabulary.
	ExtraKeywords []string `yaml:"extra_keywords" json:"extra_keywords,omitempty"`
}

// DefaultDetectorConfig returns the stock detection thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{Threshold: 0.7}
}

// Detection is the outcome of scanning one piece of text. It carries scores
// and categories only, never the matched content.
type Detection struct {
	Detected    bool     `json:"detected"`
	Confidence  float64  `json:"confidence"`
	Categories  []string `json:"categories,omitempty"`
	KeywordHits int      `json:"keyword_hits,omitempty"`
}

// Detector scans text for protected health information using identifier
// patterns and a clinical keyword heuristic.
type Detector struct {
	threshold float64
	patterns  map[string]*regexp.Regexp
	keywords  *regexp.Regexp
}

// NewDetector compiles the detection patterns.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultDetectorConfig().Threshold
	}

	patterns := make(map[string]*regexp.Regexp, len(identifierPatterns)+len(cfg.ExtraPatterns))
	for category, expr := range identifierPatterns {
		patterns[category] = regexp.MustCompile(expr)
	}
	for category, expr := range cfg.ExtraPatterns {
		compiled, err := regexp.Compile(expr)
		if err != nil {
			return nil, apperrors.Wrapf(err, "phi pattern %q", category)
		}
		patterns[category] = compiled
	}

	vocab := append([]string{}, clinicalKeywords...)
	for _, kw := range cfg.ExtraKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			vocab = append(vocab, regexp.QuoteMeta(kw))
		}
	}
	keywords := regexp.MustCompile(`\b(?:` + strings.Join(vocab, "|") + `)\b`)

	return &Detector{
		threshold: cfg.Threshold,
		patterns:  patterns,
		keywords:  keywords,
	}, nil
}

// Threshold returns the configured detection threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Detect scans text and scores it. Identifier matches score 0.9; two or more
// distinct clinical keywords score 0.5 + 0.1 per keyword, capped at 0.9.
func (d *Detector) Detect(text string) Detection {
	if text == "" {
		return Detection{}
	}
	lowered := strings.ToLower(text)

	var det Detection
	for category, pattern := range d.patterns {
		if pattern.MatchString(text) {
			det.Categories = append(det.Categories, category)
			det.Confidence = identifierConfidence
		}
	}

	hits := lo.Uniq(d.keywords.FindAllString(lowered, -1))
	det.KeywordHits = len(hits)
	if det.KeywordHits >= keywordMinHits {
		keywordConfidence := keywordBase + keywordStep*float64(det.KeywordHits)
		if keywordConfidence > identifierConfidence {
			keywordConfidence = identifierConfidence
		}
		if keywordConfidence > det.Confidence {
			det.Confidence = keywordConfidence
		}
		det.Categories = append(det.Categories, CategoryClinical)
	}

	sort.Strings(det.Categories)
	det.Detected = det.Confidence >= d.threshold
	return det
}
