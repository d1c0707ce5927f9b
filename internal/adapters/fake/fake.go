// Package fake implements every pipeline capability with deterministic
// canned behavior. It backs local development and the bench command, where
// turns must run without network access or API keys. The latency_ms and
// failure_rate settings inject delay and simulated outages so breaker and
// fallback behavior can be exercised end to end.
package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"medvoice/internal/apperrors"
	"medvoice/internal/clips"
	"medvoice/internal/provider"
)

const defaultTranscript = "I have been having headaches since yesterday evening"

type Provider struct {
	cfg        provider.Config
	latency    time.Duration
	failRate   float64
	transcript string
	language   string

	mu  sync.Mutex
	rng *rand.Rand
}

func New(cfg provider.Config) (*Provider, error) {
	p := &Provider{
		cfg:        cfg,
		transcript: cfg.Setting("transcript", defaultTranscript),
		language:   cfg.Setting("language", "en"),
		rng:        rand.New(rand.NewSource(int64(seed(cfg.Name)))),
	}
	if v := cfg.Setting("latency_ms", ""); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, apperrors.InvalidField("latency_ms", v)
		}
		p.latency = time.Duration(ms) * time.Millisecond
	}
	if v := cfg.Setting("failure_rate", ""); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 || rate > 1 {
			return nil, apperrors.InvalidField("failure_rate", v)
		}
		p.failRate = rate
	}
	return p, nil
}

func (p *Provider) Transcribe(ctx context.Context, req provider.TranscribeRequest) (*provider.Transcript, error) {
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}
	if len(req.Audio) == 0 {
		return nil, apperrors.RequiredField("audio")
	}
	tr := &provider.Transcript{
		Text:       p.transcript,
		Language:   p.language,
		Confidence: 0.93,
		Provider:   p.cfg.Name,
		Final:      true,
	}
	if p.cfg.SupportsWordTimings {
		tr.Words = wordTimings(p.transcript)
	}
	return tr, nil
}

func (p *Provider) DetectLanguage(ctx context.Context, text string) (string, error) {
	if err := p.simulate(ctx); err != nil {
		return "", err
	}
	lower := " " + strings.ToLower(text) + " "
	for _, marker := range []string{" el ", " la ", " dolor ", " fiebre ", " tengo "} {
		if strings.Contains(lower, marker) {
			return "es", nil
		}
	}
	return p.language, nil
}

func (p *Provider) Translate(ctx context.Context, req provider.TranslateRequest) (*provider.Translation, error) {
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}
	return &provider.Translation{
		Text:           req.Text,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Provider:       p.cfg.Name,
	}, nil
}

func (p *Provider) Retrieve(ctx context.Context, query string, limit int) ([]provider.ContextItem, error) {
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	words := strings.Fields(strings.ToLower(query))
	type scored struct {
		entry kbEntry
		score float64
	}
	var hits []scored
	for _, entry := range knowledgeBase {
		var matched int
		for _, kw := range entry.keywords {
			for _, w := range words {
				if strings.Contains(w, kw) {
					matched++
					break
				}
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, scored{entry, float64(matched) / float64(len(entry.keywords))})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.id < hits[j].entry.id
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	items := make([]provider.ContextItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, provider.ContextItem{
			Source:  "kb/" + h.entry.id,
			Content: h.entry.content,
			Score:   h.score,
		})
	}
	return items, nil
}

func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	if err := p.simulate(ctx); err != nil {
		return "", err
	}
	answer := answers[seed(req.Prompt)%uint64(len(answers))]
	if len(req.Context) > 0 {
		answer = fmt.Sprintf("%s Your care notes mention: %s", answer, req.Context[0].Content)
	}
	return answer, nil
}

func (p *Provider) Synthesize(ctx context.Context, req provider.SynthesizeRequest) (*provider.Speech, error) {
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, apperrors.RequiredField("synthesis text")
	}
	// Roughly 150 words per minute of speech.
	ms := len(strings.Fields(req.Text)) * 400
	if ms < 200 {
		ms = 200
	}
	if ms > 4000 {
		ms = 4000
	}
	voice := req.Voice
	if voice == "" {
		voice = "fake"
	}
	return &provider.Speech{
		Audio:    clips.SilentWAV(ms),
		Format:   provider.FormatWAV,
		Voice:    voice,
		Provider: p.cfg.Name,
	}, nil
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.simulate(ctx)
}

// simulate applies the configured latency and failure rate before any call.
func (p *Provider) simulate(ctx context.Context) error {
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.failRate > 0 {
		p.mu.Lock()
		roll := p.rng.Float64()
		p.mu.Unlock()
		if roll < p.failRate {
			return apperrors.Wrapf(apperrors.ErrProviderUnavailable, "%s simulated outage", p.cfg.Name)
		}
	}
	return nil
}

func wordTimings(text string) []provider.Word {
	fields := strings.Fields(text)
	words := make([]provider.Word, 0, len(fields))
	for i, f := range fields {
		start := float64(i) * 0.32
		words = append(words, provider.Word{
			Word:        f,
			Start:       start,
			End:         start + 0.3,
			Probability: 0.95,
		})
	}
	return words
}

func seed(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

var answers = []string{
	"Please rest, stay hydrated, and monitor how you feel over the next day.",
	"That sounds uncomfortable. Keep track of when it started and tell your care team if it gets worse.",
	"Thank you for telling me. A nurse will review this note, and you should seek urgent care if symptoms worsen suddenly.",
}

type kbEntry struct {
	id       string
	content  string
	keywords []string
}

var knowledgeBase = []kbEntry{
	{
		id:       "headache-care",
		content:  "For mild headaches, rest in a quiet room, drink water, and limit screen time.",
		keywords: []string{"headache", "head", "migraine"},
	},
	{
		id:       "fever-watch",
		content:  "A fever above 39C that lasts more than two days needs a clinical review.",
		keywords: []string{"fever", "temperature", "hot"},
	},
	{
		id:       "hydration",
		content:  "Aim for six to eight glasses of water a day unless on a fluid restriction.",
		keywords: []string{"water", "thirsty", "dry", "hydration"},
	},
	{
		id:       "medication-timing",
		content:  "Take prescribed medication at the same time each day; set an alarm if doses are missed.",
		keywords: []string{"medication", "medicine", "pill", "dose"},
	},
	{
		id:       "sleep-hygiene",
		content:  "Keep a regular sleep schedule and avoid caffeine after mid afternoon.",
		keywords: []string{"sleep", "tired", "insomnia", "awake"},
	},
	{
		id:       "pain-escalation",
		content:  "Sudden severe pain, chest pain, or shortness of breath needs emergency care immediately.",
		keywords: []string{"pain", "chest", "breath", "severe"},
	},
}
