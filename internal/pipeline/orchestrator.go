package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medvoice/internal/apperrors"
	"medvoice/internal/clips"
	"medvoice/internal/events"
	"medvoice/internal/fallback"
	"medvoice/internal/metrics"
	"medvoice/internal/privacy"
	"medvoice/internal/provider"
	"medvoice/internal/transcribe"
)

// Degradation tags, in ladder order.
const (
	TagEmptyTranscription      = "empty_transcription"
	TagLanguageDetectionBudget = "language_detection_budget_exceeded"
	TagLanguageDetectionFailed = "language_detection_failed"
	TagTranslationSkipped      = "translation_skipped"
	TagTranslationFailed       = "translation_failed"
	TagContextShortened        = "context_shortened"
	TagRetrievalFailed         = "retrieval_failed"
	TagGenerationFailed        = "generation_failed"
	TagTTSCachedFallback       = "tts_used_cached_fallback"
)

// ragLimitedTag names the applied retrieval limit, e.g. rag_limited_to_3.
func ragLimitedTag(limit int) string {
	return fmt.Sprintf("rag_limited_to_%d", limit)
}

// Turn status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Config tunes the orchestrator.
type Config struct {
	Budgets    Budgets    `yaml:"budgets" json:"budgets"`
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`

	// WorkingLanguage is the language of the knowledge base and the
	// default answer language when detection is unavailable.
	WorkingLanguage string `yaml:"working_language" json:"working_language"`

	// SystemPrompt frames the generation stage.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
}

const defaultSystemPrompt = "You are a careful medical voice assistant. " +
	"Answer briefly, in plain language, and advise seeing a clinician for anything urgent."

func DefaultConfig() Config {
	return Config{
		Budgets:         DefaultBudgets(),
		Thresholds:      DefaultThresholds(),
		WorkingLanguage: "en",
		SystemPrompt:    defaultSystemPrompt,
	}
}

func (c Config) normalized() Config {
	c.Budgets = c.Budgets.normalized()
	c.Thresholds = c.Thresholds.normalized()
	if c.WorkingLanguage == "" {
		c.WorkingLanguage = "en"
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	return c
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Executor    *fallback.Executor
	Transcriber *transcribe.Parallel
	Router      *privacy.Router
	Clips       clips.Store
	Bus         *events.Bus
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// TurnRequest is one utterance to process.
type TurnRequest struct {
	SessionID     string               `json:"session_id"`
	TurnID        string               `json:"turn_id,omitempty"`
	Audio         []byte               `json:"-"`
	Format        provider.AudioFormat `json:"format,omitempty"`
	LanguageHints []string             `json:"language_hints,omitempty"`

	// StageHook, when set, is invoked synchronously as each stage begins.
	// The session layer drives its state machine from it.
	StageHook func(stage string) `json:"-"`
}

func (r TurnRequest) enterStage(stage string) {
	if r.StageHook != nil {
		r.StageHook(stage)
	}
}

// TurnResult is everything one turn produced.
type TurnResult struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`

	Transcript       string                 `json:"transcript"`
	TranscriptDetail *transcribe.Result     `json:"transcript_detail,omitempty"`
	Routing          privacy.Decision       `json:"routing"`
	Language         string                 `json:"language,omitempty"`
	Translation      *provider.Translation  `json:"translation,omitempty"`
	Context          []provider.ContextItem `json:"context,omitempty"`
	Answer           string                 `json:"answer"`
	Speech           *provider.Speech       `json:"speech,omitempty"`
	Clarification    bool                   `json:"clarification,omitempty"`

	Degradations []string      `json:"degradations,omitempty"`
	Stages       []StageTiming `json:"stages"`
	Elapsed      time.Duration `json:"elapsed"`
	Budget       time.Duration `json:"budget"`
	OverBudget   bool          `json:"over_budget"`
}

// TurnSummary is the bus payload published when a turn completes.
type TurnSummary struct {
	TurnID       string        `json:"turn_id"`
	Status       string        `json:"status"`
	Elapsed      time.Duration `json:"elapsed"`
	OverBudget   bool          `json:"over_budget"`
	Degradations []string      `json:"degradations,omitempty"`
}

// DegradationNotice is the bus payload for one applied degradation.
type DegradationNotice struct {
	Tag   string `json:"tag"`
	Stage string `json:"stage"`
}

// Orchestrator runs one voice turn through transcription, understanding and
// synthesis while spending a total latency budget. Stage budgets are
// accounting lines: a slow stage is not aborted, the shortfall degrades the
// stages after it.
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

type Option func(*Orchestrator)

// WithClock overrides the budget clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(cfg Config, deps Deps, opts ...Option) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clips == nil {
		deps.Clips = clips.DefaultStatic()
	}
	o := &Orchestrator{
		cfg:  cfg.normalized(),
		deps: deps,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunTurn processes one utterance end to end. Transcription failure fails
// the turn; every later stage degrades instead, so a turn that produced a
// transcript always produces a spoken answer.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if len(req.Audio) == 0 {
		return nil, apperrors.RequiredField("turn audio")
	}
	if req.TurnID == "" {
		req.TurnID = uuid.New().String()
	}

	led := newLedger(o.now, o.cfg.Budgets.Total)
	res := &TurnResult{
		TurnID:    req.TurnID,
		SessionID: req.SessionID,
		Budget:    o.cfg.Budgets.Total,
	}

	decision := o.deps.Router.Decide(req.SessionID, "")
	res.Routing = decision
	var filter func(*provider.Entry) bool
	if decision.Safe {
		filter = privacySafeOnly
	}

	// Transcription is the one stage that can fail the turn; without a
	// transcript there is nothing to answer.
	req.enterStage(StageTranscription)
	tr, err := o.transcribeStage(ctx, led, req, decision, filter)
	if err != nil {
		return nil, o.fail(res, led, err)
	}
	res.TranscriptDetail = tr
	res.Transcript = transcriptText(tr)

	if strings.TrimSpace(res.Transcript) == "" {
		o.degrade(led, req.SessionID, StageTranscription, TagEmptyTranscription)
		res.Clarification = true
		o.serveClip(res, clips.NameClarification)
		return res, o.finish(res, led)
	}

	// A detection in the transcript restricts the rest of this turn and
	// marks the session for the next ones.
	if det, marked := o.deps.Router.InspectResult(req.SessionID, res.Transcript); marked && !decision.Safe {
		filter = privacySafeOnly
		decision.Safe = true
		decision.Provider = o.deps.Router.SafeProvider()
		decision.Reason = privacy.ReasonPHIDetected
		decision.PHIDetected = true
		decision.Confidence = det.Confidence
		decision.Categories = det.Categories
		res.Routing = decision
	}

	req.enterStage(StageLanguageDetection)
	res.Language = o.detectLanguageStage(ctx, led, req.SessionID, res.Transcript, tr, filter)

	req.enterStage(StageTranslation)
	queryText := o.translateStage(ctx, led, req.SessionID, res, filter)

	req.enterStage(StageRetrieval)
	items := o.retrieveStage(ctx, led, req.SessionID, queryText, filter)
	if led.remaining() < o.cfg.Thresholds.ContextTruncate && len(items) > o.cfg.Thresholds.ContextMaxItems {
		items = items[:o.cfg.Thresholds.ContextMaxItems]
		o.degrade(led, req.SessionID, StageRetrieval, TagContextShortened)
	}
	res.Context = items

	req.enterStage(StageGeneration)
	answered := o.generateStage(ctx, led, req.SessionID, queryText, items, res, filter)
	if !answered {
		return res, o.finish(res, led)
	}

	req.enterStage(StageSynthesis)
	o.synthesizeStage(ctx, led, req.SessionID, res, filter)
	return res, o.finish(res, led)
}

func privacySafeOnly(e *provider.Entry) bool { return e.Config.PrivacySafe }

// transcriptText prefers the consensus text when the race agreed.
func transcriptText(tr *transcribe.Result) string {
	if tr.Consensus.Reached {
		return tr.Consensus.Text
	}
	if tr.Best != nil {
		return tr.Best.Text
	}
	return ""
}

func (o *Orchestrator) transcribeStage(ctx context.Context, led *ledger, req TurnRequest, decision privacy.Decision, filter func(*provider.Entry) bool) (*transcribe.Result, error) {
	started := o.now()
	tr, err := o.deps.Transcriber.Transcribe(ctx, provider.TranscribeRequest{
		Audio:         req.Audio,
		Format:        req.Format,
		LanguageHints: req.LanguageHints,
	}, transcribe.Options{
		Preferred: decision.Provider,
		Filter:    filter,
	})
	elapsed := o.now().Sub(started)

	timing := StageTiming{Stage: StageTranscription, Budget: o.cfg.Budgets.Transcription, Elapsed: elapsed}
	if err == nil && tr.Best != nil {
		timing.Provider = tr.Best.Provider
	}
	led.record(timing)
	o.deps.Metrics.ObserveStage(StageTranscription, elapsed)
	return tr, err
}

// detectLanguageStage trusts a language reported by transcription. Detection
// is attempted only while the remaining budget exceeds its own stage budget,
// and runs under that budget as a hard window; a skip, overrun or failure
// assumes the working language.
func (o *Orchestrator) detectLanguageStage(ctx context.Context, led *ledger, sessionID, text string, tr *transcribe.Result, filter func(*provider.Entry) bool) string {
	budget := o.cfg.Budgets.LanguageDetection
	if tr.Best != nil && tr.Best.Language != "" {
		led.record(StageTiming{Stage: StageLanguageDetection, Budget: budget, Skipped: true})
		return tr.Best.Language
	}

	if led.remaining() <= budget {
		led.record(StageTiming{Stage: StageLanguageDetection, Budget: budget, Skipped: true})
		o.degrade(led, sessionID, StageLanguageDetection, TagLanguageDetectionBudget)
		return o.cfg.WorkingLanguage
	}

	stageCtx, cancel := context.WithTimeout(ctx, budget)
	started := o.now()
	lang, outcome, err := fallback.Run(stageCtx, o.deps.Executor, provider.KindLanguageDetection,
		fallback.Options{Filter: filter, PerCallTimeout: budget},
		func(callCtx context.Context, e *provider.Entry) (string, error) {
			impl, ok := e.LanguageDetector()
			if !ok {
				return "", apperrors.Newf("provider %s does not detect language", e.Config.Name)
			}
			return impl.DetectLanguage(callCtx, text)
		})
	cancel()
	elapsed := o.now().Sub(started)

	led.record(StageTiming{
		Stage:    StageLanguageDetection,
		Budget:   budget,
		Elapsed:  elapsed,
		Provider: outcome.Provider,
		Fallback: outcome.UsedFallback,
	})
	o.deps.Metrics.ObserveStage(StageLanguageDetection, elapsed)

	if err != nil {
		if errors.Is(err, apperrors.ErrProviderTimeout) || errors.Is(err, context.DeadlineExceeded) {
			o.degrade(led, sessionID, StageLanguageDetection, TagLanguageDetectionBudget)
		} else {
			o.degrade(led, sessionID, StageLanguageDetection, TagLanguageDetectionFailed)
		}
		return o.cfg.WorkingLanguage
	}
	if lang == "" {
		return o.cfg.WorkingLanguage
	}
	return lang
}

// translateStage brings the transcript into the working language. It is
// skipped outright unless the remaining budget covers translation and still
// leaves room for synthesis, so translating never costs the turn its voice.
// A failure keeps the original text and says so on the translation record.
func (o *Orchestrator) translateStage(ctx context.Context, led *ledger, sessionID string, res *TurnResult, filter func(*provider.Entry) bool) string {
	text := res.Transcript
	budget := o.cfg.Budgets.Translation
	if strings.EqualFold(res.Language, o.cfg.WorkingLanguage) {
		return text
	}

	if led.remaining() < budget+o.cfg.Budgets.Synthesis {
		led.record(StageTiming{Stage: StageTranslation, Budget: budget, Skipped: true})
		o.degrade(led, sessionID, StageTranslation, TagTranslationSkipped)
		return text
	}

	stageCtx, cancel := context.WithTimeout(ctx, budget)
	started := o.now()
	translation, outcome, err := fallback.Run(stageCtx, o.deps.Executor, provider.KindTranslation,
		fallback.Options{Filter: filter},
		func(callCtx context.Context, e *provider.Entry) (*provider.Translation, error) {
			impl, ok := e.Translator()
			if !ok {
				return nil, apperrors.Newf("provider %s does not translate", e.Config.Name)
			}
			return impl.Translate(callCtx, provider.TranslateRequest{
				Text:           text,
				SourceLanguage: res.Language,
				TargetLanguage: o.cfg.WorkingLanguage,
			})
		})
	cancel()
	elapsed := o.now().Sub(started)

	led.record(StageTiming{
		Stage:    StageTranslation,
		Budget:   budget,
		Elapsed:  elapsed,
		Provider: outcome.Provider,
		Fallback: outcome.UsedFallback,
	})
	o.deps.Metrics.ObserveStage(StageTranslation, elapsed)

	if err != nil {
		o.degrade(led, sessionID, StageTranslation, TagTranslationFailed)
		res.Translation = &provider.Translation{
			Text:           text,
			SourceLanguage: res.Language,
			TargetLanguage: o.cfg.WorkingLanguage,
			Failed:         true,
			ErrorMessage:   err.Error(),
		}
		return text
	}

	res.Translation = translation
	// A provider may deliver a translation that reports its own failure;
	// the turn continues on the original text.
	if translation.Failed || translation.Text == "" {
		if translation.Failed {
			o.degrade(led, sessionID, StageTranslation, TagTranslationFailed)
		}
		return text
	}
	return translation.Text
}

// retrieveStage fetches knowledge-base context, narrowing the result limit
// as the budget drains. Failure yields an empty context, not a failed turn.
func (o *Orchestrator) retrieveStage(ctx context.Context, led *ledger, sessionID, query string, filter func(*provider.Entry) bool) []provider.ContextItem {
	budget := o.cfg.Budgets.Retrieval
	limit := o.cfg.Thresholds.RetrievalLimit(led.remaining())
	if limit < o.cfg.Thresholds.RetrievalFullLimit {
		o.degrade(led, sessionID, StageRetrieval, ragLimitedTag(limit))
	}

	started := o.now()
	items, outcome, err := fallback.Run(ctx, o.deps.Executor, provider.KindRetrieval,
		fallback.Options{Filter: filter},
		func(callCtx context.Context, e *provider.Entry) ([]provider.ContextItem, error) {
			impl, ok := e.Retriever()
			if !ok {
				return nil, apperrors.Newf("provider %s does not retrieve", e.Config.Name)
			}
			return impl.Retrieve(callCtx, query, limit)
		})
	elapsed := o.now().Sub(started)

	led.record(StageTiming{
		Stage:    StageRetrieval,
		Budget:   budget,
		Elapsed:  elapsed,
		Provider: outcome.Provider,
		Fallback: outcome.UsedFallback,
	})
	o.deps.Metrics.ObserveStage(StageRetrieval, elapsed)

	if err != nil {
		o.degrade(led, sessionID, StageRetrieval, TagRetrievalFailed)
		return nil
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// generateStage produces the answer text. On failure the turn still speaks:
// the unavailable clip becomes both answer and audio, and synthesis is
// skipped. Returns false when the clip already answered.
func (o *Orchestrator) generateStage(ctx context.Context, led *ledger, sessionID, query string, items []provider.ContextItem, res *TurnResult, filter func(*provider.Entry) bool) bool {
	budget := o.cfg.Budgets.Generation

	started := o.now()
	answer, outcome, err := fallback.Run(ctx, o.deps.Executor, provider.KindGeneration,
		fallback.Options{Filter: filter},
		func(callCtx context.Context, e *provider.Entry) (string, error) {
			impl, ok := e.Generator()
			if !ok {
				return "", apperrors.Newf("provider %s does not generate", e.Config.Name)
			}
			return impl.Generate(callCtx, provider.GenerateRequest{
				Prompt:   query,
				System:   o.cfg.SystemPrompt,
				Context:  items,
				Language: res.Language,
			})
		})
	elapsed := o.now().Sub(started)

	led.record(StageTiming{
		Stage:    StageGeneration,
		Budget:   budget,
		Elapsed:  elapsed,
		Provider: outcome.Provider,
		Fallback: outcome.UsedFallback,
	})
	o.deps.Metrics.ObserveStage(StageGeneration, elapsed)

	if err != nil {
		o.degrade(led, sessionID, StageGeneration, TagGenerationFailed)
		o.serveClip(res, clips.NameUnavailable)
		return false
	}
	res.Answer = answer
	return true
}

// synthesizeStage renders the answer as speech under a hard window of its
// stage budget, capped by what remains. Timeout or failure falls back to the
// cached clip so the user always hears something.
func (o *Orchestrator) synthesizeStage(ctx context.Context, led *ledger, sessionID string, res *TurnResult, filter func(*provider.Entry) bool) {
	budget := o.cfg.Budgets.Synthesis

	window := led.stageWindow(budget)
	if window <= 0 {
		led.record(StageTiming{Stage: StageSynthesis, Budget: budget, Skipped: true})
		o.degrade(led, sessionID, StageSynthesis, TagTTSCachedFallback)
		if clip, ok := o.deps.Clips.Clip(clips.NameUnavailable); ok {
			res.Speech = clipSpeech(clip)
		}
		return
	}

	stageCtx, cancel := context.WithTimeout(ctx, window)
	started := o.now()
	speech, outcome, err := fallback.Run(stageCtx, o.deps.Executor, provider.KindSynthesis,
		fallback.Options{Filter: filter},
		func(callCtx context.Context, e *provider.Entry) (*provider.Speech, error) {
			impl, ok := e.Synthesizer()
			if !ok {
				return nil, apperrors.Newf("provider %s does not synthesize", e.Config.Name)
			}
			return impl.Synthesize(callCtx, provider.SynthesizeRequest{
				Text:     res.Answer,
				Language: res.Language,
				Format:   provider.FormatWAV,
			})
		})
	cancel()
	elapsed := o.now().Sub(started)

	led.record(StageTiming{
		Stage:    StageSynthesis,
		Budget:   budget,
		Elapsed:  elapsed,
		Provider: outcome.Provider,
		Fallback: outcome.UsedFallback,
	})
	o.deps.Metrics.ObserveStage(StageSynthesis, elapsed)

	if err != nil {
		o.degrade(led, sessionID, StageSynthesis, TagTTSCachedFallback)
		if clip, ok := o.deps.Clips.Clip(clips.NameUnavailable); ok {
			res.Speech = clipSpeech(clip)
		}
		return
	}
	res.Speech = speech
}

// serveClip answers the turn from a cached clip.
func (o *Orchestrator) serveClip(res *TurnResult, name string) {
	clip, ok := o.deps.Clips.Clip(name)
	if !ok {
		o.deps.Logger.Warn("cached clip missing", zap.String("clip", name))
		return
	}
	res.Answer = clip.Text
	res.Speech = clipSpeech(clip)
}

func clipSpeech(c clips.Clip) *provider.Speech {
	return &provider.Speech{
		Audio:    c.Audio,
		Format:   c.Format,
		Provider: "clips",
		Cached:   true,
	}
}

// degrade applies one degradation tag: ledger, metrics, event, log.
func (o *Orchestrator) degrade(led *ledger, sessionID, stage, tag string) {
	if !led.tag(tag) {
		return
	}
	o.deps.Metrics.Degradation(tag)
	o.deps.Bus.Publish(events.Event{
		Type:      events.TypeDegradation,
		SessionID: sessionID,
		Payload:   DegradationNotice{Tag: tag, Stage: stage},
	})
	o.deps.Logger.Warn("degradation applied",
		zap.String("session_id", sessionID),
		zap.String("stage", stage),
		zap.String("tag", tag))
}

func (o *Orchestrator) finish(res *TurnResult, led *ledger) error {
	res.Elapsed = led.elapsed()
	res.OverBudget = res.Elapsed > led.total
	res.Stages = led.stages
	res.Degradations = led.tags
	res.Status = StatusOK
	if len(res.Degradations) > 0 {
		res.Status = StatusDegraded
	}

	o.deps.Metrics.ObserveTurn(res.Status, res.Elapsed)
	o.deps.Bus.Publish(events.Event{
		Type:      events.TypeTurnCompleted,
		SessionID: res.SessionID,
		Payload: TurnSummary{
			TurnID:       res.TurnID,
			Status:       res.Status,
			Elapsed:      res.Elapsed,
			OverBudget:   res.OverBudget,
			Degradations: res.Degradations,
		},
	})
	o.deps.Logger.Info("turn completed",
		zap.String("session_id", res.SessionID),
		zap.String("turn_id", res.TurnID),
		zap.String("status", res.Status),
		zap.Duration("elapsed", res.Elapsed),
		zap.Bool("over_budget", res.OverBudget),
		zap.Strings("degradations", res.Degradations))
	return nil
}

func (o *Orchestrator) fail(res *TurnResult, led *ledger, err error) error {
	res.Status = StatusError
	res.Elapsed = led.elapsed()
	res.Stages = led.stages

	o.deps.Metrics.ObserveTurn(StatusError, res.Elapsed)
	o.deps.Bus.Publish(events.Event{
		Type:      events.TypeTurnCompleted,
		SessionID: res.SessionID,
		Payload: TurnSummary{
			TurnID:  res.TurnID,
			Status:  StatusError,
			Elapsed: res.Elapsed,
		},
	})
	o.deps.Logger.Error("turn failed",
		zap.String("session_id", res.SessionID),
		zap.String("turn_id", res.TurnID),
		zap.Duration("elapsed", res.Elapsed),
		zap.Error(err))
	return err
}
