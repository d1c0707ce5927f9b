package privacy

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"medvoice/internal/events"
	"medvoice/internal/metrics"
)

// Policy selects the privacy routing strategy.
type Policy string

const (
	// PolicyAlwaysLocal routes every turn inside the privacy boundary.
	PolicyAlwaysLocal Policy = "always_local"
	// PolicyAlwaysCloud never restricts routing.
	PolicyAlwaysCloud Policy = "always_cloud"
	// PolicyPHIAware inspects available text and routes PHI to the safe
	// boundary. This is the default.
	PolicyPHIAware Policy = "phi_aware"
	// PolicySessionBased routes on the session flag only, without content
	// inspection.
	PolicySessionBased Policy = "session_based"
	// PolicyHybrid routes optimistically, then inspects the transcript and
	// downgrades the rest of the session on a detection.
	PolicyHybrid Policy = "hybrid"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyAlwaysLocal, PolicyAlwaysCloud, PolicyPHIAware, PolicySessionBased, PolicyHybrid:
		return true
	default:
		return false
	}
}

// Decision reasons.
const (
	ReasonSessionMarkedPHI = "session_marked_phi"
	ReasonPHIDetected      = "phi_detected"
	ReasonNoPHIDetected    = "no_phi_detected"
	ReasonPolicyLocal      = "policy_always_local"
	ReasonPolicyCloud      = "policy_always_cloud"
	ReasonSessionDefault   = "session_default"
	ReasonHybridDefault    = "hybrid_default"
)

// Decision is the routing verdict for one turn.
type Decision struct {
	SessionID string `json:"session_id"`
	Policy    Policy `json:"policy"`

	// Provider is the preferred provider for the turn; empty means no
	// preference beyond the pool.
	Provider string `json:"provider,omitempty"`

	// Safe restricts the candidate pool to privacy-safe providers.
	Safe bool `json:"safe"`

	Reason      string   `json:"reason"`
	PHIDetected bool     `json:"phi_detected"`
	Confidence  float64  `json:"confidence,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}

// RouterConfig tunes privacy routing.
type RouterConfig struct {
	Policy Policy `yaml:"policy" json:"policy"`

	// SafeProvider is preferred for turns routed to the privacy boundary.
	SafeProvider string `yaml:"safe_provider" json:"safe_provider"`

	// DefaultProvider is preferred for unrestricted turns.
	DefaultProvider string `yaml:"default_provider" json:"default_provider"`

	Detector DetectorConfig `yaml:"detector" json:"detector"`
}

// DefaultRouterConfig returns PHI-aware routing with stock detection.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Policy:   PolicyPHIAware,
		Detector: DefaultDetectorConfig(),
	}
}

type sessionFlag struct {
	categories []string
	markedAt   time.Time
}

// Router decides, per turn, whether providers outside the privacy boundary
// may see the content. A detection marks the session; the mark is sticky and
// only ClearSession removes it.
type Router struct {
	cfg      RouterConfig
	detector *Detector
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionFlag
}

// NewRouter creates a router. bus and m may be shared with the rest of the
// pipeline; the router publishes detection events without content.
func NewRouter(cfg RouterConfig, detector *Detector, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) *Router {
	if cfg.Policy == "" {
		cfg.Policy = PolicyPHIAware
	}
	return &Router{
		cfg:      cfg,
		detector: detector,
		bus:      bus,
		metrics:  m,
		logger:   logger,
		sessions: make(map[string]*sessionFlag),
	}
}

// Policy returns the active routing policy.
func (r *Router) Policy() Policy { return r.cfg.Policy }

// SafeProvider names the preferred provider inside the privacy boundary.
func (r *Router) SafeProvider() string { return r.cfg.SafeProvider }

// Decide routes one turn given the text available before transcription,
// which may be empty for a pure audio turn.
func (r *Router) Decide(sessionID, text string) Decision {
	d := Decision{SessionID: sessionID, Policy: r.cfg.Policy}

	switch r.cfg.Policy {
	case PolicyAlwaysLocal:
		d.Safe = true
		d.Reason = ReasonPolicyLocal

	case PolicyAlwaysCloud:
		d.Reason = ReasonPolicyCloud

	case PolicySessionBased:
		if marked, categories := r.marked(sessionID); marked {
			d.Safe = true
			d.PHIDetected = true
			d.Reason = ReasonSessionMarkedPHI
			d.Categories = categories
		} else {
			d.Reason = ReasonSessionDefault
		}

	case PolicyHybrid:
		if marked, categories := r.marked(sessionID); marked {
			d.Safe = true
			d.PHIDetected = true
			d.Reason = ReasonSessionMarkedPHI
			d.Categories = categories
		} else {
			d.Reason = ReasonHybridDefault
		}

	default: // PolicyPHIAware
		if marked, categories := r.marked(sessionID); marked {
			d.Safe = true
			d.PHIDetected = true
			d.Reason = ReasonSessionMarkedPHI
			d.Categories = categories
			break
		}
		det := r.detector.Detect(text)
		if det.Detected {
			d.Safe = true
			d.PHIDetected = true
			d.Reason = ReasonPHIDetected
			d.Confidence = det.Confidence
			d.Categories = det.Categories
			r.mark(sessionID, det, ReasonPHIDetected)
		} else {
			d.Reason = ReasonNoPHIDetected
		}
	}

	if d.Safe {
		d.Provider = r.cfg.SafeProvider
	} else {
		d.Provider = r.cfg.DefaultProvider
	}
	return d
}

// InspectResult scans a transcript under the content-inspecting policies
// (phi_aware, hybrid) and marks the session on a detection. The returned
// bool reports whether the rest of the turn must move to the safe pool.
func (r *Router) InspectResult(sessionID, transcript string) (Detection, bool) {
	switch r.cfg.Policy {
	case PolicyPHIAware, PolicyHybrid:
	default:
		return Detection{}, false
	}

	if marked, _ := r.marked(sessionID); marked {
		return Detection{Detected: true}, true
	}

	det := r.detector.Detect(transcript)
	if det.Detected {
		r.mark(sessionID, det, ReasonPHIDetected)
	}
	return det, det.Detected
}

// MarkSession flags a session as PHI-bearing, e.g. from an operator action.
func (r *Router) MarkSession(sessionID string, categories []string) {
	r.mark(sessionID, Detection{Detected: true, Categories: categories, Confidence: 1.0}, ReasonSessionMarkedPHI)
}

// ClearSession removes the PHI flag. The flag never expires on its own.
func (r *Router) ClearSession(sessionID string) {
	r.mu.Lock()
	_, existed := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if existed {
		r.logger.Info("session phi flag cleared", zap.String("session_id", sessionID))
	}
}

// IsMarked reports whether the session carries the PHI flag.
func (r *Router) IsMarked(sessionID string) bool {
	marked, _ := r.marked(sessionID)
	return marked
}

func (r *Router) marked(sessionID string) (bool, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	flag, ok := r.sessions[sessionID]
	if !ok {
		return false, nil
	}
	return true, append([]string{}, flag.categories...)
}

func (r *Router) mark(sessionID string, det Detection, reason string) {
	r.mu.Lock()
	_, already := r.sessions[sessionID]
	if !already {
		r.sessions[sessionID] = &sessionFlag{
			categories: append([]string{}, det.Categories...),
			markedAt:   time.Now(),
		}
	}
	r.mu.Unlock()

	if already {
		return
	}

	r.metrics.PHIDetected(reason)
	r.bus.Publish(events.Event{
		Type:      events.TypePHIDetected,
		SessionID: sessionID,
		Payload: PHINotice{
			Reason:     reason,
			Confidence: det.Confidence,
			Categories: det.Categories,
		},
	})
	r.logger.Info("session routed to privacy boundary",
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
		zap.Float64("confidence", det.Confidence),
		zap.Strings("categories", det.Categories))
}

// PHINotice is the content-free payload of a PHI detection event.
type PHINotice struct {
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence,omitempty"`
	Categories []string `json:"categories,omitempty"`
}
