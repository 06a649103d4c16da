package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tracker mints a short correlation id per signal and stamps component
// boundary markers on the shared logger. It holds no state beyond the
// signal -> id mapping.
type Tracker struct {
	mu  sync.RWMutex
	ids map[string]string
}

func NewTracker() *Tracker {
	return &Tracker{ids: make(map[string]string)}
}

// ID returns the 8-char correlation id for a signal, deriving and caching it
// on first use. The id is stable across re-deliveries of the same signal.
func (t *Tracker) ID(signalID string) string {
	t.mu.RLock()
	id, ok := t.ids[signalID]
	t.mu.RUnlock()
	if ok {
		return id
	}

	sum := sha256.Sum256([]byte(signalID))
	id = hex.EncodeToString(sum[:4])

	t.mu.Lock()
	t.ids[signalID] = id
	t.mu.Unlock()
	return id
}

// Release drops the mapping once a signal reaches a terminal classification.
func (t *Tracker) Release(signalID string) {
	t.mu.Lock()
	delete(t.ids, signalID)
	t.mu.Unlock()
}

// Logger returns a logger tagged with the flow id.
func (t *Tracker) Logger(signalID string) zerolog.Logger {
	return log.With().Str("flow", t.ID(signalID)).Logger()
}

// Start marks entry into a component for a signal's flow.
func (t *Tracker) Start(signalID, service, operation string) {
	log.Debug().
		Str("flow", t.ID(signalID)).
		Str("service", service).
		Str("op", operation).
		Str("marker", "start").
		Msg("flow")
}

// Step marks an intermediate step inside a component.
func (t *Tracker) Step(signalID, service, step string) {
	log.Debug().
		Str("flow", t.ID(signalID)).
		Str("service", service).
		Str("step", step).
		Str("marker", "step").
		Msg("flow")
}

// Complete marks a component finishing successfully.
func (t *Tracker) Complete(signalID, service, operation string, elapsed time.Duration) {
	log.Debug().
		Str("flow", t.ID(signalID)).
		Str("service", service).
		Str("op", operation).
		Str("marker", "complete").
		Dur("elapsed", elapsed).
		Msg("flow")
}

// Fail marks a component failing; the error is logged with the flow id so the
// whole pipeline for one signal can be grepped by a single token.
func (t *Tracker) Fail(signalID, service, operation string, err error) {
	log.Warn().
		Str("flow", t.ID(signalID)).
		Str("service", service).
		Str("op", operation).
		Str("marker", "fail").
		Err(err).
		Msg("flow")
}
