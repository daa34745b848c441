package harvester

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
)

// harvest is the state of a single run. Exactly one Harvester drives it.
//
// The flags and the token are read from other goroutines (Stop, RetryParams,
// Running). The counters, the last request and the last response time are
// only touched by the goroutine running the loop.
type harvest struct {
	params models.HarvestParams

	running           atomic.Bool
	explicitlyStopped atomic.Bool
	interrupted       atomic.Bool

	// token holds the last non-empty resumption token. It is kept after the
	// end of the list so retry parameters stay stable.
	token atomic.Pointer[models.ResumptionToken]

	mu  sync.Mutex
	err error

	requestCount     int64
	responseCount    int64
	lastRequest      *http.Request
	lastResponseTime *time.Time
}

func newHarvest(params models.HarvestParams) *harvest {
	return &harvest{params: params}
}

func (h *harvest) start() {
	h.running.Store(true)
}

// hasNext is checked before every request. A cancelled context counts as an
// interruption; the context itself is left as is.
func (h *harvest) hasNext(ctx context.Context) bool {
	if ctx.Err() != nil && h.running.Load() {
		h.interrupt()
	}
	return h.running.Load()
}

// requestStop is the explicit stop. Only Harvester.Stop calls it.
func (h *harvest) requestStop() {
	h.explicitlyStopped.Store(true)
	h.running.Store(false)
}

func (h *harvest) interrupt() {
	h.interrupted.Store(true)
	h.running.Store(false)
}

// stop ends the run normally, at the end of the list
func (h *harvest) stop() {
	h.running.Store(false)
}

// fail records err and ends the run. A later error is attached to the first
// one instead of replacing it.
func (h *harvest) fail(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	h.err = lib.CombineErrors(h.err, err)
	h.mu.Unlock()
	h.running.Store(false)
}

func (h *harvest) error() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *harvest) isRunning() bool {
	return h.running.Load()
}

func (h *harvest) setToken(token *models.ResumptionToken) {
	if token.IsEmpty() {
		return
	}
	t := *token
	h.token.Store(&t)
}

func (h *harvest) currentToken() *models.ResumptionToken {
	return h.token.Load()
}

// requestParams returns {verb, resumptionToken} while a token is held and
// the configured parameters otherwise.
func (h *harvest) requestParams() models.HarvestParams {
	return h.params.RetryParams(h.currentToken())
}

// retryParams returns the parameters a new run would need to continue where
// this one left off: the next request this run would have sent.
func (h *harvest) retryParams() models.HarvestParams {
	return h.requestParams()
}

func (h *harvest) recordRequest(req *http.Request) {
	h.lastRequest = req
	h.requestCount++
}

func (h *harvest) recordResponse() {
	h.responseCount++
}

func (h *harvest) state() models.HarvestState {
	return models.HarvestState{
		Running:           h.running.Load(),
		ExplicitlyStopped: h.explicitlyStopped.Load(),
		Interrupted:       h.interrupted.Load(),
	}
}

// notification builds a snapshot of the run. Nothing in it aliases harvest
// state.
func (h *harvest) notification(t models.NotificationType) models.Notification {
	n := models.Notification{
		Type:   t,
		State:  h.state(),
		Err:    h.error(),
		Params: h.params,
		Stats: map[string]int64{
			models.StatRequestCount:  h.requestCount,
			models.StatResponseCount: h.responseCount,
		},
	}
	if token := h.currentToken(); token != nil {
		copied := *token
		n.Token = &copied
	}
	if h.lastResponseTime != nil {
		ts := *h.lastResponseTime
		n.LastResponseTime = &ts
	}
	return n
}
