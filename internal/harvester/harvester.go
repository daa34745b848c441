package harvester

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
)

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// ResponseParser parses one OAI-PMH response page, passing each record to
// the callback.
type ResponseParser interface {
	Parse(r io.Reader, onRecord models.RecordFunc) (models.ParseResult, error)
}

// Handle is the part of a Harvester other goroutines may use while it runs
type Handle interface {
	Stop()
	RetryParams() (models.HarvestParams, error)
	Running() bool
}

// Harvester runs OAI-PMH harvests, one at a time: it requests a page,
// parses it, and follows resumption tokens until the list ends, the run
// fails or it is stopped.
type Harvester struct {
	doer      HTTPDoer
	parser    ResponseParser
	observers []Observer
	logger    *lib.Logger
	method    string
	userAgent string

	mu      sync.Mutex
	current *harvest
	last    *models.Notification
}

// Option configures a Harvester
type Option func(*Harvester)

// WithObservers registers passive observers, notified in order
func WithObservers(observers ...Observer) Option {
	return func(h *Harvester) { h.observers = append(h.observers, observers...) }
}

// WithLogger sets the logger
func WithLogger(logger *lib.Logger) Option {
	return func(h *Harvester) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRequestMethod selects GET (query string) or POST (form body) requests
func WithRequestMethod(method string) Option {
	return func(h *Harvester) {
		if strings.EqualFold(method, http.MethodPost) {
			h.method = http.MethodPost
		} else {
			h.method = http.MethodGet
		}
	}
}

// WithUserAgent sets the User-Agent header of every request
func WithUserAgent(ua string) Option {
	return func(h *Harvester) { h.userAgent = ua }
}

// New creates a Harvester
func New(doer HTTPDoer, parser ResponseParser, opts ...Option) *Harvester {
	h := &Harvester{
		doer:   doer,
		parser: parser,
		logger: lib.DefaultLogger,
		method: http.MethodGet,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("harvester")
	return h
}

var _ Handle = (*Harvester)(nil)

// Start runs one harvest to completion on the calling goroutine.
//
// It fails with lib.ErrHarvestInProgress if a run on this Harvester is still
// going. HarvestStarted is sent first and HarvestEnded always last, even when
// the run fails. A normal end of list, Stop and a cancelled ctx all return
// nil; otherwise the run's error is returned, with a failure of the
// HarvestEnded handler attached to it.
func (h *Harvester) Start(ctx context.Context, params models.HarvestParams, handler ResponseHandler) (err error) {
	if err := params.Validate(); err != nil {
		return lib.ErrInvalidConfig("params", err.Error())
	}
	if handler == nil {
		handler = BaseResponseHandler{}
	}

	hv, err := h.install(params)
	if err != nil {
		return err
	}

	logger := h.logger.With(lib.FieldBaseURI, params.BaseURL(), lib.FieldVerb, string(params.Verb()))
	lib.LogHarvestStarted(logger, params.BaseURL(), string(params.Verb()), params.String())

	defer func() {
		endErr := h.dispatch(handler.OnHarvestEnd, hv.notification(models.HarvestEnded))
		runErr := hv.error()
		lib.LogHarvestEnded(logger, params.BaseURL(), hv.requestCount, hv.responseCount, runErr)
		err = lib.CombineErrors(runErr, endErr)
	}()

	if err := h.dispatch(handler.OnHarvestStart, hv.notification(models.HarvestStarted)); err != nil {
		hv.fail(err)
		return nil
	}

	for hv.hasNext(ctx) {
		h.step(ctx, hv, handler, logger)
	}
	return nil
}

// install creates and starts a fresh harvest unless one is running
func (h *Harvester) install(params models.HarvestParams) (*harvest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil && h.current.isRunning() {
		return nil, lib.ErrHarvestInProgress
	}
	hv := newHarvest(params)
	hv.start()
	h.current = hv
	h.last = nil
	return hv, nil
}

// step performs one request/parse iteration. Failures are recorded on the
// harvest.
func (h *Harvester) step(ctx context.Context, hv *harvest, handler ResponseHandler, logger *lib.Logger) {
	params := hv.requestParams()
	request := params.String()

	req, err := h.newRequest(ctx, params)
	if err != nil {
		hv.fail(err)
		return
	}
	hv.recordRequest(req)

	logger.Debug("Sending request", "method", req.Method, "request", request)
	resp, err := h.doer.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			hv.interrupt()
			return
		}
		hv.fail(lib.ErrTransport(params.BaseURL(), err))
		return
	}
	if resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}

	if resp.StatusCode != http.StatusOK {
		hv.fail(lib.ErrBadStatus(resp.StatusCode, request))
		return
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		hv.fail(lib.ErrEmptyBody(request))
		return
	}

	hv.recordResponse()
	// ResponseProcessed follows every received response, also when the
	// ResponseReceived handler or the parse fails
	defer func() {
		if err := h.dispatch(handler.OnResponseProcessed, hv.notification(models.ResponseProcessed)); err != nil {
			hv.fail(err)
		}
	}()

	received := hv.notification(models.ResponseReceived)
	if err := h.dispatch(handler.OnResponseReceived, received); err != nil {
		hv.fail(err)
		return
	}

	result, err := h.parser.Parse(resp.Body, handler.RecordHandler(received))
	if err != nil {
		hv.fail(parseFailure(request, err))
		return
	}

	if result.ResponseDate != nil {
		t := *result.ResponseDate
		hv.lastResponseTime = &t
	}

	if result.Token.IsEmpty() {
		hv.stop()
		return
	}
	if result.Token.Expired(time.Now()) {
		logger.Warn("Resumption token already expired", lib.FieldToken, result.Token.Token)
	}
	hv.setToken(result.Token)
	logger.Debug("Page processed", lib.FieldCount, result.RecordCount, lib.FieldToken, result.Token.Token)
}

func (h *Harvester) newRequest(ctx context.Context, params models.HarvestParams) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	switch h.method {
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, params.BaseURL(), strings.NewReader(params.Query().Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, params.RequestURL(), nil)
	}
	if err != nil {
		return nil, lib.ErrTransport(params.BaseURL(), err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	return req, nil
}

// parseFailure keeps categorized errors (OAI errors, handler errors) and
// reports everything else as a malformed response.
func parseFailure(request string, err error) error {
	var harvestErr *lib.HarvestError
	if errors.As(err, &harvestErr) {
		return err
	}
	if errors.Is(err, lib.ErrEmptyDocument) {
		return lib.ErrEmptyBody(request)
	}
	return lib.ErrMalformedResponse(request, err)
}

// Stop asks the running harvest to end after the current iteration. It does
// not block and is a no-op when nothing runs.
func (h *Harvester) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current.isRunning() {
		h.current.requestStop()
	}
}

// RetryParams returns the parameters that continue the current or last
// harvest. It fails with lib.ErrNoHarvest before the first Start.
func (h *Harvester) RetryParams() (models.HarvestParams, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return models.HarvestParams{}, lib.ErrNoHarvest
	}
	return h.current.retryParams(), nil
}

// Running reports whether a harvest is in progress
func (h *Harvester) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil && h.current.isRunning()
}

// LastNotification returns the most recent notification of the current or
// last harvest.
func (h *Harvester) LastNotification() (models.Notification, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return models.Notification{}, false
	}
	return *h.last, true
}

func (h *Harvester) remember(n models.Notification) {
	h.mu.Lock()
	h.last = &n
	h.mu.Unlock()
}
