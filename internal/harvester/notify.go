package harvester

import (
	"fmt"

	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
)

// ResponseHandler is the primary consumer of a harvest. Its errors end the
// run.
type ResponseHandler interface {
	OnHarvestStart(models.Notification) error
	OnResponseReceived(models.Notification) error
	OnResponseProcessed(models.Notification) error
	OnHarvestEnd(models.Notification) error

	// RecordHandler returns the callback for the records of the response
	// described by n. A nil callback discards them.
	RecordHandler(n models.Notification) models.RecordFunc
}

// BaseResponseHandler implements every ResponseHandler method as a no-op.
// Embed it and override what you need.
type BaseResponseHandler struct{}

func (BaseResponseHandler) OnHarvestStart(models.Notification) error      { return nil }
func (BaseResponseHandler) OnResponseReceived(models.Notification) error  { return nil }
func (BaseResponseHandler) OnResponseProcessed(models.Notification) error { return nil }
func (BaseResponseHandler) OnHarvestEnd(models.Notification) error        { return nil }
func (BaseResponseHandler) RecordHandler(models.Notification) models.RecordFunc {
	return nil
}

// Observer watches a harvest passively. Observer errors are logged and
// never affect the run.
type Observer interface {
	Notify(models.Notification) error
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(models.Notification) error

// Notify calls f(n)
func (f ObserverFunc) Notify(n models.Notification) error {
	return f(n)
}

// LoggingObserver logs every notification at debug level
func LoggingObserver(logger *lib.Logger) Observer {
	return ObserverFunc(func(n models.Notification) error {
		logger.Debug("Harvest notification",
			"type", n.Type.String(),
			lib.FieldBaseURI, n.Params.BaseURL(),
			"requests", n.RequestCount(),
			"responses", n.ResponseCount(),
			"running", n.State.Running,
		)
		return nil
	})
}

// dispatch delivers n to the handler callback, then to every observer in
// registration order. The handler's error (or panic) is returned; observer
// failures are only logged.
func (h *Harvester) dispatch(deliver func(models.Notification) error, n models.Notification) error {
	err := safeCall(deliver, n)
	for i, obs := range h.observers {
		if obsErr := safeCall(obs.Notify, n); obsErr != nil {
			h.logger.Error("Observer failed",
				"observer", i,
				"type", n.Type.String(),
				lib.FieldBaseURI, n.Params.BaseURL(),
				lib.FieldError, obsErr,
			)
		}
	}
	h.remember(n)
	if err != nil {
		return lib.ErrHandler(n.Type.String(), err)
	}
	return nil
}

func safeCall(fn func(models.Notification) error, n models.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(n)
}
