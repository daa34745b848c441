package models

import "time"

// NotificationType identifies a harvest lifecycle event
type NotificationType int

const (
	HarvestStarted NotificationType = iota
	ResponseReceived
	ResponseProcessed
	HarvestEnded
)

func (t NotificationType) String() string {
	switch t {
	case HarvestStarted:
		return "HARVEST_STARTED"
	case ResponseReceived:
		return "RESPONSE_RECEIVED"
	case ResponseProcessed:
		return "RESPONSE_PROCESSED"
	case HarvestEnded:
		return "HARVEST_ENDED"
	default:
		return "UNKNOWN"
	}
}

// Statistics keys
const (
	StatRequestCount  = "requestCount"
	StatResponseCount = "responseCount"
)

// HarvestState is a copy of a harvest's flags at the time of a notification
type HarvestState struct {
	Running           bool
	ExplicitlyStopped bool
	Interrupted       bool
}

// Notification is an immutable snapshot of a harvest at a lifecycle event
type Notification struct {
	Type             NotificationType
	State            HarvestState
	Err              error
	Token            *ResumptionToken
	LastResponseTime *time.Time
	Params           HarvestParams
	Stats            map[string]int64
}

// HasError reports whether the harvest had failed when the notification was built
func (n Notification) HasError() bool {
	return n.Err != nil
}

// RequestCount returns the number of requests sent so far
func (n Notification) RequestCount() int64 {
	return n.Stats[StatRequestCount]
}

// ResponseCount returns the number of responses received so far
func (n Notification) ResponseCount() int64 {
	return n.Stats[StatResponseCount]
}
