package pipeline

import (
	"github.com/trobanga/oaiharvest/internal/harvester"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
)

// RecordQueueHandler is the response handler of a job's producers. It
// packages every parsed record and offers it to the job queue.
type RecordQueueHandler struct {
	harvester.BaseResponseHandler

	job     *HarvestJob
	baseURL string
}

// NewRecordQueueHandler creates the handler for one repository
func NewRecordQueueHandler(job *HarvestJob, baseURL string) *RecordQueueHandler {
	return &RecordQueueHandler{job: job, baseURL: baseURL}
}

// OnHarvestStart refuses to begin once the job has stopped, including a Stop
// that landed before the harvester installed its run.
func (h *RecordQueueHandler) OnHarvestStart(models.Notification) error {
	if !h.job.running.Load() {
		return lib.ErrJobStopped
	}
	return nil
}

// RecordHandler returns a callback that enqueues each record. The callback
// fails with lib.ErrJobStopped once the job stops accepting records.
func (h *RecordQueueHandler) RecordHandler(models.Notification) models.RecordFunc {
	return func(rec models.OAIRecord) error {
		return h.job.offer(models.NewHarvestedRecord(h.baseURL, rec))
	}
}
