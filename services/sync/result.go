package sync

import (
	"time"

	"stocksync/models"
)

// CategoryResult records the outcome of one table category within a
// sync attempt. A category's failure never aborts its siblings.
type CategoryResult struct {
	Name     string `json:"name"`
	Table    string `json:"table"`
	Inserted int    `json:"inserted"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

// SyncResult is the outcome of one loader or updater invocation for one
// instrument.
type SyncResult struct {
	Symbol          string           `json:"symbol"`
	AttemptType     string           `json:"attempt_type"`
	Status          string           `json:"status"`
	RecordsInserted int              `json:"records_inserted"`
	RecordsUpdated  int              `json:"records_updated"`
	RecordsFailed   int              `json:"records_failed"`
	QualityScore    float64          `json:"quality_score"`
	StartedAt       time.Time        `json:"started_at"`
	Duration        time.Duration    `json:"duration"`
	Categories      []CategoryResult `json:"categories,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// addCategory folds one category outcome into the running totals.
func (r *SyncResult) addCategory(cr CategoryResult) {
	r.Categories = append(r.Categories, cr)
	r.RecordsInserted += cr.Inserted
	r.RecordsFailed += cr.Failed
}

// finalize stamps the duration and derives the overall status and
// quality score from the per-category outcomes.
func (r *SyncResult) finalize() {
	r.Duration = time.Since(r.StartedAt)

	total := len(r.Categories)
	if total == 0 {
		if r.Status == "" {
			r.Status = models.SyncStatusFailed
		}
		return
	}

	succeeded := 0
	for _, cr := range r.Categories {
		if cr.Error == "" && cr.Failed == 0 {
			succeeded++
		}
	}

	r.QualityScore = float64(succeeded) / float64(total)
	attempted := r.RecordsInserted + r.RecordsFailed
	if attempted > 0 {
		r.QualityScore *= float64(r.RecordsInserted) / float64(attempted)
	}

	switch {
	case succeeded == total:
		r.Status = models.SyncStatusSuccess
	case succeeded == 0:
		r.Status = models.SyncStatusFailed
	default:
		r.Status = models.SyncStatusPartial
	}
}

// Attempt converts the result into an append-only audit record.
func (r *SyncResult) Attempt(instrumentID uint) *models.SyncAttempt {
	return &models.SyncAttempt{
		InstrumentID:    instrumentID,
		Symbol:          r.Symbol,
		AttemptType:     r.AttemptType,
		StartedAt:       r.StartedAt,
		DurationMS:      r.Duration.Milliseconds(),
		RecordsInserted: r.RecordsInserted,
		RecordsUpdated:  r.RecordsUpdated,
		RecordsFailed:   r.RecordsFailed,
		QualityScore:    r.QualityScore,
		Status:          r.Status,
		ErrorMessage:    r.ErrorMessage,
	}
}
