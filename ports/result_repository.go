package ports

import (
	"context"
	"time"

	"patchcert/domain/core"
	"patchcert/domain/verdict"
)

// RunRecord is the persisted header of a certification run.
type RunRecord struct {
	ID          core.RunID             `db:"id" json:"id"`
	Model       verdict.AdversaryModel `db:"model" json:"model"`
	WindowH     int                    `db:"window_h" json:"window_h"`
	WindowW     int                    `db:"window_w" json:"window_w"`
	Threshold   float64                `db:"threshold" json:"threshold"`
	ClipBound   float64                `db:"clip_bound" json:"clip_bound"`
	Fingerprint core.Hash              `db:"fingerprint" json:"fingerprint"`
	Samples     int                    `db:"samples" json:"samples"`
	Certified   int                    `db:"certified" json:"certified"`
	Vulnerable  int                    `db:"vulnerable" json:"vulnerable"`
	Incorrect   int                    `db:"incorrect" json:"incorrect"`
	StartedAt   time.Time              `db:"started_at" json:"started_at"`
	FinishedAt  time.Time              `db:"finished_at" json:"finished_at"`
}

// ResultRecord is one persisted per-sample outcome.
type ResultRecord struct {
	RunID      core.RunID     `db:"run_id" json:"run_id"`
	Position   int            `db:"position" json:"position"` // index within the run
	SampleID   core.SampleID  `db:"sample_id" json:"sample_id"`
	Label      int            `db:"label" json:"label"`
	Status     verdict.Status `db:"status" json:"status"`
	Lower      float64        `db:"lower_bound" json:"lower"`
	Upper      float64        `db:"upper_bound" json:"upper"`
	Competitor int            `db:"competitor" json:"competitor"`
	Predicted  int            `db:"predicted" json:"predicted"`
	CleanLabel int            `db:"clean_label" json:"clean_label"`
}

// ResultRepository persists certification runs for later reporting.
// ListResults returns rows in run order; an empty status matches all.
type ResultRepository interface {
	SaveRun(ctx context.Context, run *RunRecord, results []ResultRecord) error
	GetRun(ctx context.Context, id core.RunID) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	ListResults(ctx context.Context, id core.RunID, status verdict.Status) ([]ResultRecord, error)
}
