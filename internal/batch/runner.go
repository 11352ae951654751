package batch

import (
	"context"
	stderrors "errors"
	"io"
	"sort"
	"sync"
	"time"

	"patchcert/app"
	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
	"patchcert/internal"
	"patchcert/internal/errors"
	"patchcert/internal/metrics"
	"patchcert/ports"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// SampleResult is the outcome for one successfully certified sample.
type SampleResult struct {
	SampleID   core.SampleID   `json:"sample_id"`
	Label      int             `json:"label"`
	Verdict    verdict.Verdict `json:"verdict"`
	Predicted  int             `json:"predicted"`
	Undefended int             `json:"undefended"`
}

// SampleFailure records a sample the defense rejected.
type SampleFailure struct {
	SampleID core.SampleID `json:"sample_id"`
	Code     string        `json:"code"`
	Err      error         `json:"-"`
}

// Run is the result of certifying every sample from one source.
type Run struct {
	ID          core.RunID             `json:"id"`
	Fingerprint core.Hash              `json:"fingerprint"`
	Model       verdict.AdversaryModel `json:"model"`
	Window      grid.WindowShape       `json:"window"`
	Params      map[string]interface{} `json:"params"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Results     []SampleResult         `json:"results"`
	Failures    []SampleFailure        `json:"failures"`
	Stopped     bool                   `json:"stopped"` // StopAfter decisive samples were reached
	Summary     *Summary               `json:"summary"`
}

// Options tune a Runner.
type Options struct {
	Workers   int
	StopAfter int                    // stop once this many vulnerable+certified samples are seen; 0 disables
	Params    map[string]interface{} // fingerprinted into Run.Fingerprint
}

// Runner certifies a stream of samples concurrently against one defense.
type Runner struct {
	service *app.DefenseService
	opts    Options
	logger  *internal.Logger
	metrics *metrics.Metrics
}

// NewRunner creates a runner. A nil logger falls back to LOG_LEVEL; nil
// metrics disables instrumentation.
func NewRunner(service *app.DefenseService, opts Options, logger *internal.Logger, m *metrics.Metrics) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &Runner{
		service: service,
		opts:    opts,
		logger:  logger.With("batch"),
		metrics: m,
	}
}

type indexedResult struct {
	index int
	SampleResult
}

type indexedFailure struct {
	index int
	SampleFailure
}

// Run reads source to exhaustion (or until StopAfter decisive samples) and
// certifies each sample on a bounded worker pool. Results are returned in
// source order regardless of completion order. Per-sample failures are
// recorded on the run and do not abort it, including samples the source could
// not decode; source read errors and context cancellation do.
func (r *Runner) Run(ctx context.Context, source ports.GridSource) (*Run, error) {
	run := &Run{
		ID:        core.NewRunID(),
		Model:     r.service.Model(),
		Window:    r.service.Window(),
		Params:    r.runParams(),
		StartedAt: time.Now(),
	}
	run.Fingerprint = core.ComputeParamsHash(run.Params)
	r.logger.Info("run %s started (model=%s window=%s workers=%d fingerprint=%s)",
		run.ID, run.Model, run.Window, r.opts.Workers, run.Fingerprint.Short())

	sem := semaphore.NewWeighted(int64(r.opts.Workers))
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu       sync.Mutex
		results  []indexedResult
		failures []indexedFailure
		decisive int
		classes  int
	)
	reachedStop := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return r.opts.StopAfter > 0 && decisive >= r.opts.StopAfter
	}

	var readErr error
	for index := 0; ; index++ {
		if reachedStop() {
			break
		}
		sample, err := source.Next(gctx)
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			readErr = err
			break
		}

		i := index
		g.Go(func() error {
			defer sem.Release(1)
			var (
				outcome *app.Outcome
				err     error
			)
			start := time.Now()
			switch {
			case sample.Err != nil:
				err = sample.Err
			case sample.Evidence == nil:
				err = errors.InvalidInput("sample has no evidence grid")
			default:
				outcome, err = r.service.Certify(sample.Evidence, sample.Label)
			}
			elapsed := time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			if sample.Evidence != nil && sample.Evidence.Classes() > classes {
				classes = sample.Evidence.Classes()
			}
			if err != nil {
				code := errors.GetCode(err)
				r.metrics.ObserveFailure(run.Model, code)
				r.logger.Warn("sample %s rejected: %v", sample.ID, err)
				failures = append(failures, indexedFailure{i, SampleFailure{SampleID: sample.ID, Code: code, Err: err}})
				return nil
			}
			r.metrics.ObserveVerdict(run.Model, outcome.Verdict.Status, elapsed)
			if outcome.Verdict.Status != verdict.StatusIncorrect {
				decisive++
			}
			results = append(results, indexedResult{i, SampleResult{
				SampleID:   sample.ID,
				Label:      sample.Label,
				Verdict:    outcome.Verdict,
				Predicted:  outcome.Predicted,
				Undefended: outcome.Undefended,
			}})
			return nil
		})
	}

	if err := g.Wait(); err != nil && readErr == nil {
		readErr = err
	}
	if readErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			readErr = ctxErr
		}
		r.logger.Error("run %s aborted: %v", run.ID, readErr)
		return nil, errors.Wrapf(readErr, "run %s aborted", run.ID)
	}

	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })
	sort.Slice(failures, func(a, b int) bool { return failures[a].index < failures[b].index })
	cut, stopped := r.stopIndex(results)
	run.Stopped = stopped

	run.Results = make([]SampleResult, 0, len(results))
	for _, res := range results {
		if res.index <= cut {
			run.Results = append(run.Results, res.SampleResult)
		}
	}
	run.Failures = make([]SampleFailure, 0, len(failures))
	for _, f := range failures {
		if f.index <= cut {
			run.Failures = append(run.Failures, f.SampleFailure)
		}
	}

	run.FinishedAt = time.Now()
	run.Summary = Summarize(run.Results, len(run.Failures), classes)
	r.logger.Info("run %s finished: %d samples, %d failed, certified accuracy %.4f in %v",
		run.ID, run.Summary.Samples, run.Summary.Failed, run.Summary.CertifiedAccuracy,
		run.FinishedAt.Sub(run.StartedAt))
	return run, nil
}

// stopIndex returns the source index of the StopAfter-th decisive result, so
// that samples dispatched concurrently past it are dropped and the run matches
// a sequential one. When the stop is never reached every index is kept.
func (r *Runner) stopIndex(sorted []indexedResult) (int, bool) {
	const all = int(^uint(0) >> 1)
	if r.opts.StopAfter <= 0 {
		return all, false
	}
	seen := 0
	for _, res := range sorted {
		if res.Verdict.Status != verdict.StatusIncorrect {
			seen++
			if seen == r.opts.StopAfter {
				return res.index, true
			}
		}
	}
	return all, false
}

func (r *Runner) runParams() map[string]interface{} {
	params := make(map[string]interface{}, len(r.opts.Params)+2)
	for k, v := range r.opts.Params {
		params[k] = v
	}
	params["model"] = string(r.service.Model())
	params["window"] = r.service.Window().String()
	return params
}

// Records converts the run into its persisted form.
func (run *Run) Records(threshold, clipBound float64) (*ports.RunRecord, []ports.ResultRecord) {
	header := &ports.RunRecord{
		ID:          run.ID,
		Model:       run.Model,
		WindowH:     run.Window.Height,
		WindowW:     run.Window.Width,
		Threshold:   threshold,
		ClipBound:   clipBound,
		Fingerprint: run.Fingerprint,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
	if run.Summary != nil {
		header.Samples = run.Summary.Samples
		header.Certified = run.Summary.Counts[verdict.StatusCertifiedRobust]
		header.Vulnerable = run.Summary.Counts[verdict.StatusVulnerable]
		header.Incorrect = run.Summary.Counts[verdict.StatusIncorrect]
	}

	rows := make([]ports.ResultRecord, len(run.Results))
	for i, res := range run.Results {
		rows[i] = ports.ResultRecord{
			RunID:      run.ID,
			Position:   i,
			SampleID:   res.SampleID,
			Label:      res.Label,
			Status:     res.Verdict.Status,
			Lower:      res.Verdict.Lower,
			Upper:      res.Verdict.Upper,
			Competitor: res.Verdict.Competitor,
			Predicted:  res.Predicted,
			CleanLabel: res.Verdict.CleanLabel,
		}
	}
	return header, rows
}
