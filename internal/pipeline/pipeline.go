// Package pipeline sequences one ingestion-enrichment-delivery run:
// fetch ranking, parse, filter, enrich, format, deliver. Every failure
// ends up either in the run outcome's error list or as the Aborted
// terminal state; nothing escapes the pipeline boundary as an error.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"pts-reporter/internal/enrich"
	"pts-reporter/internal/fetch"
	"pts-reporter/internal/logger"
	"pts-reporter/internal/ranking"
	"pts-reporter/internal/report"
	"pts-reporter/internal/store"
	"pts-reporter/internal/trace"
	"pts-reporter/internal/types"
)

// Notifier is the delivery channel the pipeline pushes reports to.
type Notifier interface {
	Deliver(ctx context.Context, report types.Report) (types.DeliveryResult, error)
	SendError(ctx context.Context, msg string) error
}

// Recorder receives the run outcome and its entries for storage. The
// pipeline never reads anything back; each run is self-contained.
type Recorder interface {
	SaveRun(ctx context.Context, outcome types.RunOutcome, entries []types.EnrichedEntry) error
}

// Pipeline runs the report once per invocation. It holds no state
// across runs.
type Pipeline struct {
	cfg       *store.Config
	client    *fetch.Client
	schema    ranking.Schema
	enricher  *enrich.Enricher
	formatter *report.Formatter
	notifier  Notifier
	recorder  Recorder
	clock     func() time.Time
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithRecorder attaches the persistence collaborator. Without it, run
// output is delivered and discarded.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithSchema overrides the ranking page schema.
func WithSchema(s ranking.Schema) Option {
	return func(p *Pipeline) { p.schema = s }
}

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// New assembles a pipeline around the shared fetch client. The client
// carries the single rate gate every upstream call goes through.
func New(cfg *store.Config, client *fetch.Client, notifier Notifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		client:    client,
		schema:    ranking.KabutanPTS,
		enricher:  enrich.New(client, cfg.Source.BaseURL, cfg.Enrich.MaxNewsPerStock, cfg.Enrich.Workers),
		formatter: report.New(cfg.Report.CharLimit, cfg.Report.SegmentBudget),
		notifier:  notifier,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce executes one full run within the configured time budget and
// returns the single terminal outcome.
func (p *Pipeline) RunOnce(ctx context.Context) types.RunOutcome {
	outcome := types.RunOutcome{StartedAt: p.clock()}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.TimeBudget())
	defer cancel()

	logger.Info(ctx, "Run started",
		"min_volume", p.cfg.Filter.MinVolume,
		"top_n", p.cfg.Filter.TopN,
		"time_budget", p.cfg.TimeBudget().String(),
	)

	abort := func(stage types.Stage, err error) types.RunOutcome {
		logger.ErrorWithErr(ctx, "Run aborted", err, "stage", string(stage))
		outcome.Errors = append(outcome.Errors, types.StageError{Stage: stage, Message: err.Error()})
		outcome.Succeeded = false
		outcome.FinishedAt = p.clock()
		p.notifyError(ctx, stage, err)
		p.record(ctx, &outcome, nil)
		return outcome
	}

	// Fetching
	fetchCtx, span := trace.StartSpan(ctx, "pipeline.fetch")
	body, err := p.client.GetWithRetry(fetchCtx, p.cfg.RankingURL())
	span.End()
	if err != nil {
		return abort(types.StageFetch, err)
	}

	// Parsing
	_, span = trace.StartSpan(ctx, "pipeline.parse")
	entries, err := p.schema.Parse(body)
	span.End()
	if err != nil {
		return abort(types.StageParse, err)
	}
	logger.Info(ctx, "Ranking parsed", "entries", len(entries))

	// Filtering: an empty selection is fatal, it usually signals an
	// upstream format change rather than a genuinely empty market.
	selected := ranking.Select(entries, p.cfg.Filter.MinVolume, p.cfg.Filter.TopN)
	if len(selected) == 0 {
		return abort(types.StageFilter,
			fmt.Errorf("no entries with volume >= %d", p.cfg.Filter.MinVolume))
	}
	logger.Info(ctx, "Entries selected", "count", len(selected))

	// Enriching runs against a shortened deadline so formatting and
	// delivery keep their slice of the budget: a partial report beats
	// no report.
	enrichCtx := ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancelEnrich context.CancelFunc
		enrichCtx, cancelEnrich = context.WithDeadline(ctx, deadline.Add(-p.cfg.DeliveryReserve()))
		defer cancelEnrich()
	}
	enrichCtx, span = trace.StartSpan(enrichCtx, "pipeline.enrich")
	enriched, enrichErrs := p.enricher.EnrichAll(enrichCtx, selected)
	span.End()
	outcome.Errors = append(outcome.Errors, enrichErrs...)
	logger.Info(ctx, "Enrichment finished", "entries", len(enriched), "errors", len(enrichErrs))

	// Formatting
	rep := p.formatter.Format(enriched, ranking.Summarize(selected), p.clock())
	logger.Info(ctx, "Report formatted",
		"segments", len(rep.Segments), "entries", rep.Entries, "has_image", rep.Image != nil)

	// Delivering
	deliverCtx, span := trace.StartSpan(ctx, "pipeline.deliver")
	res, deliverErr := p.notifier.Deliver(deliverCtx, rep)
	span.End()

	if deliverErr != nil {
		outcome.Errors = append(outcome.Errors,
			types.StageError{Stage: types.StageDeliver, Message: deliverErr.Error()})
	}
	// Partial delivery counts as a failed run but the delivered entries
	// are still reported; nothing is rolled back.
	outcome.Succeeded = deliverErr == nil
	if res.Delivered > 0 {
		outcome.EntriesReported = rep.Entries
	}
	outcome.FinishedAt = p.clock()

	p.record(ctx, &outcome, enriched)

	logger.Info(ctx, "Run finished",
		"succeeded", outcome.Succeeded,
		"entries_reported", outcome.EntriesReported,
		"segments_delivered", res.Delivered,
		"errors", len(outcome.Errors),
	)
	return outcome
}

// notifyError pushes a short failure notification. Best effort: its own
// failure is only logged. It gets a grace context so it still goes out
// when the abort was the time budget itself expiring.
func (p *Pipeline) notifyError(ctx context.Context, stage types.Stage, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	msg := fmt.Sprintf("ステージ %s で失敗しました: %v", stage, err)
	if nerr := p.notifier.SendError(ctx, msg); nerr != nil {
		logger.Warn(ctx, "Error notification failed", "error", nerr)
	}
}

// record hands the outcome to the persistence collaborator, if any.
func (p *Pipeline) record(ctx context.Context, outcome *types.RunOutcome, entries []types.EnrichedEntry) {
	if p.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.recorder.SaveRun(ctx, *outcome, entries); err != nil {
		logger.ErrorWithErr(ctx, "Failed to record run", err)
		outcome.Errors = append(outcome.Errors,
			types.StageError{Stage: types.StageRecord, Message: err.Error()})
	}
}
