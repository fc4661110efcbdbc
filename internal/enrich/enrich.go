// Package enrich attaches news headlines, company info, and a chart
// image to selected ranking entries. Enrichment never fails a run: any
// sub-fetch failure leaves the field absent and records a non-fatal
// error against the entry.
package enrich

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"pts-reporter/internal/logger"
	"pts-reporter/internal/types"
)

// Getter is the fetch-client subset the enricher needs. All calls share
// the run's single rate gate.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Enricher fetches per-entry extras from the upstream site.
type Enricher struct {
	client  Getter
	baseURL string
	maxNews int
	workers int
}

// New creates an Enricher. maxNews bounds headlines per entry; workers
// bounds concurrent entries (the shared rate gate still serializes the
// actual requests).
func New(client Getter, baseURL string, maxNews, workers int) *Enricher {
	if maxNews <= 0 {
		maxNews = 3
	}
	if workers <= 0 {
		workers = 3
	}
	return &Enricher{client: client, baseURL: baseURL, maxNews: maxNews, workers: workers}
}

// EnrichAll enriches every entry on a bounded worker pool. The returned
// slice matches the input order regardless of completion order; the
// error list carries the non-fatal failures in entry order.
func (e *Enricher) EnrichAll(ctx context.Context, entries []types.RankingEntry) ([]types.EnrichedEntry, []types.StageError) {
	results := make([]types.EnrichedEntry, len(entries))
	errLists := make([][]types.StageError, len(entries))

	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			results[i], errLists[i] = e.enrichOne(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	var errs []types.StageError
	for _, l := range errLists {
		errs = append(errs, l...)
	}
	return results, errs
}

// enrichOne performs the independent sub-fetches for one entry. It
// never returns an error; partial results are kept as-is.
func (e *Enricher) enrichOne(ctx context.Context, entry types.RankingEntry) (types.EnrichedEntry, []types.StageError) {
	enriched := types.EnrichedEntry{RankingEntry: entry}
	var errs []types.StageError

	record := func(err error) {
		errs = append(errs, types.StageError{
			Stage:   types.StageEnrich,
			Code:    entry.Code,
			Message: err.Error(),
		})
	}

	if ctx.Err() != nil {
		record(fmt.Errorf("enrichment skipped: %w", ctx.Err()))
		return enriched, errs
	}

	if body, err := e.client.Get(ctx, e.detailURL(entry.Code)); err != nil {
		logger.Warn(ctx, "Company info fetch failed", "code", entry.Code, "error", err)
		record(fmt.Errorf("company info: %w", err))
	} else {
		name, info := parseDetail(body)
		if enriched.Name == "" {
			enriched.Name = name
		}
		enriched.Company = info
	}

	if body, err := e.client.Get(ctx, e.newsURL(entry.Code)); err != nil {
		logger.Warn(ctx, "News fetch failed", "code", entry.Code, "error", err)
		record(fmt.Errorf("news: %w", err))
	} else {
		news, err := parseNews(body, e.maxNews)
		if err != nil {
			record(fmt.Errorf("news: %w", err))
		} else {
			enriched.News = news
		}
	}

	if body, err := e.client.Get(ctx, e.chartURL(entry.Code)); err != nil {
		logger.Warn(ctx, "Chart fetch failed", "code", entry.Code, "error", err)
		record(fmt.Errorf("chart: %w", err))
	} else if !isImage(body) {
		record(fmt.Errorf("chart: response for %s is not an image", entry.Code))
	} else {
		enriched.Chart = body
	}

	return enriched, errs
}

func (e *Enricher) newsURL(code string) string {
	return fmt.Sprintf("%s/stock/news?code=%s", e.baseURL, code)
}

func (e *Enricher) detailURL(code string) string {
	return fmt.Sprintf("%s/stock/?code=%s", e.baseURL, code)
}

func (e *Enricher) chartURL(code string) string {
	return fmt.Sprintf("%s/stock/chart?code=%s&span=d", e.baseURL, code)
}

func isImage(b []byte) bool {
	return bytes.HasPrefix(b, []byte("\x89PNG")) ||
		bytes.HasPrefix(b, []byte("\xff\xd8")) ||
		bytes.HasPrefix(b, []byte("GIF8"))
}
