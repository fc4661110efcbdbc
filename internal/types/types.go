package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RankingEntry is one row of the scraped PTS ranking. Entries keep the
// order of the upstream page, which is pre-sorted by change rate; rank
// is positional and never stored.
type RankingEntry struct {
	Code       string
	Name       string
	Price      decimal.Decimal
	ChangeRate decimal.Decimal // signed percent
	Volume     int64           // shares traded
	Market     string          // exchange segment, empty when the page omits it
}

// NewsItem is a single headline attached to an entry, most recent first.
type NewsItem struct {
	Title       string
	PublishedAt string // as printed by the source, e.g. "25/08/28 16:30"
}

// CompanyInfo holds the optional detail-page fields. Empty string means
// the field was absent on the page.
type CompanyInfo struct {
	Market    string
	Industry  string
	MarketCap string
}

// IsEmpty reports whether no detail-page field was found.
func (c CompanyInfo) IsEmpty() bool {
	return c.Market == "" && c.Industry == "" && c.MarketCap == ""
}

// EnrichedEntry is a RankingEntry plus whatever enrichment succeeded.
// Missing enrichment is an empty/nil field, never an error.
type EnrichedEntry struct {
	RankingEntry
	News    []NewsItem
	Company CompanyInfo
	Chart   []byte // PNG bytes, nil when unavailable
}

// Report is the final artifact: ordered channel-sized text segments and
// at most one chart image for the whole run.
type Report struct {
	Segments  []string
	Image     []byte // nil when no reported entry had a chart
	ImageCode string // entry the image belongs to
	Entries   int    // entries represented after any tail drop
}

// Stage identifies the pipeline stage an error belongs to.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageParse   Stage = "parse"
	StageFilter  Stage = "filter"
	StageEnrich  Stage = "enrich"
	StageFormat  Stage = "format"
	StageDeliver Stage = "deliver"
	StageRecord  Stage = "record"
)

// StageError is one stage-tagged failure recorded into the run outcome.
// Code is set when the failure is scoped to a single entry.
type StageError struct {
	Stage   Stage  `json:"stage"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// DeliveryResult summarizes what happened to the report's segments.
// Delivered segments are never rolled back; there is no atomic
// multi-message delivery.
type DeliveryResult struct {
	Delivered     int
	Failed        int
	NotAttempted  int
	ImageAttached bool
}

// RunOutcome is the single terminal result of one pipeline invocation.
type RunOutcome struct {
	Succeeded       bool         `json:"succeeded"`
	EntriesReported int          `json:"entries_reported"`
	Errors          []StageError `json:"errors,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
}
