// Package report renders enriched entries into channel-sized text
// segments plus at most one chart attachment.
package report

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"pts-reporter/internal/ranking"
	"pts-reporter/internal/types"
)

// TruncationMarker closes an entry block that had to be cut to fit a
// single segment on its own.
const TruncationMarker = "…（省略）"

const (
	defaultCharLimit     = 1000
	defaultSegmentBudget = 10
)

// Formatter renders reports deterministically: same entries, same
// stats, same timestamp, same report.
type Formatter struct {
	charLimit     int // max characters (runes) per segment
	segmentBudget int // max segments per report, protects the hourly quota
}

// New creates a Formatter. Zero arguments fall back to the channel
// defaults (1000 chars per message, 10 messages per run).
func New(charLimit, segmentBudget int) *Formatter {
	if charLimit <= 0 {
		charLimit = defaultCharLimit
	}
	if segmentBudget <= 0 {
		segmentBudget = defaultSegmentBudget
	}
	return &Formatter{charLimit: charLimit, segmentBudget: segmentBudget}
}

// Format renders the report. Entries are emitted in input order; when
// the segment budget would be exceeded, entries are dropped from the
// tail, never the head. The attached image is the chart of the first
// included entry that has one.
func (f *Formatter) Format(entries []types.EnrichedEntry, stats ranking.Stats, now time.Time) types.Report {
	var (
		segments []string
		current  = f.header(len(entries), now)
		included int
	)

	flush := func() {
		if current != "" {
			segments = append(segments, current)
			current = ""
		}
	}

	for i, e := range entries {
		block := f.renderEntry(i+1, e)
		if utf8.RuneCountInString(block) > f.charLimit {
			block = truncate(block, f.charLimit)
		}

		candidate := block
		if current != "" {
			candidate = current + "\n\n" + block
		}
		if utf8.RuneCountInString(candidate) <= f.charLimit {
			current = candidate
			included++
			continue
		}

		// Entry does not fit: close the segment and open a new one,
		// unless that would blow the segment budget.
		if len(segments)+1 >= f.segmentBudget {
			break
		}
		flush()
		current = block
		included++
	}
	flush()

	report := types.Report{Segments: segments, Entries: included}

	for _, e := range entries[:included] {
		if e.Chart != nil {
			report.Image = e.Chart
			report.ImageCode = e.Code
			break
		}
	}

	if len(report.Segments) < f.segmentBudget {
		summary := f.renderSummary(stats)
		if utf8.RuneCountInString(summary) > f.charLimit {
			summary = truncate(summary, f.charLimit)
		}
		report.Segments = append(report.Segments, summary)
	}

	return report
}

func (f *Formatter) header(count int, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "【PTS上昇ランキング - %s】\n", now.Format("2006/01/02 15:04"))
	fmt.Fprintf(&b, "出来高条件を満たした上位%d銘柄\n", count)
	b.WriteString(strings.Repeat("=", 40))
	return b.String()
}

func (f *Formatter) renderEntry(rank int, e types.EnrichedEntry) string {
	var b strings.Builder

	name := e.Name
	if name == "" {
		name = "（銘柄名不明）"
	}
	fmt.Fprintf(&b, "%d. [%s] %s\n", rank, e.Code, name)
	b.WriteString("━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "💰 PTS価格: %s円 (%s%%)\n", groupDigits(e.Price.StringFixed(0)), signedRate(e.ChangeRate))
	fmt.Fprintf(&b, "📊 出来高: %s株\n", groupDigits(fmt.Sprintf("%d", e.Volume)))
	if e.Market != "" {
		fmt.Fprintf(&b, "🏛 市場: %s\n", e.Market)
	}

	if !e.Company.IsEmpty() {
		b.WriteString("\n📌 基本情報:\n")
		if e.Company.Market != "" {
			fmt.Fprintf(&b, "  • 市場: %s\n", e.Company.Market)
		}
		if e.Company.Industry != "" {
			fmt.Fprintf(&b, "  • 業種: %s\n", e.Company.Industry)
		}
		if e.Company.MarketCap != "" {
			fmt.Fprintf(&b, "  • 時価総額: %s\n", e.Company.MarketCap)
		}
	}

	if len(e.News) > 0 {
		b.WriteString("\n📰 最新ニュース:\n")
		for i, n := range e.News {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, n.Title)
			if n.PublishedAt != "" {
				fmt.Fprintf(&b, "     (%s)\n", n.PublishedAt)
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func (f *Formatter) renderSummary(stats ranking.Stats) string {
	var b strings.Builder
	b.WriteString("📈 本日のPTSサマリー\n")
	b.WriteString(strings.Repeat("=", 40) + "\n")
	fmt.Fprintf(&b, "対象銘柄数: %d\n", stats.Count)
	fmt.Fprintf(&b, "平均上昇率: %s%%\n", stats.AvgChangeRate.StringFixed(2))
	fmt.Fprintf(&b, "最大上昇率: %s%%\n", stats.MaxChangeRate.StringFixed(2))
	fmt.Fprintf(&b, "総出来高: %s株", groupDigits(fmt.Sprintf("%d", stats.TotalVolume)))
	return b.String()
}

// signedRate renders a change rate with two fixed decimals and an
// explicit plus sign on gains.
func signedRate(rate decimal.Decimal) string {
	s := rate.StringFixed(2)
	if rate.Sign() > 0 {
		return "+" + s
	}
	return s
}

// groupDigits inserts thousands separators into a plain integer string.
func groupDigits(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		return "-" + out
	}
	return out
}

func truncate(s string, limit int) string {
	marker := []rune(TruncationMarker)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	keep := limit - len(marker)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + TruncationMarker
}
