// Package ranking parses the upstream PTS ranking page and selects the
// entries worth reporting.
package ranking

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"pts-reporter/internal/types"
)

// Schema pins the structural markers the parser depends on. Keeping the
// detection rule in data isolates it from HTTP concerns and makes a
// page-format change a single-value diff.
type Schema struct {
	TableSelector string // marker whose absence fails the whole parse
	CodeCol       int
	MarketCol     int
	PriceCol      int
	ChangeRateCol int
	VolumeCol     int
	MinCells      int // rows with fewer cells are headers or spacers
}

// KabutanPTS describes the kabutan.jp PTS night-session ranking table.
// Cell layout: code, market, (unused), (unused), previous price, PTS
// price, change amount, change rate %, volume.
var KabutanPTS = Schema{
	TableSelector: "table.stock_table",
	CodeCol:       0,
	MarketCol:     1,
	PriceCol:      5,
	ChangeRateCol: 7,
	VolumeCol:     8,
	MinCells:      8,
}

// StructureError signals that the ranking table marker is entirely
// absent, which almost always means the upstream layout changed. It is
// the only parse failure that aborts a run.
type StructureError struct {
	Marker string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("ranking structure marker %q not found", e.Marker)
}

// Parse extracts ranking entries from raw page markup, preserving the
// page's order. Malformed rows and missing optional cells are skipped
// or left absent rather than failing the parse.
func (s Schema) Parse(body []byte) ([]types.RankingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ranking html: %w", err)
	}

	table := doc.Find(s.TableSelector).First()
	if table.Length() == 0 {
		return nil, &StructureError{Marker: s.TableSelector}
	}

	var entries []types.RankingEntry
	seen := make(map[string]bool)

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < s.MinCells {
			return
		}

		code := cellText(cells, s.CodeCol)
		if !isCode(code) || seen[code] {
			return
		}

		price, ok := parseDecimal(cellText(cells, s.PriceCol))
		if !ok {
			return
		}
		rate, ok := parseDecimal(cellText(cells, s.ChangeRateCol))
		if !ok {
			return
		}

		// Volume cell can be absent; the entry is still valid and the
		// liquidity filter decides its fate downstream.
		volume := parseVolume(cellText(cells, s.VolumeCol))

		entries = append(entries, types.RankingEntry{
			Code:       code,
			Market:     cellText(cells, s.MarketCol),
			Price:      price,
			ChangeRate: rate,
			Volume:     volume,
		})
		seen[code] = true
	})

	return entries, nil
}

func cellText(cells *goquery.Selection, idx int) string {
	if idx < 0 || idx >= cells.Length() {
		return ""
	}
	return strings.TrimSpace(cells.Eq(idx).Text())
}

// isCode accepts four-digit ticker codes only.
func isCode(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseDecimal(text string) (decimal.Decimal, bool) {
	text = cleanNumber(text)
	if text == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parseVolume(text string) int64 {
	text = cleanNumber(text)
	if text == "" {
		return 0
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// cleanNumber strips thousands separators and sign/percent decorations
// the page prints around numbers. "--" marks a missing value.
func cleanNumber(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || text == "--" {
		return ""
	}
	text = strings.ReplaceAll(text, ",", "")
	text = strings.TrimSuffix(text, "%")
	text = strings.TrimPrefix(text, "+")
	return text
}
