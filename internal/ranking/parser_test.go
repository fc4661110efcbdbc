package ranking

import (
	"errors"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"pts-reporter/internal/types"
)

var decimalCmp = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func loadFixture(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return data
}

func TestParse(t *testing.T) {
	body := loadFixture(t, "testdata/ranking.html")

	entries, err := KabutanPTS.Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []types.RankingEntry{
		{
			Code:       "7203",
			Market:     "東証Ｐ",
			Price:      decimal.NewFromInt(2415),
			ChangeRate: decimal.NewFromInt(15),
			Volume:     52400,
		},
		{
			// "--" volume parses to zero, the entry survives.
			Code:       "6758",
			Market:     "東証Ｐ",
			Price:      decimal.NewFromInt(13080),
			ChangeRate: decimal.NewFromInt(9),
			Volume:     0,
		},
		{
			Code:       "4565",
			Market:     "東証Ｇ",
			Price:      decimal.RequireFromString("1120.5"),
			ChangeRate: decimal.RequireFromString("14.34"),
			Volume:     18300,
		},
	}
	if diff := cmp.Diff(want, entries, decimalCmp); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStructureError(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "maintenance page",
			body: "<html><body><p>ただいまメンテナンス中です</p></body></html>",
		},
		{
			name: "empty body",
			body: "",
		},
		{
			name: "table without marker class",
			body: "<html><body><table><tr><td>7203</td></tr></table></body></html>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := KabutanPTS.Parse([]byte(tt.body))
			var serr *StructureError
			if !errors.As(err, &serr) {
				t.Fatalf("expected StructureError, got %v", err)
			}
			if serr.Marker != KabutanPTS.TableSelector {
				t.Errorf("marker = %q, want %q", serr.Marker, KabutanPTS.TableSelector)
			}
		})
	}
}

func TestParseEmptyTable(t *testing.T) {
	body := `<html><body><table class="stock_table"><tr><th>コード</th></tr></table></body></html>`

	entries, err := KabutanPTS.Parse([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"7203", true},
		{"0001", true},
		{"720", false},
		{"72030", false},
		{"ETFX", false},
		{"72a3", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isCode(tt.in); got != tt.want {
			t.Errorf("isCode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCleanNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"52,400", "52400"},
		{"+15.00%", "15.00"},
		{"--", ""},
		{" 1,120.5 ", "1120.5"},
		{"-3.2%", "-3.2"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cleanNumber(tt.in); got != tt.want {
			t.Errorf("cleanNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
