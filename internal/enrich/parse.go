package enrich

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pts-reporter/internal/types"
)

// parseNews extracts up to max headlines from a stock news page,
// keeping the page's most-recent-first order.
func parseNews(body []byte, max int) ([]types.NewsItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse news html: %w", err)
	}

	items := doc.Find("div.news_item, tr.data")
	if items.Length() == 0 {
		items = doc.Find("table.stock_table tr")
	}

	var news []types.NewsItem
	items.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(news) >= max {
			return false
		}
		link := s.Find("a").First()
		if link.Length() == 0 {
			return true
		}
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		date := strings.TrimSpace(s.Find("td.date, span.date, time").First().Text())
		news = append(news, types.NewsItem{Title: title, PublishedAt: date})
		return true
	})
	return news, nil
}

// parseDetail extracts the display name and the optional company info
// fields from a stock detail page. Absent fields stay empty.
func parseDetail(body []byte) (string, types.CompanyInfo) {
	var info types.CompanyInfo

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", info
	}

	// The heading reads "6072 GeoSign Holdings"; the name follows the code.
	var name string
	if heading := strings.TrimSpace(doc.Find("h3").First().Text()); heading != "" {
		if fields := strings.Fields(heading); len(fields) > 1 {
			name = strings.Join(fields[1:], " ")
		}
	}

	info.Market = strings.TrimSpace(doc.Find("span.market").First().Text())
	info.Industry = strings.TrimSpace(doc.Find("span.industry").First().Text())

	doc.Find("th, td").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) != "時価総額" {
			return true
		}
		info.MarketCap = strings.TrimSpace(s.Next().Text())
		return false
	})

	return name, info
}
