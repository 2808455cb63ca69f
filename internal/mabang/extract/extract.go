// Package extract pulls structured data out of the HTML fragments several
// backend endpoints embed in their envelopes. It is the only package that
// knows the markup shapes, so reconciliation and lookup logic stays
// independent of the vendor's HTML dialect.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Markers of the order operation log.
const (
	// OpTypeMerge labels an order-merge log entry.
	OpTypeMerge = "合并订单"
	// mergedIntoMarker appears in the detail of the absorbed order's entry,
	// not in the surviving order's entry.
	mergedIntoMarker = "合并到订单"
)

var (
	inlineJSONRe = regexp.MustCompile(`(?s)>\s*(\{.*\})\s*<`)
	innerTextRe  = regexp.MustCompile(`>([^<]+)<`)
)

// OpLogEntry is one row of an order's operation log, most recent first in
// the backend's native order.
type OpLogEntry struct {
	OpType   string
	Detail   string
	Operator string
	OpTime   string

	// MergedInto is the canonical order id when this entry records the order
	// being merged into another. Empty for the surviving order's entry.
	MergedInto string
	// MergedIDs lists the absorbed order ids when this entry belongs to the
	// surviving order.
	MergedIDs []string
}

// OpLog parses the <tr> fragment the operation-log endpoint returns.
func OpLog(fragment string) ([]OpLogEntry, error) {
	doc, err := parseRows(fragment)
	if err != nil {
		return nil, fmt.Errorf("extract: op log: %w", err)
	}
	var entries []OpLogEntry
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 4 {
			return
		}
		entry := OpLogEntry{
			OpType:   strings.TrimSpace(tds.Eq(0).Text()),
			Detail:   strings.TrimSpace(tds.Eq(1).Text()),
			Operator: strings.TrimSpace(tds.Eq(2).Text()),
			OpTime:   strings.TrimSpace(tds.Eq(3).Text()),
		}
		if entry.OpType == OpTypeMerge {
			anchors := tds.Eq(1).Find("a")
			if strings.Contains(entry.Detail, mergedIntoMarker) {
				entry.MergedInto = strings.TrimSpace(anchors.First().Text())
			} else {
				anchors.Each(func(_ int, a *goquery.Selection) {
					entry.MergedIDs = append(entry.MergedIDs, strings.TrimSpace(a.Text()))
				})
			}
		}
		entries = append(entries, entry)
	})
	return entries, nil
}

// InlineJSON extracts the JSON object some endpoints embed between two tags
// of an HTML fragment.
func InlineJSON(fragment string) (json.RawMessage, error) {
	m := inlineJSONRe.FindStringSubmatch(fragment)
	if m == nil {
		return nil, errors.New("extract: no inline JSON object in fragment")
	}
	raw := json.RawMessage(m[1])
	if !json.Valid(raw) {
		return nil, errors.New("extract: embedded object is not valid JSON")
	}
	return raw, nil
}

// InnerTexts returns every text segment enclosed between two tags, trimmed
// and in document order. Fragments like "<p>顺丰</p><p>SF123</p>" yield
// ["顺丰", "SF123"].
func InnerTexts(fragment string) []string {
	var texts []string
	for _, m := range innerTextRe.FindAllStringSubmatch(fragment, -1) {
		if t := strings.TrimSpace(m[1]); t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

// TextNodes returns every text node of the fragment, trimmed and in document
// order, including text outside any tag.
func TextNodes(fragment string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("extract: text nodes: %w", err)
	}
	var texts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				texts = append(texts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return texts, nil
}

// RowContaining finds the first table row whose text contains needle and
// returns its cell texts plus the row's attributes. Attribute values come
// straight from the parsed node, so quotes and other entities are already
// unescaped.
func RowContaining(fragment, needle string) (cells []string, attrs map[string]string, ok bool, err error) {
	doc, err := parseRows(fragment)
	if err != nil {
		return nil, nil, false, fmt.Errorf("extract: row lookup: %w", err)
	}
	doc.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if !strings.Contains(tr.Text(), needle) {
			return true
		}
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		attrs = make(map[string]string)
		for _, a := range tr.Nodes[0].Attr {
			attrs[a.Key] = a.Val
		}
		ok = true
		return false
	})
	return cells, attrs, ok, nil
}

// TableCellSpan returns the text of the first <span> inside the given
// 1-based row and cell of the fragment's table.
func TableCellSpan(fragment string, row, col int) (string, error) {
	doc, err := parseRows(fragment)
	if err != nil {
		return "", fmt.Errorf("extract: table cell: %w", err)
	}
	span := doc.Find("tr").Eq(row - 1).Find("td").Eq(col - 1).Find("span").First()
	if span.Length() == 0 {
		return "", fmt.Errorf("extract: no span at row %d cell %d", row, col)
	}
	return strings.TrimSpace(span.Text()), nil
}

// parseRows parses a fragment that may consist of bare <tr> rows. The HTML
// parser drops table rows that appear outside a table, so bare rows get
// wrapped first.
func parseRows(fragment string) (*goquery.Document, error) {
	if !strings.Contains(fragment, "<table") {
		fragment = "<table>" + fragment + "</table>"
	}
	return goquery.NewDocumentFromReader(strings.NewReader(fragment))
}
