package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kalambet/adgen/internal/session"
)

const (
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxPageBytes     = 8 << 20
	maxPageText      = 20000
)

// Page is what can be read from a product page without any model.
type Page struct {
	Metadata session.Metadata
	Text     string
}

// FetchPage downloads url and extracts Open Graph, JSON-LD and body text.
func FetchPage(ctx context.Context, client *http.Client, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching page: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	return ParsePage(doc), nil
}

// ParsePage reads product metadata from doc. JSON-LD Product data wins over
// Open Graph tags, which win over <title>.
func ParsePage(doc *goquery.Document) *Page {
	p := &Page{}
	m := &p.Metadata

	m.ProductName = meta(doc, "og:title")
	if m.ProductName == "" {
		m.ProductName = strings.TrimSpace(doc.Find("title").First().Text())
	}
	m.Description = meta(doc, "og:description")
	if m.Description == "" {
		m.Description = meta(doc, "description")
	}
	m.ImageURL = meta(doc, "og:image")
	m.Brand = meta(doc, "product:brand")
	if amount := meta(doc, "product:price:amount"); amount != "" {
		m.Price = strings.TrimSpace(amount + " " + meta(doc, "product:price:currency"))
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if ld, ok := findProduct([]byte(s.Text())); ok {
			mergeLD(m, ld)
		}
	})

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, svg").Remove()
	p.Text = truncate(strings.Join(strings.Fields(body.Text()), " "), maxPageText)
	return p
}

func meta(doc *goquery.Document, name string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, name, name)).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

type ldProduct struct {
	Type        any               `json:"@type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Image       json.RawMessage   `json:"image"`
	Brand       json.RawMessage   `json:"brand"`
	Offers      json.RawMessage   `json:"offers"`
	Graph       []json.RawMessage `json:"@graph"`
}

// findProduct locates a schema.org Product in a JSON-LD block, which may be a
// single object, an array, or an @graph container.
func findProduct(data []byte) (*ldProduct, bool) {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		for _, item := range list {
			if p, ok := findProduct(item); ok {
				return p, true
			}
		}
		return nil, false
	}

	var p ldProduct
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	if isType(p.Type, "Product") {
		return &p, true
	}
	for _, item := range p.Graph {
		if found, ok := findProduct(item); ok {
			return found, true
		}
	}
	return nil, false
}

func isType(t any, want string) bool {
	switch v := t.(type) {
	case string:
		return v == want
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func mergeLD(m *session.Metadata, p *ldProduct) {
	if p.Name != "" {
		m.ProductName = p.Name
	}
	if p.Description != "" {
		m.Description = p.Description
	}
	if p.Category != "" {
		m.ProductCategory = p.Category
	}
	if img := firstString(p.Image); img != "" {
		m.ImageURL = img
	}
	if b := nameOrString(p.Brand); b != "" {
		m.Brand = b
	}
	if price := offerPrice(p.Offers); price != "" {
		m.Price = price
	}
}

// firstString accepts "x", ["x", ...] or {"url": "x"}.
func firstString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return firstString(list[0])
	}
	var obj struct {
		URL string `json:"url"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.URL
	}
	return ""
}

func nameOrString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Name
	}
	return ""
}

func offerPrice(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		if len(list) == 0 {
			return ""
		}
		return offerPrice(list[0])
	}
	var offer struct {
		Price    any    `json:"price"`
		LowPrice any    `json:"lowPrice"`
		Currency string `json:"priceCurrency"`
	}
	if json.Unmarshal(raw, &offer) != nil {
		return ""
	}
	price := scalar(offer.Price)
	if price == "" {
		price = scalar(offer.LowPrice)
	}
	if price == "" {
		return ""
	}
	return strings.TrimSpace(price + " " + offer.Currency)
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
