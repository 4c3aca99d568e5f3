package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/adgen/internal/session"
)

const extractionSystem = `You extract structured product data from e-commerce pages.
Use only facts present in the supplied content and hints. Never invent prices.
Respond with a single JSON object matching the schema.`

// ContentExtractor returns the readable content of a page.
type ContentExtractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Extractor turns a product URL into session.Metadata. The page itself is
// parsed with goquery; Tavily supplies cleaned content when configured; the
// generator merges both into the final record.
type Extractor struct {
	pages   *http.Client
	content ContentExtractor
	gen     Generator
	logger  *slog.Logger
}

// NewExtractor builds an Extractor. content may be nil.
func NewExtractor(gen Generator, content ContentExtractor) *Extractor {
	return &Extractor{
		pages:   &http.Client{Timeout: 30 * time.Second},
		content: content,
		gen:     gen,
		logger:  slog.Default(),
	}
}

func (e *Extractor) Run(ctx context.Context, in ExtractionInput) (session.Metadata, error) {
	if in.ProductURL == "" {
		return session.Metadata{}, errors.New("product_url is required")
	}

	page, err := FetchPage(ctx, e.pages, in.ProductURL)
	if err != nil {
		e.logger.Warn("product page fetch failed", "url", in.ProductURL, "error", err)
	}

	var content string
	if e.content != nil {
		content, err = e.content.Extract(ctx, in.ProductURL)
		if err != nil {
			e.logger.Warn("content extraction failed", "url", in.ProductURL, "error", err)
		}
	}
	if content == "" && page != nil {
		content = page.Text
	}
	if content == "" && page == nil {
		return session.Metadata{}, fmt.Errorf("no content could be retrieved from %s", in.ProductURL)
	}

	md, err := e.generate(ctx, in.ProductURL, page, content)
	if err != nil {
		if page == nil || page.Metadata.ProductName == "" {
			return session.Metadata{}, err
		}
		e.logger.Warn("metadata generation failed, using page tags", "url", in.ProductURL, "error", err)
		md = page.Metadata
	}

	if page != nil {
		fillFrom(&md, page.Metadata)
	}
	md.ProductURL = in.ProductURL
	md.ImageURL = resolveURL(in.ProductURL, md.ImageURL)
	if strings.TrimSpace(md.ProductName) == "" {
		return session.Metadata{}, errors.New("could not determine product name")
	}
	return md, nil
}

func (e *Extractor) generate(ctx context.Context, productURL string, page *Page, content string) (session.Metadata, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Product URL: %s\n\n", productURL)
	if page != nil {
		hints, _ := json.Marshal(page.Metadata)
		fmt.Fprintf(&sb, "Structured hints from page markup:\n%s\n\n", hints)
	}
	fmt.Fprintf(&sb, "Page content:\n%s\n", truncate(content, maxPageText))

	raw, err := e.gen.GenerateJSON(ctx, extractionSystem, sb.String(), metadataSchema)
	if err != nil {
		return session.Metadata{}, err
	}
	var md session.Metadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return session.Metadata{}, fmt.Errorf("decoding metadata: %w", err)
	}
	return md, nil
}

// fillFrom copies fields md is missing from the page tags.
func fillFrom(md *session.Metadata, tags session.Metadata) {
	if md.ProductName == "" {
		md.ProductName = tags.ProductName
	}
	if md.Brand == "" {
		md.Brand = tags.Brand
	}
	if md.Description == "" {
		md.Description = tags.Description
	}
	if md.ProductCategory == "" {
		md.ProductCategory = tags.ProductCategory
	}
	if md.Price == "" {
		md.Price = tags.Price
	}
	if md.ImageURL == "" {
		md.ImageURL = tags.ImageURL
	}
}

func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
