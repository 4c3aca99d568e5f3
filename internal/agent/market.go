package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/adgen/internal/session"
)

const (
	marketSystem = `You are a market research analyst preparing a brief for an ad campaign.
Ground every claim in the supplied search results where possible. Keep trends and
psychographics short. List at most five direct competitors.`
	resultsPerQuery = 5
)

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// MarketResearcher gathers web context for a product and summarises it into
// a session.MarketAnalysis.
type MarketResearcher struct {
	search Searcher
	gen    Generator
	logger *slog.Logger
}

// NewMarketResearcher builds a researcher. search may be nil, in which case
// the analysis relies on the generator alone.
func NewMarketResearcher(gen Generator, search Searcher) *MarketResearcher {
	return &MarketResearcher{search: search, gen: gen, logger: slog.Default()}
}

func researchQueries(md session.Metadata) []string {
	subject := strings.TrimSpace(md.Brand + " " + md.ProductName)
	category := md.ProductCategory
	if category == "" {
		category = md.ProductName
	}
	return []string{
		fmt.Sprintf("%s market size", category),
		fmt.Sprintf("%s market trends", category),
		fmt.Sprintf("%s target audience demographics", subject),
		fmt.Sprintf("best alternatives to %s", subject),
	}
}

func (m *MarketResearcher) Run(ctx context.Context, in MarketInput) (session.MarketAnalysis, error) {
	queries := researchQueries(in.Metadata)
	findings := m.gather(ctx, queries)

	product, _ := json.MarshalIndent(in.Metadata, "", "  ")
	var sb strings.Builder
	fmt.Fprintf(&sb, "Product:\n%s\n", product)
	for i, q := range queries {
		if len(findings[i]) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\nSearch: %s\n", q)
		for _, r := range findings[i] {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", r.Title, r.URL, truncate(r.Content, 600))
		}
	}

	raw, err := m.gen.GenerateJSON(ctx, marketSystem, sb.String(), marketSchema)
	if err != nil {
		return session.MarketAnalysis{}, err
	}
	var analysis session.MarketAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return session.MarketAnalysis{}, fmt.Errorf("decoding market analysis: %w", err)
	}
	return analysis, nil
}

// gather runs all queries concurrently. Individual failures are logged and
// leave that query without results.
func (m *MarketResearcher) gather(ctx context.Context, queries []string) [][]SearchResult {
	results := make([][]SearchResult, len(queries))
	if m.search == nil {
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			res, err := m.search.Search(gctx, q, resultsPerQuery)
			if err != nil {
				m.logger.Warn("market search failed", "query", q, "error", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
