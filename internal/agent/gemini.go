package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Generator produces JSON constrained to schema.
type Generator interface {
	GenerateJSON(ctx context.Context, system, prompt string, schema *genai.Schema) (string, error)
}

// GeminiGenerator is a Generator backed by the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) GenerateJSON(ctx context.Context, system, prompt string, schema *genai.Schema) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.7)
	model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = schema

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini generate: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini generate: no text in response")
	}
	return sb.String(), nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func strList(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: &genai.Schema{Type: genai.TypeString}}
}

func object(required []string, props map[string]*genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

var metadataSchema = object(
	[]string{"brand", "product_name", "product_category", "description", "key_features"},
	map[string]*genai.Schema{
		"brand":            str("Brand or manufacturer"),
		"product_name":     str("Product name without marketing suffixes"),
		"product_category": str("Short product category, e.g. wireless headphones"),
		"description":      str("Two or three sentence product description"),
		"key_features":     strList("Up to six concrete selling points"),
		"price":            str("Listed price with currency, empty if unknown"),
		"image_url":        str("Absolute URL of the main product image, empty if unknown"),
	},
)

var marketSchema = object(
	[]string{"market_size", "market_trends", "audience_insights", "competitors"},
	map[string]*genai.Schema{
		"market_size":   str("Estimated market size with source year"),
		"market_trends": strList("Current trends in this category"),
		"audience_insights": object([]string{"demographics", "psychographics"}, map[string]*genai.Schema{
			"demographics": object(nil, map[string]*genai.Schema{
				"age":    str("Core age range"),
				"income": str("Income bracket"),
				"gender": str("Gender skew, if any"),
			}),
			"psychographics": strList("Motivations, values and lifestyle traits"),
		}),
		"competitors": {
			Type: genai.TypeArray,
			Items: object([]string{"name", "brand"}, map[string]*genai.Schema{
				"name":        str("Competing product name"),
				"brand":       str("Competing brand"),
				"price":       str("Price with currency"),
				"features":    strList("Notable features"),
				"description": str("One sentence summary"),
				"product_url": str("Product page URL"),
			}),
		},
	},
)

var scriptSchema = object(
	[]string{"audio_script", "video_script"},
	map[string]*genai.Schema{
		"audio_script": str("Spoken narration for the presenter, plain text, no stage directions"),
		"video_script": str("Visual description of product footage for a text-to-video model"),
	},
)
