package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultVeoURL = "https://generativelanguage.googleapis.com/v1beta"

// VeoClient renders product footage (B-roll) with a Veo model through the
// Gemini API long-running operation endpoint.
type VeoClient struct {
	baseURL      string
	apiKey       string
	model        string
	httpClient   *http.Client
	pollInterval time.Duration
}

func NewVeoClient(apiKey, model string) *VeoClient {
	return NewVeoClientWithBaseURL(apiKey, model, defaultVeoURL)
}

func NewVeoClientWithBaseURL(apiKey, model, baseURL string) *VeoClient {
	return &VeoClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		model:        model,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: 10 * time.Second,
	}
}

type veoInstance struct {
	Prompt string `json:"prompt"`
}

type veoParameters struct {
	AspectRatio      string `json:"aspectRatio"`
	PersonGeneration string `json:"personGeneration"`
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

// aspectRatio maps output dimensions onto the ratios Veo accepts.
func aspectRatio(width, height int) string {
	if height > width {
		return "9:16"
	}
	return "16:9"
}

// Generate renders the scene description and waits for the operation to
// finish. The returned URL needs the API key to download; see DownloadHeaders.
func (c *VeoClient) Generate(ctx context.Context, in RollInput) (RollOutput, error) {
	if strings.TrimSpace(in.Script) == "" {
		return RollOutput{}, errors.New("scene description is empty")
	}

	var op veoOperation
	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, c.model)
	err := doJSON(ctx, c.httpClient, http.MethodPost, endpoint, c.headers(), veoRequest{
		Instances:  []veoInstance{{Prompt: in.Script}},
		Parameters: veoParameters{AspectRatio: aspectRatio(in.Width, in.Height), PersonGeneration: "dont_allow"},
	}, &op)
	if err != nil {
		return RollOutput{}, fmt.Errorf("veo generate: %w", err)
	}
	if op.Name == "" {
		return RollOutput{}, errors.New("veo generate: no operation name returned")
	}

	name := op.Name
	err = poll(ctx, c.pollInterval, func() (bool, error) {
		if op.Done {
			return true, nil
		}
		op = veoOperation{}
		if err := doJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/"+name, c.headers(), nil, &op); err != nil {
			return false, fmt.Errorf("veo status: %w", err)
		}
		return op.Done, nil
	})
	if err != nil {
		return RollOutput{}, err
	}
	if op.Error != nil {
		return RollOutput{}, fmt.Errorf("veo operation %s: %s", name, op.Error.Message)
	}
	samples := op.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 || samples[0].Video.URI == "" {
		return RollOutput{}, fmt.Errorf("veo operation %s: no video generated", name)
	}
	return RollOutput{VideoURL: samples[0].Video.URI}, nil
}

// DownloadHeaders returns the headers needed to fetch a generated video.
func (c *VeoClient) DownloadHeaders() map[string]string {
	return c.headers()
}

// Host is the API host serving the generated video URIs.
func (c *VeoClient) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (c *VeoClient) headers() map[string]string {
	return map[string]string{"x-goog-api-key": c.apiKey}
}
