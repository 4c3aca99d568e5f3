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

const defaultHeyGenURL = "https://api.heygen.com"

// HeyGenClient renders presenter (A-roll) clips with a HeyGen avatar.
type HeyGenClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
}

func NewHeyGenClient(apiKey string) *HeyGenClient {
	return NewHeyGenClientWithBaseURL(apiKey, defaultHeyGenURL)
}

func NewHeyGenClientWithBaseURL(apiKey, baseURL string) *HeyGenClient {
	return &HeyGenClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: 10 * time.Second,
	}
}

type heygenCharacter struct {
	Type        string `json:"type"`
	AvatarID    string `json:"avatar_id"`
	AvatarStyle string `json:"avatar_style"`
}

type heygenVoice struct {
	Type      string `json:"type"`
	InputText string `json:"input_text"`
	VoiceID   string `json:"voice_id"`
}

type heygenVideoInput struct {
	Character heygenCharacter `json:"character"`
	Voice     heygenVoice     `json:"voice"`
}

type heygenDimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type heygenGenerateRequest struct {
	VideoInputs []heygenVideoInput `json:"video_inputs"`
	Dimension   heygenDimension    `json:"dimension"`
}

type heygenError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

type heygenGenerateResponse struct {
	Error *heygenError `json:"error"`
	Data  struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

type heygenStatusResponse struct {
	Data struct {
		Status   string       `json:"status"`
		VideoURL string       `json:"video_url"`
		Error    *heygenError `json:"error"`
	} `json:"data"`
}

// Generate submits the narration and waits for the rendered clip.
func (c *HeyGenClient) Generate(ctx context.Context, in RollInput) (RollOutput, error) {
	if strings.TrimSpace(in.Script) == "" {
		return RollOutput{}, errors.New("narration script is empty")
	}

	var created heygenGenerateResponse
	err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/v2/video/generate", c.headers(), heygenGenerateRequest{
		VideoInputs: []heygenVideoInput{{
			Character: heygenCharacter{Type: "avatar", AvatarID: in.AvatarID, AvatarStyle: "normal"},
			Voice:     heygenVoice{Type: "text", InputText: in.Script, VoiceID: in.VoiceID},
		}},
		Dimension: heygenDimension{Width: in.Width, Height: in.Height},
	}, &created)
	if err != nil {
		return RollOutput{}, fmt.Errorf("heygen generate: %w", err)
	}
	if created.Error != nil && created.Error.Message != "" {
		return RollOutput{}, fmt.Errorf("heygen generate: %s", created.Error.Message)
	}
	if created.Data.VideoID == "" {
		return RollOutput{}, errors.New("heygen generate: no video id returned")
	}

	statusURL := c.baseURL + "/v1/video_status.get?video_id=" + url.QueryEscape(created.Data.VideoID)
	var videoURL string
	err = poll(ctx, c.pollInterval, func() (bool, error) {
		var st heygenStatusResponse
		if err := doJSON(ctx, c.httpClient, http.MethodGet, statusURL, c.headers(), nil, &st); err != nil {
			return false, fmt.Errorf("heygen status: %w", err)
		}
		switch st.Data.Status {
		case "completed":
			videoURL = st.Data.VideoURL
			return true, nil
		case "failed":
			msg := "render failed"
			if st.Data.Error != nil && st.Data.Error.Message != "" {
				msg = st.Data.Error.Message
			}
			return false, fmt.Errorf("heygen video %s: %s", created.Data.VideoID, msg)
		}
		return false, nil
	})
	if err != nil {
		return RollOutput{}, err
	}
	if videoURL == "" {
		return RollOutput{}, errors.New("heygen: completed without a video url")
	}
	return RollOutput{VideoURL: videoURL}, nil
}

func (c *HeyGenClient) headers() map[string]string {
	return map[string]string{"X-Api-Key": c.apiKey}
}
