package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHeyGen_Generate(t *testing.T) {
	var polls atomic.Int32
	var gotReq heygenGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "hg-key" {
			t.Errorf("X-Api-Key = %q", r.Header.Get("X-Api-Key"))
		}
		switch r.URL.Path {
		case "/v2/video/generate":
			json.NewDecoder(r.Body).Decode(&gotReq)
			fmt.Fprint(w, `{"error":null,"data":{"video_id":"vid-1"}}`)
		case "/v1/video_status.get":
			if r.URL.Query().Get("video_id") != "vid-1" {
				t.Errorf("video_id = %q", r.URL.Query().Get("video_id"))
			}
			if polls.Add(1) < 2 {
				fmt.Fprint(w, `{"code":100,"data":{"status":"processing"}}`)
				return
			}
			fmt.Fprint(w, `{"code":100,"data":{"status":"completed","video_url":"https://files/a.mp4"}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewHeyGenClientWithBaseURL("hg-key", srv.URL)
	c.pollInterval = time.Millisecond
	out, err := c.Generate(context.Background(), RollInput{Script: "Hello", AvatarID: "av", VoiceID: "vc", Width: 1280, Height: 720})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.VideoURL != "https://files/a.mp4" {
		t.Errorf("VideoURL = %q", out.VideoURL)
	}

	in := gotReq.VideoInputs[0]
	if in.Character.AvatarID != "av" || in.Character.Type != "avatar" || in.Voice.InputText != "Hello" || in.Voice.VoiceID != "vc" {
		t.Errorf("video input = %+v", in)
	}
	if gotReq.Dimension.Width != 1280 || gotReq.Dimension.Height != 720 {
		t.Errorf("dimension = %+v", gotReq.Dimension)
	}
}

func TestHeyGen_RenderFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/video/generate" {
			fmt.Fprint(w, `{"data":{"video_id":"vid-2"}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"status":"failed","error":{"code":"40001","message":"voice not found"}}}`)
	}))
	defer srv.Close()

	c := NewHeyGenClientWithBaseURL("k", srv.URL)
	c.pollInterval = time.Millisecond
	_, err := c.Generate(context.Background(), RollInput{Script: "Hello"})
	if err == nil || !strings.Contains(err.Error(), "voice not found") {
		t.Errorf("err = %v", err)
	}
}

func TestHeyGen_EmptyScript(t *testing.T) {
	if _, err := NewHeyGenClient("k").Generate(context.Background(), RollInput{Script: "  "}); err == nil {
		t.Error("expected error for empty script")
	}
}

func TestVeo_Generate(t *testing.T) {
	var gotReq veoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/models/veo-test:predictLongRunning":
			json.NewDecoder(r.Body).Decode(&gotReq)
			fmt.Fprint(w, `{"name":"models/veo-test/operations/op1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/models/veo-test/operations/op1":
			fmt.Fprint(w, `{"name":"models/veo-test/operations/op1","done":true,
				"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://gl/files/b.mp4"}}]}}}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewVeoClientWithBaseURL("g-key", "veo-test", srv.URL)
	c.pollInterval = time.Millisecond
	out, err := c.Generate(context.Background(), RollInput{Script: "A slow pan", Width: 720, Height: 1280})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.VideoURL != "https://gl/files/b.mp4" {
		t.Errorf("VideoURL = %q", out.VideoURL)
	}
	if gotReq.Instances[0].Prompt != "A slow pan" || gotReq.Parameters.AspectRatio != "9:16" || gotReq.Parameters.PersonGeneration != "dont_allow" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestVeo_OperationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"operations/op2","done":true,"error":{"code":3,"message":"prompt rejected"}}`)
	}))
	defer srv.Close()

	c := NewVeoClientWithBaseURL("k", "veo", srv.URL)
	_, err := c.Generate(context.Background(), RollInput{Script: "x"})
	if err == nil || !strings.Contains(err.Error(), "prompt rejected") {
		t.Errorf("err = %v", err)
	}
}

func TestVeo_PollHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"operations/op3","done":false}`)
	}))
	defer srv.Close()

	c := NewVeoClientWithBaseURL("k", "veo", srv.URL)
	c.pollInterval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Generate(ctx, RollInput{Script: "x"}); err == nil {
		t.Error("expected error when context expires")
	}
}

func TestDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	d := NewDownloader()
	if _, _, err := d.Download(context.Background(), srv.URL); err == nil {
		t.Error("expected error without credentials")
	}

	veo := NewVeoClientWithBaseURL("secret", "veo", srv.URL+"/v1beta")
	if veo.Host() != strings.TrimPrefix(srv.URL, "http://") {
		t.Fatalf("Host() = %q", veo.Host())
	}
	d.Authorize(veo.Host(), veo.DownloadHeaders())
	data, ct, err := d.Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "mp4-bytes" || ct != "video/mp4" {
		t.Errorf("got %q %q", data, ct)
	}
}

func TestDownloader_Limits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	d := NewDownloader()
	d.maxBytes = 4
	if _, _, err := d.Download(context.Background(), srv.URL); err == nil {
		t.Error("expected size limit error")
	}
	if _, _, err := d.Download(context.Background(), "file:///etc/passwd"); err == nil {
		t.Error("expected scheme error")
	}
}
