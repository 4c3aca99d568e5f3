package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/adgen/internal/pipeline"
	"github.com/kalambet/adgen/internal/session"
)

const recentSessionsURI = "adgen://sessions/recent"

// NewMCPServer exposes the session service as MCP tools so an assistant can
// drive a generation run, including the script review loop.
func NewMCPServer(svc Sessions, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"adgen",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("adgen turns a product page URL into a short video ad. Start a generation, poll the session, then approve or revise the script when it is awaiting feedback."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_generation",
			mcp.WithDescription("Start generating a video ad for a product page. Returns the session id immediately."),
			mcp.WithString("product_url", mcp.Description("Absolute http(s) URL of the product page"), mcp.Required()),
			mcp.WithString("avatar_id", mcp.Description("Presenter avatar id (server default when omitted)")),
			mcp.WithString("voice_id", mcp.Description("Narration voice id (server default when omitted)")),
			mcp.WithNumber("width", mcp.Description("Output width in pixels")),
			mcp.WithNumber("height", mcp.Description("Output height in pixels")),
		),
		mcpStartGeneration(svc),
	)

	s.AddTool(
		mcp.NewTool("get_session",
			mcp.WithDescription("Return the current state of a generation session, including the script once generated."),
			mcp.WithString("session_id", mcp.Description("Session id returned by start_generation"), mcp.Required()),
		),
		mcpGetSession(svc),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Approve the script or ask for a revision. Only valid while the session is awaiting feedback."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("Revision request, or \"approve\" to continue to video generation")),
		),
		mcpSubmitFeedback(svc),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List recent generation sessions, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 10)")),
		),
		mcpListSessions(svc),
	)

	s.AddResource(
		mcp.NewResource(
			recentSessionsURI,
			"Recent Sessions",
			mcp.WithResourceDescription("The ten most recent generation sessions as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(svc),
	)

	return s
}

func mcpStartGeneration(svc Sessions) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productURL, err := req.RequireString("product_url")
		if err != nil {
			return mcpError("product_url is required"), nil
		}

		sess, err := svc.Start(pipeline.StartRequest{
			ProductURL: productURL,
			AvatarID:   req.GetString("avatar_id", ""),
			VoiceID:    req.GetString("voice_id", ""),
			Width:      req.GetInt("width", 0),
			Height:     req.GetInt("height", 0),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start generation: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Started session %s. Poll get_session until it is awaiting feedback.", sess.ID)), nil
	}
}

func mcpGetSession(svc Sessions) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		sess, err := svc.Get(id)
		if errors.Is(err, session.ErrNotFound) {
			return mcpError(fmt.Sprintf("session %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get session: %v", err)), nil
		}

		b, err := json.MarshalIndent(sess, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal session: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSubmitFeedback(svc Sessions) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		feedback := req.GetString("feedback", "")

		if _, err := svc.SubmitFeedback(id, feedback); err != nil {
			return mcpError(fmt.Sprintf("feedback rejected: %v", err)), nil
		}
		if pipeline.IsApproval(feedback) {
			return mcpText("Script approved. Video generation is under way."), nil
		}
		return mcpText("Feedback received, updating script..."), nil
	}
}

func mcpListSessions(svc Sessions) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}

		summaries, err := recentSessions(svc, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list sessions: %v", err)), nil
		}
		if len(summaries) == 0 {
			return mcpText("No sessions."), nil
		}

		b, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(svc Sessions) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summaries, err := recentSessions(svc, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

type sessionSummary struct {
	ID         string         `json:"session_id"`
	Status     session.Status `json:"status"`
	Step       session.Step   `json:"step"`
	ProductURL string         `json:"product_url"`
	UpdatedAt  string         `json:"updated_at"`
	FinalVideo string         `json:"final_video,omitempty"`
}

func recentSessions(svc Sessions, limit int) ([]sessionSummary, error) {
	all, err := svc.List(limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]sessionSummary, len(all))
	for i, s := range all {
		summaries[i] = sessionSummary{
			ID:         s.ID,
			Status:     s.Status,
			Step:       s.Step,
			ProductURL: s.Inputs.ProductURL,
			UpdatedAt:  s.UpdatedAt.Format(time.RFC3339),
			FinalVideo: s.FinalVideo,
		}
	}
	return summaries, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
