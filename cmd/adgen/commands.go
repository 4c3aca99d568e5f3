package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/adgen/internal/api"
	"github.com/kalambet/adgen/internal/config"
	"github.com/kalambet/adgen/internal/notify"
	"github.com/kalambet/adgen/internal/pipeline"
	"github.com/kalambet/adgen/internal/session"
)

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <product-url>",
	Short: "Start generating a video ad for a product page",
	Long: `Start generating a video ad for a product page.

Examples:
  adgen generate https://shop.example.com/products/aero-pro
  adgen generate https://shop.example.com/p/42 --width 720 --height 1280 --watch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		avatar, _ := cmd.Flags().GetString("avatar")
		voice, _ := cmd.Flags().GetString("voice")
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")
		watch, _ := cmd.Flags().GetBool("watch")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id, err := startGeneration(ctx, client, pipeline.StartRequest{
			ProductURL: args[0],
			AvatarID:   avatar,
			VoiceID:    voice,
			Width:      width,
			Height:     height,
		})
		if err != nil {
			return err
		}
		printSuccess("Started session %s", id)
		fmt.Println(id)

		if !watch {
			return nil
		}
		return client.watch(ctx, id, func(ev notify.Event) bool {
			return printEvent(ev, id)
		})
	},
}

func init() {
	generateCmd.Flags().String("avatar", "", "presenter avatar id (default: server setting)")
	generateCmd.Flags().String("voice", "", "narration voice id (default: server setting)")
	generateCmd.Flags().Int("width", 0, "output width in pixels")
	generateCmd.Flags().Int("height", 0, "output height in pixels")
	generateCmd.Flags().Bool("watch", false, "stream progress until the script is ready")
}

func startGeneration(ctx context.Context, client *apiClient, req pipeline.StartRequest) (string, error) {
	resp, err := client.post(ctx, "/api/start-generation", req)
	if err != nil {
		return "", err
	}
	var result api.GenerationResponse
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	if result.SessionID == "" {
		return "", fmt.Errorf("server returned no session id")
	}
	return result.SessionID, nil
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <session-id> [feedback...]",
	Short: "Approve the script or request a revision",
	Long: `Approve the generated script or request a revision.

With no feedback text, or with "approve", the session continues to video
generation. Anything else is sent to the script writer as revision notes.

Examples:
  adgen feedback 3f1c... approve
  adgen feedback 3f1c... make the opening punchier --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		text := strings.Join(args[1:], " ")
		watch, _ := cmd.Flags().GetBool("watch")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := submitFeedback(ctx, client, id, text); err != nil {
			return err
		}
		if pipeline.IsApproval(text) {
			printSuccess("Script approved, generating video")
		} else {
			printSuccess("Feedback sent, revising script")
		}

		if !watch {
			return nil
		}
		return client.watch(ctx, id, func(ev notify.Event) bool {
			return printEvent(ev, id)
		})
	},
}

func init() {
	feedbackCmd.Flags().Bool("watch", false, "stream progress until the next checkpoint")
}

func submitFeedback(ctx context.Context, client *apiClient, id, text string) error {
	resp, err := client.post(ctx, "/api/script-feedback", map[string]string{
		"session_id": id,
		"feedback":   text,
	})
	if err != nil {
		return err
	}
	var result api.GenerationResponse
	return decodeJSON(resp, &result)
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage generation sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		sess, err := fetchSession(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sess)
		}
		printSession(sess)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		sessions, err := listSessions(cmd.Context(), client, limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		for _, s := range sessions {
			fmt.Printf("%s  %-18s  %s  %s\n",
				colorize(colorCyan, shortID(s.ID)),
				s.Status,
				s.UpdatedAt.Local().Format("2006-01-02 15:04"),
				s.Inputs.ProductURL,
			)
		}
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Cancel a session and remove its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/session/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

func init() {
	sessionShowCmd.Flags().Bool("json", false, "print the raw session record")
	sessionListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

func fetchSession(ctx context.Context, client *apiClient, id string) (session.Session, error) {
	resp, err := client.get(ctx, "/api/session/"+url.PathEscape(id))
	if err != nil {
		return session.Session{}, err
	}
	var result api.GenerationResponse
	if err := decodeJSON(resp, &result); err != nil {
		return session.Session{}, err
	}
	if result.Data == nil {
		return session.Session{}, fmt.Errorf("server returned no session data")
	}
	return *result.Data, nil
}

func listSessions(ctx context.Context, client *apiClient, limit int) ([]session.Session, error) {
	resp, err := client.get(ctx, fmt.Sprintf("/api/sessions?limit=%d", limit))
	if err != nil {
		return nil, err
	}
	var result struct {
		Sessions []session.Session `json:"sessions"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
