package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/adgen/internal/agent"
	"github.com/kalambet/adgen/internal/api"
	"github.com/kalambet/adgen/internal/artifact"
	"github.com/kalambet/adgen/internal/config"
	"github.com/kalambet/adgen/internal/media"
	"github.com/kalambet/adgen/internal/notify"
	"github.com/kalambet/adgen/internal/pipeline"
	"github.com/kalambet/adgen/internal/publish"
	"github.com/kalambet/adgen/internal/session"
	"github.com/kalambet/adgen/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the adgen server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running adgen server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show adgen server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve the MCP tools over stdin/stdout")
	rootCmd.AddCommand(stopCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "adgen.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func logLevel(s string) slog.Level {
	if strings.EqualFold(s, "debug") {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// app is the wired server: the service plus everything that must be closed
// when it stops.
type app struct {
	service *pipeline.Service
	store   *storage.Store
	hub     *notify.Hub
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	workspaces, err := artifact.NewManager(filepath.Join(cfg.Storage.DataDir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("creating artifact store: %w", err)
	}

	var publisher media.Publisher
	if cfg.Publish.S3Bucket != "" {
		p, err := publish.NewS3Publisher(ctx, publish.Options{
			Bucket: cfg.Publish.S3Bucket,
			Region: cfg.Publish.S3Region,
			Prefix: cfg.Publish.S3Prefix,
			Expiry: cfg.Publish.URLExpiry,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing S3 publisher: %w", err)
		}
		publisher = p
	} else {
		slog.Info("no S3 bucket configured, final videos stay local")
	}
	assembler := media.NewAssembler(
		media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath),
		publisher,
		filepath.Join(cfg.Storage.DataDir, "scratch"),
	)

	a.hub = notify.NewHub()
	notifiers := notify.Multi{a.hub}
	if cfg.Notify.AMQPURL != "" {
		mirror, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("connecting event mirror: %w", err)
		}
		a.closers = append(a.closers, mirror.Close)
		notifiers = append(notifiers, mirror)
		slog.Info("mirroring session events", "exchange", cfg.Notify.AMQPExchange)
	}

	router, err := buildAgent(ctx, cfg, a)
	if err != nil {
		return nil, err
	}
	downloader := agent.NewDownloader()
	if veo := router.veo; veo != nil {
		downloader.Authorize(veo.Host(), veo.DownloadHeaders())
	}

	registry := session.NewRegistry(store)
	scheduler := pipeline.NewScheduler()
	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Sessions:   registry,
		Agent:      router.invoker,
		Workspaces: workspaces,
		Assembler:  assembler,
		Downloader: downloader,
		Notifier:   notifiers,
		Timeouts: pipeline.Timeouts{
			Extraction: cfg.Pipeline.ExtractionTimeout,
			Market:     cfg.Pipeline.MarketTimeout,
			Script:     cfg.Pipeline.ScriptTimeout,
			Video:      cfg.Pipeline.VideoTimeout,
			Processing: cfg.Pipeline.ProcessingTimeout,
		},
	})
	a.service = pipeline.NewService(pipeline.ServiceDeps{
		Registry:     registry,
		Orchestrator: orch,
		Scheduler:    scheduler,
		History:      store,
		Workspaces:   workspaces,
		Channels:     a.hub,
		Notifier:     notifiers,
		Defaults: session.Inputs{
			AvatarID: cfg.Defaults.AvatarID,
			VoiceID:  cfg.Defaults.VoiceID,
			Width:    cfg.Defaults.Width,
			Height:   cfg.Defaults.Height,
		},
	})

	ok = true
	return a, nil
}

type agentStack struct {
	invoker *agent.Router
	veo     *agent.VeoClient
}

func buildAgent(ctx context.Context, cfg config.Config, a *app) (agentStack, error) {
	gen, err := agent.NewGeminiGenerator(ctx, cfg.Agent.GeminiAPIKey, cfg.Agent.GeminiModel)
	if err != nil {
		return agentStack{}, err
	}
	a.closers = append(a.closers, gen.Close)

	var (
		content agent.ContentExtractor
		search  agent.Searcher
	)
	if cfg.Agent.TavilyAPIKey != "" {
		tavily := agent.NewTavilyClient(cfg.Agent.TavilyAPIKey)
		content, search = tavily, tavily
	} else {
		slog.Info("no Tavily key configured, using page parsing and model knowledge only")
	}

	veo := agent.NewVeoClient(cfg.Agent.GeminiAPIKey, cfg.Agent.VeoModel)
	backends := agent.Backends{
		Extractor: agent.NewExtractor(gen, content),
		Market:    agent.NewMarketResearcher(gen, search),
		Script:    agent.NewScriptWriter(gen),
		ARoll:     agent.NewHeyGenClient(cfg.Agent.HeyGenAPIKey),
		BRoll:     veo,
	}
	return agentStack{invoker: backends.Router(), veo: veo}, nil
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "adgen version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	if err := cfg.RequireAgentKeys(); err != nil {
		return err
	}

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(localURL(cfg.Server) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	recovered, err := a.service.Recover()
	if err != nil {
		return fmt.Errorf("recovering sessions: %w", err)
	}
	if recovered > 0 {
		slog.Info("recovered sessions", "count", recovered)
	}

	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured, /api is unauthenticated")
	}
	handler := api.NewHandler(api.Deps{
		Service:     a.service,
		Channels:    a.hub,
		Stats:       a.store,
		Token:       cfg.Server.APIToken,
		CORSOrigins: cfg.Server.Origins(),
		Version:     version,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if mcpStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(a.service, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("adgen listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	httpErr := srv.Shutdown(shutdownCtx)
	if err := a.service.Shutdown(shutdownCtx); err != nil {
		slog.Warn("background tasks did not stop in time", "error", err)
	}
	return httpErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("adgen is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("stopping adgen (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to adgen (PID %d)", pid)
	return nil
}

type webStatus struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Running  int            `json:"running"`
	Sessions map[string]int `json:"sessions"`
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	var st webStatus
	resp, err := client.get(ctx, "/api/web-status")
	if err == nil {
		err = decodeJSON(resp, &st)
	}
	if err != nil {
		printStatus("Server", "stopped (%s)", client.baseURL)
	} else {
		printStatus("Server", "running at %s (version %s)", client.baseURL, st.Version)
		printStatus("Active tasks", "%d", st.Running)
		printStatus("Sessions", "%s", countsLabel(st.Sessions))
	}

	if err := cfg.RequireAgentKeys(); err != nil {
		printWarning("%v", err)
	}
	publishTarget := "local only"
	if cfg.Publish.S3Bucket != "" {
		publishTarget = "s3://" + cfg.Publish.S3Bucket + "/" + cfg.Publish.S3Prefix
	}
	printStatus("Publish", "%s", publishTarget)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// countsLabel renders per-status counts in lifecycle order.
func countsLabel(counts map[string]int) string {
	order := []session.Status{
		session.StatusStarted,
		session.StatusProcessing,
		session.StatusAwaitingFeedback,
		session.StatusCompleted,
		session.StatusError,
	}
	var parts []string
	for _, s := range order {
		if n := counts[string(s)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
