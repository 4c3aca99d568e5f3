package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Agent    AgentConfig
	Media    MediaConfig
	Publish  PublishConfig
	Notify   NotifyConfig
	Pipeline PipelineConfig
	Defaults DefaultsConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	APIToken    string
	CORSOrigins string
}

// Origins splits the comma separated CORS origin list.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type AgentConfig struct {
	GeminiAPIKey string
	GeminiModel  string
	TavilyAPIKey string
	HeyGenAPIKey string
	VeoModel     string
}

type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
}

type PublishConfig struct {
	S3Bucket  string
	S3Region  string
	S3Prefix  string
	URLExpiry time.Duration
}

type NotifyConfig struct {
	AMQPURL      string
	AMQPExchange string
}

type PipelineConfig struct {
	ExtractionTimeout time.Duration
	MarketTimeout     time.Duration
	ScriptTimeout     time.Duration
	VideoTimeout      time.Duration
	ProcessingTimeout time.Duration
}

type DefaultsConfig struct {
	AvatarID string
	VoiceID  string
	Width    int
	Height   int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: "*",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Agent: AgentConfig{
			GeminiModel: "gemini-2.0-flash",
			VeoModel:    "veo-2.0-generate-001",
		},
		Media: MediaConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Publish: PublishConfig{
			S3Prefix:  "videos",
			URLExpiry: time.Hour,
		},
		Notify: NotifyConfig{
			AMQPExchange: "adgen.events",
		},
		Pipeline: PipelineConfig{
			ExtractionTimeout: 2 * time.Minute,
			MarketTimeout:     5 * time.Minute,
			ScriptTimeout:     2 * time.Minute,
			VideoTimeout:      20 * time.Minute,
			ProcessingTimeout: 10 * time.Minute,
		},
		Defaults: DefaultsConfig{
			AvatarID: "Raul_sitting_casualsofawithipad_front",
			VoiceID:  "beaa640abaa24c32bea33b280d2f5ea3",
			Width:    1280,
			Height:   720,
		},
	}
}

// Load reads configuration in order of increasing precedence: defaults, the
// JSON file at $XDG_CONFIG_HOME/adgen/config.json, then ADGEN_* environment
// variables. A .env file in the working directory is loaded into the
// environment first; variables already set are not overwritten.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// RequireAgentKeys reports the missing API keys the generation stages need.
func (c Config) RequireAgentKeys() error {
	var missing []string
	for _, s := range specs {
		if !s.required {
			continue
		}
		if v, _ := s.extract(c).(string); v == "" {
			missing = append(missing, s.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: set %s", strings.Join(missing, ", "))
	}
	return nil
}
