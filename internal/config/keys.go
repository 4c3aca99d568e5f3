package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key      string
	typ      keyType
	env      string
	secret   bool
	required bool
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

func str(key, env string, field func(cfg *Config) *string) keySpec {
	return keySpec{
		key: key, typ: kString, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(string) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func secret(key, env string, required bool, field func(cfg *Config) *string) keySpec {
	s := str(key, env, field)
	s.secret = true
	s.required = required
	return s
}

func integer(key, env string, field func(cfg *Config) *int) keySpec {
	return keySpec{
		key: key, typ: kInt, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(int) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func duration(key, env string, field func(cfg *Config) *time.Duration) keySpec {
	return keySpec{
		key: key, typ: kDuration, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(time.Duration) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

var specs = []keySpec{
	str("server.host", "ADGEN_SERVER_HOST", func(c *Config) *string { return &c.Server.Host }),
	integer("server.port", "ADGEN_SERVER_PORT", func(c *Config) *int { return &c.Server.Port }),
	secret("server.api_token", "ADGEN_API_TOKEN", false, func(c *Config) *string { return &c.Server.APIToken }),
	str("server.cors_origins", "ADGEN_CORS_ORIGINS", func(c *Config) *string { return &c.Server.CORSOrigins }),

	str("storage.data_dir", "ADGEN_STORAGE_DATA_DIR", func(c *Config) *string { return &c.Storage.DataDir }),
	str("log.level", "ADGEN_LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),

	secret("agent.gemini_api_key", "ADGEN_GEMINI_API_KEY", true, func(c *Config) *string { return &c.Agent.GeminiAPIKey }),
	str("agent.gemini_model", "ADGEN_GEMINI_MODEL", func(c *Config) *string { return &c.Agent.GeminiModel }),
	secret("agent.tavily_api_key", "ADGEN_TAVILY_API_KEY", false, func(c *Config) *string { return &c.Agent.TavilyAPIKey }),
	secret("agent.heygen_api_key", "ADGEN_HEYGEN_API_KEY", true, func(c *Config) *string { return &c.Agent.HeyGenAPIKey }),
	str("agent.veo_model", "ADGEN_VEO_MODEL", func(c *Config) *string { return &c.Agent.VeoModel }),

	str("media.ffmpeg_path", "ADGEN_FFMPEG_PATH", func(c *Config) *string { return &c.Media.FFmpegPath }),
	str("media.ffprobe_path", "ADGEN_FFPROBE_PATH", func(c *Config) *string { return &c.Media.FFprobePath }),

	str("publish.s3_bucket", "ADGEN_S3_BUCKET", func(c *Config) *string { return &c.Publish.S3Bucket }),
	str("publish.s3_region", "ADGEN_S3_REGION", func(c *Config) *string { return &c.Publish.S3Region }),
	str("publish.s3_prefix", "ADGEN_S3_PREFIX", func(c *Config) *string { return &c.Publish.S3Prefix }),
	duration("publish.url_expiry", "ADGEN_S3_URL_EXPIRY", func(c *Config) *time.Duration { return &c.Publish.URLExpiry }),

	secret("notify.amqp_url", "ADGEN_AMQP_URL", false, func(c *Config) *string { return &c.Notify.AMQPURL }),
	str("notify.amqp_exchange", "ADGEN_AMQP_EXCHANGE", func(c *Config) *string { return &c.Notify.AMQPExchange }),

	duration("pipeline.extraction_timeout", "ADGEN_EXTRACTION_TIMEOUT", func(c *Config) *time.Duration { return &c.Pipeline.ExtractionTimeout }),
	duration("pipeline.market_timeout", "ADGEN_MARKET_TIMEOUT", func(c *Config) *time.Duration { return &c.Pipeline.MarketTimeout }),
	duration("pipeline.script_timeout", "ADGEN_SCRIPT_TIMEOUT", func(c *Config) *time.Duration { return &c.Pipeline.ScriptTimeout }),
	duration("pipeline.video_timeout", "ADGEN_VIDEO_TIMEOUT", func(c *Config) *time.Duration { return &c.Pipeline.VideoTimeout }),
	duration("pipeline.processing_timeout", "ADGEN_PROCESSING_TIMEOUT", func(c *Config) *time.Duration { return &c.Pipeline.ProcessingTimeout }),

	str("defaults.avatar_id", "ADGEN_DEFAULT_AVATAR_ID", func(c *Config) *string { return &c.Defaults.AvatarID }),
	str("defaults.voice_id", "ADGEN_DEFAULT_VOICE_ID", func(c *Config) *string { return &c.Defaults.VoiceID }),
	integer("defaults.width", "ADGEN_DEFAULT_WIDTH", func(c *Config) *int { return &c.Defaults.Width }),
	integer("defaults.height", "ADGEN_DEFAULT_HEIGHT", func(c *Config) *int { return &c.Defaults.Height }),
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
