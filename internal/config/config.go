// Package config loads the service configuration from YAML, the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix      = "COOKCLIP"
	configName     = "cookclip"
	TransportTG    = "telegram"
	TransportLark  = "lark"
	BackendMemory  = "memory"
	BackendPG      = "postgres"
	BackendSQLite  = "sqlite"
	BackendNone    = "none"
	redactedSecret = "********"
)

type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
	Transport   TransportConfig   `mapstructure:"transport" yaml:"transport"`
	Tools       ToolsConfig       `mapstructure:"tools" yaml:"tools"`
	Workdir     WorkdirConfig     `mapstructure:"workdir" yaml:"workdir"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition" yaml:"acquisition"`
	Compression CompressionConfig `mapstructure:"compression" yaml:"compression"`
	OCR         OCRConfig         `mapstructure:"ocr" yaml:"ocr"`
	OpenAI      OpenAIConfig      `mapstructure:"openai" yaml:"openai"`
	Speech      SpeechConfig      `mapstructure:"speech" yaml:"speech"`
	Parser      ParserConfig      `mapstructure:"parser" yaml:"parser"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit" yaml:"ratelimit"`
	Confirm     ConfirmConfig     `mapstructure:"confirm" yaml:"confirm"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Admin       AdminConfig       `mapstructure:"admin" yaml:"admin"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type TracingConfig struct {
	Exporter   string  `mapstructure:"exporter" yaml:"exporter"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

type TransportConfig struct {
	Kind     string         `mapstructure:"kind" yaml:"kind"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Lark     LarkConfig     `mapstructure:"lark" yaml:"lark"`
}

type TelegramConfig struct {
	Token       string `mapstructure:"token" yaml:"token"`
	PollTimeout int    `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	Debug       bool   `mapstructure:"debug" yaml:"debug"`
}

type LarkConfig struct {
	AppID       string `mapstructure:"app_id" yaml:"app_id"`
	AppSecret   string `mapstructure:"app_secret" yaml:"app_secret"`
	BaseDomain  string `mapstructure:"base_domain" yaml:"base_domain"`
	AllowGroups bool   `mapstructure:"allow_groups" yaml:"allow_groups"`
	AllowDirect bool   `mapstructure:"allow_direct" yaml:"allow_direct"`
}

// ToolsConfig names the external binaries.
type ToolsConfig struct {
	YTDLP     string `mapstructure:"ytdlp" yaml:"ytdlp"`
	FFmpeg    string `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	FFprobe   string `mapstructure:"ffprobe" yaml:"ffprobe"`
	Tesseract string `mapstructure:"tesseract" yaml:"tesseract"`
}

type WorkdirConfig struct {
	Dir           string        `mapstructure:"dir" yaml:"dir"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
}

type AcquisitionConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	CeilingMB       float64       `mapstructure:"ceiling_mb" yaml:"ceiling_mb"`
	TargetMB        float64       `mapstructure:"target_mb" yaml:"target_mb"`
	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	HTMLTimeout     time.Duration `mapstructure:"html_timeout" yaml:"html_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
	ValidateTimeout time.Duration `mapstructure:"validate_timeout" yaml:"validate_timeout"`
	MinDimension    int           `mapstructure:"min_dimension" yaml:"min_dimension"`
	ProfilesFile    string        `mapstructure:"profiles_file" yaml:"profiles_file"`
}

type CompressionConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ProfilesFile string        `mapstructure:"profiles_file" yaml:"profiles_file"`
}

type OCRConfig struct {
	Languages       string        `mapstructure:"languages" yaml:"languages"`
	PSMModes        []int         `mapstructure:"psm_modes" yaml:"psm_modes"`
	FrameTimeout    time.Duration `mapstructure:"frame_timeout" yaml:"frame_timeout"`
	Timeout         time.Duration `mapstructure:"ocr_timeout" yaml:"ocr_timeout"`
	MinConfidence   float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	MinLength       int           `mapstructure:"min_length" yaml:"min_length"`
	DedupeThreshold float64       `mapstructure:"dedupe_threshold" yaml:"dedupe_threshold"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
}

// OpenAIConfig is shared by the speech and parser clients.
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SpeechConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Model        string        `mapstructure:"model" yaml:"model"`
	Language     string        `mapstructure:"language" yaml:"language"`
	AudioTimeout time.Duration `mapstructure:"audio_timeout" yaml:"audio_timeout"`
}

type ParserConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Model          string  `mapstructure:"model" yaml:"model"`
	MaxInputTokens int     `mapstructure:"max_input_tokens" yaml:"max_input_tokens"`
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature    float32 `mapstructure:"temperature" yaml:"temperature"`
}

type RateLimitConfig struct {
	MinDelay   time.Duration `mapstructure:"min_delay" yaml:"min_delay"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

type ConfirmConfig struct {
	Backend        string        `mapstructure:"backend" yaml:"backend"`
	TTL            time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Size           int           `mapstructure:"size" yaml:"size"`
	PostgresDSN    string        `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	ExpiryInterval time.Duration `mapstructure:"expiry_interval" yaml:"expiry_interval"`
}

type CacheConfig struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"`
	Size       int           `mapstructure:"size" yaml:"size"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	SQLitePath string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

type AdminConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Options locate the configuration sources. Empty File searches ".",
// then $HOME/.cookclip for cookclip.yaml; a missing search result is not an
// error. Empty EnvFile means ".env".
type Options struct {
	File    string
	EnvFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("transport.kind", TransportTG)
	v.SetDefault("transport.telegram.token", "")
	v.SetDefault("transport.telegram.poll_timeout", 60)
	v.SetDefault("transport.telegram.debug", false)
	v.SetDefault("transport.lark.app_id", "")
	v.SetDefault("transport.lark.app_secret", "")
	v.SetDefault("transport.lark.base_domain", "")
	v.SetDefault("transport.lark.allow_groups", false)
	v.SetDefault("transport.lark.allow_direct", true)

	v.SetDefault("tools.ytdlp", "yt-dlp")
	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.ffprobe", "ffprobe")
	v.SetDefault("tools.tesseract", "tesseract")

	v.SetDefault("workdir.dir", filepath.Join(os.TempDir(), "cookclip"))
	v.SetDefault("workdir.ttl", time.Hour)
	v.SetDefault("workdir.sweep_schedule", "@every 15m")

	v.SetDefault("acquisition.max_attempts", 4)
	v.SetDefault("acquisition.ceiling_mb", 50.0)
	v.SetDefault("acquisition.target_mb", 45.0)
	v.SetDefault("acquisition.settle_delay", 3*time.Second)
	v.SetDefault("acquisition.probe_timeout", 30*time.Second)
	v.SetDefault("acquisition.html_timeout", 10*time.Second)
	v.SetDefault("acquisition.download_timeout", 5*time.Minute)
	v.SetDefault("acquisition.validate_timeout", 15*time.Second)
	v.SetDefault("acquisition.min_dimension", 100)
	v.SetDefault("acquisition.profiles_file", "")

	v.SetDefault("compression.timeout", 5*time.Minute)
	v.SetDefault("compression.profiles_file", "")

	v.SetDefault("ocr.languages", "eng")
	v.SetDefault("ocr.psm_modes", []int{6, 11, 3})
	v.SetDefault("ocr.frame_timeout", 12*time.Second)
	v.SetDefault("ocr.ocr_timeout", 15*time.Second)
	v.SetDefault("ocr.min_confidence", 30.0)
	v.SetDefault("ocr.min_length", 15)
	v.SetDefault("ocr.dedupe_threshold", 0.8)
	v.SetDefault("ocr.concurrency", 2)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.timeout", 2*time.Minute)
	_ = v.BindEnv("openai.api_key", envPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")

	v.SetDefault("speech.enabled", true)
	v.SetDefault("speech.model", "whisper-1")
	v.SetDefault("speech.language", "")
	v.SetDefault("speech.audio_timeout", time.Minute)

	v.SetDefault("parser.enabled", true)
	v.SetDefault("parser.model", "gpt-4o-mini")
	v.SetDefault("parser.max_input_tokens", 6000)
	v.SetDefault("parser.max_tokens", 1200)
	v.SetDefault("parser.temperature", 0.2)

	v.SetDefault("ratelimit.min_delay", time.Second)
	v.SetDefault("ratelimit.max_retries", 3)

	v.SetDefault("confirm.backend", BackendMemory)
	v.SetDefault("confirm.ttl", 10*time.Minute)
	v.SetDefault("confirm.size", 1024)
	v.SetDefault("confirm.postgres_dsn", "")
	v.SetDefault("confirm.expiry_interval", 30*time.Second)

	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.size", 256)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.sqlite_path", "")

	v.SetDefault("admin.addr", ":8088")
}

// Load reads the configuration. It does not validate; callers pick
// Validate or ValidatePipeline depending on what they run.
func Load(opts Options) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cookclip")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(cfg.Transport.Kind))
	cfg.Confirm.Backend = strings.ToLower(strings.TrimSpace(cfg.Confirm.Backend))
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if cfg.Cache.Backend == BackendSQLite && cfg.Cache.SQLitePath == "" {
		cfg.Cache.SQLitePath = filepath.Join(cfg.Workdir.Dir, "bundles.db")
	}
	return cfg, nil
}

// ValidatePipeline checks everything the acquisition pipeline needs.
func (c Config) ValidatePipeline() error {
	var errs []error
	positive := map[string]time.Duration{
		"workdir.ttl":                  c.Workdir.TTL,
		"acquisition.probe_timeout":    c.Acquisition.ProbeTimeout,
		"acquisition.html_timeout":     c.Acquisition.HTMLTimeout,
		"acquisition.download_timeout": c.Acquisition.DownloadTimeout,
		"acquisition.validate_timeout": c.Acquisition.ValidateTimeout,
		"compression.timeout":          c.Compression.Timeout,
		"ocr.frame_timeout":            c.OCR.FrameTimeout,
		"ocr.ocr_timeout":              c.OCR.Timeout,
		"speech.audio_timeout":         c.Speech.AudioTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", key, d))
		}
	}
	if c.Acquisition.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("acquisition.settle_delay must not be negative"))
	}
	if c.Acquisition.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("acquisition.max_attempts must be at least 1"))
	}
	if c.Acquisition.CeilingMB <= 0 || c.Acquisition.TargetMB <= 0 {
		errs = append(errs, fmt.Errorf("acquisition.ceiling_mb and target_mb must be positive"))
	} else if c.Acquisition.TargetMB >= c.Acquisition.CeilingMB {
		errs = append(errs, fmt.Errorf("acquisition.target_mb (%.0f) must be below ceiling_mb (%.0f)",
			c.Acquisition.TargetMB, c.Acquisition.CeilingMB))
	}
	if c.Workdir.Dir == "" {
		errs = append(errs, fmt.Errorf("workdir.dir is required"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	switch c.Cache.Backend {
	case BackendMemory, BackendNone:
	case BackendSQLite:
		if c.Cache.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("cache.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	if (c.Speech.Enabled || c.Parser.Enabled) && c.OpenAI.APIKey == "" {
		errs = append(errs, fmt.Errorf("openai.api_key is required while speech or parser is enabled"))
	}
	return errors.Join(errs...)
}

// Validate checks the full service configuration, transport included.
func (c Config) Validate() error {
	errs := []error{c.ValidatePipeline()}
	switch c.Transport.Kind {
	case TransportTG:
		if c.Transport.Telegram.Token == "" {
			errs = append(errs, fmt.Errorf("transport.telegram.token is required"))
		}
	case TransportLark:
		if c.Transport.Lark.AppID == "" || c.Transport.Lark.AppSecret == "" {
			errs = append(errs, fmt.Errorf("transport.lark.app_id and app_secret are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport.kind %q", c.Transport.Kind))
	}
	switch c.Confirm.Backend {
	case BackendMemory:
	case BackendPG:
		if c.Confirm.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("confirm.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown confirm.backend %q", c.Confirm.Backend))
	}
	if c.Confirm.TTL <= 0 {
		errs = append(errs, fmt.Errorf("confirm.ttl must be positive"))
	}
	if c.RateLimit.MinDelay < 0 || c.RateLimit.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("ratelimit values must not be negative"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redactedSecret
		}
	}
	mask(&c.Transport.Telegram.Token)
	mask(&c.Transport.Lark.AppSecret)
	mask(&c.OpenAI.APIKey)
	mask(&c.Confirm.PostgresDSN)
	c.OCR.PSMModes = append([]int(nil), c.OCR.PSMModes...)
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

// CeilingBytes is acquisition.ceiling_mb in bytes.
func (c AcquisitionConfig) CeilingBytes() int64 {
	return int64(c.CeilingMB * 1024 * 1024)
}
