// Package config builds the ReplyPipe runtime configuration.
//
// Values come from command-line flags, then the environment (a .env file is
// loaded first when present), then defaults. The result is one Config value
// that main passes into every constructor.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/ReplyPipe/internal/assistant"
	"github.com/BTreeMap/ReplyPipe/internal/genai"
	"github.com/BTreeMap/ReplyPipe/internal/identity"
	"github.com/BTreeMap/ReplyPipe/internal/keylock"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/scheduler"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/util"
	"github.com/BTreeMap/ReplyPipe/internal/webhook"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ReplyPipe state data
	DefaultStateDir = "/var/lib/replypipe"
	// DefaultDBFileName is the default SQLite session database filename
	DefaultDBFileName = "replypipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAPIAddr is the default webhook listen address
	DefaultAPIAddr = ":8080"
)

// Config is the complete runtime configuration.
type Config struct {
	APIAddr  string
	StateDir string
	DBDSN    string // session/client store; SQLite path or Postgres DSN

	CountryCode string
	BotNumber   string

	OpenAIKey         string
	OpenAIModel       string
	OpenAIBaseURL     string
	OpenAITemperature float64
	Debug             bool // write GenAI request/response dumps under StateDir/debug

	Transport        string
	GatewayURL       string
	GatewayToken     string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioWebhookURL string
	WhatsAppDSN      string
	QROutput         string
	NumericCode      bool

	LockBackend      string
	RedisURL         string
	BatchErrorPolicy string

	DedupRetention     time.Duration // 0 disables pruning
	DedupPruneSchedule string

	LogLevel    string
	LogFormat   string
	PersonaFile string
	Persona     assistant.Persona
}

// FromEnv reads the environment into a Config with defaults applied. It does
// not load .env or parse flags.
func FromEnv() *Config {
	return &Config{
		APIAddr:            util.GetenvDefault("API_ADDR", DefaultAPIAddr),
		StateDir:           util.GetenvDefault("REPLYPIPE_STATE_DIR", DefaultStateDir),
		DBDSN:              util.FirstEnv("DATABASE_URL", "DB_DSN"),
		CountryCode:        util.GetenvDefault("COUNTRY_CODE", identity.DefaultCountryCode),
		BotNumber:          os.Getenv("BOT_NUMBER"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        util.GetenvDefault("OPENAI_MODEL", genai.DefaultModel),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		OpenAITemperature:  util.ParseFloatEnv("OPENAI_TEMPERATURE", genai.DefaultTemperature),
		Debug:              util.ParseBoolEnv("REPLYPIPE_DEBUG", false),
		Transport:          util.GetenvDefault("TRANSPORT", messaging.TransportGateway),
		GatewayURL:         os.Getenv("GATEWAY_URL"),
		GatewayToken:       os.Getenv("GATEWAY_TOKEN"),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:   os.Getenv("TWILIO_WEBHOOK_URL"),
		WhatsAppDSN:        os.Getenv("WHATSAPP_DB_DSN"),
		QROutput:           os.Getenv("WHATSAPP_QR_OUTPUT"),
		NumericCode:        util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		LockBackend:        util.GetenvDefault("LOCK_BACKEND", keylock.BackendMemory),
		RedisURL:           os.Getenv("REDIS_URL"),
		BatchErrorPolicy:   util.GetenvDefault("BATCH_ERROR_POLICY", string(webhook.PolicyIsolate)),
		DedupRetention:     util.ParseDurationEnv("DEDUP_RETENTION", scheduler.DefaultDedupRetention),
		DedupPruneSchedule: util.GetenvDefault("DEDUP_PRUNE_SCHEDULE", scheduler.DefaultPruneSchedule),
		LogLevel:           util.GetenvDefault("LOG_LEVEL", "info"),
		LogFormat:          util.GetenvDefault("LOG_FORMAT", "text"),
		PersonaFile:        os.Getenv("PERSONA_FILE"),
	}
}

// Load builds the configuration from .env, the environment and args (without
// the program name), then loads the persona file and validates the result.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("config.Load: loaded .env file")
	}

	cfg := FromEnv()
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	cfg.applyDerivedDefaults()

	cfg.Persona = assistant.DefaultPersona
	if cfg.PersonaFile != "" {
		p, err := LoadPersona(cfg.PersonaFile)
		if err != nil {
			return nil, err
		}
		cfg.Persona = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("config.Load: configuration loaded",
		"api_addr", cfg.APIAddr,
		"state_dir", cfg.StateDir,
		"db_dsn_set", cfg.DBDSN != "",
		"transport", cfg.Transport,
		"lock_backend", cfg.LockBackend,
		"openai_key_set", cfg.OpenAIKey != "",
		"persona", cfg.Persona.Name)
	return cfg, nil
}

func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("replypipe", flag.ContinueOnError)
	fs.StringVar(&c.APIAddr, "api-addr", c.APIAddr, "webhook listen address (overrides $API_ADDR)")
	fs.StringVar(&c.StateDir, "state-dir", c.StateDir, "state directory (overrides $REPLYPIPE_STATE_DIR)")
	fs.StringVar(&c.DBDSN, "db-dsn", c.DBDSN, "session store DSN, SQLite path or Postgres (overrides $DATABASE_URL)")
	fs.StringVar(&c.CountryCode, "country-code", c.CountryCode, "country calling code stripped from phone numbers (overrides $COUNTRY_CODE)")
	fs.StringVar(&c.BotNumber, "bot-number", c.BotNumber, "the assistant's own WhatsApp number (overrides $BOT_NUMBER)")
	fs.StringVar(&c.OpenAIKey, "openai-api-key", c.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&c.OpenAIModel, "openai-model", c.OpenAIModel, "chat model (overrides $OPENAI_MODEL)")
	fs.StringVar(&c.Transport, "transport", c.Transport, "outbound transport: gateway, twilio or whatsmeow (overrides $TRANSPORT)")
	fs.StringVar(&c.WhatsAppDSN, "whatsapp-db-dsn", c.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&c.QROutput, "qr-output", c.QROutput, "path to write the whatsmeow login QR code")
	fs.BoolVar(&c.NumericCode, "numeric-code", c.NumericCode, "print the raw whatsmeow pairing code instead of a QR code")
	fs.StringVar(&c.LockBackend, "lock-backend", c.LockBackend, "per-phone lock backend: memory, redis or none (overrides $LOCK_BACKEND)")
	fs.StringVar(&c.BatchErrorPolicy, "batch-error-policy", c.BatchErrorPolicy, "failing webhook item policy: isolate or abort (overrides $BATCH_ERROR_POLICY)")
	fs.DurationVar(&c.DedupRetention, "dedup-retention", c.DedupRetention, "how long inbound message ids are remembered, 0 to keep forever (overrides $DEDUP_RETENTION)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	fs.StringVar(&c.PersonaFile, "persona-file", c.PersonaFile, "YAML persona file (overrides $PERSONA_FILE)")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "dump GenAI requests under the state directory (overrides $REPLYPIPE_DEBUG)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}

// applyDerivedDefaults fills values that depend on the final state directory.
func (c *Config) applyDerivedDefaults() {
	if c.DBDSN == "" {
		c.DBDSN = filepath.Join(c.StateDir, DefaultDBFileName)
		slog.Debug("config: no database DSN provided, defaulting to SQLite", "sqlite_path", c.DBDSN)
	}
	if c.WhatsAppDSN == "" {
		c.WhatsAppDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.LockBackend = strings.ToLower(strings.TrimSpace(c.LockBackend))
}

// Validate rejects settings the process cannot start with. Missing transport
// or OpenAI credentials are not errors: sends and replies are then skipped
// with a warning.
func (c *Config) Validate() error {
	var errs []error
	switch c.Transport {
	case messaging.TransportGateway, messaging.TransportTwilio, messaging.TransportWhatsmeow:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	switch c.LockBackend {
	case keylock.BackendMemory, keylock.BackendNone:
	case keylock.BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("LOCK_BACKEND=redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock backend %q", c.LockBackend))
	}
	if _, err := webhook.ParsePolicy(c.BatchErrorPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.CountryCode == "" || strings.Trim(c.CountryCode, "0123456789") != "" {
		errs = append(errs, fmt.Errorf("country code must be digits, got %q", c.CountryCode))
	}
	if c.DedupRetention < 0 {
		errs = append(errs, fmt.Errorf("dedup retention must not be negative, got %s", c.DedupRetention))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.OpenAIKey == "" {
		slog.Warn("config.Validate: OPENAI_API_KEY not set, inbound messages will be recorded without replies")
	}
	switch c.Transport {
	case messaging.TransportGateway:
		if c.GatewayURL == "" || c.GatewayToken == "" {
			slog.Warn("config.Validate: GATEWAY_URL or GATEWAY_TOKEN not set, replies will not be sent")
		}
	case messaging.TransportTwilio:
		if !c.TwilioConfigured() {
			slog.Warn("config.Validate: Twilio credentials incomplete, replies will not be sent")
		}
	}
	return nil
}

// TwilioConfigured reports whether every Twilio sending credential is set.
func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// UsesLocalState reports whether any store lives in the state directory, in
// which case main must hold the state directory lock.
func (c *Config) UsesLocalState() bool {
	local := func(dsn string) bool { return store.DetectDSNType(dsn) == "sqlite3" }
	return local(c.DBDSN) || (c.Transport == messaging.TransportWhatsmeow && local(c.WhatsAppDSN))
}

// ParseLogLevel maps a LOG_LEVEL value to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}
