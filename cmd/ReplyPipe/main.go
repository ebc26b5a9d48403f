// Command ReplyPipe runs the WhatsApp assistant webhook service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/ReplyPipe/internal/api"
	"github.com/BTreeMap/ReplyPipe/internal/assistant"
	"github.com/BTreeMap/ReplyPipe/internal/config"
	"github.com/BTreeMap/ReplyPipe/internal/gateway"
	"github.com/BTreeMap/ReplyPipe/internal/genai"
	"github.com/BTreeMap/ReplyPipe/internal/identity"
	"github.com/BTreeMap/ReplyPipe/internal/keylock"
	"github.com/BTreeMap/ReplyPipe/internal/lockfile"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/scheduler"
	"github.com/BTreeMap/ReplyPipe/internal/session"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ReplyPipe/internal/webhook"
	"github.com/BTreeMap/ReplyPipe/internal/whatsapp"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	initializeLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("ReplyPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ReplyPipe exited successfully")
}

// initializeLogger installs the default slog logger from LOG_LEVEL and LOG_FORMAT.
func initializeLogger(cfg *config.Config) {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.UsesLocalState() {
		lock, err := lockfile.Acquire(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}
	if err := ensureDirectoriesExist(cfg); err != nil {
		return err
	}

	st, err := store.New(store.WithDSN(cfg.DBDSN))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	locker, err := keylock.New(cfg.LockBackend, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("create %s locker: %w", cfg.LockBackend, err)
	}
	if c, ok := locker.(io.Closer); ok {
		defer c.Close()
	}

	resolver := identity.NewResolver(st, identity.WithCountryCode(cfg.CountryCode))
	sessions := session.NewManager(st, session.WithLocker(locker))

	generator, err := buildGenerator(cfg)
	if err != nil {
		return err
	}
	orchestrator := assistant.NewOrchestrator(resolver, sessions, generator, cfg.Persona)

	svc, botNumber, cleanup, err := buildMessagingService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start %s transport: %w", svc.Name(), err)
	}
	defer svc.Stop()

	policy, err := webhook.ParsePolicy(cfg.BatchErrorPolicy)
	if err != nil {
		return err
	}
	processor := webhook.NewProcessor(orchestrator, svc,
		webhook.WithBotNumber(botNumber),
		webhook.WithNormalizer(resolver.Normalize),
		webhook.WithDedup(st),
		webhook.WithPolicy(policy),
	)
	go processor.Consume(ctx, svc.Inbound())

	if cfg.DedupRetention > 0 {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.AddJob(cfg.DedupPruneSchedule, scheduler.PruneDedupJob(st, cfg.DedupRetention)); err != nil {
			return fmt.Errorf("schedule dedup pruning %q: %w", cfg.DedupPruneSchedule, err)
		}
	}

	apiOpts := []api.Option{api.WithAddr(cfg.APIAddr)}
	if svc.Name() == messaging.TransportTwilio {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(cfg.TwilioAuthToken, cfg.TwilioWebhookURL))
	}
	server := api.NewServer(processor, apiOpts...)

	slog.Info("Bootstrapping ReplyPipe",
		"transport", svc.Name(),
		"lock_backend", cfg.LockBackend,
		"policy", policy,
		"generator", generator != nil,
		"api_addr", cfg.APIAddr)
	return server.Run(ctx)
}

// buildGenerator returns nil when no OpenAI key is configured; inbound
// messages are then recorded without replies.
func buildGenerator(cfg *config.Config) (assistant.Generator, error) {
	if cfg.OpenAIKey == "" {
		return nil, nil
	}
	opts := []genai.Option{
		genai.WithAPIKey(cfg.OpenAIKey),
		genai.WithModel(cfg.OpenAIModel),
		genai.WithTemperature(cfg.OpenAITemperature),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	if cfg.Debug {
		opts = append(opts, genai.WithDebugMode(true, cfg.StateDir))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create GenAI client: %w", err)
	}
	return assistant.NewChatGenerator(client), nil
}

// buildMessagingService creates the configured transport. It also returns the
// assistant's own number for self-echo suppression and a cleanup func.
func buildMessagingService(ctx context.Context, cfg *config.Config) (messaging.Service, string, func(), error) {
	noop := func() {}
	switch cfg.Transport {
	case messaging.TransportTwilio:
		if !cfg.TwilioConfigured() {
			return messaging.NewTwilioService(nil), cfg.BotNumber, noop, nil
		}
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
		)
		if err != nil {
			return nil, "", noop, fmt.Errorf("create Twilio client: %w", err)
		}
		bot := cfg.BotNumber
		if bot == "" {
			bot = cfg.TwilioFromNumber
		}
		return messaging.NewTwilioService(client), bot, noop, nil

	case messaging.TransportWhatsmeow:
		opts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN)}
		if cfg.QROutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(cfg.QROutput))
		}
		if cfg.NumericCode {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		if strings.EqualFold(cfg.LogLevel, "debug") {
			opts = append(opts, whatsapp.WithLogLevel("DEBUG"))
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, "", noop, fmt.Errorf("create WhatsApp client: %w", err)
		}
		bot := cfg.BotNumber
		if bot == "" {
			bot = client.OwnNumber()
		}
		return messaging.NewWhatsAppService(client), bot, client.Disconnect, nil

	case messaging.TransportGateway:
		client := gateway.NewClient(gateway.WithBaseURL(cfg.GatewayURL), gateway.WithToken(cfg.GatewayToken))
		return messaging.NewGatewayService(client), cfg.BotNumber, noop, nil
	}
	return nil, "", noop, errors.New("unknown transport " + cfg.Transport)
}

// ensureDirectoriesExist creates the parent directory of a SQLite database file.
func ensureDirectoriesExist(cfg *config.Config) error {
	if store.DetectDSNType(cfg.DBDSN) != "sqlite3" {
		return nil
	}
	path := strings.TrimPrefix(cfg.DBDSN, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	slog.Debug("Creating directory for SQLite database", "dir", dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory %s: %w", dir, err)
	}
	return nil
}
