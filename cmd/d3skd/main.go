package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	apiPkg "github.com/d3sk-io/d3sk/internal/api"
	"github.com/d3sk-io/d3sk/internal/config"
	"github.com/d3sk-io/d3sk/internal/connector"
	slackconn "github.com/d3sk-io/d3sk/internal/connector/slack"
	"github.com/d3sk-io/d3sk/internal/connector/telegram"
	"github.com/d3sk-io/d3sk/internal/engine"
	"github.com/d3sk-io/d3sk/internal/knowledge"
	"github.com/d3sk-io/d3sk/internal/logbuf"
	"github.com/d3sk-io/d3sk/internal/provider"
	"github.com/d3sk-io/d3sk/internal/scheduler"
	"github.com/d3sk-io/d3sk/internal/session"
	"github.com/d3sk-io/d3sk/internal/tenant"
	"github.com/d3sk-io/d3sk/internal/ticket"
	"github.com/d3sk-io/d3sk/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (2 modes: file, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("d3skd starting", "data_dir", cfg.Store.DataDir)

	// 1. Initialize provider(s)
	providers := make(map[string]provider.Provider)
	for name, pcfg := range cfg.Providers {
		switch pcfg.Type {
		case "anthropic":
			var opts []provider.AnthropicOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithAnthropicBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithAnthropicModel(pcfg.Model))
			}
			providers[name] = provider.NewAnthropic(pcfg.APIKey, opts...)
		default: // "openai" or empty
			var opts []provider.OpenAIOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithModel(pcfg.Model))
			}
			providers[name] = provider.NewOpenAI(pcfg.APIKey, opts...)
		}
		logger.Info("provider initialized", "name", name, "type", pcfg.Type, "model", pcfg.Model)
	}

	defaultProv, ok := providers["default"]
	if !ok {
		logger.Error("no 'default' provider configured")
		os.Exit(1)
	}
	llm := &provider.Completer{Provider: defaultProv}

	// 2. Initialize stores
	os.MkdirAll(cfg.Store.DataDir, 0o755)

	sessions, err := session.NewSQLiteStore(filepath.Join(cfg.Store.DataDir, "sessions.db"))
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	tickets, err := ticket.NewSQLiteStore(filepath.Join(cfg.Store.DataDir, "tickets.db"))
	if err != nil {
		logger.Error("failed to open ticket store", "error", err)
		os.Exit(1)
	}
	tenants, err := tenant.NewSQLiteRegistry(filepath.Join(cfg.Store.DataDir, "tenants.db"))
	if err != nil {
		logger.Error("failed to open tenant registry", "error", err)
		os.Exit(1)
	}

	// 3. Knowledge retriever
	var kOpts []knowledge.Option
	if cfg.Knowledge.APIKey != "" {
		kOpts = append(kOpts, knowledge.WithAPIKey(cfg.Knowledge.APIKey))
	}
	retriever := knowledge.NewHTTPRetriever(cfg.Knowledge.BaseURL, kOpts...)

	// 4. Conversation engine
	eng := engine.New(llm, retriever, sessions, &ticket.Handoff{Store: tickets},
		logger.With("component", "engine"), engine.Options{
			GreetingPrecheck:  cfg.Engine.GreetingPrecheck,
			TopK:              cfg.Knowledge.TopK,
			ClassifyTimeout:   time.Duration(cfg.Engine.ClassifyTimeout) * time.Second,
			RetrieveTimeout:   time.Duration(cfg.Engine.RetrieveTimeout) * time.Second,
			SynthesizeTimeout: time.Duration(cfg.Engine.SynthesizeTimeout) * time.Second,
		})

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Session expiry sweep
	ttl := time.Duration(cfg.Engine.SessionTTL) * time.Hour
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	sweepSchedule := cfg.Engine.SweepSchedule
	if sweepSchedule == "" {
		sweepSchedule = "@every 1h"
	}
	sched := scheduler.New(logger.With("component", "scheduler"))
	err = sched.AddJob("session-sweep", sweepSchedule, func(jobCtx context.Context) {
		n, err := sessions.DeleteExpired(jobCtx, time.Now().Add(-ttl))
		if err != nil {
			logger.Error("session sweep failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("expired sessions removed", "count", n)
		}
	})
	if err != nil {
		logger.Error("failed to register session sweep", "error", err)
		os.Exit(1)
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 6. Connectors
	if cfg.Connectors.Telegram != nil {
		threads := connector.NewThreadMap()
		handler := connectorHandler(eng, threads, cfg.Connectors.Telegram.TenantID)

		tgConn, err := telegram.New(telegram.Config{
			Token:     cfg.Connectors.Telegram.Token,
			AllowFrom: cfg.Connectors.Telegram.AllowFrom,
		}, handler, logger.With("connector", "telegram"))
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}

		go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })
	}

	if cfg.Connectors.Slack != nil {
		threads := connector.NewThreadMap()
		handler := connectorHandler(eng, threads, cfg.Connectors.Slack.TenantID)

		slConn, err := slackconn.New(slackconn.Config{
			BotToken: cfg.Connectors.Slack.BotToken,
			AppToken: cfg.Connectors.Slack.AppToken,
		}, handler, logger.With("connector", "slack"))
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}

		go safeGo(logger, "slack", func() { slConn.Start(ctx) })
	}

	// 7. API server
	validator := &tenant.Validator{Registry: tenants}
	apiSrv := apiPkg.NewServer(eng, tickets, tenants, validator, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logBuf)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 8. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	sessions.Close()
	tickets.Close()
	tenants.Close()
	logger.Info("d3skd stopped")
}

// connectorHandler adapts the engine to a messaging connector. Each
// platform chat sticks to one conversation thread; /new and /start drop
// the binding so the next message opens a fresh thread.
func connectorHandler(eng *engine.Engine, threads *connector.ThreadMap, tenantID string) connector.InboundHandler {
	return func(ctx context.Context, msg connector.InboundMessage) (string, error) {
		key := msg.Channel + ":" + msg.ChatID

		cmd := strings.TrimSpace(msg.Content)
		if cmd == "/new" || cmd == "/start" {
			threads.Reset(key)
			return "Starting a new conversation. How can I help you?", nil
		}

		resp, err := eng.ProcessTurn(ctx, protocol.TurnRequest{
			ThreadID: threads.Get(key),
			TenantID: tenantID,
			Message:  msg.Content,
		})
		if err != nil {
			return "", err
		}
		threads.Set(key, resp.ThreadID)
		return resp.Answer, nil
	}
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
