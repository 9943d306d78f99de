package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/copperline/chatvault/cmd/chatvault/internal"
	"github.com/copperline/chatvault/pkg/api"
	"github.com/copperline/chatvault/pkg/bridge"
	"github.com/copperline/chatvault/pkg/channels"
	"github.com/copperline/chatvault/pkg/config"
	"github.com/copperline/chatvault/pkg/llm"
	"github.com/copperline/chatvault/pkg/logger"
	"github.com/copperline/chatvault/pkg/media"
	"github.com/copperline/chatvault/pkg/normalize"
	"github.com/copperline/chatvault/pkg/session"
	"github.com/copperline/chatvault/pkg/store"
)

func gatewayCmd(debug, forceMemory bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}

	// Local .env files override nothing, they just fill gaps.
	_ = godotenv.Load()

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entities, messages, closeStore, err := openStore(ctx, cfg, forceMemory)
	if err != nil {
		return err
	}
	defer closeStore()

	files := media.NewStore(filepath.Join(cfg.DataDir, "media"))
	normalizer := normalize.New(entities, messages, files)

	sup := session.NewSupervisor(func(ctx context.Context, ev normalize.RawEvent) error {
		_, err := normalizer.Normalize(ctx, ev)
		return err
	})

	roles, err := registerTransports(sup, cfg)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		fmt.Println("Warning: no channels enabled")
	} else {
		fmt.Printf("✓ Sessions registered: %v\n", roles)
	}

	sup.StartAll(ctx)

	sendTimeout := time.Duration(cfg.Gateway.SendTimeoutSeconds) * time.Second
	br := bridge.New(sup, sendTimeout)

	srv := api.NewServer(entities, messages, br, files, sup.States)
	if cfg.LLM.APIKey != "" {
		srv.WithChat(llm.NewClient(cfg.LLM.APIKey, cfg.LLM.APIBase, cfg.LLM.Model), llm.ExtractJSON)
		logger.InfoCF("gateway", "chat endpoint enabled", map[string]any{"model": cfg.LLM.Model})
	}

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	httpServer := &http.Server{Addr: addr, Handler: srv.Router()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("gateway", "HTTP server error", map[string]any{"error": err.Error()})
		}
	}()

	fmt.Printf("✓ Gateway started on %s\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("gateway", "HTTP shutdown", map[string]any{"error": err.Error()})
	}
	cancel()
	sup.Wait()
	fmt.Println("✓ Gateway stopped")

	return nil
}

func openStore(ctx context.Context, cfg *config.Config, forceMemory bool) (store.EntityStore, store.MessageLog, func(), error) {
	if forceMemory || cfg.Storage.MongoURI == "" {
		mem := store.NewMemoryStore()
		logger.InfoC("gateway", "using in-memory storage")
		return mem, mem, func() {}, nil
	}

	mongoCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	ms, err := store.NewMongoStore(mongoCtx, cfg.Storage.MongoURI, cfg.Storage.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	logger.InfoCF("gateway", "using MongoDB storage", map[string]any{"database": cfg.Storage.Database})

	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ms.Close(closeCtx); err != nil {
			logger.WarnCF("gateway", "MongoDB close", map[string]any{"error": err.Error()})
		}
	}
	return ms, ms, closeFn, nil
}

func registerTransports(sup *session.Supervisor, cfg *config.Config) ([]string, error) {
	var roles []string

	register := func(role string, t session.Transport) error {
		if _, err := sup.Register(role, t); err != nil {
			return fmt.Errorf("error registering %s session: %w", role, err)
		}
		roles = append(roles, role)
		return nil
	}

	if tg := cfg.Channels.Telegram; tg.Enabled {
		if tg.UserToken != "" {
			t := channels.NewTelegramTransport("telegram-user", tg.UserToken, tg.AllowFrom)
			if err := register("telegram-user", t); err != nil {
				return nil, err
			}
		}
		if tg.BotToken != "" {
			t := channels.NewTelegramTransport("telegram-bot", tg.BotToken, tg.AllowFrom)
			if err := register("telegram-bot", t); err != nil {
				return nil, err
			}
		}
	}

	if ln := cfg.Channels.LINE; ln.Enabled {
		t := channels.NewLINETransport("line", ln.ChannelSecret, ln.ChannelAccessToken,
			ln.WebhookHost, ln.WebhookPort, ln.WebhookPath, ln.AllowFrom)
		if err := register("line", t); err != nil {
			return nil, err
		}
	}

	if dc := cfg.Channels.Discord; dc.Enabled {
		t := channels.NewDiscordTransport("discord", dc.Token, dc.AllowFrom)
		if err := register("discord", t); err != nil {
			return nil, err
		}
	}

	return roles, nil
}
