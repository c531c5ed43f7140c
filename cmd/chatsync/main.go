// Command chatsync runs the chat and notification sync layer headless: it
// restores or opens a session, keeps the live connection up, mirrors
// badge and message activity to NATS when enabled and exposes metrics.
//
// "chatsync follow" instead prints what another chatsync mirrors to NATS.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haraj-adan/chatsync/internal/app"
	"github.com/haraj-adan/chatsync/internal/auth"
	"github.com/haraj-adan/chatsync/internal/config"
	"github.com/haraj-adan/chatsync/internal/logging"
	"github.com/haraj-adan/chatsync/internal/messaging"
	"github.com/haraj-adan/chatsync/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)
	log := logging.Component("main")

	if len(os.Args) > 1 && os.Args[1] == "follow" {
		follow(cfg)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build client")
	}

	log.Info().
		Str("api", cfg.API.BaseURL).
		Str("socket", cfg.Socket.URL).
		Str("prefs", cfg.Prefs.Driver).
		Bool("nats", cfg.NATS.Enabled).
		Msg("chatsync starting")

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics listening")
	}

	if err := a.Start(ctx); err != nil {
		log.Error().Err(err).Msg("live connection not established, retrying in background")
	}

	// CHATSYNC_EMAIL/CHATSYNC_PASSWORD sign in when no session was restored.
	if !a.Auth.Authenticated() {
		email, password := os.Getenv("CHATSYNC_EMAIL"), os.Getenv("CHATSYNC_PASSWORD")
		if email != "" && password != "" {
			if _, err := a.Auth.Login(ctx, auth.SignIn, auth.Credentials{Email: email, Password: password}); err != nil {
				log.Error().Err(err).Msg("sign in failed")
			}
		} else {
			log.Warn().Msg("no session; set CHATSYNC_EMAIL and CHATSYNC_PASSWORD to sign in")
		}
	}

	sig := waitForSignal()
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics shutdown")
		}
		done()
	}
	if err := a.Close(); err != nil {
		log.Warn().Err(err).Msg("close")
	}
	log.Info().Msg("stopped")
}

func waitForSignal() os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return <-sigCh
}

// follow logs every event mirrored under the configured subject prefix.
func follow(cfg *config.Config) {
	log := logging.Component("follow")

	nc, err := messaging.NewNATSClient(messaging.NATSConfig{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name + "-follow",
		ReconnectWait: cfg.NATS.ReconnectWait,
		MaxReconnects: cfg.NATS.MaxReconnects,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	prefix := cfg.NATS.SubjectPrefix
	if prefix == "" {
		prefix = "chatsync"
	}
	f := messaging.NewFollower(nc, prefix)
	if err := f.Start(func(ev messaging.Event) {
		switch {
		case ev.Unread != nil:
			log.Info().Str("surface", ev.Surface).Int("count", ev.Unread.Count).
				Bool("provisional", ev.Unread.Provisional).Msg("unread")
		case ev.Message != nil:
			log.Info().Str("surface", ev.Surface).Int64("conversation", ev.Message.ConversationID).
				Int64("message", ev.Message.MessageID).Int64("sender", ev.Message.SenderID).
				Bool("live", ev.Message.Live).Msg("message")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to follow mirror")
	}

	sig := waitForSignal()
	log.Info().Str("signal", sig.String()).Msg("stopping")
	if err := f.Stop(); err != nil {
		log.Warn().Err(err).Msg("unsubscribe")
	}
}
