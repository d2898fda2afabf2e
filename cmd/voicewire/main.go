// Voicewire daemon - runs a voice conversation session against a remote
// transcription/synthesis service
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicewire/voicewire/internal/audio"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/playback"
	"github.com/voicewire/voicewire/internal/server"
	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/settings"
	"github.com/voicewire/voicewire/internal/transport"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	capturer, err := audio.NewCapturer(cfg.SampleRate, cfg.Channels, cfg.FrameSamples())
	if err != nil {
		slog.Error("audio backend unavailable", "error", err)
		os.Exit(1)
	}
	defer capturer.Terminate()

	encoder, err := audio.NewFrameEncoder(cfg.SampleRate, cfg.Channels, cfg.FrameSamples())
	if err != nil {
		slog.Error("failed to create frame encoder", "error", err)
		os.Exit(1)
	}

	player := playback.NewController(playback.NewSpeaker(), logger)

	ctl := session.New(cfg, session.Deps{
		Device: capturer,
		Dial: func(ctx context.Context, url string) (session.Transport, error) {
			return transport.Dial(ctx, url, logger)
		},
		Player:   player,
		Encoder:  encoder,
		Settings: settings.NewStore(cfg.SettingsPath),
		Log:      logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.Run(ctx)

	// Local control API for the hosting UI
	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		srv := server.New(ctl, logger)
		httpServer = &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      srv.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("control API listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	err = ctl.StartSession(startCtx)
	startCancel()
	if err != nil {
		// The session sits in Error and keeps retrying on its own.
		slog.Error("session start failed, will retry", "error", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
	}
	if err := ctl.EndSession(shutdownCtx); err != nil {
		slog.Error("session end error", "error", err)
	}
	cancel()
	slog.Info("shutdown complete")
}
