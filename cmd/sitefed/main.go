// sitefed runs one peer of the content-federation network: a site that
// publishes its own catalog of releases, featured releases, content
// categories, and blocked-content entries, and subscribes to other
// sites' catalogs over the Federation Manager.
//
// Usage:
//
//	export SITE_PRIVATE_KEY=<your hex secp256k1 private key>
//	export DATABASE_URL=sitefed.db
//	export PORT=8000
//	./sitefed
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klppl/sitefed/internal/config"
	"github.com/klppl/sitefed/internal/facade"
	"github.com/klppl/sitefed/internal/federation"
	"github.com/klppl/sitefed/internal/site"
	"github.com/klppl/sitefed/internal/transport"
)

func main() {
	// Structured JSON logging by default — easy to parse with any log aggregator.
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting sitefed", "version", "1.0.0")

	// ─── Configuration ────────────────────────────────────────────────────────
	cfg := config.Load()
	slog.Info("config loaded",
		"database", cfg.DatabaseURL,
		"port", cfg.Port,
		"address", cfg.RootAddress,
		"federate", cfg.Federate,
	)

	// ─── Service Façade ───────────────────────────────────────────────────────
	f, err := facade.Init(cfg.DatabaseURL, federation.Config{
		HistoricalDeadline: cfg.HistoricalSyncDeadline,
		PollInterval:       cfg.PollInterval,
		RemoteOpenDeadline: cfg.RemoteOpenDeadline,
		IterateBatchSize:   cfg.IterateBatchSize,
	})
	if err != nil {
		slog.Error("failed to init service facade", "error", err)
		os.Exit(1)
	}

	// ─── RSA Key Pair (auto-generated if missing) ─────────────────────────────
	keys, err := transport.LoadOrGenerateKeyPair(cfg.RSAPrivateKeyPath, cfg.RSAPublicKeyPath)
	if err != nil {
		slog.Error("failed to load/generate RSA key pair", "error", err)
		os.Exit(1)
	}
	slog.Info("RSA key pair ready")

	// ─── Federation peer-key trust registry ───────────────────────────────────
	// Out-of-band exchange: this site's own token is logged below for an
	// operator to hand to a peer; FEDERATION_PEER_KEYS carries what peers
	// have handed back, so their signed /federation/inbox pushes verify.
	if cfg.FederationPeerKeys != "" {
		if err := transport.RegisterPeerKeysFromSpec(cfg.FederationPeerKeys); err != nil {
			slog.Warn("some FEDERATION_PEER_KEYS entries were rejected", "error", err)
		}
	}
	if encoded, err := transport.EncodePeerKey(keys.Public); err != nil {
		slog.Warn("failed to encode transport public key", "error", err)
	} else {
		slog.Info("transport public key ready for peer exchange", "publicKey", encoded)
	}

	// ─── Open the root site ───────────────────────────────────────────────────
	resp, err := f.OpenSite(cfg.RootPrivateKey, site.OpenArgs{}, cfg.Federate)
	if err != nil || !resp.Success {
		slog.Error("failed to open site", "error", resp.Error)
		os.Exit(1)
	}
	slog.Info("site opened", "address", resp.ID)

	// ─── Graceful shutdown ────────────────────────────────────────────────────
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ─── Start HTTP server ────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      transport.New(f, keys).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting HTTP server", "addr", srv.Addr)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
	}

	f.Stop(resp.ID)
	slog.Info("sitefed stopped")
}
