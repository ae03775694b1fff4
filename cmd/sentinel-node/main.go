// Command sentinel-node runs a single custody node: evidence store, signed
// hash-chained ledger and the HTTP API in one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinel-custody/core/pkg/api"
	"github.com/sentinel-custody/core/pkg/cipher"
	"github.com/sentinel-custody/core/pkg/config"
	"github.com/sentinel-custody/core/pkg/crypto"
	"github.com/sentinel-custody/core/pkg/identity"
	"github.com/sentinel-custody/core/pkg/ledger"
	"github.com/sentinel-custody/core/pkg/report"
	"github.com/sentinel-custody/core/pkg/service"
	"github.com/sentinel-custody/core/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("sentinel-node exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	keys := crypto.NewKeyStore(cfg.KeysDir())
	led, err := ledger.New(cfg.LedgerPath(), keys)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var evc *cipher.EvidenceCipher
	if cfg.EncryptEvidence {
		evc, err = cipher.New(cfg.FernetKeyPath())
		if err != nil {
			return err
		}
		log.Info("evidence encryption enabled", "key_path", cfg.FernetKeyPath())
	}

	users := identity.DefaultUsers()
	if cfg.UsersFile != "" {
		users, err = identity.LoadUsers(cfg.UsersFile)
		if err != nil {
			return err
		}
		log.Info("loaded user directory", "path", cfg.UsersFile, "users", len(users))
	}
	provider := identity.NewProvider(users, []byte(cfg.JWTSecret), 8*time.Hour)

	reports := report.NewBuilder(led, cfg.Jurisdiction, report.LegalBasis{
		EvidenceAct: cfg.EvidenceAct,
		Standards:   cfg.Standards,
	})
	svc := service.New(st, led, evc, reports, cfg.EvidenceDir(), log)
	server := api.NewServer(svc, provider, cfg.RateRPM, log)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("sentinel-node listening",
			"addr", httpSrv.Addr, "ledger", led.Path(), "encrypted", cfg.EncryptEvidence)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
