package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pinkmilk/starzzz/internal/config"
	"github.com/pinkmilk/starzzz/internal/export"
	"github.com/pinkmilk/starzzz/internal/httpapi"
	"github.com/pinkmilk/starzzz/internal/live"
	"github.com/pinkmilk/starzzz/internal/motherfile"
	"github.com/pinkmilk/starzzz/internal/ws"
	staticserver "github.com/pinkmilk/starzzz/static"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const version = "v1.0.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:           "starzzz",
		Short:         "Show server for Ranking the Starzzz: presenter, displays and player onboarding.",
		Args:          cobra.ExactArgs(0),
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(cmd.Root().PersistentFlags(), cfg); err != nil {
				return err
			}
			setupLogging(cfg.Verbose)
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	config.Flags(root.PersistentFlags(), cfg)

	root.AddCommand(newConsoleCmd(cfg))
	root.AddCommand(newAuthTestCmd(cfg))
	root.AddCommand(newExportCmd(cfg))

	root.CompletionOptions.HiddenDefaultCmd = true
	root.SetVersionTemplate("starzzz {{.Version}}\n")
	return root
}

func setupLogging(verbose bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	sock := ws.New(a.shows, a.autosave, cfg.PresenterToken)
	hub := live.NewHub(a.sessions, a.pb, cfg.PollInterval, sock.HandleRecord)
	defer hub.Close()
	sock.SetWatcher(hub)

	api := httpapi.New(httpapi.Deps{
		Sessions: a.sessions,
		Shows:    a.shows,
		Mother:   a.mother,
		File:     &motherfile.FileStore{Path: cfg.MotherfilePath, Serverless: cfg.Serverless()},
		Planner:  a.planner,
		Autosave: a.autosave,
		NewExport: func() (export.Target, error) {
			return export.NewFTPTarget(cfg.FTP())
		},
		Live:          hub,
		PocketBaseURL: cfg.PocketBaseURL,
		Admin:         a.creds,
		PublicURL:     cfg.PublicURL,
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpapi.Logger())
	api.Register(r)
	io := sock.Mount(r)
	defer io.Close()

	var accounts gin.Accounts
	if cfg.GMAuth() {
		accounts = gin.Accounts{cfg.GMUser: cfg.GMPass}
	} else {
		log.Warn().Msg("GM_USER/GM_PASS not set, presenter pages are open")
	}
	httpapi.Pages(r, staticserver.Handler(), accounts)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("pocketbase", cfg.PocketBaseURL).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
