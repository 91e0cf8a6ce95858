package main

import (
	"encoding/json"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pinkmilk/starzzz/internal/config"
	"github.com/pinkmilk/starzzz/internal/console"
	"github.com/pinkmilk/starzzz/internal/export"
	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/game"
	"github.com/pinkmilk/starzzz/internal/live"
	"github.com/pinkmilk/starzzz/internal/motherfile"
	"github.com/pinkmilk/starzzz/internal/pocketbase"
	"github.com/pinkmilk/starzzz/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newConsoleCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "console [session-id]",
		Short: "Present a show from the terminal (latest session when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// the TUI owns the terminal
			log.Logger = zerolog.Nop()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				latest, err := a.sessions.Latest(ctx)
				if err != nil {
					return fmt.Errorf("no session to present: %w", err)
				}
				id = latest.ID
			}
			show, err := a.shows.Open(ctx, id)
			if err != nil {
				return err
			}

			hub := live.NewHub(a.sessions, a.pb, cfg.PollInterval, func(id string, rec *session.Session, deleted bool) {
				if !deleted {
					a.shows.Apply(rec)
				}
			})
			defer hub.Close()
			hub.Watch(id)

			reload := func() (console.Show, error) { return a.shows.Reload(ctx, id) }
			p := tea.NewProgram(console.New(show, a.shows.Catalog().Groups, reload), tea.WithContext(ctx), tea.WithAltScreen())
			feed := console.NewFeed(p)
			a.shows.OnChange(func(s *game.Show) {
				if s.ID() == id {
					feed.Push(s.State())
				}
			})
			_, err = p.Run()
			feed.Close()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
}

func newAuthTestCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "auth-test",
		Short: "Check the PocketBase admin credentials",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			pb := pocketbase.New(cfg.PocketBaseURL)
			mode, err := pb.Authenticate(cmd.Context(), pocketbase.Credentials{
				Token:    cfg.PBAdminToken,
				Email:    cfg.PBAdminEmail,
				Password: cfg.PBAdminPassword,
			})
			if errors.Is(err, pocketbase.ErrMissingCredentials) {
				return fmt.Errorf("no credentials, set %v", cfg.MissingAdmin())
			}
			if err == nil {
				err = pb.ListCollections(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("%s auth failed: %w", mode, err)
			}
			log.Info().Str("mode", mode).Str("pocketbase", cfg.PocketBaseURL).Msg("admin access ok")
			return nil
		},
	}
}

func newExportCmd(cfg *config.Config) *cobra.Command {
	var (
		dir   string
		name  string
		local bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upload the motherfile fases as JSON to the ISP (or a local directory)",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var h fase.Headings
			if local {
				var err error
				store := &motherfile.FileStore{Path: cfg.MotherfilePath}
				if h, err = store.Read(); err != nil {
					return err
				}
			} else {
				a, err := newApp(ctx, cfg)
				if err != nil {
					return err
				}
				defer a.close()
				if h, err = a.mother.Fases(ctx); err != nil {
					return err
				}
			}
			b, err := json.MarshalIndent(h, "", "  ")
			if err != nil {
				return err
			}

			var target export.Target = export.FileTarget{Dir: dir}
			if dir == "" {
				if target, err = export.NewFTPTarget(cfg.FTP()); err != nil {
					return err
				}
			}
			dst, err := target.Put(ctx, name, b)
			if err != nil {
				return err
			}
			log.Info().Str("path", dst).Int("fases", len(h)).Msg("exported")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "write into this directory instead of uploading over FTP")
	cmd.Flags().StringVar(&name, "name", export.DefaultName, "file name")
	cmd.Flags().BoolVar(&local, "local", false, "export the local motherfile JSON instead of the hosted record")
	return cmd
}
