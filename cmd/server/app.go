package main

import (
	"context"

	"github.com/pinkmilk/starzzz/internal/cache"
	"github.com/pinkmilk/starzzz/internal/config"
	"github.com/pinkmilk/starzzz/internal/game"
	"github.com/pinkmilk/starzzz/internal/motherfile"
	"github.com/pinkmilk/starzzz/internal/planner"
	"github.com/pinkmilk/starzzz/internal/pocketbase"
	"github.com/pinkmilk/starzzz/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app holds the backend services shared by every command.
type app struct {
	pb       *pocketbase.Client
	creds    pocketbase.Credentials
	mother   *motherfile.Service
	sessions *session.Repository
	shows    *game.ShowManager
	planner  *planner.Repository
	autosave *planner.Autosaver
	rdb      *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		pb: pocketbase.New(cfg.PocketBaseURL),
		creds: pocketbase.Credentials{
			Token:    cfg.PBAdminToken,
			Email:    cfg.PBAdminEmail,
			Password: cfg.PBAdminPassword,
		},
	}
	if mode, err := a.pb.Authenticate(ctx, a.creds); err != nil {
		log.Warn().Err(err).Strs("missing", cfg.MissingAdmin()).Msg("PocketBase admin auth failed, continuing without")
	} else {
		log.Info().Str("mode", mode).Msg("PocketBase admin auth ok")
	}

	store := a.newCache(cfg)
	mother, err := motherfile.New(motherfile.Config{
		Client:     a.pb,
		Collection: cfg.MotherfileCollection,
		KnownID:    cfg.MotherfileKnownID,
		ExplicitID: cfg.MotherfileID,
		Cache:      store,
	})
	if err != nil {
		return nil, err
	}
	a.mother = mother
	a.sessions = session.NewRepository(a.pb, nil, session.WithHeadingSource(mother))
	a.shows = game.NewShowManager(a.sessions, mother, nil)

	a.planner = planner.NewRepository(a.pb, cfg.Location())
	a.autosave = planner.NewAutosaver(func(ctx context.Context, owner, week string, tasks []planner.Task) error {
		_, err := a.planner.Save(ctx, owner, week, tasks)
		return err
	}, cfg.AutosaveDelay)
	return a, nil
}

// newCache uses redis when configured and reachable, memory otherwise.
func (a *app) newCache(cfg *config.Config) cache.Store {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(0)
	}
	a.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	store, err := cache.NewRedis(&cache.Config{RedisClient: a.rdb})
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, using in-memory cache")
		return cache.NewMemory(0)
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis cache")
	return store
}

func (a *app) close() {
	a.autosave.Close()
	a.shows.Wait()
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
