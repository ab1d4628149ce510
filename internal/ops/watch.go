package ops

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/dirsync/internal/config"
	"github.com/hpungsan/dirsync/internal/logging"
	"github.com/hpungsan/dirsync/internal/session"
	"github.com/hpungsan/dirsync/internal/view"
)

// OpenSessionInput contains parameters for OpenSession.
type OpenSessionInput struct {
	Dir     string // required
	Surface view.Surface
	Logger  *zap.Logger
}

// OpenSession opens a live session on a directory with its saved settings.
// The caller runs and closes it.
func OpenSession(ctx context.Context, database *sql.DB, cfg *config.Config, input OpenSessionInput) (*session.Session, *Folder, error) {
	f, err := ValidateDir(input.Dir, cfg)
	if err != nil {
		return nil, nil, err
	}
	settings, _, err := LoadSettings(database, cfg, f)
	if err != nil {
		return nil, nil, err
	}
	s, err := session.Open(ctx, session.Options{
		Dir:      f.Path,
		Config:   cfg,
		Settings: &settings,
		Surface:  input.Surface,
		Logger:   input.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return s, f, nil
}

// WatchInput contains parameters for Watch.
type WatchInput struct {
	Dir    string // required
	Logger *zap.Logger
}

// Watch opens a session on a directory and calls emit for every view-changed
// signal until ctx is cancelled or emit fails.
func Watch(ctx context.Context, database *sql.DB, cfg *config.Config, input WatchInput, emit func(session.Signal) error) error {
	s, _, err := OpenSession(ctx, database, cfg, OpenSessionInput{Dir: input.Dir, Logger: input.Logger})
	if err != nil {
		return err
	}
	defer s.Close()

	log := logging.OrGlobal(input.Logger)
	if !s.Monitored() {
		log.Warn("watching without change notifications", zap.String("dir", s.Dir()))
	}

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig, ok := <-sub:
				if !ok {
					return nil
				}
				if err := emit(sig); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}
