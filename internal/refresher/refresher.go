// Package refresher corre el sweep periódico que refresca proactivamente los
// tokens por vencer. Es best-effort: el refresh just-in-time del proxy es el
// backstop de correctitud.
package refresher

import (
	"context"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/oauth"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

type Refresher struct {
	repo      core.Repository
	tokens    *oauth.TokenManager
	interval  time.Duration
	lookahead time.Duration
	cooldown  time.Duration
}

func New(repo core.Repository, tm *oauth.TokenManager, interval, lookahead, cooldown time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Hour
	}
	if lookahead <= 0 {
		lookahead = 2 * time.Hour
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &Refresher{repo: repo, tokens: tm, interval: interval, lookahead: lookahead, cooldown: cooldown}
}

// Run bloquea hasta que el contexto se cancele. Un sweep corre también al
// arrancar, no sólo en el primer tick.
func (r *Refresher) Run(ctx context.Context) error {
	log := logger.From(ctx).With(logger.Component("refresher"))
	log.Info("background refresher started",
		logger.Duration(r.interval),
		logger.String("lookahead", r.lookahead.String()),
	)

	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("background refresher stopped")
			return ctx.Err()
		case <-t.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep refresca todas las instalaciones elegibles. Un fallo por tenant se
// loguea y el sweep sigue con el resto.
func (r *Refresher) Sweep(ctx context.Context) {
	log := logger.From(ctx).With(logger.Component("refresher"))

	list, err := r.repo.ListExpiring(ctx, r.lookahead, r.cooldown)
	if err != nil {
		log.Error("sweep query failed", logger.Err(err))
		return
	}
	if len(list) == 0 {
		return
	}
	log.Info("sweep starting", logger.Count(len(list)))

	var ok, failed int
	for _, ins := range list {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.tokens.Refresh(ctx, ins, "sweep"); err != nil {
			failed++
			log.Warn("sweep refresh failed",
				logger.InstallationID(ins.ID),
				logger.Tenant(ins.Tenant.String()),
				logger.Err(err),
			)
			continue
		}
		ok++
	}
	log.Info("sweep finished", logger.Any("ok", ok), logger.Any("failed", failed))
}
