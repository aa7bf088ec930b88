package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seenimoa/marketlens/internal/analysis/attribution"
	"github.com/seenimoa/marketlens/internal/analysis/decompose"
	"github.com/seenimoa/marketlens/internal/config"
	"github.com/seenimoa/marketlens/internal/datasource"
	"github.com/seenimoa/marketlens/internal/fetch"
	"github.com/seenimoa/marketlens/internal/instruments"
	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/internal/metrics"
	"github.com/seenimoa/marketlens/internal/refdata"
	"github.com/seenimoa/marketlens/internal/upstox"
	"github.com/seenimoa/marketlens/pkg/models"
	"github.com/seenimoa/marketlens/pkg/utils"
)

var errPrimaryRequired = errors.New("this command needs the Upstox access token (MARKETLENS_UPSTOX_ACCESS_TOKEN) and an instrument file")

// services holds the clients a command needs. dir and upstox are nil when
// the instrument file or the access token is missing.
type services struct {
	metrics     *metrics.Metrics
	dir         *instruments.Directory
	upstox      *upstox.Client
	yfinance    *datasource.YFinance
	fetcher     *fetch.Orchestrator
	decomposer  *decompose.Engine
	attribution *attribution.Engine
}

// buildServices wires the clients. With withDirectory false the instrument
// file is not read and the fetcher uses the secondary provider only.
func buildServices(_ context.Context, withDirectory bool) *services {
	log := logger.GetLogger().WithComponent("cli")
	m := metrics.New()
	logger.GetLogger().AddHook(m.LogHook())

	s := &services{
		metrics:     m,
		yfinance:    datasource.NewYFinance(cfg.YFinance, datasource.WithMetrics(m)),
		attribution: attribution.New(cfg.Attribution),
	}
	s.decomposer = decompose.New(loadComposition())

	if withDirectory {
		dir, err := instruments.Open(cfg.Instruments.MasterPath, cfg.Instruments.DumpPath)
		if err != nil {
			log.WithError(err).Warn("instrument directory unavailable, primary provider disabled")
		} else {
			s.dir = dir
		}
	}

	if s.dir != nil && cfg.Upstox.Configured() {
		client, err := upstox.New(cfg.Upstox, s.dir,
			upstox.WithMetrics(m),
			upstox.WithMaxDistancePct(cfg.Options.MaxDistancePct),
			upstox.WithTokenSource(upstox.NewReloadingToken(reloadAccessToken)),
		)
		if err != nil {
			log.WithError(err).Warn("primary provider disabled")
		} else {
			s.upstox = client
		}
	}

	opts := []fetch.Option{
		fetch.WithShortHistoryDays(cfg.Fetch.ShortHistoryDays),
		fetch.WithMetrics(m),
	}
	if s.upstox != nil {
		opts = append(opts, fetch.WithPrimary(s.upstox, s.dir))
	}
	s.fetcher = fetch.New(s.yfinance, opts...)
	return s
}

// reloadAccessToken re-reads the configuration so a token rotated in the
// environment or .env file is picked up after the old one is rejected.
func reloadAccessToken(context.Context) (string, error) {
	fresh, err := config.Load()
	if err != nil {
		return "", err
	}
	return fresh.Upstox.AccessToken, nil
}

// compositionPath is set by --composition on the commands that decompose.
var compositionPath string

func loadComposition() *refdata.Composition {
	if compositionPath == "" {
		return nil
	}
	comp, err := refdata.LoadFile(compositionPath)
	if err != nil {
		logger.GetLogger().WithComponent("cli").WithError(err).
			WithField("path", compositionPath).Warn("composition file unreadable, using embedded tables")
		return nil
	}
	return comp
}

func (s *services) requirePrimary() error {
	if s.upstox == nil {
		return errPrimaryRequired
	}
	return nil
}

func (s *services) requireDirectory() error {
	if s.dir == nil {
		return fmt.Errorf("instrument directory not loaded: run 'marketlens instruments build' with %s present", cfg.Instruments.DumpPath)
	}
	return nil
}

// latestChanges fetches a short window and returns each symbol's most recent
// percentage move. It reports how many symbols had data.
func (s *services) latestChanges(ctx context.Context, symbols []string) (map[string]float64, int) {
	end := utils.NowIST()
	results := s.fetcher.FetchMultipleAssets(ctx, symbols, end.AddDate(0, 0, -5), end)
	changes := make(map[string]float64, len(results))
	for sym, res := range results {
		if !res.OK() {
			continue
		}
		if pct, ok := res.Frame.LatestChangePct(); ok {
			changes[sym] = pct
		}
	}
	return changes, len(changes)
}

// history fetches daily bars for the trailing number of calendar days.
func (s *services) history(ctx context.Context, symbols []string, days int) map[string]models.FetchResult {
	end := utils.NowIST()
	return s.fetcher.FetchMultipleAssets(ctx, symbols, end.AddDate(0, 0, -days), end)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 3*time.Minute)
}
