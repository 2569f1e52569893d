package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// InstrumentAPI is the reference data side of the trading terminal.
type InstrumentAPI interface {
	GetInstrument(ctx context.Context, key domain.InstrumentKey) (domain.Instrument, error)
	GetLastPrice(ctx context.Context, key domain.InstrumentKey) (domain.LastPrice, error)
}

// InstrumentService resolves instruments and last prices, checking the
// in-process map and the shared cache before asking the terminal.
type InstrumentService struct {
	api         InstrumentAPI
	cache       domain.InstrumentCache
	prices      domain.PriceCache
	maxPriceAge time.Duration
	logger      *slog.Logger

	mu    sync.RWMutex
	local map[string]domain.Instrument
}

// NewInstrumentService creates an InstrumentService. cache and prices may be
// nil. Cached last prices older than maxPriceAge are refetched; zero keeps
// them forever.
func NewInstrumentService(api InstrumentAPI, cache domain.InstrumentCache, prices domain.PriceCache, maxPriceAge time.Duration, logger *slog.Logger) *InstrumentService {
	return &InstrumentService{
		api:         api,
		cache:       cache,
		prices:      prices,
		maxPriceAge: maxPriceAge,
		logger:      logger.With(slog.String("component", "instrument_service")),
		local:       make(map[string]domain.Instrument),
	}
}

// GetInstrument returns reference data for key. Instruments never change
// while the process runs, so a hit at any level is final.
func (s *InstrumentService) GetInstrument(ctx context.Context, key domain.InstrumentKey) (domain.Instrument, error) {
	id := key.String()

	s.mu.RLock()
	inst, ok := s.local[id]
	s.mu.RUnlock()
	if ok {
		return inst, nil
	}

	if s.cache != nil {
		if inst, err := s.cache.Get(ctx, key); err == nil {
			s.remember(id, inst)
			return inst, nil
		}
	}

	inst, err := s.api.GetInstrument(ctx, key)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("instrument_service: get %s: %w", id, err)
	}
	if inst.Symbol == "" {
		inst.InstrumentKey = key
	}
	s.remember(id, inst)

	if s.cache != nil {
		if err := s.cache.Set(ctx, inst); err != nil {
			s.logger.WarnContext(ctx, "instrument cache set failed",
				slog.String("instrument", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return inst, nil
}

// GetLastPrice returns the most recent trade price for key, preferring a
// fresh cached quote.
func (s *InstrumentService) GetLastPrice(ctx context.Context, key domain.InstrumentKey) (domain.LastPrice, error) {
	if s.prices != nil {
		lp, err := s.prices.GetLastPrice(ctx, key)
		if err == nil && lp.Price > 0 && (s.maxPriceAge <= 0 || time.Since(lp.Timestamp) <= s.maxPriceAge) {
			return lp, nil
		}
	}

	lp, err := s.api.GetLastPrice(ctx, key)
	if err != nil {
		return domain.LastPrice{}, fmt.Errorf("instrument_service: last price %s: %w", key, err)
	}
	if lp.Price <= 0 {
		return domain.LastPrice{}, fmt.Errorf("instrument_service: last price %s: %w", key, domain.ErrNoSeedPrice)
	}

	if s.prices != nil {
		if err := s.prices.SetLastPrice(ctx, lp); err != nil {
			s.logger.WarnContext(ctx, "price cache set failed", slog.String("error", err.Error()))
		}
	}
	return lp, nil
}

func (s *InstrumentService) remember(id string, inst domain.Instrument) {
	s.mu.Lock()
	s.local[id] = inst
	s.mu.Unlock()
}
