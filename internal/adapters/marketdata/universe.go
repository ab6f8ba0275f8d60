package marketdata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

const (
	defaultFetchLimit = 200
	defaultTargetSize = 20
	defaultCacheTTL   = 5 * time.Minute
	defaultCandleDays = 30
)

// defaultExcludePatterns drops ETFs, ETNs, SPACs, REITs and preferred
// shares by name substring.
var defaultExcludePatterns = []string{
	"ETF", "ETN", "KODEX", "TIGER", "KBSTAR", "ARIRANG",
	"HANARO", "SOL", "스팩", "SPAC", "리츠", "RISE", "ACE",
	"우B", "1우", "2우", "3우", "우선주",
}

// RankingSource lists stocks by accumulated trade value, best first.
type RankingSource interface {
	GetVolumeRanking(ctx context.Context, limit int) ([]domain.Listing, error)
}

// CandleSource loads recent daily bars for a symbol, oldest first.
type CandleSource interface {
	GetDailyCandles(ctx context.Context, symbol string, days int) ([]domain.Candle, error)
}

// UniverseSource combines the market data reads the scanner needs.
type UniverseSource interface {
	RankingSource
	CandleSource
}

// Universe implements ports.UniverseProvider by filtering the turnover
// ranking and attaching indicator snapshots computed from daily bars.
// Results are cached so repeated scans within the TTL reuse one fetch.
type Universe struct {
	cfg    UniverseConfig
	source UniverseSource
	logger ports.Logger

	mu          sync.Mutex
	cached      []*domain.Candidate
	cachedAt    time.Time
	candleCache map[string]candleEntry

	now func() time.Time
}

type candleEntry struct {
	candles   []domain.Candle
	fetchedAt time.Time
}

// UniverseConfig holds configuration for the universe scanner.
type UniverseConfig struct {
	Source UniverseSource
	Logger ports.Logger

	// TargetSize is the number of candidates returned per scan.
	TargetSize int
	// FetchLimit is how deep into the ranking to look before filtering.
	FetchLimit int

	MinPrice     float64
	MaxPrice     float64
	MinChangePct float64
	MaxChangePct float64
	MinVolume    int64

	// ExcludePatterns are name substrings to drop (ETF, SPAC, ...).
	ExcludePatterns []string

	CacheTTL   time.Duration
	CandleDays int
}

// NewUniverse creates a universe provider over a ranking/candle source.
func NewUniverse(cfg UniverseConfig) (*Universe, error) {
	if cfg.Source == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Universe")
	}
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = defaultTargetSize
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = defaultFetchLimit
	}
	if cfg.MinPrice <= 0 {
		cfg.MinPrice = 1000
	}
	if cfg.MaxPrice <= 0 {
		cfg.MaxPrice = 500000
	}
	if cfg.MinChangePct == 0 {
		cfg.MinChangePct = -5.0
	}
	if cfg.MaxChangePct == 0 {
		cfg.MaxChangePct = 15.0
	}
	if cfg.MinVolume <= 0 {
		cfg.MinVolume = 100000
	}
	if cfg.ExcludePatterns == nil {
		cfg.ExcludePatterns = defaultExcludePatterns
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CandleDays <= 0 {
		cfg.CandleDays = defaultCandleDays
	}

	return &Universe{
		cfg:         cfg,
		source:      cfg.Source,
		logger:      cfg.Logger,
		candleCache: make(map[string]candleEntry),
		now:         time.Now,
	}, nil
}

// Candidates returns the current scan universe with indicator snapshots.
// A stale cache is served when the ranking fetch fails.
func (u *Universe) Candidates(ctx context.Context) ([]*domain.Candidate, error) {
	const op = "marketdata.Universe.Candidates"

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.cached != nil && u.now().Sub(u.cachedAt) < u.cfg.CacheTTL {
		return u.cached, nil
	}

	listings, err := u.source.GetVolumeRanking(ctx, u.cfg.FetchLimit)
	if err != nil {
		if u.cached != nil {
			u.logger.Warn(ctx, "Ranking fetch failed, serving stale universe", map[string]interface{}{
				"op": op, "error": err.Error(), "age": u.now().Sub(u.cachedAt).String(),
			})
			return u.cached, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	filtered := u.applyFilters(listings)

	candidates := make([]*domain.Candidate, 0, u.cfg.TargetSize)
	for _, listing := range filtered {
		if len(candidates) >= u.cfg.TargetSize {
			break
		}
		candles, err := u.candlesFor(ctx, listing.Symbol)
		if err != nil {
			u.logger.Debug(ctx, "Skipping candidate without history", map[string]interface{}{
				"symbol": listing.Symbol, "error": err.Error(),
			})
			continue
		}
		candidates = append(candidates, &domain.Candidate{
			Symbol:     listing.Symbol,
			Name:       listing.Name,
			Price:      listing.Price,
			Indicators: computeSnapshot(candles),
		})
	}

	u.cached = candidates
	u.cachedAt = u.now()

	u.logger.Info(ctx, "Universe refreshed", map[string]interface{}{
		"ranked": len(listings), "filtered": len(filtered), "candidates": len(candidates),
	})
	return candidates, nil
}

// Refresh drops the cache so the next scan fetches fresh data.
func (u *Universe) Refresh() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cached = nil
	u.cachedAt = time.Time{}
}

func (u *Universe) applyFilters(listings []domain.Listing) []domain.Listing {
	filtered := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if l.Price > 0 && (l.Price < u.cfg.MinPrice || l.Price > u.cfg.MaxPrice) {
			continue
		}
		if l.ChangePct != 0 && (l.ChangePct < u.cfg.MinChangePct || l.ChangePct > u.cfg.MaxChangePct) {
			continue
		}
		if l.Volume > 0 && l.Volume < u.cfg.MinVolume {
			continue
		}
		if u.excluded(l.Name) {
			continue
		}
		filtered = append(filtered, l)
	}
	return filtered
}

func (u *Universe) excluded(name string) bool {
	for _, pattern := range u.cfg.ExcludePatterns {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	// Preferred share tickers end in 우 (with no further suffix)
	return strings.HasSuffix(name, "우")
}

func (u *Universe) candlesFor(ctx context.Context, symbol string) ([]domain.Candle, error) {
	if entry, ok := u.candleCache[symbol]; ok && u.now().Sub(entry.fetchedAt) < u.cfg.CacheTTL {
		return entry.candles, nil
	}

	candles, err := u.source.GetDailyCandles(ctx, symbol, u.cfg.CandleDays)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no daily bars for %s", symbol)
	}

	u.candleCache[symbol] = candleEntry{candles: candles, fetchedAt: u.now()}
	return candles, nil
}
