// internal/lending/compound/market.go
package compound

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

// marketConfig holds slow-changing comptroller market parameters.
type marketConfig struct {
	listed           bool
	collateralFactor *big.Int // WAD
	borrowCap        *big.Int // underlying units, zero = uncapped
	supplyCap        *big.Int
	mintPaused       bool
	borrowPaused     bool
	fetchedAt        time.Time
}

// marketCache хранит конфигурацию рынков не дольше ttl. ttl == 0 отключает кэш.
type marketCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[common.Address]marketConfig
}

func newMarketCache(ttl time.Duration, now func() time.Time) *marketCache {
	return &marketCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[common.Address]marketConfig),
	}
}

func (c *marketCache) get(ctx context.Context, cToken common.Address, load func(context.Context) (marketConfig, error)) (marketConfig, error) {
	if c.ttl <= 0 {
		return load(ctx)
	}

	c.mu.RLock()
	cfg, ok := c.entries[cToken]
	c.mu.RUnlock()
	if ok && c.now().Sub(cfg.fetchedAt) < c.ttl {
		return cfg, nil
	}

	v, err, _ := c.group.Do(cToken.Hex(), func() (interface{}, error) {
		cfg, err := load(ctx)
		if err != nil {
			return marketConfig{}, err
		}
		cfg.fetchedAt = c.now()
		c.mu.Lock()
		c.entries[cToken] = cfg
		c.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return marketConfig{}, err
	}
	return v.(marketConfig), nil
}

func (c *marketCache) invalidate(cToken common.Address) {
	c.mu.Lock()
	delete(c.entries, cToken)
	c.mu.Unlock()
}

// loadMarket читает конфигурацию рынка из comptroller.
func (a *Adapter) loadMarket(ctx context.Context, asset lending.AssetDescriptor) (marketConfig, error) {
	cToken := asset.ReceiptToken
	out, err := a.Read(ctx, a.comptroller, sigMarkets, cToken)
	if err != nil {
		return marketConfig{}, err
	}
	listed, err := lending.OutBool(out, 0)
	if err != nil {
		return marketConfig{}, a.Malformed(sigMarkets, err)
	}
	cf, err := lending.OutBig(out, 1)
	if err != nil {
		return marketConfig{}, a.Malformed(sigMarkets, err)
	}
	cfg := marketConfig{listed: listed, collateralFactor: cf}

	if cfg.borrowCap, err = a.optionalUint(ctx, sigBorrowCaps, cToken); err != nil {
		return marketConfig{}, err
	}
	if cfg.supplyCap, err = a.optionalUint(ctx, sigSupplyCaps, cToken); err != nil {
		return marketConfig{}, err
	}
	if cfg.mintPaused, err = a.ReadBool(ctx, a.comptroller, sigMintPaused, cToken); err != nil {
		return marketConfig{}, err
	}
	if cfg.borrowPaused, err = a.ReadBool(ctx, a.comptroller, sigBorrowPaused, cToken); err != nil {
		return marketConfig{}, err
	}
	return cfg, nil
}

// optionalUint reads a getter that older comptroller deployments lack;
// a contract-level failure means the feature is absent.
func (a *Adapter) optionalUint(ctx context.Context, signature string, args ...interface{}) (*big.Int, error) {
	v, err := a.ReadUint(ctx, a.comptroller, signature, args...)
	if err != nil {
		if lending.IsKind(err, lending.KindContractError) {
			return new(big.Int), nil
		}
		return nil, err
	}
	return v, nil
}

func (a *Adapter) market(ctx context.Context, asset lending.AssetDescriptor) (marketConfig, error) {
	cfg, err := a.markets.get(ctx, asset.ReceiptToken, func(ctx context.Context) (marketConfig, error) {
		return a.loadMarket(ctx, asset)
	})
	if err != nil {
		return marketConfig{}, err
	}
	if !cfg.listed {
		return marketConfig{}, lending.Errorf(a.Protocol(), lending.KindAssetNotSupported, "market %s is not listed", asset.Symbol)
	}
	return cfg, nil
}
