package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Network selects which environment a strategy trades against.
type Network string

const (
	NetworkTestnet Network = "testnet"
	NetworkMainnet Network = "mainnet"
)

// SupportedAssets is the set of asset symbols a strategy may reference.
var SupportedAssets = map[string]bool{
	"BTC":  true,
	"ETH":  true,
	"XRP":  true,
	"SOL":  true,
	"AVAX": true,
	"DOT":  true,
	"USDT": true,
	"USDC": true,
	"TRY":  true,
}

// MaxSpendCap is the hard upper bound on a strategy's quote spend cap.
const MaxSpendCap = 1_000_000

// StrategyConfig is an immutable, validated strategy definition. It is
// content-addressed: Sha is a deterministic fingerprint of every field except
// Sha and CreatedAt, and is the primary key for persistence and for running
// robots. Construct via NewStrategyConfig; never mutate afterwards.
type StrategyConfig struct {
	Sha       string    `json:"sha"`
	CreatedAt time.Time `json:"created_at"`

	Strategy string `json:"strategy"`

	Base  string `json:"base"`
	Quote string `json:"quote"`

	// Bridge converts a leader price quoted in another currency into the
	// follower's quote currency. Empty when unused.
	BridgeSymbol   string `json:"bridge_symbol,omitempty"`
	BridgeExchange string `json:"bridge_exchange,omitempty"`
	UseBridge      bool   `json:"use_bridge"`

	LeaderExchange   string  `json:"leader_exchange"`
	FollowerExchange string  `json:"follower_exchange"`
	Network          Network `json:"network"`
	TestMode         bool    `json:"test_mode"`

	// QuoteStepQty is the per-step budget in quote currency.
	QuoteStepQty float64 `json:"quote_step_qty"`
	// Credit is half the width of the no-trade band around the sliding mid.
	Credit float64 `json:"credit"`
	// StepK shifts the window down by StepK per accumulated inventory step.
	StepK    float64 `json:"step_k"`
	MaxSteps int     `json:"max_steps"`
	MaxSpend float64 `json:"max_spend"`

	SleepSeconds     float64 `json:"sleep_seconds"`
	ReconcileSeconds float64 `json:"reconcile_seconds"`
}

// DefaultStrategy is the only strategy type currently implemented. The runner
// dispatches on this name so a second strategy is a new factory entry, not a
// new type hierarchy.
const DefaultStrategy = "sliding_window"

// NewStrategyConfig stamps the fingerprint and creation time onto cfg and
// validates it. The returned config is ready for persistence.
func NewStrategyConfig(cfg StrategyConfig) (StrategyConfig, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultStrategy
	}
	if err := cfg.Validate(); err != nil {
		return StrategyConfig{}, err
	}
	cfg.Sha = cfg.Fingerprint()
	cfg.CreatedAt = time.Now().UTC()
	return cfg, nil
}

// Pair returns the configured base/quote pair.
func (c StrategyConfig) Pair() Pair {
	return Pair{Base: c.Base, Quote: c.Quote}
}

// canonical is the fingerprint input: every identity-bearing field in a fixed
// order, excluding Sha and CreatedAt.
type canonical struct {
	Strategy         string  `json:"strategy"`
	Base             string  `json:"base"`
	Quote            string  `json:"quote"`
	BridgeSymbol     string  `json:"bridge_symbol"`
	BridgeExchange   string  `json:"bridge_exchange"`
	UseBridge        bool    `json:"use_bridge"`
	LeaderExchange   string  `json:"leader_exchange"`
	FollowerExchange string  `json:"follower_exchange"`
	Network          Network `json:"network"`
	TestMode         bool    `json:"test_mode"`
	QuoteStepQty     float64 `json:"quote_step_qty"`
	Credit           float64 `json:"credit"`
	StepK            float64 `json:"step_k"`
	MaxSteps         int     `json:"max_steps"`
	MaxSpend         float64 `json:"max_spend"`
	SleepSeconds     float64 `json:"sleep_seconds"`
	ReconcileSeconds float64 `json:"reconcile_seconds"`
}

// Fingerprint returns the hex SHA-256 of the canonicalized fields.
func (c StrategyConfig) Fingerprint() string {
	data, err := json.Marshal(canonical{
		Strategy:         c.Strategy,
		Base:             c.Base,
		Quote:            c.Quote,
		BridgeSymbol:     c.BridgeSymbol,
		BridgeExchange:   c.BridgeExchange,
		UseBridge:        c.UseBridge,
		LeaderExchange:   c.LeaderExchange,
		FollowerExchange: c.FollowerExchange,
		Network:          c.Network,
		TestMode:         c.TestMode,
		QuoteStepQty:     c.QuoteStepQty,
		Credit:           c.Credit,
		StepK:            c.StepK,
		MaxSteps:         c.MaxSteps,
		MaxSpend:         c.MaxSpend,
		SleepSeconds:     c.SleepSeconds,
		ReconcileSeconds: c.ReconcileSeconds,
	})
	if err != nil {
		// canonical contains only marshal-safe field types.
		panic(fmt.Sprintf("domain: marshal canonical config: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validate checks every business rule and returns a descriptive error for the
// first violation found.
func (c StrategyConfig) Validate() error {
	if c.Strategy != DefaultStrategy {
		return fmt.Errorf("config: unknown strategy %q", c.Strategy)
	}
	if !SupportedAssets[c.Base] {
		return fmt.Errorf("config: unsupported base asset %q", c.Base)
	}
	if !SupportedAssets[c.Quote] {
		return fmt.Errorf("config: unsupported quote asset %q", c.Quote)
	}
	if c.Base == c.Quote {
		return fmt.Errorf("config: base and quote must differ, both are %q", c.Base)
	}
	if c.LeaderExchange == "" || c.FollowerExchange == "" {
		return fmt.Errorf("config: leader and follower exchanges must be set")
	}
	switch c.Network {
	case NetworkTestnet, NetworkMainnet:
	default:
		return fmt.Errorf("config: network must be %q or %q, got %q", NetworkTestnet, NetworkMainnet, c.Network)
	}
	if c.TestMode && c.Network == NetworkMainnet {
		return fmt.Errorf("config: test_mode and mainnet network are mutually exclusive")
	}
	if c.UseBridge != (c.BridgeSymbol != "") {
		return fmt.Errorf("config: use_bridge requires bridge_symbol and vice versa")
	}
	if c.UseBridge && c.BridgeExchange == "" {
		return fmt.Errorf("config: bridge_exchange is required when use_bridge is set")
	}
	if c.QuoteStepQty <= 0 {
		return fmt.Errorf("config: quote_step_qty must be > 0, got %v", c.QuoteStepQty)
	}
	if c.Credit <= 0 {
		return fmt.Errorf("config: credit must be > 0, got %v", c.Credit)
	}
	if c.StepK < 0 {
		return fmt.Errorf("config: step_k must be >= 0, got %v", c.StepK)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("config: max_steps must be >= 1, got %d", c.MaxSteps)
	}
	if c.MaxSpend < 0 || c.MaxSpend > MaxSpendCap {
		return fmt.Errorf("config: max_spend must be within [0, %d], got %v", MaxSpendCap, c.MaxSpend)
	}
	if c.QuoteStepQty > MaxSpendCap {
		return fmt.Errorf("config: quote_step_qty exceeds spend cap %d", MaxSpendCap)
	}
	if c.SleepSeconds < 0 || c.ReconcileSeconds < 0 {
		return fmt.Errorf("config: sleep_seconds and reconcile_seconds must be >= 0")
	}
	return nil
}
