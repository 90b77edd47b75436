package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() StrategyConfig {
	return StrategyConfig{
		Strategy:         DefaultStrategy,
		Base:             "ETH",
		Quote:            "USDT",
		LeaderExchange:   "binance",
		FollowerExchange: "btcturk",
		Network:          NetworkTestnet,
		TestMode:         true,
		QuoteStepQty:     3000,
		Credit:           2,
		StepK:            0.5,
		MaxSteps:         10,
		MaxSpend:         30000,
		SleepSeconds:     0.2,
		ReconcileSeconds: 5,
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := validConfig()
	b := validConfig()

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	// Sha and CreatedAt must not participate in the fingerprint.
	stamped, err := NewStrategyConfig(a)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), stamped.Fingerprint())
	assert.Equal(t, stamped.Sha, stamped.Fingerprint())
}

func TestFingerprintFieldSensitivity(t *testing.T) {
	base := validConfig().Fingerprint()

	changed := validConfig()
	changed.Credit = 3
	assert.NotEqual(t, base, changed.Fingerprint())

	changed = validConfig()
	changed.Quote = "TRY"
	assert.NotEqual(t, base, changed.Fingerprint())

	changed = validConfig()
	changed.MaxSteps = 11
	assert.NotEqual(t, base, changed.Fingerprint())
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StrategyConfig)
		errSub string
	}{
		{"unsupported base", func(c *StrategyConfig) { c.Base = "DOGE" }, "unsupported base"},
		{"base equals quote", func(c *StrategyConfig) { c.Quote = "ETH" }, "must differ"},
		{"missing exchange", func(c *StrategyConfig) { c.FollowerExchange = "" }, "exchanges must be set"},
		{"bad network", func(c *StrategyConfig) { c.Network = "staging" }, "network"},
		{"test mode on mainnet", func(c *StrategyConfig) { c.Network = NetworkMainnet }, "mutually exclusive"},
		{"bridge flag without symbol", func(c *StrategyConfig) { c.UseBridge = true }, "use_bridge"},
		{"bridge symbol without exchange", func(c *StrategyConfig) {
			c.UseBridge = true
			c.BridgeSymbol = "USDTTRY"
		}, "bridge_exchange"},
		{"zero step qty", func(c *StrategyConfig) { c.QuoteStepQty = 0 }, "quote_step_qty"},
		{"zero credit", func(c *StrategyConfig) { c.Credit = 0 }, "credit"},
		{"spend cap exceeded", func(c *StrategyConfig) { c.MaxSpend = MaxSpendCap + 1 }, "max_spend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}

	assert.NoError(t, validConfig().Validate())
}

func TestBookHelpers(t *testing.T) {
	var b Book
	assert.False(t, b.Known())
	assert.Zero(t, b.Mid())

	b = Book{Ask: 101, Bid: 99}
	assert.True(t, b.Known())
	assert.Equal(t, 100.0, b.Mid())
	assert.InDelta(t, 200.0, b.SpreadBps(), 1e-9)
}
