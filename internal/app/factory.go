package app

import (
	"fmt"
	"log/slog"

	"github.com/ecelik/mirrorbot/internal/config"
	"github.com/ecelik/mirrorbot/internal/domain"
	"github.com/ecelik/mirrorbot/internal/gate"
	"github.com/ecelik/mirrorbot/internal/platform/binance"
	"github.com/ecelik/mirrorbot/internal/platform/btcturk"
	"github.com/ecelik/mirrorbot/internal/platform/paper"
	"github.com/ecelik/mirrorbot/internal/robot"
	"github.com/ecelik/mirrorbot/internal/runner"
	"github.com/ecelik/mirrorbot/internal/station"
	"github.com/ecelik/mirrorbot/internal/stream"
)

// newRobotFactory returns the runner factory for the sliding-window strategy.
// Each build resolves the follower exchange client, subscribes the four
// station feeds, and assembles a gate and robot around them; the returned
// release function drops the subscriptions again.
func newRobotFactory(cfg *config.Config, stations *station.Registry, notifier robot.Notifier, logger *slog.Logger) runner.Factory {
	return func(sc domain.StrategyConfig) (runner.TradingRobot, func(), error) {
		follower, err := newFollowerClient(cfg, sc, logger)
		if err != nil {
			return nil, nil, err
		}

		var handles []*station.Handle
		release := func() {
			for _, h := range handles {
				stations.Unsubscribe(h)
			}
		}

		subBook := func(exchange, symbol string) (*station.Handle, error) {
			factory, err := bookStreamFactory(cfg, exchange, symbol, sc.Network)
			if err != nil {
				return nil, err
			}
			key := station.Key{Exchange: exchange, Network: sc.Network, Topic: symbol}
			h, _ := stations.Subscribe(key, func() station.Publisher {
				src := stream.NewResilient(factory, stream.Config{
					RedialDelay:    cfg.Stream.RedialDelay.Duration,
					MaxRedialDelay: cfg.Stream.MaxRedialDelay.Duration,
				}, logger)
				return station.NewBookPublisher(src)
			})
			handles = append(handles, h)
			return h, nil
		}

		var feeds robot.Feeds
		if feeds.Leader, err = subBook(sc.LeaderExchange, sc.Pair().Symbol()); err != nil {
			release()
			return nil, nil, err
		}
		if feeds.Follower, err = subBook(sc.FollowerExchange, sc.Pair().Symbol()); err != nil {
			release()
			return nil, nil, err
		}
		if sc.UseBridge {
			if feeds.Bridge, err = subBook(sc.BridgeExchange, sc.BridgeSymbol); err != nil {
				release()
				return nil, nil, err
			}
		}

		// The balance station tracks the follower account. Paper clients
		// get a per-robot key: their balance sheets are not shared.
		balanceExchange := sc.FollowerExchange
		if sc.TestMode {
			balanceExchange = "paper:" + shortSha(sc.Sha)
		}
		balKey := station.Key{Exchange: balanceExchange, Network: sc.Network, Topic: station.BalanceTopic}
		balHandle, _ := stations.Subscribe(balKey, func() station.Publisher {
			return station.NewBalancePublisher(follower, station.DefaultBalanceInterval)
		})
		handles = append(handles, balHandle)
		feeds.Balance = balHandle

		g := gate.New(follower, sc.Pair(), gate.Config{
			SubmitTimeout: cfg.Gate.SubmitTimeout.Duration,
			MinInterOrder: cfg.Gate.MinInterOrder.Duration,
			CancelTimeout: cfg.Gate.CancelTimeout.Duration,
			CancelPacing:  cfg.Gate.CancelPacing.Duration,
		}, logger)

		r := robot.New(sc, g, feeds, notifier, robot.Options{
			StartTimeout:       cfg.Robot.StartTimeout.Duration,
			SellFeeFactor:      cfg.Robot.SellFeeFactor,
			MaxOrdersPerWindow: cfg.Robot.MaxOrdersPerWindow,
			OrderLogLimit:      cfg.Robot.OrderLogLimit,
		}, logger)

		return r, release, nil
	}
}

// newFollowerClient builds the order-bearing exchange client. Test mode
// substitutes a paper exchange seeded with enough quote currency to run the
// strategy to its spend cap.
func newFollowerClient(cfg *config.Config, sc domain.StrategyConfig, logger *slog.Logger) (domain.ExchangeClient, error) {
	if sc.TestMode {
		seed := sc.MaxSpend
		if seed <= 0 {
			seed = sc.QuoteStepQty * float64(sc.MaxSteps)
		}
		return paper.NewClient(sc.FollowerExchange, map[string]domain.Balance{
			sc.Quote: {Free: seed},
		}, logger), nil
	}

	switch sc.FollowerExchange {
	case "binance":
		return binance.NewClient(binance.Config{
			APIKey:    cfg.Binance.ApiKey,
			APISecret: cfg.Binance.ApiSecret,
			Testnet:   sc.Network == domain.NetworkTestnet,
		}, logger), nil
	case "btcturk":
		return btcturk.NewClient(btcturk.Config{
			BaseURL:   cfg.BTCTurk.BaseURL,
			APIKey:    cfg.BTCTurk.ApiKey,
			APISecret: cfg.BTCTurk.ApiSecret,
		}, logger), nil
	default:
		return nil, fmt.Errorf("app: unsupported follower exchange %q", sc.FollowerExchange)
	}
}

// bookStreamFactory resolves the market-data stream for one exchange symbol.
func bookStreamFactory(cfg *config.Config, exchange, symbol string, network domain.Network) (stream.Factory[domain.BookTick], error) {
	switch exchange {
	case "binance":
		return binance.NewBookStreamFactory(symbol, network == domain.NetworkTestnet), nil
	case "btcturk":
		return btcturk.NewBookStreamFactory(cfg.BTCTurk.WSURL, symbol), nil
	default:
		return nil, fmt.Errorf("app: unsupported market-data exchange %q", exchange)
	}
}

func shortSha(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
