package verifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/utils"
)

// Config tunes how hard the verifier looks before giving up on an open.
type Config struct {
	Timeout      time.Duration `envconfig:"VERIFY_TIMEOUT"`
	Attempts     int           `envconfig:"VERIFY_ATTEMPTS"`
	InitialDelay time.Duration `envconfig:"VERIFY_INITIAL_DELAY"`
	Multiplier   float64       `envconfig:"VERIFY_MULTIPLIER"`
	MaxDelay     time.Duration `envconfig:"VERIFY_MAX_DELAY"`
}

// DefaultConfig returns the per-exchange defaults. Bybit's REST view lags its
// matching engine more than Binance's, so it starts slower and backs off harder.
func DefaultConfig(exchangeName string) Config {
	cfg := Config{
		Timeout:      10 * time.Second,
		Attempts:     5,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   1.2,
		MaxDelay:     2 * time.Second,
	}
	if strings.EqualFold(exchangeName, exchange.NameBybit) {
		cfg.InitialDelay = 300 * time.Millisecond
		cfg.Multiplier = 1.5
	}
	return cfg
}

// GetConfig starts from DefaultConfig and applies <EXCHANGE>_VERIFY_* overrides.
func GetConfig(exchangeName string) Config {
	cfg := DefaultConfig(exchangeName)
	if err := envconfig.Process(strings.ToUpper(exchangeName), &cfg); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return cfg
}

func (c Config) backoff() utils.Backoff {
	return utils.Backoff{Initial: c.InitialDelay, Multiplier: c.Multiplier, Max: c.MaxDelay}
}
