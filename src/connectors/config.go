package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the per-exchange connection settings. It is processed with the exchange
// name as prefix, e.g. BINANCE_API_KEY or BYBIT_BASE_URL.
type Config struct {
	APIKey     string        `envconfig:"API_KEY"`
	APISecret  string        `envconfig:"API_SECRET"`
	BaseURL    string        `envconfig:"BASE_URL"`
	StreamURL  string        `envconfig:"STREAM_URL"`
	RecvWindow time.Duration `envconfig:"RECV_WINDOW" default:"5s"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"15s"`
	Enabled    bool          `envconfig:"ENABLED" default:"false"`
}

func GetConfig(prefix string) Config {
	var config Config
	if err := envconfig.Process(prefix, &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
