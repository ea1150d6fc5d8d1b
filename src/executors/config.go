package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	PriceInterval time.Duration `envconfig:"PRICE_POLL_INTERVAL" default:"2s"`
	// PriceConcurrency bounds the parallel price fetches of one poll.
	PriceConcurrency int `envconfig:"PRICE_POLL_CONCURRENCY" default:"8"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
