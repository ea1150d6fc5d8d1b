package controller

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	StopLossPercent   decimal.Decimal `envconfig:"STOP_LOSS_PERCENT" default:"2"`
	StopLossAttempts  int             `envconfig:"STOP_LOSS_ATTEMPTS" default:"3"`
	RollbackAttempts  int             `envconfig:"ROLLBACK_ATTEMPTS" default:"3"`
	RetryInitialDelay time.Duration   `envconfig:"ORDER_RETRY_INITIAL_DELAY" default:"500ms"`
	RetryMultiplier   float64         `envconfig:"ORDER_RETRY_MULTIPLIER" default:"2"`
	RetryMaxDelay     time.Duration   `envconfig:"ORDER_RETRY_MAX_DELAY" default:"5s"`
	RollbackTimeout   time.Duration   `envconfig:"ROLLBACK_TIMEOUT" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
