package tp_sl

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	ActivationPercent     decimal.Decimal `envconfig:"TRAILING_ACTIVATION_PERCENT" default:"2"`
	DistancePercent       decimal.Decimal `envconfig:"TRAILING_DISTANCE_PERCENT" default:"1"`
	SafeOffsetPercent     decimal.Decimal `envconfig:"TRAILING_SAFE_OFFSET_PERCENT" default:"0.1"`
	MinImprovementPercent decimal.Decimal `envconfig:"TRAILING_MIN_IMPROVEMENT_PERCENT" default:"0.1"`
	MinUpdateInterval     time.Duration   `envconfig:"TRAILING_MIN_UPDATE_INTERVAL" default:"10s"`
	LockTimeout           time.Duration   `envconfig:"TRAILING_LOCK_TIMEOUT" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
