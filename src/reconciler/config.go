package reconciler

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	Interval     time.Duration `envconfig:"RECONCILE_INTERVAL" default:"60s"`
	FastInterval time.Duration `envconfig:"RECONCILE_FAST_INTERVAL" default:"10s"`
	// QuantityTolerance is relative: 0.0001 means 0.01%.
	QuantityTolerance decimal.Decimal `envconfig:"RECONCILE_QUANTITY_TOLERANCE" default:"0.0001"`
	ProtectionGrace   time.Duration   `envconfig:"RECONCILE_PROTECTION_GRACE" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
