package zombie

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Interval time.Duration `envconfig:"ZOMBIE_SWEEP_INTERVAL" default:"5m"`
	// MinAge leaves freshly placed orders alone; their position may still be opening.
	MinAge time.Duration `envconfig:"ZOMBIE_MIN_ORDER_AGE" default:"2m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
