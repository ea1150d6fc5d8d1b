package monitor

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MaxAge        time.Duration `envconfig:"AGED_POSITION_MAX_AGE" default:"24h"`
	WarnEvery     time.Duration `envconfig:"AGED_POSITION_WARN_EVERY" default:"1h"`
	CheckInterval time.Duration `envconfig:"AGED_POSITION_CHECK_INTERVAL" default:"1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
