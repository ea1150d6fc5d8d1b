package alert

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WebhookURL     string        `envconfig:"ALERT_WEBHOOK_URL"`
	WebhookTimeout time.Duration `envconfig:"ALERT_WEBHOOK_TIMEOUT" default:"10s"`
	DedupWindow    time.Duration `envconfig:"ALERT_DEDUP_WINDOW" default:"5m"`
	RatePerMinute  int           `envconfig:"ALERT_RATE_PER_MINUTE" default:"20"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
