package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/connected-systems/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

func FromEvents(ev config.EventsCfg) Config {
	return Config{
		Brokers:          ev.Brokers,
		Topic:            ev.Topic,
		GroupID:          ev.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		// replaying old events only costs cache misses
		InitialOffsetOldest: false,
	}
}
