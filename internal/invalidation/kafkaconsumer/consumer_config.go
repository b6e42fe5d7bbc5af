package kafkaconsumer

import "time"

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// DedupeSize bounds how many layer URLs remember their last applied revision.
	DedupeSize int
}

// DefaultConfig fills the group timings used in production.
func DefaultConfig(brokers []string, topic, group string) Config {
	if group == "" {
		group = "buurtweg-monitor"
	}
	return Config{
		Brokers:          brokers,
		Topic:            topic,
		GroupID:          group,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		// a restarted server starts with a cold cache, older events are moot
		InitialOffsetOldest: false,
		DedupeSize:          256,
	}
}
