package source

import "time"

// Config selects and configures the upstream driver.
type Config struct {
	Driver string `mapstructure:"driver"`
	// URL is the websocket bridge address; %s is replaced by the escaped
	// broadcaster ID.
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	EventBuffer      int           `mapstructure:"event_buffer"`
	Mock             MockConfig    `mapstructure:"mock"`
}

// MockConfig tunes the synthetic upstream.
type MockConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
	// FailureRate is the probability in [0, 1] that a Connect fails.
	FailureRate float64  `mapstructure:"failure_rate"`
	Usernames   []string `mapstructure:"usernames"`
}

func DefaultConfig() Config {
	return Config{
		Driver:           DriverMock,
		HandshakeTimeout: 10 * time.Second,
		ReadLimit:        64 * 1024,
		EventBuffer:      64,
		Mock: MockConfig{
			MinInterval: 2 * time.Second,
			MaxInterval: 5 * time.Second,
		},
	}
}
