package config

import (
	"errors"
	"fmt"

	"github.com/rickgao/upstox-data/internal/decode"
)

// Validate checks that all required fields are set and values are valid.
// The database section is only validated when it is configured; the
// recorder additionally calls RequireDatabase.
func (c *StreamerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.AccessToken == "" {
		return errors.New("api.access_token is required")
	}

	if c.Feed.ReconnectBaseDelay > c.Feed.ReconnectMaxDelay {
		return fmt.Errorf("feed.reconnect_base_delay (%v) cannot exceed reconnect_max_delay (%v)",
			c.Feed.ReconnectBaseDelay, c.Feed.ReconnectMaxDelay)
	}
	if c.Feed.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}

	for i, sub := range c.Subscriptions {
		if !decode.Mode(sub.Mode).Valid() {
			return fmt.Errorf("subscriptions[%d].mode %q is not a valid mode", i, sub.Mode)
		}
		if len(sub.InstrumentKeys) == 0 {
			return fmt.Errorf("subscriptions[%d].instrument_keys is empty", i)
		}
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if c.Database.Timescale.Host != "" {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	return nil
}

// RequireDatabase validates the TimescaleDB section, required fields
// included. The recorder calls this after Validate.
func (c *StreamerConfig) RequireDatabase() error {
	return c.Database.Timescale.validate("database.timescale")
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
