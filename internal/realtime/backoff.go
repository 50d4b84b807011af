package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff builds the reconnect policy named in cfg.
// Both policies retry forever; only Disconnect stops the channel.
func newBackOff(cfg Config) backoff.BackOff {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultConfig().ReconnectDelay
	}

	if cfg.ReconnectPolicy != PolicyExponential {
		return backoff.NewConstantBackOff(delay)
	}

	maxWait := cfg.MaxReconnectWait
	if maxWait < delay {
		maxWait = delay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = maxWait
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// nextDelay returns the next wait, falling back to the cap if the policy gives up.
func nextDelay(b backoff.BackOff, cfg Config) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop {
		if cfg.MaxReconnectWait > 0 {
			return cfg.MaxReconnectWait
		}
		return DefaultConfig().ReconnectDelay
	}
	return d
}
