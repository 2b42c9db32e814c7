// Package guardtime equalizes response timing on denied verdicts so a
// caller cannot distinguish lockout rejections from credential failures by
// latency alone.
package guardtime

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// Config holds the delay parameters, both in milliseconds.
type Config struct {
	BaseDelayMs    int
	RandomDelayMs  int
	DelayOnSuccess bool
}

// Delay applies a fixed-plus-jitter pause to guard responses.
type Delay struct {
	config Config
}

// New creates a Delay. Returns nil when both delays are zero so callers can
// skip the nil check dance.
func New(config Config) *Delay {
	if config.BaseDelayMs <= 0 && config.RandomDelayMs <= 0 {
		return nil
	}
	return &Delay{config: config}
}

// Wait pauses for base + random jitter. Successful verdicts are not delayed
// unless configured.
func (d *Delay) Wait(success bool) {
	if d == nil {
		return
	}
	if success && !d.config.DelayOnSuccess {
		return
	}

	total := time.Duration(d.config.BaseDelayMs) * time.Millisecond
	if d.config.RandomDelayMs > 0 {
		if n, err := cryptoRandIntn(d.config.RandomDelayMs); err == nil {
			total += time.Duration(n) * time.Millisecond
		}
	}

	time.Sleep(total)
}

// cryptoRandIntn returns a random int in [0, max) from crypto/rand.
// math/rand jitter would be predictable enough to subtract out.
func cryptoRandIntn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}

	return int(binary.BigEndian.Uint64(buf[:]) % uint64(max)), nil
}
