package relay

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Base doubled per attempt up to Cap,
// plus up to Jitter*delay of random slack, still bounded by Cap.
//
// Jitter is clamped to [0, 1]. Within that range a later attempt never waits
// less than an earlier one, whatever the random draws are.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Delay returns the wait before reconnect attempt n, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Millisecond
	}
	ceiling := b.Cap
	if ceiling < base {
		ceiling = base
	}

	d := base
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}

	jitter := b.Jitter
	switch {
	case jitter < 0:
		jitter = 0
	case jitter > 1:
		jitter = 1
	}
	if jitter > 0 {
		d += time.Duration(float64(d) * jitter * b.random())
		if d > ceiling {
			d = ceiling
		}
	}
	return d
}

func (b Backoff) random() float64 {
	if b.Rand != nil {
		return b.Rand()
	}
	return rand.Float64()
}
