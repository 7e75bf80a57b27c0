package app

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"time"
)

type backoff struct {
	Base time.Duration
	Max  time.Duration
}

// supervise runs start until ctx is done. Each failure is followed by an
// exponentially growing pause; a run that lasted longer than Max resets it.
func supervise(ctx context.Context, name string, bo backoff, start func(context.Context) error) {
	if bo.Base <= 0 {
		bo.Base = time.Second
	}
	if bo.Max <= 0 {
		bo.Max = time.Minute
	}

	attempt := 0
	for {
		began := time.Now()
		err := start(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("stopped without error")
		}

		if time.Since(began) > bo.Max {
			attempt = 0
		}
		attempt++

		wait := bo.Base << (attempt - 1)
		if wait > bo.Max || wait <= 0 {
			wait = bo.Max
		}
		wait += time.Duration(rand.Int64N(int64(bo.Base)))

		log.Printf("[%s] stopped: %v, restart #%d in %s", name, err, attempt, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
