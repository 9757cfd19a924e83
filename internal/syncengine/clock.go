package syncengine

import "time"

type Clock interface {
	Now() time.Time
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(d time.Duration) Ticker

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}
