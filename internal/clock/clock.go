package clock

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Clock advances the in-game hour once per HourDuration of real time and calls OnHour
// after each change. It only tracks time; reacting to it is the callback's job.
type Clock struct {
	hourDuration time.Duration
	onHour       func(ctx context.Context, hour int64)
	log          *log.Logger

	hour atomic.Int64

	newTicker func(time.Duration) (<-chan time.Time, func())
}

func New(hourDuration time.Duration, onHour func(ctx context.Context, hour int64), logger *log.Logger) *Clock {
	if logger == nil {
		logger = log.Default()
	}
	return &Clock{
		hourDuration: hourDuration,
		onHour:       onHour,
		log:          logger,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Hour is the number of in-game hours elapsed since Run started.
func (c *Clock) Hour() int64 { return c.hour.Load() }

// Run blocks until ctx is done.
func (c *Clock) Run(ctx context.Context) {
	if c.hourDuration <= 0 {
		c.log.Printf("clock disabled (hour_duration=%s)", c.hourDuration)
		<-ctx.Done()
		return
	}
	ticks, stop := c.newTicker(c.hourDuration)
	defer stop()

	c.log.Printf("clock started: 1 in-game hour = %s", c.hourDuration)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			h := c.hour.Add(1)
			if c.onHour != nil {
				c.onHour(ctx, h)
			}
		}
	}
}
