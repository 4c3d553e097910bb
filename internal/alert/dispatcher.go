package alert

import (
	"context"
	"sync"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// Dispatcher suppresses repeated alerts of the same kind within the cooldown
// window and hands the rest to the notifier
type Dispatcher struct {
	notifier Notifier
	cooldown time.Duration
	logger   *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[Kind]time.Time
	sent     int
	dropped  int
}

// NewDispatcher creates a dispatcher. A zero cooldown sends every alert.
func NewDispatcher(notifier Notifier, cooldown time.Duration, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		cooldown: cooldown,
		logger:   log,
		now:      time.Now,
		lastSent: make(map[Kind]time.Time),
	}
}

// Dispatch sends the alert unless one of the same kind went out within the
// cooldown. It reports whether the alert was delivered. A failed delivery does
// not start the cooldown, so the next occurrence is tried again.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) (bool, error) {
	now := d.now()

	d.mu.Lock()
	if last, ok := d.lastSent[a.Kind]; ok && d.cooldown > 0 && now.Sub(last) < d.cooldown {
		d.dropped++
		d.mu.Unlock()
		d.logger.Debug("Alert suppressed by cooldown",
			"kind", a.Kind,
			"last_sent", last,
			"cooldown", d.cooldown,
		)
		return false, nil
	}
	d.mu.Unlock()

	if err := d.notifier.Notify(ctx, a); err != nil {
		return false, err
	}

	d.mu.Lock()
	d.lastSent[a.Kind] = now
	d.sent++
	d.mu.Unlock()
	return true, nil
}

// Reset clears the cooldown for kind
func (d *Dispatcher) Reset(kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastSent, kind)
}

// Stats returns how many alerts were sent and suppressed
func (d *Dispatcher) Stats() (sent, suppressed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent, d.dropped
}

// Close closes the underlying notifier
func (d *Dispatcher) Close() error {
	return d.notifier.Close()
}
