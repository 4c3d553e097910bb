package alert

import (
	"context"
	"fmt"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/service"
)

// ForwardStorageWarnings raises a storage alert for every storage.warning
// event on bus until ctx is done or the bus closes. Repeats within the
// dispatcher cooldown are suppressed.
func ForwardStorageWarnings(ctx context.Context, bus *service.EventBus, d *Dispatcher, log *logger.Logger) {
	bus.SubscribeWithHandler(ctx, service.EventTypeStorageWarning,
		func(ctx context.Context, ev service.Event) error {
			a := New(KindStorage, storageMessage(ev), ev.Timestamp)
			a.Details = ev.Data
			_, err := d.Dispatch(ctx, a)
			return err
		},
		func(ev service.Event, err error) {
			log.Warn("Failed to deliver storage alert", "source", ev.Source, "error", err)
		},
	)
}

func storageMessage(ev service.Event) string {
	if path, ok := ev.Data["path"].(string); ok {
		return fmt.Sprintf("failed to delete frame %s", path)
	}
	if pct, ok := ev.Data["usage_percent"].(float64); ok {
		return fmt.Sprintf("storage usage at %.1f%%", pct)
	}
	return "storage warning"
}
