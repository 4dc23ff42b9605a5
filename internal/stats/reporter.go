// Package stats aggregates delivery metrics over the notification ledger.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/rentfolio/go-push-service/pkg/push"
)

const defaultWindowDays = 7

// Report is a windowed view of the ledger plus a point-in-time snapshot of
// the device fleet.
type Report struct {
	WindowDays    int               `json:"window_days"`
	Notifications push.StatusCounts `json:"notifications"`
	// DeliveryRate is delivered/sent, ClickRate clicked/delivered, both as
	// percentages. A zero denominator yields exactly 0, never NaN.
	DeliveryRate float64           `json:"delivery_rate"`
	ClickRate    float64           `json:"click_rate"`
	Devices      push.DeviceCounts `json:"devices"`
}

type Reporter struct {
	records push.RecordStore
	devices push.DeviceStore
	now     func() time.Time
	logger  *slog.Logger
}

func NewReporter(records push.RecordStore, devices push.DeviceStore, logger *slog.Logger) *Reporter {
	return &Reporter{
		records: records,
		devices: devices,
		now:     time.Now,
		logger:  logger.With("component", "StatsReporter"),
	}
}

// Report tallies notification records created within the lookback window.
// Device counts are computed as of now, independent of the window.
func (r *Reporter) Report(ctx context.Context, windowDays int) (*Report, error) {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	since := r.now().UTC().AddDate(0, 0, -windowDays)

	counts, err := r.records.CountByStatusSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("counting notifications: %w", err)
	}
	deviceCounts, err := r.devices.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting devices: %w", err)
	}

	return &Report{
		WindowDays:    windowDays,
		Notifications: counts,
		DeliveryRate:  rate(counts.Delivered, counts.Sent),
		ClickRate:     rate(counts.Clicked, counts.Delivered),
		Devices:       deviceCounts,
	}, nil
}

// rate returns num/denom as a percentage rounded to two decimals, and 0
// for a zero denominator.
func rate(num, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(denom)*10000) / 100
}
