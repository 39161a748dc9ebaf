package scheduler

import (
	"context"
	"log/slog"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/metrics"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
)

// Notifier is the part of the notification dispatcher the sweeps use.
type Notifier interface {
	SendOnce(ctx context.Context, day string, m notification.Message) (bool, error)
	BroadcastAdminsOnce(ctx context.Context, day string, m notification.Message) (int, error)
}

// handleFunc processes one candidate order and reports whether it acted.
type handleFunc func(ctx context.Context, o order.Order) (bool, error)

// sweep fetches one bounded batch and handles each order independently: a
// failing order is logged and left for the next run.
func sweep(ctx context.Context, logger *slog.Logger, name string, find func(context.Context) ([]order.Order, error), handle handleFunc) SweepReport {
	report := SweepReport{Sweep: name}
	if ctx.Err() != nil {
		report.Interrupted = true
		return report
	}

	orders, err := find(ctx)
	if err != nil {
		logger.Error("sweep query failed", "sweep", name, "err", err)
		report.Error = err.Error()
		metrics.SweepOrdersTotal.WithLabelValues(name, "query_failed").Inc()
		return report
	}
	report.Scanned = len(orders)

	for _, o := range orders {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}

		acted, err := handle(ctx, o)
		switch {
		case err != nil:
			report.Failed++
			metrics.SweepOrdersTotal.WithLabelValues(name, "failed").Inc()
			logger.Error("sweep order failed", "sweep", name, "order_id", o.ID, "order_number", o.OrderNumber, "err", err)
		case acted:
			report.Processed++
			metrics.SweepOrdersTotal.WithLabelValues(name, "processed").Inc()
		default:
			report.Skipped++
			metrics.SweepOrdersTotal.WithLabelValues(name, "skipped").Inc()
		}
	}
	return report
}
