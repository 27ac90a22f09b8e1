package bot

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dnephew1/resumos/pkg/resumos/channels/whatsapp"
)

// observable is implemented by channels that publish connection changes.
type observable interface {
	AddConnectionObserver(obs whatsapp.ConnectionObserver)
}

// connectionWatcher logs connection changes and exports them as metrics.
type connectionWatcher struct {
	logger     *slog.Logger
	connected  prometheus.Gauge
	reconnects prometheus.Counter
}

func newConnectionWatcher(reg prometheus.Registerer, logger *slog.Logger) *connectionWatcher {
	w := &connectionWatcher{
		logger: logger.With("component", "connection"),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resumos_whatsapp_connected",
			Help: "1 while the WhatsApp session is connected.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resumos_whatsapp_reconnect_attempts_total",
			Help: "Reconnection attempts after the session dropped.",
		}),
	}
	reg.MustRegister(w.connected, w.reconnects)
	return w
}

// OnConnectionChange implements whatsapp.ConnectionObserver.
func (w *connectionWatcher) OnConnectionChange(evt whatsapp.ConnectionEvent) {
	switch evt.State {
	case whatsapp.StateConnected:
		w.connected.Set(1)
	case whatsapp.StateReconnecting:
		w.connected.Set(0)
		w.reconnects.Inc()
	default:
		w.connected.Set(0)
	}

	level := slog.LevelInfo
	if evt.State == whatsapp.StateFailed || evt.State == whatsapp.StateBanned {
		level = slog.LevelError
	}
	w.logger.Log(context.Background(), level, "whatsapp connection changed",
		"state", evt.State,
		"previous", evt.Previous,
		"reason", evt.Reason)
}
