package whatsapp

import (
	"context"
	"time"
)

// HealthMonitorConfig configures proactive connection health monitoring.
type HealthMonitorConfig struct {
	// Enabled turns on proactive health monitoring.
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often to perform health checks.
	// Default: 30s
	CheckInterval time.Duration `yaml:"check_interval"`

	// MaxSilentDuration is how long the connection may go without activity
	// before it is inspected.
	// Default: 5m
	MaxSilentDuration time.Duration `yaml:"max_silent_duration"`

	// ForceReconnectAfter forces a reconnection after this much silence even
	// when the client reports connected (half-open sockets). 0 disables it.
	ForceReconnectAfter time.Duration `yaml:"force_reconnect_after"`

	// PresenceInterval is how often an "available" presence is sent to keep
	// the session warm. 0 disables it.
	PresenceInterval time.Duration `yaml:"presence_interval"`
}

// DefaultHealthMonitorConfig returns sensible defaults.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		Enabled:             true,
		CheckInterval:       30 * time.Second,
		MaxSilentDuration:   5 * time.Minute,
		ForceReconnectAfter: 15 * time.Minute,
		PresenceInterval:    2 * time.Minute,
	}
}

// StartHealthMonitor starts the health monitoring goroutines. They run until
// the context is cancelled.
func (w *WhatsApp) StartHealthMonitor(ctx context.Context, cfg HealthMonitorConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.MaxSilentDuration <= 0 {
		cfg.MaxSilentDuration = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(cfg.CheckInterval)
		defer ticker.Stop()

		w.logger.Info("whatsapp health monitor started",
			"check_interval", cfg.CheckInterval,
			"max_silent", cfg.MaxSilentDuration,
			"force_reconnect_after", cfg.ForceReconnectAfter)

		for {
			select {
			case <-ctx.Done():
				w.logger.Info("whatsapp health monitor stopped")
				return
			case <-ticker.C:
				w.performHealthCheck(cfg)
			}
		}
	}()

	if cfg.PresenceInterval > 0 {
		w.startPinger(ctx, cfg.PresenceInterval)
	}
}

// startPinger sends periodic presence updates to keep the connection alive.
func (w *WhatsApp) startPinger(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.getState() != StateConnected {
					continue
				}
				if err := w.SendPresence(ctx, true); err != nil {
					w.logger.Warn("whatsapp: pinger failed to send presence", "error", err)
					continue
				}
				w.logger.Debug("whatsapp: pinger sent presence update")
				w.UpdateLastMsgTime()
			}
		}
	}()
}

// performHealthCheck checks connection health and reconnects when the
// connection looks dead. It reports whether a reconnect was started.
func (w *WhatsApp) performHealthCheck(cfg HealthMonitorConfig) bool {
	state := w.getState()
	if state != StateConnected {
		return false
	}

	silent := time.Since(w.getLastMsgTime())
	if silent <= cfg.MaxSilentDuration {
		return false
	}

	w.logger.Warn("whatsapp: connection silent for too long",
		"silent_duration", silent,
		"max_silent", cfg.MaxSilentDuration)

	if w.client != nil && !w.client.IsConnected() {
		w.logger.Error("whatsapp: client reports disconnected but state is connected")
		w.connected.Store(false)
		go w.attemptReconnect()
		return true
	}

	if cfg.ForceReconnectAfter > 0 && silent > cfg.ForceReconnectAfter {
		w.logger.Warn("whatsapp: forcing preventive reconnection",
			"silent_duration", silent,
			"force_reconnect_after", cfg.ForceReconnectAfter)
		w.connected.Store(false)
		go w.attemptReconnect()
		return true
	}

	w.logger.Debug("whatsapp: silent connection, client still reports connected")
	return false
}

// getLastMsgTime returns the time of the last message or activity.
func (w *WhatsApp) getLastMsgTime() time.Time {
	if v := w.lastMsg.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// UpdateLastMsgTime updates the last activity timestamp.
func (w *WhatsApp) UpdateLastMsgTime() {
	w.lastMsg.Store(time.Now())
}
