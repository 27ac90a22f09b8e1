// Package whatsapp implements the resumos WhatsApp channel on top of
// whatsmeow, a native Go WhatsApp Web API library.
//
// Features:
//   - QR code login with persistent session (printed to the terminal)
//   - Group message intake with a local message log standing in for chat history
//   - Quoted replies and revoke-for-everyone
//   - Typing indicators, presence and group size lookups
//   - Bounded reconnection: connected -> reconnecting(n) -> connected | failed
//   - Sessions that cannot recover (logout, expired pairing, ban) fail the
//     channel so the process can exit and be restarted
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdp/qrterminal/v3"
	"golang.org/x/term"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.

	"github.com/dnephew1/resumos/pkg/resumos/channels"
	"github.com/dnephew1/resumos/pkg/resumos/database"
)

// Config holds WhatsApp channel configuration.
type Config struct {
	// DatabasePath is the SQLite file holding the whatsmeow session tables.
	// The message log lives in the same file.
	DatabasePath string `yaml:"database_path"`

	// DeviceName is shown in the phone's linked devices list.
	DeviceName string `yaml:"device_name"`

	// PrintQR renders pairing QR codes on stdout when it is a terminal.
	PrintQR bool `yaml:"print_qr"`

	// SendTyping sends typing indicators while a summary is being built.
	SendTyping bool `yaml:"send_typing"`

	// ReconnectBackoff is the base delay between reconnection attempts; the
	// n-th attempt waits n times this value (capped at five minutes).
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectAttempts bounds reconnection before the channel fails.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// MaxQRRounds is how many batches of pairing codes are issued before an
	// unpaired channel gives up. Each batch lasts a couple of minutes.
	MaxQRRounds int `yaml:"max_qr_rounds"`

	// HealthMonitor configures proactive connection health monitoring.
	HealthMonitor HealthMonitorConfig `yaml:"health_monitor"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatabasePath:         "./data/resumos.db",
		DeviceName:           "Resumos",
		PrintQR:              true,
		SendTyping:           true,
		ReconnectBackoff:     5 * time.Second,
		MaxReconnectAttempts: 5,
		MaxQRRounds:          3,
		HealthMonitor:        DefaultHealthMonitorConfig(),
	}
}

// MessageStore is the message log the channel records into and reads history from.
type MessageStore interface {
	Record(ctx context.Context, m database.StoredMessage) error
	Recent(ctx context.Context, chatID string, limit int) ([]database.StoredMessage, error)
	UpdateBody(ctx context.Context, chatID, id, body string) error
	Delete(ctx context.Context, chatID, id string) error
}

var (
	_ channels.HistoryChannel  = (*WhatsApp)(nil)
	_ channels.ReplyChannel    = (*WhatsApp)(nil)
	_ channels.PresenceChannel = (*WhatsApp)(nil)
	_ channels.GroupChannel    = (*WhatsApp)(nil)
)

// errQRTimeout ends a pairing round whose codes all expired.
var errQRTimeout = errors.New("QR code timeout")

// WhatsApp implements channels.HistoryChannel, channels.ReplyChannel,
// channels.PresenceChannel and channels.GroupChannel.
type WhatsApp struct {
	cfg     Config
	client  *whatsmeow.Client
	history MessageStore
	logger  *slog.Logger

	// messages is the channel for incoming messages.
	messages chan *channels.IncomingMessage

	connected atomic.Bool
	state     atomic.Value // ConnectionState
	lastMsg   atomic.Value // time.Time

	errorCount        atomic.Int64
	reconnectAttempts atomic.Int32

	// reconnectGuard prevents multiple concurrent reconnection attempts.
	reconnectGuard atomic.Bool

	connObservers   []ConnectionObserver
	connObserversMu sync.Mutex

	// failed is closed once the session cannot recover; failErr says why.
	failed     chan struct{}
	failedOnce sync.Once
	failErr    error

	ctx    context.Context
	cancel context.CancelFunc

	// messagesMu orders sends against the close in Disconnect.
	messagesMu     sync.Mutex
	messagesClosed bool
}

// New creates a new WhatsApp channel instance.
func New(cfg Config, history MessageStore, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.MaxQRRounds <= 0 {
		cfg.MaxQRRounds = 3
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Resumos"
	}

	w := &WhatsApp{
		cfg:      cfg,
		history:  history,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan *channels.IncomingMessage, 256),
		failed:   make(chan struct{}),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.setState(StateDisconnected)
	return w
}

// ---------- State Management ----------

func (w *WhatsApp) getState() ConnectionState {
	if v := w.state.Load(); v != nil {
		return v.(ConnectionState)
	}
	return StateDisconnected
}

func (w *WhatsApp) setState(state ConnectionState) {
	w.state.Store(state)
}

// GetState returns the current connection state.
func (w *WhatsApp) GetState() ConnectionState {
	return w.getState()
}

// Failed is closed when the session gave up: reconnection ran out, pairing
// expired, or the account was logged out or banned.
func (w *WhatsApp) Failed() <-chan struct{} {
	return w.failed
}

// Err returns why the channel failed, wrapping channels.ErrConnectionFailed.
// It is nil until Failed is closed.
func (w *WhatsApp) Err() error {
	select {
	case <-w.failed:
		return w.failErr
	default:
		return nil
	}
}

func (w *WhatsApp) getClientJID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.String()
	}
	return ""
}

// ---------- Connection Observer ----------

// AddConnectionObserver registers a connection observer.
func (w *WhatsApp) AddConnectionObserver(obs ConnectionObserver) {
	w.connObserversMu.Lock()
	defer w.connObserversMu.Unlock()
	w.connObservers = append(w.connObservers, obs)
}

// notifyConnectionChange notifies all connection observers asynchronously.
func (w *WhatsApp) notifyConnectionChange(evt ConnectionEvent) {
	w.connObserversMu.Lock()
	observers := make([]ConnectionObserver, len(w.connObservers))
	copy(observers, w.connObservers)
	w.connObserversMu.Unlock()

	for _, obs := range observers {
		go func(o ConnectionObserver) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Warn("whatsapp: connection observer panic", "error", r)
				}
			}()
			o.OnConnectionChange(evt)
		}(obs)
	}
}

// ---------- Channel Interface ----------

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect opens the session store and connects. Without a stored session the
// QR pairing flow runs in the background.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.cancel()
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.setState(StateConnecting)
	w.logger.Info("whatsapp: initializing connection...", "path", w.cfg.DatabasePath)

	if err := w.openClient(w.ctx); err != nil {
		w.setState(StateDisconnected)
		return err
	}

	if w.client.Store.ID == nil {
		w.setState(StateWaitingQR)
		w.logger.Info("whatsapp: no existing session, QR code required")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp: QR login ended", "error", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("connecting: %w", err)
	}

	w.logger.Info("whatsapp: connecting with existing session", "jid", w.getClientJID())
	w.StartHealthMonitor(w.ctx, w.cfg.HealthMonitor)
	return nil
}

// openClient loads the device from the session store and builds the client.
func (w *WhatsApp) openClient(ctx context.Context) error {
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", w.cfg.DatabasePath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := w.getDevice(ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}

	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)

	// Reconnection is owned by attemptReconnect so the attempt budget holds.
	w.client.EnableAutoReconnect = false
	return nil
}

// Disconnect gracefully closes the WhatsApp connection.
func (w *WhatsApp) Disconnect() error {
	previous := w.getState()
	w.setState(StateDisconnected)
	w.connected.Store(false)

	w.cancel()
	if w.client != nil {
		w.client.Disconnect()
	}

	w.messagesMu.Lock()
	if !w.messagesClosed {
		w.messagesClosed = true
		close(w.messages)
	}
	w.messagesMu.Unlock()

	w.logger.Info("whatsapp: disconnected")

	w.notifyConnectionChange(ConnectionEvent{
		State:     StateDisconnected,
		Previous:  previous,
		Timestamp: time.Now(),
		Reason:    "user_request",
	})
	return nil
}

// Logout unlinks the device from the phone and clears the stored session.
// It opens the session store itself when the channel was never connected.
// It returns false when there was no linked session.
func (w *WhatsApp) Logout(ctx context.Context) (bool, error) {
	if w.client == nil {
		if err := w.openClient(ctx); err != nil {
			return false, err
		}
	}
	if w.client.Store.ID == nil {
		w.logger.Info("whatsapp: no linked session")
		return false, nil
	}

	w.setState(StateLoggingOut)
	w.connected.Store(false)

	if !w.client.IsConnected() {
		if err := w.client.Connect(); err != nil {
			w.logger.Warn("whatsapp: could not reach server for logout", "error", err)
		}
	}

	if err := w.client.Logout(ctx); err != nil {
		w.logger.Warn("whatsapp: logout error, forcing cleanup", "error", err)
		w.client.Disconnect()
		if delErr := w.client.Store.Delete(ctx); delErr != nil {
			w.setState(StateDisconnected)
			return true, fmt.Errorf("deleting session: %w", delErr)
		}
	}
	w.setState(StateDisconnected)
	w.logger.Info("whatsapp: logged out, session cleared")
	return true, nil
}

// attemptReconnect retries the connection with linear backoff until it
// succeeds, the context ends or MaxReconnectAttempts is exhausted, in which
// case the channel moves to StateFailed.
func (w *WhatsApp) attemptReconnect() {
	if !w.reconnectGuard.CompareAndSwap(false, true) {
		w.logger.Debug("whatsapp: reconnect already in progress, skipping")
		return
	}
	defer w.reconnectGuard.Store(false)

	previous := w.getState()

	for {
		if w.ctx.Err() != nil {
			w.logger.Debug("whatsapp: reconnect cancelled, context done")
			return
		}
		if w.getState() == StateFailed {
			return
		}

		// The counter survives disconnects between attempts; only a
		// Connected event resets it.
		attempt := w.reconnectAttempts.Add(1)
		if int(attempt) > w.cfg.MaxReconnectAttempts {
			w.fail("max_reconnect_attempts", map[string]any{"attempts": int(attempt) - 1})
			return
		}
		w.setState(StateReconnecting)

		backoff := min(w.cfg.ReconnectBackoff*time.Duration(attempt), 5*time.Minute)
		w.logger.Info("whatsapp: attempting reconnect",
			"attempt", attempt,
			"max_attempts", w.cfg.MaxReconnectAttempts,
			"backoff", backoff)

		w.notifyConnectionChange(ConnectionEvent{
			State:     StateReconnecting,
			Previous:  previous,
			Timestamp: time.Now(),
			Reason:    "connection_lost",
			Details: map[string]any{
				"attempt":     attempt,
				"backoff_sec": backoff.Seconds(),
			},
		})

		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			w.logger.Debug("whatsapp: reconnect cancelled during backoff")
			return
		}

		if w.client == nil {
			w.logger.Warn("whatsapp: client is nil, cannot reconnect", "attempt", attempt)
			continue
		}

		// Clear stale websocket state before dialing again.
		if w.client.IsConnected() {
			w.client.Disconnect()
			time.Sleep(100 * time.Millisecond)
		}

		if err := w.client.Connect(); err != nil {
			w.errorCount.Add(1)
			w.logger.Warn("whatsapp: reconnect attempt failed, will retry",
				"attempt", attempt,
				"error", err)
			continue
		}

		// The Connected event resets the attempt counter.
		w.logger.Info("whatsapp: reconnect connection initiated, waiting for confirmation")
		return
	}
}

// fail moves the channel to StateFailed and closes Failed(). Only the first
// call has any effect.
func (w *WhatsApp) fail(reason string, details map[string]any) {
	w.failedOnce.Do(func() {
		previous := w.getState()
		w.setState(StateFailed)
		w.connected.Store(false)
		w.failErr = fmt.Errorf("%w: whatsapp %s", channels.ErrConnectionFailed, reason)

		w.logger.Error("whatsapp: session cannot recover, giving up", "reason", reason, "details", details)

		w.notifyConnectionChange(ConnectionEvent{
			State:     StateFailed,
			Previous:  previous,
			Timestamp: time.Now(),
			Reason:    reason,
			Details:   details,
		})
		close(w.failed)
	})
}

// Receive returns the incoming messages channel.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage {
	return w.messages
}

// IsConnected returns true if WhatsApp is connected.
func (w *WhatsApp) IsConnected() bool {
	return w.connected.Load()
}

// Health returns the WhatsApp channel health status.
func (w *WhatsApp) Health() channels.HealthStatus {
	h := channels.HealthStatus{
		Connected:  w.connected.Load(),
		ErrorCount: int(w.errorCount.Load()),
		Details:    make(map[string]any),
	}
	if t, ok := w.lastMsg.Load().(time.Time); ok {
		h.LastMessageAt = t
	}
	h.Details["state"] = string(w.getState())
	if jid := w.getClientJID(); jid != "" {
		h.Details["jid"] = jid
	}
	h.Details["reconnect_attempts"] = w.reconnectAttempts.Load()
	return h
}

// ---------- Internal ----------

// getDevice retrieves an existing device or creates a new one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR runs pairing rounds until the phone links the device. When a
// round's codes all expire a new round starts; after MaxQRRounds, or on a
// pairing error, the channel fails.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	for round := 1; ; round++ {
		err := w.pairRound(ctx, round)
		if err == nil || ctx.Err() != nil {
			return err
		}
		if !errors.Is(err, errQRTimeout) {
			w.fail("qr_login_error", map[string]any{"error": err.Error()})
			return err
		}
		w.client.Disconnect()
		if !w.qrExpired(round) {
			return err
		}
	}
}

// qrExpired reports whether another pairing round should start after the
// given round expired. Once MaxQRRounds is reached the channel fails.
func (w *WhatsApp) qrExpired(round int) bool {
	if w.ctx.Err() != nil {
		return false
	}
	if round < w.cfg.MaxQRRounds {
		w.logger.Warn("whatsapp: QR codes expired, issuing new ones",
			"round", round,
			"max_rounds", w.cfg.MaxQRRounds)
		return true
	}
	w.fail("qr_timeout", map[string]any{"rounds": round})
	return false
}

// pairRound connects and prints pairing codes until one is scanned or they
// all expire (errQRTimeout).
func (w *WhatsApp) pairRound(ctx context.Context, round int) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	w.setState(StateWaitingQR)
	codes := 0

	for {
		select {
		case <-ctx.Done():
			w.setState(StateDisconnected)
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}

			switch evt.Event {
			case whatsmeow.QRChannelEventCode:
				codes++
				w.setState(StateWaitingQR)
				w.logger.Info("whatsapp: QR code ready, scan it with WhatsApp > Linked devices",
					"round", round,
					"code", codes,
					"expires_in", evt.Timeout)
				w.printQR(evt.Code)
				w.notifyConnectionChange(ConnectionEvent{
					State:     StateWaitingQR,
					Timestamp: time.Now(),
					Reason:    "qr_code",
					Details:   map[string]any{"code": evt.Code, "round": round, "attempt": codes},
				})

			case "success":
				w.logger.Info("whatsapp: login successful!")
				w.StartHealthMonitor(w.ctx, w.cfg.HealthMonitor)
				return nil

			case "timeout":
				w.setState(StateDisconnected)
				return errQRTimeout

			default:
				if evt.Error != nil {
					w.setState(StateDisconnected)
					w.logger.Error("whatsapp: QR login error", "error", evt.Error)
					return fmt.Errorf("QR login error: %w", evt.Error)
				}
			}
		}
	}
}

// printQR renders a pairing code on the terminal.
func (w *WhatsApp) printQR(code string) {
	if !w.cfg.PrintQR || !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
}

// emitMessage sends a message to the incoming messages channel.
func (w *WhatsApp) emitMessage(msg *channels.IncomingMessage) {
	w.messagesMu.Lock()
	defer w.messagesMu.Unlock()
	if w.messagesClosed {
		return
	}

	select {
	case w.messages <- msg:
		w.lastMsg.Store(time.Now())
	case <-w.ctx.Done():
	default:
		w.logger.Warn("whatsapp: message channel full, dropping message",
			"chat", msg.ChatID, "id", msg.ID)
	}
}
