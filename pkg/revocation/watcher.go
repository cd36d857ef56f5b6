package revocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/agentid-dev/agentid-go/pkg/cache"
)

// State is the watcher's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Watcher defaults.
const (
	DefaultPollInterval          = 30 * time.Second
	DefaultDialTimeout           = 10 * time.Second
	DefaultMaxReconnectAttempts  = 5
	DefaultInitialReconnectDelay = time.Second
	DefaultBackoffMultiplier     = 2.0
	DefaultMaxReconnectDelay     = 5 * time.Minute
)

// Poller fetches revocation events for the polling fallback. Implemented by
// credential.Client.
type Poller interface {
	RevocationsSince(ctx context.Context, since time.Time, credentialIDs []string) ([]Event, error)
}

// message is the revocation stream wire format, both directions.
type message struct {
	Type         string `json:"type"`
	Data         *Event `json:"data,omitempty"`
	Error        string `json:"error,omitempty"`
	CredentialID string `json:"credential_id,omitempty"`
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// StreamURL is the revocation stream endpoint (ws:// or wss://).
	// Derive it from an API client via Client.StreamURL.
	StreamURL string

	// Poller serves the polling fallback. Required.
	Poller Poller

	// Set is the revoked-credential set. Defaults to a fresh MemorySet.
	Set Set

	// Cache is the credential cache whose entries are evicted on
	// revocation. Defaults to the process-wide cache.
	Cache cache.Store

	// CredentialIDs restricts the subscription to specific credentials.
	// Empty means all credentials visible to the API key.
	CredentialIDs []string

	// PollInterval is the polling fallback cadence.
	PollInterval time.Duration

	// DialTimeout bounds the stream connection attempt.
	DialTimeout time.Duration

	// DisableReconnect turns off automatic reconnection; an unexpected
	// close then falls back to polling immediately.
	DisableReconnect bool

	// MaxReconnectAttempts bounds reconnection before the watcher gives up
	// on the stream and falls back to polling.
	MaxReconnectAttempts int

	// InitialReconnectDelay seeds the exponential backoff.
	InitialReconnectDelay time.Duration

	// BackoffMultiplier grows the delay after each failed attempt.
	BackoffMultiplier float64

	// MaxReconnectDelay caps the backoff delay.
	MaxReconnectDelay time.Duration

	// OnRevocation is invoked once per newly observed revocation.
	// Panics and misbehavior inside the callback are swallowed.
	OnRevocation func(Event)

	// OnStateChange is invoked on actual transitions into and out of the
	// connected state, at most once per edge.
	OnStateChange func(connected bool)

	// OnError receives asynchronous failures. Public methods never return
	// errors.
	OnError func(error)

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Watcher maintains a live set of revoked credential IDs over the revocation
// stream, falling back to interval polling when the stream is unavailable.
type Watcher struct {
	streamURL     string
	poller        Poller
	set           Set
	store         cache.Store
	pollInterval  time.Duration
	dialTimeout   time.Duration
	reconnect     bool
	maxAttempts   int
	onRevocation  func(Event)
	onStateChange func(connected bool)
	onError       func(error)
	logger        *zap.Logger

	mu             sync.Mutex
	state          State
	active         bool
	conn           *websocket.Conn
	connCancel     context.CancelFunc
	pollCancel     context.CancelFunc
	reconnectTimer *time.Timer
	attempts       int
	backoff        *backoff.ExponentialBackOff
	credentialIDs  []string
	lastChecked    time.Time
	wasConnected   bool
	pendingEdges   []bool
	notifying      bool
}

// NewWatcher creates a watcher. Call Connect to start it.
func NewWatcher(cfg WatcherConfig) *Watcher {
	w := &Watcher{
		streamURL:     cfg.StreamURL,
		poller:        cfg.Poller,
		set:           cfg.Set,
		store:         cfg.Cache,
		pollInterval:  cfg.PollInterval,
		dialTimeout:   cfg.DialTimeout,
		reconnect:     !cfg.DisableReconnect,
		maxAttempts:   cfg.MaxReconnectAttempts,
		onRevocation:  cfg.OnRevocation,
		onStateChange: cfg.OnStateChange,
		onError:       cfg.OnError,
		logger:        cfg.Logger,
		state:         StateDisconnected,
		credentialIDs: append([]string(nil), cfg.CredentialIDs...),
		lastChecked:   time.Now(),
	}
	if w.set == nil {
		w.set = NewMemorySet()
	}
	if w.store == nil {
		w.store = cache.Default()
	}
	if w.pollInterval == 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.dialTimeout == 0 {
		w.dialTimeout = DefaultDialTimeout
	}
	if w.maxAttempts == 0 {
		w.maxAttempts = DefaultMaxReconnectAttempts
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialReconnectDelay
	if b.InitialInterval == 0 {
		b.InitialInterval = DefaultInitialReconnectDelay
	}
	b.Multiplier = cfg.BackoffMultiplier
	if b.Multiplier == 0 {
		b.Multiplier = DefaultBackoffMultiplier
	}
	b.MaxInterval = cfg.MaxReconnectDelay
	if b.MaxInterval == 0 {
		b.MaxInterval = DefaultMaxReconnectDelay
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	w.backoff = b

	return w
}

// State returns the current connection state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// IsRevoked checks the revoked set.
func (w *Watcher) IsRevoked(credentialID string) bool {
	return w.set.IsRevoked(credentialID)
}

// Set returns the underlying revoked set.
func (w *Watcher) Set() Set {
	return w.set
}

// Connect starts the watcher: the stream is attempted first, with polling as
// the fallback. Failures surface through the error callback, never as a
// return value.
func (w *Watcher) Connect() {
	w.mu.Lock()
	if w.active {
		w.mu.Unlock()
		return
	}
	w.active = true
	w.setStateLocked(StateConnecting)
	w.mu.Unlock()

	go w.dial()
}

// Subscribe adds a credential ID to the watch list and, when the stream is
// up, sends a subscribe message.
func (w *Watcher) Subscribe(credentialID string) {
	w.mu.Lock()
	for _, id := range w.credentialIDs {
		if id == credentialID {
			w.mu.Unlock()
			return
		}
	}
	w.credentialIDs = append(w.credentialIDs, credentialID)
	conn := w.conn
	w.mu.Unlock()

	if conn != nil {
		w.send(conn, message{Type: "subscribe", CredentialID: credentialID})
	}
}

// Unsubscribe removes a credential ID from the watch list.
func (w *Watcher) Unsubscribe(credentialID string) {
	w.mu.Lock()
	for i, id := range w.credentialIDs {
		if id == credentialID {
			w.credentialIDs = append(w.credentialIDs[:i], w.credentialIDs[i+1:]...)
			break
		}
	}
	conn := w.conn
	w.mu.Unlock()

	if conn != nil {
		w.send(conn, message{Type: "unsubscribe", CredentialID: credentialID})
	}
}

// Disconnect tears down the stream, polling and any pending reconnect, and
// resets the backoff state.
func (w *Watcher) Disconnect() {
	w.mu.Lock()
	w.active = false
	if w.reconnectTimer != nil {
		w.reconnectTimer.Stop()
		w.reconnectTimer = nil
	}
	if w.pollCancel != nil {
		w.pollCancel()
		w.pollCancel = nil
	}
	if w.connCancel != nil {
		w.connCancel()
		w.connCancel = nil
	}
	conn := w.conn
	w.conn = nil
	w.attempts = 0
	w.backoff.Reset()
	w.setStateLocked(StateDisconnected)
	w.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "disconnect")
	}
}

// dial attempts the stream connection. On failure it either schedules a
// reconnect or falls back to polling.
func (w *Watcher) dial() {
	dialCtx, cancel := context.WithTimeout(context.Background(), w.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, w.streamURL, nil)
	cancel()

	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		if err == nil {
			_ = conn.Close(websocket.StatusNormalClosure, "disconnected during dial")
		}
		return
	}

	if err != nil {
		w.mu.Unlock()
		w.reportError(fmt.Errorf("revocation stream dial failed: %w", err))
		w.handleStreamDown()
		return
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	w.conn = conn
	w.connCancel = readCancel
	w.attempts = 0
	w.backoff.Reset()
	w.setStateLocked(StateConnected)
	w.mu.Unlock()

	w.logger.Debug("revocation stream connected", zap.String("url", w.streamURL))
	go w.readLoop(readCtx, conn)
}

// readLoop processes inbound stream messages until the connection drops.
func (w *Watcher) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			w.onConnClosed(conn, err)
			return
		}

		switch msg.Type {
		case "revocation":
			if msg.Data != nil {
				w.Process(*msg.Data)
			}
		case "ping":
			w.send(conn, message{Type: "pong"})
		case "error":
			w.reportError(fmt.Errorf("revocation stream error: %s", msg.Error))
		case "subscribed", "unsubscribed":
			// Acknowledgements carry no state.
		default:
			w.logger.Debug("ignoring unknown stream message", zap.String("type", msg.Type))
		}
	}
}

// onConnClosed reacts to a dropped connection: reconnect with backoff while
// attempts remain, otherwise fall back to polling.
func (w *Watcher) onConnClosed(conn *websocket.Conn, cause error) {
	w.mu.Lock()
	if !w.active || w.conn != conn {
		// Deliberate teardown or an already-superseded connection.
		w.mu.Unlock()
		return
	}
	w.conn = nil
	w.connCancel = nil
	w.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "closed")
	w.reportError(fmt.Errorf("revocation stream closed: %w", cause))
	w.handleStreamDown()
}

// handleStreamDown schedules a reconnect attempt or starts polling.
func (w *Watcher) handleStreamDown() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}

	if w.reconnect && w.attempts < w.maxAttempts {
		w.attempts++
		delay := w.backoff.NextBackOff()
		w.setStateLocked(StateReconnecting)
		w.reconnectTimer = time.AfterFunc(delay, func() {
			w.mu.Lock()
			if !w.active {
				w.mu.Unlock()
				return
			}
			w.reconnectTimer = nil
			w.setStateLocked(StateConnecting)
			w.mu.Unlock()
			w.dial()
		})
		attempt := w.attempts
		w.mu.Unlock()
		w.logger.Debug("scheduling stream reconnect",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		return
	}
	w.mu.Unlock()

	w.startPolling()
}

// startPolling issues an immediate check and then polls on the configured
// interval.
func (w *Watcher) startPolling() {
	w.mu.Lock()
	if !w.active || w.pollCancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.pollCancel = cancel
	w.setStateLocked(StateDisconnected)
	w.mu.Unlock()

	w.logger.Debug("revocation watcher falling back to polling",
		zap.Duration("interval", w.pollInterval))

	go func() {
		w.poll(ctx)

		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.poll(ctx)
			}
		}
	}()
}

// poll queries the revocations-since endpoint and processes each event.
func (w *Watcher) poll(ctx context.Context) {
	if w.poller == nil {
		return
	}

	w.mu.Lock()
	since := w.lastChecked
	ids := append([]string(nil), w.credentialIDs...)
	w.mu.Unlock()

	events, err := w.poller.RevocationsSince(ctx, since, ids)
	if err != nil {
		if ctx.Err() == nil {
			w.reportError(fmt.Errorf("revocation poll failed: %w", err))
		}
		return
	}

	w.mu.Lock()
	w.lastChecked = time.Now()
	active := w.active
	w.mu.Unlock()
	if !active {
		return
	}

	for _, ev := range events {
		w.Process(ev)
	}
}

// Process records one revocation event: the ID joins the revoked set, its
// cache entries are evicted, and the revocation callback fires once per
// newly observed ID. Processing the same event twice is a no-op beyond the
// first.
func (w *Watcher) Process(ev Event) {
	already := w.set.IsRevoked(ev.CredentialID)

	if err := w.set.Add(ev); err != nil {
		w.reportError(fmt.Errorf("failed to record revocation: %w", err))
	}

	for _, key := range evictionKeys(ev.CredentialID) {
		w.store.Delete(key)
	}

	if already || w.onRevocation == nil {
		return
	}

	func() {
		defer func() {
			// Callback misbehavior must not destabilize the watcher.
			_ = recover()
		}()
		w.onRevocation(ev)
	}()

	w.logger.Info("credential revoked",
		zap.String("credential_id", ev.CredentialID),
		zap.String("reason", ev.Reason))
}

// evictionKeys lists the cache namespaces invalidated by a revocation.
func evictionKeys(credentialID string) []string {
	return []string{
		"verify:" + credentialID,
		"cred:" + credentialID,
		"credential:" + credentialID,
	}
}

// setStateLocked updates the state and queues the state-change callback only
// on edges into or out of connected. Callers hold w.mu.
func (w *Watcher) setStateLocked(s State) {
	w.state = s
	connected := s == StateConnected
	if connected == w.wasConnected {
		return
	}
	w.wasConnected = connected

	if w.onStateChange == nil {
		return
	}

	// Edges are queued and drained by a single goroutine so callbacks see
	// them in the order they occurred.
	w.pendingEdges = append(w.pendingEdges, connected)
	if w.notifying {
		return
	}
	w.notifying = true
	go w.notifyStateChanges()
}

// notifyStateChanges delivers queued connection edges one at a time.
func (w *Watcher) notifyStateChanges() {
	for {
		w.mu.Lock()
		if len(w.pendingEdges) == 0 {
			w.notifying = false
			w.mu.Unlock()
			return
		}
		connected := w.pendingEdges[0]
		w.pendingEdges = w.pendingEdges[1:]
		w.mu.Unlock()

		func() {
			defer func() { _ = recover() }()
			w.onStateChange(connected)
		}()
	}
}

// send writes one outbound message, reporting failures asynchronously.
func (w *Watcher) send(conn *websocket.Conn, msg message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		w.reportError(fmt.Errorf("revocation stream write failed: %w", err))
	}
}

func (w *Watcher) reportError(err error) {
	w.logger.Warn("revocation watcher error", zap.Error(err))
	if w.onError == nil {
		return
	}
	func() {
		defer func() { _ = recover() }()
		w.onError(err)
	}()
}
