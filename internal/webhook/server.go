// Package webhook implements the Webhook Manager: an embedded HTTP server
// that receives unsolicited third-party requests, verifies them, and
// dispatches matched events to registered handlers.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vitaliisemenov/apifabric/internal/eventqueue"
	"github.com/vitaliisemenov/apifabric/internal/middleware"
	"github.com/vitaliisemenov/apifabric/pkg/logger"
	"github.com/vitaliisemenov/apifabric/pkg/metrics"
)

// Config holds the Webhook Manager's configuration knobs.
type Config struct {
	Host    string
	Port    int
	BaseURL string
}

// DefaultConfig returns the enumerated defaults.
func DefaultConfig() Config {
	return Config{Host: "0.0.0.0", Port: 5000}
}

func (c Config) addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func (c Config) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// Manager is the Webhook Manager. It embeds Registry for the
// registration/handler/verification-token bookkeeping and adds the HTTP
// server and dispatch lifecycle around it.
type Manager struct {
	*Registry

	mu  sync.Mutex
	cfg Config
	log *slog.Logger
	m   *metrics.WebhookMetrics

	queue      eventqueue.Queue
	httpServer *http.Server
	listenAddr string
	started    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// ListenAddr returns the address the embedded server is actually bound to,
// which may differ from Config when Config.Port is 0.
func (mgr *Manager) ListenAddr() string {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.listenAddr
}

// NewManager constructs a Manager. queue may be nil, in which case an
// in-memory eventqueue.MemoryQueue is used.
func NewManager(cfg Config, log *slog.Logger, m *metrics.WebhookMetrics, queue eventqueue.Queue) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if queue == nil {
		queue = eventqueue.NewMemoryQueue(0)
	}
	return &Manager{
		Registry: NewRegistry(cfg.baseURL()),
		cfg:      cfg,
		log:      log,
		m:        m,
		queue:    queue,
	}
}

// StartServer is idempotent: it starts the embedded HTTP server and the
// background event-dispatch worker.
func (mgr *Manager) StartServer() error {
	mgr.mu.Lock()
	if mgr.started {
		mgr.mu.Unlock()
		return nil
	}
	mgr.started = true
	ctx, cancel := context.WithCancel(context.Background())
	mgr.cancel = cancel

	listener, err := net.Listen("tcp", mgr.cfg.addr())
	if err != nil {
		mgr.started = false
		mgr.cancel = nil
		mgr.mu.Unlock()
		return err
	}
	mgr.listenAddr = listener.Addr().String()
	if mgr.cfg.BaseURL == "" {
		mgr.Registry.setBaseURL(fmt.Sprintf("http://%s", mgr.listenAddr))
	}

	router := mux.NewRouter()
	router.PathPrefix("/webhooks/docs").Handler(httpSwagger.WrapHandler)
	router.PathPrefix("/").HandlerFunc(mgr.handleRequest)

	stack := middleware.BuildWebhookMiddlewareStack(&middleware.MiddlewareConfig{
		Logger:       mgr.log,
		Metrics:      mgr.m,
		Registration: "webhook",
	})

	mgr.httpServer = &http.Server{
		Addr:    mgr.cfg.addr(),
		Handler: stack(router),
	}
	mgr.mu.Unlock()

	mgr.wg.Add(1)
	go mgr.dispatchLoop(ctx)

	go func() {
		if err := mgr.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			mgr.log.Error("webhook: server exited", "error", err)
		}
	}()

	return nil
}

// StopServer is idempotent: it shuts the HTTP server down gracefully and
// stops the dispatch worker.
func (mgr *Manager) StopServer() error {
	mgr.mu.Lock()
	if !mgr.started {
		mgr.mu.Unlock()
		return nil
	}
	mgr.started = false
	srv := mgr.httpServer
	cancel := mgr.cancel
	mgr.mu.Unlock()

	var err error
	if srv != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		err = srv.Shutdown(ctx)
	}
	if cancel != nil {
		cancel()
	}
	mgr.wg.Wait()
	return err
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

// handleRequest builds an event record, detects verification handshakes,
// verifies signatures, resolves the matching registration and enqueues the
// event for dispatch.
func (mgr *Manager) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		mgr.log.Error("webhook: failed to read body", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error"})
		return
	}

	var rawBody json.RawMessage
	if len(bodyBytes) > 0 && json.Valid(bodyBytes) {
		rawBody = json.RawMessage(bodyBytes)
	}

	reg, matched := mgr.Registry.byRequestPath(r.URL.Path)

	if mgr.handleHandshake(w, r, reg, bodyBytes) {
		return
	}

	if r.Method == http.MethodPost && matched && reg.Signature != nil {
		received := r.Header.Get(reg.Signature.Header)
		if received == "" || !verifySignature(reg.Signature.Algorithm, reg.Signature.Secret, canonicalBody(bodyBytes), received) {
			if mgr.m != nil {
				mgr.m.SignatureFailures.WithLabelValues(reg.ID).Inc()
			}
			mgr.log.Warn("webhook: signature verification failed", "webhook_id", reg.ID, "remote_addr", r.RemoteAddr)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	if !matched {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
		return
	}

	ev := Event{
		ID:         logger.GenerateRequestID(),
		WebhookID:  reg.ID,
		Timestamp:  time.Now(),
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      queryOf(r),
		Headers:    headersOf(r.Header),
		RemoteAddr: r.RemoteAddr,
		Body:       rawBody,
	}
	mgr.enqueue(r.Context(), ev)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

// handleHandshake detects and serves one of the four verification
// handshakes. It returns true if the request was fully handled and must
// not be routed further.
func (mgr *Manager) handleHandshake(w http.ResponseWriter, r *http.Request, reg *Registration, body []byte) bool {
	if r.Header.Get("X-GitHub-Event") == "ping" {
		if mgr.m != nil {
			mgr.m.HandshakesServed.WithLabelValues(regID(reg), "github_ping").Inc()
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Webhook verification successful"})
		return true
	}

	q := r.URL.Query()
	if r.Method == http.MethodGet && q.Has("hub.mode") && q.Has("hub.verify_token") {
		mode := q.Get("hub.mode")
		token := q.Get("hub.verify_token")
		challenge := q.Get("hub.challenge")
		if mode == "subscribe" && reg != nil && mgr.tokenMatches(reg.APIName, token) {
			if mgr.m != nil {
				mgr.m.HandshakesServed.WithLabelValues(regID(reg), "hub_challenge").Inc()
			}
			writeText(w, http.StatusOK, challenge)
			return true
		}
	}

	// An empty body with a Stripe-Signature header is treated as a
	// verification ping; Stripe does not document a formal handshake.
	if r.Method == http.MethodPost && r.Header.Get("Stripe-Signature") != "" && len(body) == 0 {
		if mgr.m != nil {
			mgr.m.HandshakesServed.WithLabelValues(regID(reg), "stripe_ack").Inc()
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
		return true
	}

	if r.Method == http.MethodGet && q.Has("verify") {
		token := q.Get("verify")
		if reg != nil && mgr.tokenMatches(reg.APIName, token) {
			if mgr.m != nil {
				mgr.m.HandshakesServed.WithLabelValues(regID(reg), "verify_query").Inc()
			}
			writeText(w, http.StatusOK, "success")
			return true
		}
	}

	return false
}

func regID(reg *Registration) string {
	if reg == nil {
		return "unknown"
	}
	return reg.ID
}

func (mgr *Manager) tokenMatches(api, token string) bool {
	want, ok := mgr.Registry.verificationToken(api)
	return ok && want != "" && want == token
}

func (mgr *Manager) enqueue(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		mgr.log.Error("webhook: failed to marshal event", "webhook_id", ev.WebhookID, "error", err)
		return
	}
	qev := eventqueue.Event{
		ID:         ev.ID,
		Kind:       "webhook",
		Plugin:     ev.WebhookID,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	if err := mgr.queue.Push(ctx, qev); err != nil {
		mgr.log.Error("webhook: failed to enqueue event", "webhook_id", ev.WebhookID, "error", err)
	}
}

// dispatchLoop pops events and invokes each handler registered for the
// event's webhook id, isolating per-handler panics. There is no redelivery
// on handler failure.
func (mgr *Manager) dispatchLoop(ctx context.Context) {
	defer mgr.wg.Done()
	for {
		qev, err := mgr.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || err == eventqueue.ErrClosed {
				return
			}
			continue
		}
		var ev Event
		if err := json.Unmarshal(qev.Payload, &ev); err != nil {
			mgr.log.Error("webhook: failed to unmarshal event", "error", err)
			continue
		}
		mgr.dispatch(ev)
	}
}

func (mgr *Manager) dispatch(ev Event) {
	start := time.Now()
	handlers := mgr.Registry.handlersFor(ev.WebhookID)
	for _, h := range handlers {
		mgr.invokeHandler(h, ev)
	}
	if mgr.m != nil {
		mgr.m.DispatchDuration.WithLabelValues(ev.WebhookID).Observe(time.Since(start).Seconds())
	}
}

func (mgr *Manager) invokeHandler(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			mgr.log.Error("webhook: handler panicked", "webhook_id", ev.WebhookID, "panic", r)
			if mgr.m != nil {
				mgr.m.DispatchErrors.WithLabelValues(ev.WebhookID).Inc()
			}
		}
	}()
	h.OnWebhookEvent(ev)
}
