// Package httpapi exposes the chat service's HTTP surface: the WebSocket
// upgrade endpoint, the internal notify hook for the persistence layer, and
// the operational handlers.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boardmarket/chatservice/internal/chat"
	"boardmarket/chatservice/internal/config"
	"boardmarket/chatservice/internal/logging"
	"boardmarket/chatservice/internal/socket"
)

// readLimitSlack multiplies the configured frame cap to set the transport
// read limit. The router enforces the exact cap with an error reply; the
// transport limit only guards against grossly oversized payloads.
const readLimitSlack = 4

// Options configures the HandlerSet.
type Options struct {
	Logger        *logging.Logger
	Registry      *chat.Registry
	Config        *config.Config
	Authenticator Authenticator
	Gatherer      prometheus.Gatherer
	TimeSource    func() time.Time
}

// HandlerSet bundles the chat service handlers.
type HandlerSet struct {
	logger        *logging.Logger
	registry      *chat.Registry
	router        *chat.Router
	authenticator Authenticator
	notifyToken   string
	maxFrameBytes int64
	gatherer      prometheus.Gatherer
	upgrader      websocket.Upgrader
	startedAt     time.Time
	now           func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	authenticator := opts.Authenticator
	if authenticator == nil {
		authenticator = QueryAuthenticator{}
	}
	var notifyToken string
	maxFrameBytes := config.DefaultMaxFrameBytes
	var allowedOrigins []string
	if opts.Config != nil {
		notifyToken = strings.TrimSpace(opts.Config.NotifyToken)
		if opts.Config.MaxFrameBytes > 0 {
			maxFrameBytes = opts.Config.MaxFrameBytes
		}
		allowedOrigins = opts.Config.AllowedOrigins
	}
	return &HandlerSet{
		logger:        logger,
		registry:      opts.Registry,
		router:        chat.NewRouter(opts.Registry, opts.Config),
		authenticator: authenticator,
		notifyToken:   notifyToken,
		maxFrameBytes: maxFrameBytes,
		gatherer:      opts.Gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		startedAt: now(),
		now:       now,
	}
}

// Register attaches all handlers to the provided router.
func (h *HandlerSet) Register(r *mux.Router) {
	if r == nil {
		return
	}
	r.HandleFunc("/ws/chat/{thread_id}", h.ChatSocketHandler())
	r.HandleFunc("/internal/chat/{thread_id}/notify", h.NotifyHandler()).Methods(http.MethodPost)
	r.HandleFunc("/internal/chat/{thread_id}/users", h.ThreadUsersHandler()).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessHandler())
	r.HandleFunc("/readyz", h.ReadinessHandler())
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

// ChatSocketHandler upgrades the connection, attaches the endpoint, and runs
// the read loop until the peer goes away.
func (h *HandlerSet) ChatSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := strings.TrimSpace(mux.Vars(r)["thread_id"])
		if threadID == "" {
			http.Error(w, "missing thread identifier", http.StatusBadRequest)
			return
		}
		identity, err := h.authenticator.Authenticate(r)
		if err != nil {
			h.logger.Warn("chat handshake rejected",
				logging.String("thread_id", threadID),
				logging.Error(err),
			)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed",
				logging.String("thread_id", threadID),
				logging.Error(err),
			)
			return
		}
		conn := socket.New(ws, h.maxFrameBytes*readLimitSlack)
		endpoint, err := h.registry.Attach(threadID, identity.UserID, identity.Role, conn)
		if err != nil {
			h.logger.Error("chat attach failed",
				logging.String("thread_id", threadID),
				logging.String("user_id", identity.UserID),
				logging.Error(err),
			)
			_ = conn.Close()
			return
		}
		defer h.registry.DetachEndpoint(endpoint)
		h.router.Run(endpoint)
	}
}

// NotifyHandler fans out a frame that the persistence layer built after
// durably storing a message outside the socket path. The frame is forwarded
// untouched.
func (h *HandlerSet) NotifyHandler() http.HandlerFunc {
	type response struct {
		Status     string `json:"status"`
		Recipients int    `json:"recipients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := strings.TrimSpace(mux.Vars(r)["thread_id"])
		reqLogger := h.logger.With(
			logging.String("handler", "notify"),
			logging.String("thread_id", threadID),
		)
		if h.notifyToken == "" {
			reqLogger.Warn("notify denied: token auth disabled")
			http.Error(w, "notify authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorize(r) {
			reqLogger.Warn("notify denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxFrameBytes))
		if err != nil {
			http.Error(w, "frame too large", http.StatusRequestEntityTooLarge)
			return
		}
		if !json.Valid(body) {
			http.Error(w, "body must be a JSON frame", http.StatusBadRequest)
			return
		}
		recipients := len(h.registry.ThreadUsers(threadID))
		h.registry.NotifyNewMessage(threadID, body)
		reqLogger.Info("notify dispatched", logging.Int("recipients", recipients))
		writeJSON(w, http.StatusOK, response{Status: "ok", Recipients: recipients})
	}
}

// ThreadUsersHandler reports the users currently attached to a thread, for
// presence badges in the marketplace backend.
func (h *HandlerSet) ThreadUsersHandler() http.HandlerFunc {
	type response struct {
		ThreadID string   `json:"thread_id"`
		Users    []string `json:"users"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.notifyToken == "" || !h.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		threadID := strings.TrimSpace(mux.Vars(r)["thread_id"])
		users := h.registry.ThreadUsers(threadID)
		if users == nil {
			users = []string{}
		}
		writeJSON(w, http.StatusOK, response{ThreadID: threadID, Users: users})
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports service readiness with room and connection counts.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Rooms         int     `json:"rooms"`
		Connections   int     `json:"connections"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, connections := h.registry.Stats()
		writeJSON(w, http.StatusOK, response{
			Status:        "ok",
			UptimeSeconds: h.now().Sub(h.startedAt).Seconds(),
			Rooms:         rooms,
			Connections:   connections,
		})
	}
}

func (h *HandlerSet) authorize(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Notify-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.notifyToken)) == 1
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		for _, candidate := range allowed {
			if strings.EqualFold(candidate, origin) {
				return true
			}
		}
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
