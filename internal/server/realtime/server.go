package realtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/server/auth"
	"github.com/dmitrijs2005/entrysync/internal/server/events"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// ReadTimeout must exceed the client ping interval.
	ReadTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      75 * time.Second,
	}
}

type Server struct {
	address   string
	hub       *Hub
	bus       events.Bus
	jwtSecret []byte
	settings  Settings
	upgrader  websocket.Upgrader
	logger    logging.Logger
}

func NewServer(address string, bus events.Bus, secretKey string, l logging.Logger) *Server {
	s := &Server{
		address:   address,
		bus:       bus,
		jwtSecret: []byte(secretKey),
		settings:  DefaultSettings(),
		logger:    l.With("module", "realtime_server"),
	}
	s.hub = NewHub(l)
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: s.settings.HandshakeTimeout,
		// native clients carry no Origin; tokens authenticate the socket
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the HTTP routes of the realtime endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ws", s.handleSocket)
	return r
}

// Run serves HTTP on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	unsubscribe := s.bus.Subscribe(s.hub.Deliver)
	defer unsubscribe()

	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// hijacked sockets outlive Shutdown; they watch the base context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping realtime server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting realtime server", "address", s.address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func tokenFrom(r *http.Request) string {
	if t := r.Header.Get(common.AccessTokenHeaderName); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, err := auth.ParseToken(tokenFrom(r), s.jwtSecret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		s.logger.Debug(ctx, "upgrade failed", "error", err)
		return
	}

	c, err := s.handshake(ws, claims.UserID)
	if err != nil {
		s.logger.Debug(ctx, "handshake failed", "user", claims.UserID, "error", err)
		_ = ws.Close()
		return
	}

	s.hub.add(c)
	s.logger.Info(ctx, "socket connected", "user", c.userID, "device", c.deviceID)
	defer func() {
		s.hub.remove(c)
		s.logger.Info(ctx, "socket closed", "user", c.userID, "device", c.deviceID)
	}()

	s.serve(ctx, ws, c)
}

// handshake waits for the device to introduce itself and confirms it.
func (s *Server) handshake(ws *websocket.Conn, userID string) (*conn, error) {
	_ = ws.SetReadDeadline(time.Now().Add(s.settings.HandshakeTimeout))
	var msg syncproto.Message
	if err := ws.ReadJSON(&msg); err != nil {
		return nil, err
	}
	if msg.Type != syncproto.TypeHandshake {
		return nil, errors.New("expected handshake, got " + msg.Type)
	}
	var hello syncproto.Handshake
	if err := msg.Decode(&hello); err != nil {
		return nil, err
	}

	ready, err := syncproto.NewMessage(syncproto.TypeReady, syncproto.Ready{DeviceID: hello.DeviceID, UserID: userID})
	if err != nil {
		return nil, err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	if err := ws.WriteJSON(ready); err != nil {
		return nil, err
	}
	return &conn{userID: userID, deviceID: hello.DeviceID, send: make(chan syncproto.Message, sendBuffer)}, nil
}

// serve pumps queued events to the socket and keeps it alive with pings.
// It returns when the peer goes away or ctx is done.
func (s *Server) serve(ctx context.Context, ws *websocket.Conn, c *conn) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = ws.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		ws.SetPingHandler(func(data string) error {
			_ = ws.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
			return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.settings.WriteTimeout))
		})
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		})
		for {
			// clients send nothing after the handshake; reading drives
			// control frames and notices the close
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		}
	}()

	ticker := time.NewTicker(s.settings.PingInterval)
	defer ticker.Stop()
	defer ws.Close()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(s.settings.WriteTimeout))
			return
		case <-done:
			return
		case msg := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
			if err := ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.settings.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
