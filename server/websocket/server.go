// Package websocket provides the WebSocket listener bridging binary frames
// to the broker's packet codec. Subprotocols mqtt and mqttv3.1 are accepted.
package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftmq/driftmq/broker"
)

// Config holds the WebSocket server configuration.
type Config struct {
	Address         string
	Path            string
	TLSCert         string
	TLSKey          string
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
}

// Server terminates WebSocket connections and feeds them to the broker as
// byte streams.
type Server struct {
	config   Config
	handler  *broker.Broker
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New creates a WebSocket server for the broker.
func New(cfg Config, h *broker.Broker) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/mqtt"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return &Server{
		config:  cfg,
		handler: h,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{"mqtt", "mqttv3.1"},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Listen starts the server and blocks until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.serveWS)

	s.httpSrv = &http.Server{
		Addr:    s.config.Address,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCert != "" {
			s.config.Logger.Info("WSS server started", slog.String("address", s.config.Address))
			err = s.httpSrv.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			s.config.Logger.Info("WS server started", slog.String("address", s.config.Address))
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.config.Logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	s.config.Logger.Debug("websocket connection established",
		slog.String("remote", ws.RemoteAddr().String()),
		slog.String("subprotocol", ws.Subprotocol()))

	conn := newWSConn(ws)
	s.handler.HandleConnection(s.handler.NewConn(conn))
	conn.Close()
}

// wsConn adapts a websocket connection to net.Conn. MQTT over WebSocket
// carries packets in binary messages; frame boundaries need not align with
// packet boundaries, so reads buffer the current message.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			messageType, reader, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			c.reader = reader
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error                { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr         { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr        { return c.ws.RemoteAddr() }
func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}
func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
