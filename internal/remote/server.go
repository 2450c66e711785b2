// Package remote exposes the analysis loop over a websocket: clients send
// override commands and receive every cycle report.
package remote

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/thyrook/boardsight/internal/decision"
)

// Message types.
const (
	TypeCommand = "command"
	TypeAck     = "ack"
	TypeError   = "error"
	TypeReport  = "report"
)

// Message is the single JSON envelope used in both directions.
type Message struct {
	Type    string           `json:"type"`
	Command string           `json:"command,omitempty"`
	Error   string           `json:"error,omitempty"`
	Report  *decision.Report `json:"report,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan decision.Report
}

// Server is an http.Handler upgrading every request to a websocket.
type Server struct {
	commands     chan<- decision.Command
	history      *decision.History
	logger       *zap.Logger
	writeTimeout time.Duration
	// replay is how many past reports a new client receives.
	replay int

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewServer creates a server that forwards parsed commands to commands.
// history may be nil.
func NewServer(commands chan<- decision.Command, history *decision.History, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		commands:     commands,
		history:      history,
		logger:       logger,
		writeTimeout: 5 * time.Second,
		replay:       1,
		clients:      make(map[*client]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("Websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{conn: conn, send: make(chan decision.Report, 8)}

	s.mu.RLock()
	history := s.history
	s.mu.RUnlock()
	if history != nil {
		for _, rep := range history.Recent(s.replay) {
			if err := s.write(ctx, conn, Message{Type: TypeReport, Report: &rep}); err != nil {
				return
			}
		}
	}

	s.add(c)
	defer s.remove(c)
	s.logger.Info("Remote client connected", zap.String("addr", r.RemoteAddr))

	go s.writeLoop(ctx, c)

	err = s.readLoop(ctx, c)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("Remote client read failed", zap.Error(err))
		}
	}
	s.logger.Info("Remote client disconnected", zap.String("addr", r.RemoteAddr))
}

func (s *Server) readLoop(ctx context.Context, c *client) error {
	for {
		var msg Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			return err
		}
		if msg.Type != TypeCommand {
			s.reply(ctx, c, Message{Type: TypeError, Error: "unsupported message type " + msg.Type})
			continue
		}

		cmd, err := decision.ParseCommand(msg.Command)
		if err != nil {
			s.reply(ctx, c, Message{Type: TypeError, Command: msg.Command, Error: err.Error()})
			continue
		}

		select {
		case s.commands <- cmd:
			s.reply(ctx, c, Message{Type: TypeAck, Command: msg.Command})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case rep := <-c.send:
			if err := s.write(ctx, c.conn, Message{Type: TypeReport, Report: &rep}); err != nil {
				s.logger.Debug("Report write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) reply(ctx context.Context, c *client, msg Message) {
	if err := s.write(ctx, c.conn, msg); err != nil {
		s.logger.Debug("Reply write failed", zap.Error(err))
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}

// Publish queues rep for every connected client. Slow clients miss
// reports rather than stall the loop.
func (s *Server) Publish(rep decision.Report) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- rep:
		default:
			s.logger.Debug("Dropping report for slow client", zap.String("cycle", rep.Cycle))
		}
	}
}

// SetHistory sets the reports replayed to newly connected clients.
func (s *Server) SetHistory(h *decision.History) {
	s.mu.Lock()
	s.history = h
	s.mu.Unlock()
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) add(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// ListenAndServe serves the websocket at /ws until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
