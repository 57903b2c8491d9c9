package elevator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"browser-efficiency/internal/protocol"
)

var (
	ErrNotListening = errors.New("server is not listening")
	ErrNotConnected = errors.New("no client connected")
)

// Server accepts one driver connection at a time and exchanges
// newline-framed commands with it.
type Server struct {
	addr string

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	reader   *bufio.Reader
}

func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Connect blocks until a client connects or ctx is done.
func (s *Server) Connect(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return ErrNotListening
	}

	if d, ok := listener.(deadliner); ok {
		stop := context.AfterFunc(ctx, func() { _ = d.SetDeadline(time.Now()) })
		defer func() {
			stop()
			_ = d.SetDeadline(time.Time{})
		}()
	}

	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to accept client: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.mu.Unlock()
	return nil
}

// RemoteAddr of the connected client, or empty when none is connected.
func (s *Server) RemoteAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// GetCommand blocks until the client sends a non-blank line and returns its tokens.
// It returns io.EOF once the client has closed the connection.
func (s *Server) GetCommand(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	conn, reader := s.conn, s.reader
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	tokens, err := protocol.ReadTokens(reader)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return tokens, err
}

// AcknowledgeCommand tells the client the last command has been processed.
func (s *Server) AcknowledgeCommand() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := protocol.WriteLine(conn, protocol.Ack); err != nil {
		return fmt.Errorf("failed to acknowledge command: %w", err)
	}
	return nil
}

// Disconnect closes the current client connection, if any.
func (s *Server) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.reader = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Shutdown disconnects the client and stops listening. It is safe to call more than once.
func (s *Server) Shutdown() error {
	disconnectErr := s.Disconnect()

	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			return err
		}
	}
	return disconnectErr
}
