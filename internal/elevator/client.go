package elevator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"browser-efficiency/internal/protocol"
)

var ErrUnexpectedReply = errors.New("unexpected reply from elevator")

// Client is the driver side of the trace control connection. Every command
// blocks until the elevator acknowledges it.
type Client struct {
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the elevator at addr. timeout bounds the wait for each
// acknowledgement; zero waits indefinitely.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elevator at %s: %w", addr, err)
	}
	return &Client{
		timeout: timeout,
		conn:    conn,
		reader:  bufio.NewReader(conn),
	}, nil
}

// Send writes cmd and waits for its ACK.
func (c *Client) Send(ctx context.Context, cmd protocol.Command) error {
	return c.sendLine(ctx, cmd.Name(), protocol.Encode(cmd))
}

func (c *Client) sendLine(ctx context.Context, name, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn := c.conn
	if conn == nil {
		return fmt.Errorf("failed to send %s: %w", name, net.ErrClosed)
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := protocol.WriteLine(conn, line); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to send %s: %w", name, err)
	}

	reply, err := protocol.ReadTokens(c.reader)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to read acknowledgement for %s: %w", name, err)
	}
	if len(reply) != 1 || reply[0] != protocol.Ack {
		return fmt.Errorf("%w for %s: %s", ErrUnexpectedReply, name, strings.Join(reply, " "))
	}
	return nil
}

func (c *Client) StartPass(ctx context.Context, folder string) error {
	return c.Send(ctx, protocol.StartPass{Folder: folder})
}

func (c *Client) StartBrowser(ctx context.Context, cmd protocol.StartBrowser) error {
	return c.Send(ctx, cmd)
}

func (c *Client) EndBrowser(ctx context.Context, browser string) error {
	return c.Send(ctx, protocol.EndBrowser{Browser: browser})
}

func (c *Client) EndPass(ctx context.Context) error {
	return c.Send(ctx, protocol.EndPass{})
}

func (c *Client) CancelPass(ctx context.Context) error {
	return c.Send(ctx, protocol.CancelPass{})
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
