package line

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/blockfs/internal/logger"
	"github.com/marmos91/blockfs/internal/protocol"
	"github.com/marmos91/blockfs/internal/ratelimiter"
)

// replyLineTooLong is sent before closing a connection whose request line
// exceeds MaxLineBytes.
const replyLineTooLong = "ERROR: line too long"

// replyRateLimited is sent for a command rejected by the connection's limiter.
const replyRateLimited = "ERROR: rate limit exceeded"

// LineConnection is one client session.
type LineConnection struct {
	server  *LineAdapter
	conn    net.Conn
	id      string
	reader  *bufio.Reader
	limiter *ratelimiter.RateLimiter
}

// NewLineConnection wraps an accepted connection in a session.
func NewLineConnection(server *LineAdapter, conn net.Conn) *LineConnection {
	c := &LineConnection{
		server: server,
		conn:   conn,
		id:     uuid.NewString(),
		reader: bufio.NewReaderSize(conn, server.config.MaxLineBytes),
	}

	if server.config.RateLimit.Enabled {
		c.limiter = ratelimiter.New(server.config.RateLimit.RequestsPerSecond, server.config.RateLimit.Burst)
	}

	return c
}

// ID returns the session identifier used in logs.
func (c *LineConnection) ID() string {
	return c.id
}

// Serve runs the session until the client quits or disconnects, a timeout
// fires, or the server shuts down. It implements panic recovery so that a
// single misbehaving session cannot crash the server.
//
// The connection is closed when Serve returns. A command that has started
// always runs to completion and gets its reply, even during shutdown.
func (c *LineConnection) Serve(ctx context.Context) {
	clientAddr := c.conn.RemoteAddr().String()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in line session %s from %s: %v", c.id, clientAddr, r)
		}
		_ = c.conn.Close()
	}()

	logger.Debug("Line session %s started for %s", c.id, clientAddr)

	for {
		line, err := c.readLine(ctx)
		if err != nil {
			c.logReadError(ctx, clientAddr, err)
			if errors.Is(err, bufio.ErrBufferFull) {
				_ = c.writeReply(replyLineTooLong)
			}
			return
		}

		quit, err := c.handleLine(ctx, line)
		if err != nil {
			logger.Debug("Line session %s: error writing reply to %s: %v", c.id, clientAddr, err)
			return
		}
		if quit {
			logger.Debug("Line session %s: client %s quit", c.id, clientAddr)
			return
		}
	}
}

// readLine waits up to Timeouts.Idle for a request to start, then up to
// Timeouts.Read for the rest of the line. A final line without a newline is
// returned with a nil error; io.EOF is only returned when no bytes remain.
func (c *LineConnection) readLine(ctx context.Context) (string, error) {
	if err := c.conn.SetReadDeadline(deadline(c.server.config.Timeouts.Idle)); err != nil {
		return "", err
	}

	// Shutdown interrupts reads by moving the deadline; checking after
	// setting ours means that interrupt cannot be overwritten.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := c.reader.Peek(1); err != nil {
		return "", err
	}

	if err := c.conn.SetReadDeadline(deadline(c.server.config.Timeouts.Read)); err != nil {
		return "", err
	}

	raw, err := c.reader.ReadSlice('\n')
	switch {
	case err == nil:
		return string(raw), nil
	case errors.Is(err, io.EOF) && len(raw) > 0:
		return string(raw), nil
	default:
		return "", err
	}
}

func (c *LineConnection) logReadError(ctx context.Context, clientAddr string, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Line session %s: connection from %s closed by client", c.id, clientAddr)
	case ctx.Err() != nil:
		logger.Debug("Line session %s: connection from %s closed due to server shutdown", c.id, clientAddr)
	case errors.Is(err, bufio.ErrBufferFull):
		logger.Warn("Line session %s: request line from %s exceeds %d bytes",
			c.id, clientAddr, c.server.config.MaxLineBytes)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Line session %s: connection from %s timed out: %v", c.id, clientAddr, err)
	default:
		logger.Debug("Line session %s: error reading from %s: %v", c.id, clientAddr, err)
	}
}

// handleLine parses and executes one request line and sends the reply.
// Blank lines get no reply.
//
// Returns:
//   - quit: true when the client asked to end the session
//   - error: only for failures writing the reply
func (c *LineConnection) handleLine(ctx context.Context, line string) (bool, error) {
	cmd, err := protocol.Parse(line)
	if errors.Is(err, protocol.ErrEmptyLine) {
		return false, nil
	}

	if err == nil && cmd.Verb.IsQuit() {
		return true, c.writeReply(protocol.ReplyDisconnecting)
	}

	if c.limiter != nil && !c.limiter.Allow() {
		c.server.metrics.RecordRateLimited()
		logger.Debug("Line session %s: command rate limited (tokens: %.2f)", c.id, c.limiter.Tokens())
		return false, c.writeReply(replyRateLimited)
	}

	if err != nil {
		c.server.metrics.RecordCommand("INVALID", 0, errorCodeInvalidCommand)
		return false, c.writeReply(protocol.Error(err))
	}

	// In-flight commands finish even when shutdown cancels ctx
	reply := c.execute(context.WithoutCancel(ctx), cmd)
	return false, c.writeReply(reply)
}

// writeReply sends one reply line within Timeouts.Write.
func (c *LineConnection) writeReply(reply string) error {
	if err := c.conn.SetWriteDeadline(deadline(c.server.config.Timeouts.Write)); err != nil {
		return err
	}
	_, err := io.WriteString(c.conn, reply+"\n")
	return err
}

// deadline converts a timeout into a connection deadline; 0 means none.
func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
