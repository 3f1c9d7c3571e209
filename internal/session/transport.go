package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jefrnc/das-bridge/internal/config"
	"github.com/jefrnc/das-bridge/internal/errors"
	"github.com/jefrnc/das-bridge/internal/protocol"
)

// Transport is one TCP (optionally TLS) connection to the terminal. Lines
// are ASCII, CRLF terminated. Reads and writes are independently safe for
// concurrent use.
type Transport struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// Dial opens a connection to the terminal described by cfg. The context
// bounds the dial only, not the life of the connection.
func Dial(ctx context.Context, cfg config.ConnectionConfig) (*Transport, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var conn net.Conn
	var err error
	if cfg.UseTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", cfg.Address())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Address())
	}
	if err != nil {
		return nil, errors.NewConnectionError("dial "+cfg.Address(), err)
	}

	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// WriteLine sends one command line, appending the protocol terminator.
func (t *Transport) WriteLine(line string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.conn.Write([]byte(line + protocol.LineTerminator))
	if err != nil {
		return errors.NewConnectionError("write", err)
	}
	return nil
}

// ReadLine blocks until a full line arrives and returns it with the
// terminator stripped. Empty keepalive lines are returned as-is; the caller
// decides whether to skip them.
func (t *Transport) ReadLine() (string, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", errors.NewConnectionError("read", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close shuts the connection down. Safe to call more than once; a blocked
// ReadLine returns with an error.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// RemoteAddr reports the peer address for logging.
func (t *Transport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
