package net

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const shutdownPollInterval = 100 * time.Millisecond

// ShutdownListener counts the open connections accepted by the wrapped
// listener, so that a graceful shutdown can wait for the clients that
// are still being redirected.
type ShutdownListener struct {
	net.Listener
	open atomic.Int64
}

type trackedConn struct {
	net.Conn
	closeOnce sync.Once
	release   func()
}

// NewShutdownListener wraps l.
func NewShutdownListener(l net.Listener) *ShutdownListener {
	return &ShutdownListener{Listener: l}
}

func (l *ShutdownListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	l.open.Add(1)
	return &trackedConn{Conn: c, release: func() { l.open.Add(-1) }}, nil
}

// Open returns the number of connections not closed yet.
func (l *ShutdownListener) Open() int64 {
	return l.open.Load()
}

// Shutdown blocks until all accepted connections are closed, or ctx is
// done.
func (l *ShutdownListener) Shutdown(ctx context.Context) error {
	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	for {
		n := l.Open()
		if n == 0 {
			return nil
		}

		log.Debugf("Waiting for %d open connections", n)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(c.release)
	return err
}
