// Package dnstest runs DNS handlers on a local UDP server for tests.
package dnstest

import (
	"testing"
	"time"

	"github.com/miekg/dns"
)

// Serve starts a UDP server on a random local port with the handler and
// returns its address. The server is shut down with t.Cleanup.
func Serve(t *testing.T, handler dns.Handler) string {
	t.Helper()

	s, err := startServer(handler)
	if err != nil {
		t.Fatal(err)
		return ""
	}

	t.Cleanup(func() {
		s.Shutdown()
	})

	return s.PacketConn.LocalAddr().String()
}

// Exchange sends a query to a server started with Serve.
func Exchange(t *testing.T, addr string, m *dns.Msg) *dns.Msg {
	t.Helper()

	c := &dns.Client{Net: "udp", Timeout: 3 * time.Second}
	r, _, err := c.Exchange(m, addr)
	if err != nil {
		t.Fatal(err)
		return nil
	}

	return r
}

func startServer(handler dns.Handler) (*dns.Server, error) {
	ready := make(chan error, 1)
	server := &dns.Server{
		Addr:              "127.0.0.1:0",
		Net:               "udp",
		Handler:           handler,
		NotifyStartedFunc: func() { ready <- nil },
	}
	go func() { ready <- server.ListenAndServe() }()
	return server, <-ready
}
