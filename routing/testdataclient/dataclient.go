/*
Package testdataclient provides an in-memory data client for testing
the routing.
*/
package testdataclient

import (
	"errors"
	"sync"

	"github.com/zalando/trafficrouter/snapshot"
)

// ErrFailing is returned by the loads after FailNext.
var ErrFailing = errors.New("failing")

// Client serves a configuration from memory. Update replaces it, and
// the next LoadUpdate reports the change.
type Client struct {
	mu        sync.Mutex
	config    *snapshot.Config
	changed   bool
	failures  int
	loads     int
	updateReq chan struct{}
}

// New creates a client serving c.
func New(c *snapshot.Config) *Client {
	return &Client{config: c, updateReq: make(chan struct{}, 1)}
}

func (dc *Client) fail() bool {
	if dc.failures > 0 {
		dc.failures--
		return true
	}

	return false
}

// LoadAll returns the current configuration.
func (dc *Client) LoadAll() (*snapshot.Config, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.loads++
	if dc.fail() {
		return nil, ErrFailing
	}

	dc.changed = false
	return dc.config, nil
}

// LoadUpdate returns the configuration when Update was called since the
// last load.
func (dc *Client) LoadUpdate() (*snapshot.Config, error) {
	dc.mu.Lock()
	defer func() {
		dc.mu.Unlock()
		select {
		case dc.updateReq <- struct{}{}:
		default:
		}
	}()

	dc.loads++
	if dc.fail() {
		return nil, ErrFailing
	}

	if !dc.changed {
		return nil, nil
	}

	dc.changed = false
	return dc.config, nil
}

// Update replaces the configuration.
func (dc *Client) Update(c *snapshot.Config) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.config = c
	dc.changed = true
}

// FailNext makes the next n loads fail.
func (dc *Client) FailNext(n int) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.failures = n
}

// Loads returns the number of loads so far.
func (dc *Client) Loads() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.loads
}

// Polled returns a channel receiving after update polls.
func (dc *Client) Polled() <-chan struct{} {
	return dc.updateReq
}
