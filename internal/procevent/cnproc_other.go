//go:build !linux

package procevent

import "time"

// Connector is a non-functional placeholder on platforms without a process
// connector; the supervisor only runs on Linux, but the rest of the tree
// still needs to build and unit-test on the developer's workstation.
type Connector struct{}

func Connect() (*Connector, error) {
	return nil, ErrUnsupported
}

func (c *Connector) Fd() int { return -1 }

func (c *Connector) Receive(timeout time.Duration) (Event, error) {
	return Event{}, ErrUnsupported
}

func (c *Connector) Disconnect() error { return nil }
