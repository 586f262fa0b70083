// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package relay

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/msgchat/msg/backend/models"
)

// Conn is a buffered, channel-backed live connection. Send never blocks:
// when the buffer is full the event is dropped and logged, so one slow
// client cannot stall the registry or another connection's handler. A
// client that missed deliveries recovers them on its next history fetch.
type Conn struct {
	identity string
	events   chan models.Event
	done     chan struct{}
	once     sync.Once
}

func NewConn(identity string, buffer int) *Conn {
	return &Conn{
		identity: identity,
		events:   make(chan models.Event, buffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) Identity() string { return c.identity }

// Events is the stream the transport handler drains into the client.
func (c *Conn) Events() <-chan models.Event { return c.events }

// Done is closed once the connection is retired.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Send(ev models.Event) {
	select {
	case <-c.done:
	case c.events <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"identity": c.identity,
			"event":    ev.Name,
		}).Warn("Dropping event for slow connection")
	}
}

func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}
