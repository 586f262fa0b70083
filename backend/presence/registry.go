// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package presence tracks which identities currently hold a live
// connection. The registry is the single routing source for real-time
// delivery and call signaling.
package presence

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/msgchat/msg/backend/models"
)

// Conn is a live client connection. Send must never block the caller;
// implementations buffer and drop under backpressure.
type Conn interface {
	Identity() string
	Send(ev models.Event)
	Close()
}

// Registry maps identities to their single live connection. All mutation
// happens under one mutex so concurrent connects and disconnects cannot
// lose updates.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Add registers the connection for its identity. A second connection for
// the same identity replaces the first, which is closed so no messages
// route to a stale handle after reconnect. Every add broadcasts the full
// presence set.
func (r *Registry) Add(c Conn) {
	r.mu.Lock()
	old := r.conns[c.Identity()]
	r.conns[c.Identity()] = c
	targets, snapshot := r.fanoutLocked()
	r.mu.Unlock()

	if old != nil {
		old.Close()
		logrus.WithFields(logrus.Fields{
			"identity": c.Identity(),
		}).Info("Replaced stale connection on reconnect")
	}

	logrus.WithFields(logrus.Fields{
		"identity": c.Identity(),
		"online":   len(snapshot),
	}).Info("Connection added")

	broadcast(targets, snapshot)
}

// Remove drops the entry whose handle matches c. Removing an absent or
// already-replaced handle is a no-op, so a late disconnect from a retired
// connection never evicts its successor. Every effective remove broadcasts
// the full presence set.
func (r *Registry) Remove(c Conn) {
	r.mu.Lock()
	current, ok := r.conns[c.Identity()]
	if !ok || current != c {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c.Identity())
	targets, snapshot := r.fanoutLocked()
	r.mu.Unlock()

	c.Close()

	logrus.WithFields(logrus.Fields{
		"identity": c.Identity(),
		"online":   len(snapshot),
	}).Info("Connection removed")

	broadcast(targets, snapshot)
}

// Lookup returns the live connection for an identity, if any.
func (r *Registry) Lookup(identity string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[identity]
	return c, ok
}

// Snapshot returns the sorted set of online identities.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, snapshot := r.fanoutLocked()
	return snapshot
}

func (r *Registry) fanoutLocked() ([]Conn, []string) {
	targets := make([]Conn, 0, len(r.conns))
	snapshot := make([]string, 0, len(r.conns))
	for identity, c := range r.conns {
		targets = append(targets, c)
		snapshot = append(snapshot, identity)
	}
	sort.Strings(snapshot)
	return targets, snapshot
}

func broadcast(targets []Conn, snapshot []string) {
	ev := models.Event{Name: models.EventOnlineUsers, Data: snapshot}
	for _, c := range targets {
		c.Send(ev)
	}
}
