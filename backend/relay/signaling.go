// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/presence"
)

// CallState tracks one side-shared call session through its lifecycle.
type CallState int

const (
	CallIdle CallState = iota
	CallOfferSent
	CallRinging
	CallAccepted
	CallActive
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOfferSent:
		return "offer_sent"
	case CallRinging:
		return "ringing"
	case CallAccepted:
		return "accepted"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// CallFailed reasons surfaced to the caller.
const (
	FailReasonOffline = "offline"
	FailReasonBusy    = "busy"
)

// CallSession is the transient state of one in-flight call. It is never
// persisted; relay restart drops all sessions.
type CallSession struct {
	Caller     string
	Callee     string
	State      CallState
	LastSignal json.RawMessage
}

// Signaler forwards call-setup and teardown signals between two
// identities using the presence registry. Signaling payloads are opaque;
// the media stream is negotiated and transmitted directly between the
// clients, never through here. There is no ringing timeout: an unanswered
// call stays ringing until one side explicitly ends it.
type Signaler struct {
	registry *presence.Registry

	mu       sync.Mutex
	sessions map[string]*CallSession // both participants key the same session
}

func NewSignaler(registry *presence.Registry) *Signaler {
	return &Signaler{
		registry: registry,
		sessions: make(map[string]*CallSession),
	}
}

// Offer starts a call. An offline callee fails fast with reason "offline"
// and leaves no session behind; there is no retry and no queueing. A
// callee already in a session fails with reason "busy".
func (s *Signaler) Offer(from, to string, signal json.RawMessage) {
	callee, online := s.registry.Lookup(to)
	if !online {
		logrus.WithFields(logrus.Fields{
			"caller": from,
			"callee": to,
		}).Info("Call failed, callee offline")
		s.fail(from, FailReasonOffline)
		return
	}

	s.mu.Lock()
	if s.sessions[to] != nil || s.sessions[from] != nil {
		s.mu.Unlock()
		s.fail(from, FailReasonBusy)
		return
	}
	session := &CallSession{
		Caller:     from,
		Callee:     to,
		State:      CallOfferSent,
		LastSignal: signal,
	}
	s.sessions[from] = session
	s.sessions[to] = session
	s.mu.Unlock()

	callee.Send(models.Event{
		Name: models.EventCallUser,
		Data: models.CallOffer{From: from, To: to, Signal: signal},
	})

	s.mu.Lock()
	session.State = CallRinging
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"caller": from,
		"callee": to,
		"state":  CallRinging.String(),
	}).Info("Call offer forwarded")
}

// Answer relays the callee's answer back to the caller and moves the
// session to accepted.
func (s *Signaler) Answer(from, to string, signal json.RawMessage) error {
	s.mu.Lock()
	session := s.sessions[from]
	if session == nil || session.Callee != from || session.Caller != to {
		s.mu.Unlock()
		return fmt.Errorf("no ringing call between %s and %s", from, to)
	}
	if session.State != CallRinging {
		state := session.State
		s.mu.Unlock()
		return fmt.Errorf("cannot answer call in state %s", state)
	}
	session.State = CallAccepted
	session.LastSignal = signal
	s.mu.Unlock()

	if caller, ok := s.registry.Lookup(to); ok {
		caller.Send(models.Event{
			Name: models.EventCallAccepted,
			Data: models.CallAnswer{To: to, Signal: signal},
		})
	}

	logrus.WithFields(logrus.Fields{
		"caller": to,
		"callee": from,
		"state":  CallAccepted.String(),
	}).Info("Call answered")

	return nil
}

// Connected marks the session active once either party reports the media
// path is up. Negotiation itself happens outside the relay.
func (s *Signaler) Connected(party string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.sessions[party]
	if session == nil {
		return fmt.Errorf("no call session for %s", party)
	}
	if session.State != CallAccepted {
		return fmt.Errorf("cannot activate call in state %s", session.State)
	}
	session.State = CallActive
	return nil
}

// End terminates the session from either side at any state past idle and
// forwards the teardown to the counterpart. Ending an absent session is a
// no-op, so both sides hanging up at once is harmless.
func (s *Signaler) End(from string) {
	s.mu.Lock()
	session := s.sessions[from]
	if session == nil {
		s.mu.Unlock()
		return
	}
	counterpart := session.Caller
	if from == session.Caller {
		counterpart = session.Callee
	}
	session.State = CallEnded
	delete(s.sessions, session.Caller)
	delete(s.sessions, session.Callee)
	s.mu.Unlock()

	if conn, ok := s.registry.Lookup(counterpart); ok {
		conn.Send(models.Event{Name: models.EventCallEnded, Data: models.CallEnd{To: counterpart}})
	}

	logrus.WithFields(logrus.Fields{
		"ended_by":    from,
		"counterpart": counterpart,
	}).Info("Call ended")
}

// Session returns a copy of the in-flight session for an identity.
func (s *Signaler) Session(identity string) (CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.sessions[identity]
	if session == nil {
		return CallSession{}, false
	}
	return *session, true
}

func (s *Signaler) fail(caller, reason string) {
	if conn, ok := s.registry.Lookup(caller); ok {
		conn.Send(models.Event{
			Name: models.EventCallFailed,
			Data: models.CallFailed{Reason: reason},
		})
	}
}
