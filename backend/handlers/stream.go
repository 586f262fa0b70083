// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/msgchat/msg/backend/presence"
	"github.com/msgchat/msg/backend/relay"
)

// sendBuffer is the per-connection event queue depth. A reader that falls
// further behind than this starts dropping events and recovers by fetching
// history.
const sendBuffer = 64

type StreamHandler struct {
	registry *presence.Registry
	log      *logrus.Logger
}

func NewStreamHandler(registry *presence.Registry, log *logrus.Logger) *StreamHandler {
	return &StreamHandler{registry: registry, log: log}
}

// Attach upgrades the request into a long-lived newline-delimited JSON
// stream. Attaching marks the user online; every other event the server
// pushes (messages, nukes, call signaling, presence) arrives here.
func (h *StreamHandler) Attach(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := relay.NewConn(userID, sendBuffer)
	h.registry.Add(conn)
	defer func() {
		h.registry.Remove(conn)
		conn.Close()
		h.log.WithField("user_id", userID).Info("stream detached")
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.WithField("user_id", userID).Info("stream attached")

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case ev := <-conn.Events():
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
