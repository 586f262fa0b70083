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

	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/relay"
)

type CallHandler struct {
	signaler *relay.Signaler
	log      *logrus.Logger
}

func NewCallHandler(signaler *relay.Signaler, log *logrus.Logger) *CallHandler {
	return &CallHandler{signaler: signaler, log: log}
}

// Offer starts a call. An unreachable or busy callee is reported back on
// the caller's stream as callFailed, so this always answers 202.
func (h *CallHandler) Offer(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	var req models.CallOffer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.To == "" {
		http.Error(w, "to is required", http.StatusBadRequest)
		return
	}

	h.signaler.Offer(userID, req.To, req.Signal)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "offered",
	})
}

// Answer accepts an incoming call and relays the answering signal to the
// caller.
func (h *CallHandler) Answer(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	var req models.CallAnswer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.signaler.Answer(userID, req.To, req.Signal); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "accepted",
	})
}

// Connected records that media is flowing for the caller's session.
func (h *CallHandler) Connected(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	if err := h.signaler.Connected(userID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "connected",
	})
}

// End hangs up. Ending an already-ended call is a no-op, so this never
// fails.
func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(string)

	h.signaler.End(userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ended",
	})
}
