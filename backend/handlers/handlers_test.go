// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgchat/msg/backend/crypto"
	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/presence"
	"github.com/msgchat/msg/backend/relay"
	"github.com/msgchat/msg/backend/storage/memory"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// asUser stamps the authenticated identity the way the auth middleware
// does, so handlers can be exercised without minting tokens.
func asUser(r *http.Request, userID string) *http.Request {
	ctx := context.WithValue(r.Context(), "user_id", userID)
	return r.WithContext(ctx)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func TestRegisterAndLogin(t *testing.T) {
	accounts := memory.NewAccountStore()
	h := NewAuthHandler(accounts, "test-secret", "msgchat", testLogger())

	priv := "escrowed-private-key"
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/register", jsonBody(t, map[string]interface{}{
		"username":   "alice",
		"password":   "hunter22",
		"publicKey":  "alice-pub",
		"privateKey": &priv,
	}))
	h.Register(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var reg map[string]string
	decode(t, rr, &reg)
	assert.NotEmpty(t, reg["id"])
	assert.Equal(t, "alice", reg["username"])
	assert.Len(t, reg["friendCode"], 8)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/login", jsonBody(t, map[string]string{
		"username": "alice",
		"password": "hunter22",
	}))
	h.Login(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var login struct {
		ID         string           `json:"id"`
		Username   string           `json:"username"`
		FriendCode string           `json:"friendCode"`
		PublicKey  string           `json:"publicKey"`
		PrivateKey *string          `json:"privateKey"`
		Contacts   []models.Contact `json:"contacts"`
		Token      string           `json:"token"`
	}
	decode(t, rr, &login)
	assert.Equal(t, reg["id"], login.ID)
	assert.Equal(t, "alice-pub", login.PublicKey)
	require.NotNil(t, login.PrivateKey)
	assert.Equal(t, "escrowed-private-key", *login.PrivateKey)
	assert.Empty(t, login.Contacts)
	assert.NotEmpty(t, login.Token)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	accounts := memory.NewAccountStore()
	h := NewAuthHandler(accounts, "test-secret", "msgchat", testLogger())

	body := map[string]string{"username": "bob", "password": "pw", "publicKey": "pk"}

	rr := httptest.NewRecorder()
	h.Register(rr, httptest.NewRequest("POST", "/register", jsonBody(t, body)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	h.Register(rr, httptest.NewRequest("POST", "/register", jsonBody(t, body)))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestLoginFailures(t *testing.T) {
	accounts := memory.NewAccountStore()
	h := NewAuthHandler(accounts, "test-secret", "msgchat", testLogger())

	rr := httptest.NewRecorder()
	h.Register(rr, httptest.NewRequest("POST", "/register", jsonBody(t, map[string]string{
		"username": "carol", "password": "right", "publicKey": "pk",
	})))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest("POST", "/login", jsonBody(t, map[string]string{
		"username": "nobody", "password": "x",
	})))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest("POST", "/login", jsonBody(t, map[string]string{
		"username": "carol", "password": "wrong",
	})))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAddContactMutual(t *testing.T) {
	accounts := memory.NewAccountStore()
	alice, err := accounts.Register("alice", "pw", "alice-pub", nil)
	require.NoError(t, err)
	bob, err := accounts.Register("bob", "pw", "bob-pub", nil)
	require.NoError(t, err)

	h := NewContactHandler(accounts, testLogger())

	rr := httptest.NewRecorder()
	req := asUser(httptest.NewRequest("POST", "/add-contact", jsonBody(t, map[string]string{
		"friendCode": bob.FriendCode,
	})), alice.ID)
	h.AddContact(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var added models.Contact
	decode(t, rr, &added)
	assert.Equal(t, "bob", added.Username)
	assert.Equal(t, "bob-pub", added.PublicKey)

	router := mux.NewRouter()
	router.HandleFunc("/contacts/{username}", h.Contacts)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/contacts/bob", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var listing struct {
		Contacts []models.Contact `json:"contacts"`
		Count    int              `json:"count"`
	}
	decode(t, rr, &listing)
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "alice", listing.Contacts[0].Username)
}

func TestAddContactErrors(t *testing.T) {
	accounts := memory.NewAccountStore()
	alice, err := accounts.Register("alice", "pw", "alice-pub", nil)
	require.NoError(t, err)

	h := NewContactHandler(accounts, testLogger())

	rr := httptest.NewRecorder()
	h.AddContact(rr, asUser(httptest.NewRequest("POST", "/add-contact", jsonBody(t, map[string]string{
		"friendCode": "NOPE1234",
	})), alice.ID))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	h.AddContact(rr, asUser(httptest.NewRequest("POST", "/add-contact", jsonBody(t, map[string]string{
		"friendCode": alice.FriendCode,
	})), alice.ID))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func newMessageRig() (*MessageHandler, *memory.MessageStore, *presence.Registry) {
	registry := presence.NewRegistry()
	store := memory.NewMessageStore()
	hub := relay.NewHub(registry, store)
	return NewMessageHandler(hub, store, testLogger()), store, registry
}

func TestSendReturnsCanonicalRecord(t *testing.T) {
	h, _, _ := newMessageRig()

	rr := httptest.NewRecorder()
	req := asUser(httptest.NewRequest("POST", "/api/send", jsonBody(t, map[string]string{
		"senderId":    "spoofed",
		"recipientId": "bob",
		"payload":     "ciphertext",
		"type":        "text",
		"time":        "12:30",
	})), "alice")
	h.Send(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var msg models.Message
	decode(t, rr, &msg)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice", msg.SenderID, "authenticated identity overrides the body")
	assert.Equal(t, "bob", msg.RecipientID)
	assert.False(t, msg.IsSaved)
	require.NotNil(t, msg.ExpireAt)
}

func TestSendValidation(t *testing.T) {
	h, _, _ := newMessageRig()

	rr := httptest.NewRecorder()
	h.Send(rr, asUser(httptest.NewRequest("POST", "/api/send", jsonBody(t, map[string]string{
		"payload": "ciphertext",
	})), "alice"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistoryFiltersByPair(t *testing.T) {
	h, store, _ := newMessageRig()

	_, err := store.Create("alice", "bob", "c1", "text", "12:00")
	require.NoError(t, err)
	_, err = store.Create("bob", "alice", "c2", "text", "12:01")
	require.NoError(t, err)
	_, err = store.Create("alice", "eve", "c3", "text", "12:02")
	require.NoError(t, err)

	router := mux.NewRouter()
	router.HandleFunc("/api/messages/{userId}", func(w http.ResponseWriter, r *http.Request) {
		h.History(w, asUser(r, "alice"))
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/messages/bob", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Messages []models.Message `json:"messages"`
		Count    int              `json:"count"`
	}
	decode(t, rr, &resp)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "c1", resp.Messages[0].Payload)
	assert.Equal(t, "c2", resp.Messages[1].Payload)
}

func TestToggleSaveEndpoint(t *testing.T) {
	h, store, _ := newMessageRig()

	msg, err := store.Create("alice", "bob", "c1", "text", "12:00")
	require.NoError(t, err)

	router := mux.NewRouter()
	router.HandleFunc("/api/messages/toggle/{id}", h.ToggleSave).Methods("PUT")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("PUT", "/api/messages/toggle/"+msg.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var saved models.Message
	decode(t, rr, &saved)
	assert.True(t, saved.IsSaved)
	assert.Nil(t, saved.ExpireAt)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("PUT", "/api/messages/toggle/no-such-id", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestNukeEndpointNotifiesParties(t *testing.T) {
	h, store, registry := newMessageRig()

	bobConn := relay.NewConn("bob", 8)
	registry.Add(bobConn)

	_, err := store.Create("alice", "bob", "c1", "text", "12:00")
	require.NoError(t, err)
	saved, err := store.Create("bob", "alice", "c2", "text", "12:01")
	require.NoError(t, err)
	_, err = store.ToggleSave(saved.ID)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.Nuke(rr, asUser(httptest.NewRequest("DELETE", "/api/messages/nuke", jsonBody(t, map[string]string{
		"otherId": "bob",
	})), "alice"))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Status  string `json:"status"`
		Removed int    `json:"removed"`
	}
	decode(t, rr, &resp)
	assert.Equal(t, "nuked", resp.Status)
	assert.Equal(t, 1, resp.Removed)

	// Bob's stream sees presence churn from Add plus the nuke notice.
	var nuked bool
	for len(bobConn.Events()) > 0 {
		ev := <-bobConn.Events()
		if ev.Name == models.EventChatNuked {
			notice, ok := ev.Data.(models.NukeNotice)
			require.True(t, ok)
			assert.Equal(t, "alice", notice.Target)
			nuked = true
		}
	}
	assert.True(t, nuked, "bob should be told the chat was nuked")
}

func TestCallAnswerWithoutOffer(t *testing.T) {
	registry := presence.NewRegistry()
	h := NewCallHandler(relay.NewSignaler(registry), testLogger())

	rr := httptest.NewRecorder()
	h.Answer(rr, asUser(httptest.NewRequest("POST", "/api/call/answer", jsonBody(t, map[string]interface{}{
		"to":     "alice",
		"signal": map[string]string{"sdp": "answer"},
	})), "bob"))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCallOfferAlwaysAccepted(t *testing.T) {
	registry := presence.NewRegistry()
	h := NewCallHandler(relay.NewSignaler(registry), testLogger())

	// Callee offline: the failure is delivered on the caller's stream, not
	// in the HTTP response.
	rr := httptest.NewRecorder()
	h.Offer(rr, asUser(httptest.NewRequest("POST", "/api/call/offer", jsonBody(t, map[string]interface{}{
		"to":     "ghost",
		"signal": map[string]string{"sdp": "offer"},
	})), "alice"))
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestEncryptedRoundTripThroughRelay(t *testing.T) {
	h, _, registry := newMessageRig()

	alicePub, alicePriv, err := crypto.GenerateIdentityKeys()
	require.NoError(t, err)
	bobPub, bobPriv, err := crypto.GenerateIdentityKeys()
	require.NoError(t, err)

	aliceKey, err := crypto.DeriveSharedKey(alicePriv, bobPub)
	require.NoError(t, err)
	envelope, err := crypto.EncryptPayload(aliceKey, []byte("meet at noon"))
	require.NoError(t, err)

	bobConn := relay.NewConn("bob", 8)
	registry.Add(bobConn)

	rr := httptest.NewRecorder()
	h.Send(rr, asUser(httptest.NewRequest("POST", "/api/send", jsonBody(t, map[string]string{
		"recipientId": "bob",
		"payload":     envelope,
		"type":        "text",
		"time":        "12:00",
	})), "alice"))
	require.Equal(t, http.StatusCreated, rr.Code)

	var delivered string
	for len(bobConn.Events()) > 0 {
		ev := <-bobConn.Events()
		if ev.Name == models.EventMessage {
			msg, ok := ev.Data.(models.DeliverMessage)
			require.True(t, ok)
			delivered = msg.Payload
		}
	}
	require.NotEmpty(t, delivered, "bob should receive the pushed message")

	bobKey, err := crypto.DeriveSharedKey(bobPriv, alicePub)
	require.NoError(t, err)
	plaintext, err := crypto.DecryptPayload(bobKey, delivered)
	require.NoError(t, err)
	assert.Equal(t, "meet at noon", string(plaintext))
}

func TestStreamDeliversEvents(t *testing.T) {
	registry := presence.NewRegistry()
	store := memory.NewMessageStore()
	hub := relay.NewHub(registry, store)
	sh := NewStreamHandler(registry, testLogger())

	router := mux.NewRouter()
	router.HandleFunc("/api/stream", func(w http.ResponseWriter, r *http.Request) {
		sh.Attach(w, asUser(r, "bob"))
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dec := json.NewDecoder(resp.Body)

	// First frame is the presence snapshot from attaching.
	var first models.Event
	require.NoError(t, dec.Decode(&first))
	assert.Equal(t, models.EventOnlineUsers, first.Name)

	_, err = hub.Relay(models.SendMessage{
		SenderID:    "alice",
		RecipientID: "bob",
		Payload:     "ciphertext",
		Type:        "text",
		Time:        "12:00",
	})
	require.NoError(t, err)

	var ev models.Event
	require.NoError(t, dec.Decode(&ev))
	assert.Equal(t, models.EventMessage, ev.Name)
}
