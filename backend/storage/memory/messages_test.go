// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgchat/msg/backend/models"
	"github.com/msgchat/msg/backend/storage"
)

// testClock is a manually-advanced clock for driving expiry.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore() (*MessageStore, *testClock) {
	clock := newTestClock()
	return NewMessageStoreWithClock(clock.Now), clock
}

func TestCreateAssignsIDAndExpiry(t *testing.T) {
	store, clock := newTestStore()

	msg, err := store.Create("alice", "bob", "ciphertext", models.MessageTypeText, "12:00")
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.IsSaved)
	assert.Equal(t, clock.Now(), msg.CreatedAt)
	require.NotNil(t, msg.ExpireAt)
	assert.Equal(t, clock.Now().Add(models.MessageTTL), *msg.ExpireAt)
}

func TestToggleSaveClearsExpiry(t *testing.T) {
	store, _ := newTestStore()
	created, err := store.Create("alice", "bob", "x", models.MessageTypeText, "12:00")
	require.NoError(t, err)

	saved, err := store.ToggleSave(created.ID)
	require.NoError(t, err)
	assert.True(t, saved.IsSaved)
	assert.Nil(t, saved.ExpireAt)
}

func TestToggleSaveStability(t *testing.T) {
	store, clock := newTestStore()
	created, err := store.Create("alice", "bob", "x", models.MessageTypeText, "12:00")
	require.NoError(t, err)
	createdAt := created.CreatedAt

	// Let wall time pass between toggles; the deadline must stay anchored
	// to the original creation time, never drifting forward.
	clock.Advance(10 * time.Hour)

	_, err = store.ToggleSave(created.ID) // save
	require.NoError(t, err)
	clock.Advance(10 * time.Hour)

	unsaved, err := store.ToggleSave(created.ID) // unsave
	require.NoError(t, err)
	require.NotNil(t, unsaved.ExpireAt)
	assert.Equal(t, createdAt.Add(models.MessageTTL), *unsaved.ExpireAt)

	resaved, err := store.ToggleSave(created.ID) // save again
	require.NoError(t, err)
	assert.Nil(t, resaved.ExpireAt)
}

func TestBulkDeleteIdempotent(t *testing.T) {
	store, _ := newTestStore()
	a, err := store.Create("alice", "bob", "x", models.MessageTypeText, "12:00")
	require.NoError(t, err)
	b, err := store.Create("alice", "bob", "y", models.MessageTypeText, "12:01")
	require.NoError(t, err)

	// Saved messages are deleted too; this is an explicit user action.
	_, err = store.ToggleSave(a.ID)
	require.NoError(t, err)

	require.NoError(t, store.BulkDelete([]string{a.ID, b.ID}))
	_, err = store.Get(a.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting already-deleted ids is a success no-op.
	require.NoError(t, store.BulkDelete([]string{a.ID, b.ID, "never-existed"}))
}

func TestNukePostcondition(t *testing.T) {
	store, _ := newTestStore()

	m1, err := store.Create("alice", "bob", "one", models.MessageTypeText, "12:00")
	require.NoError(t, err)
	m2, err := store.Create("bob", "alice", "two", models.MessageTypeText, "12:01")
	require.NoError(t, err)
	m3, err := store.Create("alice", "bob", "three", models.MessageTypeImage, "12:02")
	require.NoError(t, err)
	// A different pair must be untouched.
	other, err := store.Create("alice", "carol", "four", models.MessageTypeText, "12:03")
	require.NoError(t, err)

	_, err = store.ToggleSave(m2.ID)
	require.NoError(t, err)

	removed, err := store.Nuke("alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = store.Get(m1.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Get(m3.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	survivor, err := store.Get(m2.ID)
	require.NoError(t, err)
	assert.True(t, survivor.IsSaved)
	assert.Equal(t, "two", survivor.Payload)

	_, err = store.Get(other.ID)
	assert.NoError(t, err)

	// Nuking again finds nothing unsaved: idempotent.
	removed, err = store.Nuke("alice", "bob")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestHistoryOrderAndFiltering(t *testing.T) {
	store, _ := newTestStore()

	first, err := store.Create("alice", "bob", "first", models.MessageTypeText, "12:00")
	require.NoError(t, err)
	_, err = store.Create("carol", "dave", "noise", models.MessageTypeText, "12:01")
	require.NoError(t, err)
	second, err := store.Create("bob", "alice", "second", models.MessageTypeText, "12:02")
	require.NoError(t, err)

	history, err := store.History("alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)
}

func TestSweepRemovesExpired(t *testing.T) {
	store, clock := newTestStore()

	expiring, err := store.Create("alice", "bob", "x", models.MessageTypeText, "12:00")
	require.NoError(t, err)
	saved, err := store.Create("alice", "bob", "y", models.MessageTypeText, "12:01")
	require.NoError(t, err)
	_, err = store.ToggleSave(saved.ID)
	require.NoError(t, err)

	clock.Advance(models.MessageTTL + time.Minute)

	removed := store.Sweep()
	assert.Equal(t, 1, removed)

	_, err = store.Get(expiring.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Get(saved.ID)
	assert.NoError(t, err, "saved messages never expire")

	// The sweep and explicit deletes race on the same rows; both must be
	// no-ops the second time.
	assert.Zero(t, store.Sweep())
	assert.NoError(t, store.BulkDelete([]string{expiring.ID}))
}

func TestExpiredMessagesInvisibleBeforeSweep(t *testing.T) {
	store, clock := newTestStore()

	msg, err := store.Create("alice", "bob", "x", models.MessageTypeText, "12:00")
	require.NoError(t, err)

	clock.Advance(models.MessageTTL + time.Second)

	_, err = store.Get(msg.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	history, err := store.History("alice")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestUnsaveAfterExpiryWindowDeletesOnSweep(t *testing.T) {
	store, clock := newTestStore()

	msg, err := store.Create("alice", "bob", "x", models.MessageTypeText, "12:00")
	require.NoError(t, err)
	_, err = store.ToggleSave(msg.ID)
	require.NoError(t, err)

	// Unsaving after the original window restores a deadline already in
	// the past, so the next sweep collects it.
	clock.Advance(models.MessageTTL + time.Hour)
	_, err = store.ToggleSave(msg.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, store.Sweep())
}
