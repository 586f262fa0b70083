// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package storage

import (
	"errors"

	"github.com/msgchat/msg/backend/models"
)

var (
	// ErrNotFound covers missing messages, unknown usernames and unknown
	// friend codes.
	ErrNotFound = errors.New("not found")

	// ErrUsernameTaken is returned by Register for a duplicate username.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrSelfAdd rejects adding your own friend code as a contact.
	ErrSelfAdd = errors.New("cannot add yourself")

	// ErrBadCredentials is a login password mismatch.
	ErrBadCredentials = errors.New("wrong password")
)

// MessageStore owns the message lifecycle state machine: create with a 48h
// expiry, save/unsave, bulk delete, nuke, and the expiry sweep. All
// deletions are idempotent; deleting an absent id is a success no-op.
type MessageStore interface {
	// Create persists a new message with isSaved=false and
	// expireAt=createdAt+48h, and returns the canonical record with its
	// assigned id.
	Create(senderID, recipientID, payload, msgType, displayTime string) (*models.Message, error)

	// Get returns a message by id, or ErrNotFound.
	Get(id string) (*models.Message, error)

	// History returns every live message the user sent or received,
	// oldest first.
	History(userID string) ([]models.Message, error)

	// ToggleSave flips isSaved. Saving clears expireAt; unsaving restores
	// expireAt to createdAt+48h, anchored to the original creation time.
	ToggleSave(id string) (*models.Message, error)

	// BulkDelete permanently removes the given ids regardless of save
	// state.
	BulkDelete(ids []string) error

	// Nuke removes every message between the two identities whose saved
	// flag is not true, and returns how many were removed.
	Nuke(identityA, identityB string) (int, error)
}

// AccountStore is the account collaborator: identities, credentials,
// optional private-key escrow and the mutual contact graph.
type AccountStore interface {
	Register(username, password, publicKey string, privateKey *string) (*models.Account, error)
	Login(username, password string) (*models.Account, []models.Contact, error)
	AddContact(selfID, friendCode string) (*models.Contact, error)
	Contacts(username string) ([]models.Contact, error)
}
