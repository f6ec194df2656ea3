// Package permission implements PermissionOracle (C6): a pure query
// layer over community roles.
package permission

import (
	"fmt"

	"github.com/snacka/voicerelay/db"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// MessageStore is the out-of-scope collaborator named in the spec's
// external interfaces section. Only the bits PermissionOracle needs to
// resolve a message's author and community are enumerated here; there is
// no backing implementation (message persistence is not part of this
// system).
type MessageStore interface {
	MessageAuthor(messageID string) (userID string, communityID string, ok bool)
	MessagePinnedBy(messageID string) (userID string, ok bool)
}

type Oracle struct {
	CommunityStore CommunityStore
	Messages       MessageStore
}

// CommunityStore resolves membership/role lookups. Backed by db in this
// repo; declared as an interface so Oracle doesn't depend on *db.DB.
type CommunityStore interface {
	GetMemberRole(communityID, userID string) (string, error)
}

func New(store CommunityStore, messages MessageStore) *Oracle {
	return &Oracle{CommunityStore: store, Messages: messages}
}

func (o *Oracle) RoleOf(userID, communityID string) (Role, bool, error) {
	role, err := o.CommunityStore.GetMemberRole(communityID, userID)
	if err != nil {
		return "", false, fmt.Errorf("resolve role: %w", err)
	}
	if role == "" {
		return "", false, nil
	}
	return Role(role), true, nil
}

func (o *Oracle) CanServerModerate(userID, communityID string) bool {
	role, ok, err := o.RoleOf(userID, communityID)
	if err != nil || !ok {
		return false
	}
	return role == RoleOwner || role == RoleAdmin
}

func (o *Oracle) CanPin(userID, messageID string) bool {
	if o.Messages == nil {
		return false
	}
	author, community, ok := o.Messages.MessageAuthor(messageID)
	if !ok {
		return false
	}
	if author == userID {
		return true
	}
	return o.CanServerModerate(userID, community)
}

func (o *Oracle) CanDelete(userID, messageID string) bool {
	return o.CanPin(userID, messageID)
}

func (o *Oracle) CanUnpin(userID, messageID string) bool {
	if o.CanPin(userID, messageID) {
		return true
	}
	if o.Messages == nil {
		return false
	}
	pinnedBy, ok := o.Messages.MessagePinnedBy(messageID)
	return ok && pinnedBy == userID
}
