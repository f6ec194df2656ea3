// Package identity implements the IdentityProvider collaborator: it
// resolves a connection's bearer token to a user id at connect time.
package identity

import (
	"context"
	"fmt"

	"github.com/snacka/voicerelay/db"
)

type UserId = string

// Provider validates connection-time credentials and yields a user id.
// The Hub depends on this interface, never on *db.DB directly.
type Provider interface {
	Authenticate(ctx context.Context, token string) (UserId, error)
}

type DBProvider struct {
	DB *db.DB
}

func NewDBProvider(database *db.DB) *DBProvider {
	return &DBProvider{DB: database}
}

func (p *DBProvider) Authenticate(ctx context.Context, token string) (UserId, error) {
	if token == "" {
		return "", fmt.Errorf("identity: empty token")
	}
	user, err := p.DB.GetUserByToken(token)
	if err != nil {
		return "", fmt.Errorf("identity: lookup token: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("identity: invalid token")
	}
	return user.ID, nil
}
