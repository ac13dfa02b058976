// Package identity maps platform user tokens to local users, creating
// them on first sight.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/models"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/store"
)

// Store is the subset of the repository the resolver uses.
type Store interface {
	UserByExternalID(ctx context.Context, externalID string) (models.User, error)
	CreateUser(ctx context.Context, u models.User) (models.User, error)
}

// Opts holds parameters for creating a Resolver.
type Opts struct {
	Store     Store
	Directory chat.Directory
	Logger    *slog.Logger
}

// Resolver resolves platform user tokens.
type Resolver struct {
	store Store
	dir   chat.Directory
	log   *slog.Logger
}

// New creates a Resolver.
func New(opts Opts) (*Resolver, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("identity: store is required")
	}
	if opts.Directory == nil {
		return nil, fmt.Errorf("identity: directory is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: opts.Store, dir: opts.Directory, log: log}, nil
}

// DegradedUsername is the name given to users the directory could not describe.
func DegradedUsername(externalID string) string {
	return "user_" + externalID
}

// Resolve returns the user for externalID. Unknown users are looked up in
// the directory and created; a directory failure creates a degraded user
// instead. Only storage failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, externalID string) (models.User, error) {
	if externalID == "" {
		return models.User{}, fmt.Errorf("identity: external id is required")
	}

	u, err := r.store.UserByExternalID(ctx, externalID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.User{}, fmt.Errorf("identity: %w", err)
	}

	u = models.User{ExternalID: externalID}
	profile, err := r.dir.LookupUser(ctx, externalID)
	if err != nil {
		r.log.Warn("directory lookup failed, creating degraded user", "user", externalID, "error", err)
		u.Username = DegradedUsername(externalID)
	} else {
		u.Username = profile.Username
		if u.Username == "" {
			u.Username = DegradedUsername(externalID)
		}
		if profile.Email != "" {
			email := profile.Email
			u.Email = &email
		}
	}

	created, err := r.store.CreateUser(ctx, u)
	if err != nil {
		return models.User{}, fmt.Errorf("identity: %w", err)
	}
	r.log.Info("created user", "user", externalID, "username", created.Username)
	return created, nil
}
