package groups

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/capiscio/meta-issuer/internal/storage"
	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

// SetUser stores the caller's nicknames. Nicknames are unique across users.
func (r *Registry) SetUser(ctx context.Context, caller principal.ID, data User) error {
	if err := requireAuthenticated(caller); err != nil {
		return err
	}
	users, err := r.users(ctx)
	if err != nil {
		return err
	}
	for id, u := range users {
		if id == caller {
			continue
		}
		if data.UserNickname != nil && u.UserNickname != nil && *u.UserNickname == *data.UserNickname {
			return apierror.AlreadyExists("user nickname: %s", *data.UserNickname)
		}
		if data.IssuerNickname != nil && u.IssuerNickname != nil && *u.IssuerNickname == *data.IssuerNickname {
			return apierror.AlreadyExists("issuer nickname: %s", *data.IssuerNickname)
		}
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return apierror.Internal("encode user record", err)
	}
	if err := r.store.PutUser(ctx, caller, encoded); err != nil {
		return r.storageFailure("store user", err)
	}
	return nil
}

// GetUser returns the caller's nicknames.
func (r *Registry) GetUser(ctx context.Context, caller principal.ID) (User, error) {
	if err := requireAuthenticated(caller); err != nil {
		return User{}, err
	}
	data, err := r.store.User(ctx, caller)
	if errors.Is(err, storage.ErrNotFound) {
		return User{}, apierror.NotFound("user principal: %s", caller)
	}
	if err != nil {
		return User{}, r.storageFailure("load user", err)
	}
	return r.decodeUser(caller, data)
}

func (r *Registry) issuerNickname(ctx context.Context, id principal.ID) (string, error) {
	data, err := r.store.User(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", r.storageFailure("load user", err)
	}
	u, err := r.decodeUser(id, data)
	if err != nil {
		return "", err
	}
	return deref(u.IssuerNickname), nil
}

func (r *Registry) users(ctx context.Context) (map[principal.ID]User, error) {
	entries, err := r.store.Users(ctx)
	if err != nil {
		return nil, r.storageFailure("list users", err)
	}
	out := make(map[principal.ID]User, len(entries))
	for _, e := range entries {
		u, err := r.decodeUser(e.ID, e.Record)
		if err != nil {
			return nil, err
		}
		out[e.ID] = u
	}
	return out, nil
}

func (r *Registry) decodeUser(id principal.ID, data []byte) (User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		r.logger.Error("corrupt user record", zap.String("user", string(id)), zap.Error(err))
		return User{}, apierror.Internal("decode user record", err)
	}
	return u, nil
}
