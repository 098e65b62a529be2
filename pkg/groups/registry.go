// Package groups is the durable registry of groups, their members and user nicknames.
//
// A group is keyed by (name, owner). Members join in PendingReview and the
// owner moves them between statuses. The registry does no locking of its own;
// callers serialize operations.
package groups

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capiscio/meta-issuer/internal/storage"
	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

// Registry implements the group and user operations over a storage.Store.
type Registry struct {
	store  storage.Store
	logger *zap.Logger
}

// NewRegistry creates a registry. A nil logger disables logging.
func NewRegistry(store storage.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, logger: logger}
}

func requireAuthenticated(caller principal.ID) error {
	if caller.IsAnonymous() {
		return apierror.NotAuthenticated("anonymous caller not permitted")
	}
	return nil
}

// AddGroup creates the group (name, caller). The owner is not added as a member.
func (r *Registry) AddGroup(ctx context.Context, caller principal.ID, name string, now time.Time) (FullGroupData, error) {
	if err := requireAuthenticated(caller); err != nil {
		return FullGroupData{}, err
	}
	key := Key{Name: name, Owner: caller}
	existing, err := r.group(ctx, key)
	if err != nil {
		return FullGroupData{}, err
	}
	if existing != nil {
		return FullGroupData{}, apierror.AlreadyExists("group: %s, owner: %s", name, caller)
	}

	rec := Record{CreatedAt: now, Members: map[principal.ID]Member{}}
	if err := r.putGroup(ctx, key, rec); err != nil {
		return FullGroupData{}, err
	}
	r.logger.Info("group created", zap.String("group", name), zap.String("owner", string(caller)))

	issuerNick, err := r.issuerNickname(ctx, caller)
	if err != nil {
		return FullGroupData{}, err
	}
	return FullGroupData{
		GroupName:      name,
		Owner:          caller,
		IssuerNickname: issuerNick,
		Stats:          Stats{MemberCount: 0, CreatedAt: now},
		Members:        []MemberData{},
	}, nil
}

// GetGroup returns the group (name, caller) with its members ordered by identity.
func (r *Registry) GetGroup(ctx context.Context, caller principal.ID, name string) (FullGroupData, error) {
	key := Key{Name: name, Owner: caller}
	rec, err := r.group(ctx, key)
	if err != nil {
		return FullGroupData{}, err
	}
	if rec == nil || caller.IsAnonymous() {
		return FullGroupData{}, apierror.NotFound("group: %s, owner: %s", name, caller)
	}

	users, err := r.users(ctx)
	if err != nil {
		return FullGroupData{}, err
	}

	members := make([]MemberData, 0, len(rec.Members))
	for id, m := range rec.Members {
		members = append(members, MemberData{
			Member:    id,
			Nickname:  deref(users[id].UserNickname),
			JoinedAt:  m.JoinedAt,
			Status:    m.Status,
			Arguments: m.Arguments,
		})
	}
	slices.SortFunc(members, func(a, b MemberData) int { return principal.Compare(a.Member, b.Member) })

	return FullGroupData{
		GroupName:      name,
		Owner:          caller,
		IssuerNickname: deref(users[caller].IssuerNickname),
		Stats:          Stats{MemberCount: len(rec.Members), CreatedAt: rec.CreatedAt},
		Members:        members,
	}, nil
}

// ListGroups returns every group whose name contains substring, ordered by
// (name, owner). An empty substring matches every group.
func (r *Registry) ListGroups(ctx context.Context, caller principal.ID, substring string) ([]PublicGroupData, error) {
	entries, err := r.store.Groups(ctx)
	if err != nil {
		return nil, r.storageFailure("list groups", err)
	}
	users, err := r.users(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]PublicGroupData, 0, len(entries))
	for _, e := range entries {
		if !strings.Contains(e.Name, substring) {
			continue
		}
		rec, err := r.decodeGroup(Key{Name: e.Name, Owner: e.Owner}, e.Record)
		if err != nil {
			return nil, err
		}
		pub := PublicGroupData{
			GroupName:      e.Name,
			Owner:          e.Owner,
			IssuerNickname: deref(users[e.Owner].IssuerNickname),
			Stats:          Stats{MemberCount: len(rec.Members), CreatedAt: rec.CreatedAt},
		}
		if !caller.IsAnonymous() {
			isOwner := e.Owner == caller
			pub.IsOwner = &isOwner
			if m, ok := rec.Members[caller]; ok {
				status := m.Status
				pub.MembershipStatus = &status
				pub.VCArguments = m.Arguments
			}
		}
		out = append(out, pub)
	}
	return out, nil
}

// JoinGroup adds the caller to a group in PendingReview. A caller who is
// already a member is left untouched unless they were Rejected, in which case
// the membership is reopened with a fresh timestamp and the new arguments.
func (r *Registry) JoinGroup(ctx context.Context, caller principal.ID, req JoinRequest, now time.Time) error {
	if err := requireAuthenticated(caller); err != nil {
		return err
	}
	key := Key{Name: req.GroupName, Owner: req.Owner}
	rec, err := r.group(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return apierror.NotFound("group: %s, owner: %s", req.GroupName, req.Owner)
	}

	if d, ok := catalog.ForGroupName(req.GroupName); ok {
		if err := catalog.VerifySpec(catalog.Spec{CredentialType: d.Type, Arguments: req.Arguments}); err != nil {
			return err
		}
	}

	if m, ok := rec.Members[caller]; ok {
		if m.Status != Rejected {
			return nil
		}
		// A reopened membership always gets a later joined time.
		if !now.After(m.JoinedAt) {
			now = m.JoinedAt.Add(time.Nanosecond)
		}
	}
	rec.Members[caller] = Member{
		JoinedAt:  now,
		Status:    PendingReview,
		Arguments: req.Arguments.Clone(),
	}
	if err := r.putGroup(ctx, key, *rec); err != nil {
		return err
	}
	r.logger.Info("member joined",
		zap.String("group", req.GroupName),
		zap.String("owner", string(req.Owner)),
		zap.String("member", string(caller)))
	return nil
}

// UpdateMembership applies status updates to members of the group (name, caller).
// A caller that does not own a group of that name gets NOT_AUTHORIZED if some
// other owner has one, NOT_FOUND otherwise. Every listed member must exist;
// the first missing member fails the call and nothing is persisted.
func (r *Registry) UpdateMembership(ctx context.Context, caller principal.ID, name string, updates []MembershipUpdate) error {
	if err := requireAuthenticated(caller); err != nil {
		return err
	}
	key := Key{Name: name, Owner: caller}
	rec, err := r.group(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		exists, err := r.groupNameExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return apierror.NotAuthorized("caller %s does not own group %s", caller, name)
		}
		return apierror.NotFound("group: %s, owner: %s", name, caller)
	}

	for _, u := range updates {
		m, ok := rec.Members[u.Member]
		if !ok {
			return apierror.NotFound("member: %s", u.Member)
		}
		if !u.NewStatus.Valid() {
			return apierror.New(apierror.CodeInternal, "invalid membership status "+string(u.NewStatus))
		}
		m.Status = u.NewStatus
		rec.Members[u.Member] = m
	}
	if err := r.putGroup(ctx, key, *rec); err != nil {
		return err
	}
	r.logger.Info("membership updated", zap.String("group", name), zap.Int("updates", len(updates)))
	return nil
}

// Member returns the record of id in the group key, if any.
func (r *Registry) Member(ctx context.Context, key Key, id principal.ID) (Member, bool, error) {
	rec, err := r.group(ctx, key)
	if err != nil || rec == nil {
		return Member{}, false, err
	}
	m, ok := rec.Members[id]
	return m, ok, nil
}

func (r *Registry) groupNameExists(ctx context.Context, name string) (bool, error) {
	entries, err := r.store.Groups(ctx)
	if err != nil {
		return false, r.storageFailure("list groups", err)
	}
	return slices.ContainsFunc(entries, func(e storage.GroupEntry) bool { return e.Name == name }), nil
}

// group loads and decodes a group record. A missing group is (nil, nil).
func (r *Registry) group(ctx context.Context, key Key) (*Record, error) {
	data, err := r.store.Group(ctx, key.Name, key.Owner)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, r.storageFailure("load group", err)
	}
	rec, err := r.decodeGroup(key, data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Registry) decodeGroup(key Key, data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		r.logger.Error("corrupt group record",
			zap.String("group", key.Name),
			zap.String("owner", string(key.Owner)),
			zap.Error(err))
		return Record{}, apierror.Internal("decode group record", err)
	}
	if rec.Members == nil {
		rec.Members = map[principal.ID]Member{}
	}
	return rec, nil
}

func (r *Registry) putGroup(ctx context.Context, key Key, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return apierror.Internal("encode group record", err)
	}
	if err := r.store.PutGroup(ctx, key.Name, key.Owner, data); err != nil {
		return r.storageFailure("store group", err)
	}
	return nil
}

func (r *Registry) storageFailure(op string, err error) error {
	r.logger.Error("storage failure", zap.String("op", op), zap.Error(err))
	return apierror.Internal(op, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
