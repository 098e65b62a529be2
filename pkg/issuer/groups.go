package issuer

import (
	"context"

	"github.com/capiscio/meta-issuer/pkg/groups"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

func (s *Service) observeGroupOp(op string, err error) {
	s.metrics.groupOps.WithLabelValues(op, result(err)).Inc()
}

// AddGroup creates a group owned by caller.
func (s *Service) AddGroup(ctx context.Context, caller principal.ID, name string) (groups.FullGroupData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.groups.AddGroup(ctx, caller, name, s.now())
	s.observeGroupOp("add_group", err)
	return data, err
}

// GetGroup returns caller's group with its members.
func (s *Service) GetGroup(ctx context.Context, caller principal.ID, name string) (groups.FullGroupData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.groups.GetGroup(ctx, caller, name)
	s.observeGroupOp("get_group", err)
	return data, err
}

// ListGroups lists groups whose name contains substring.
func (s *Service) ListGroups(ctx context.Context, caller principal.ID, substring string) ([]groups.PublicGroupData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.groups.ListGroups(ctx, caller, substring)
	s.observeGroupOp("list_groups", err)
	return data, err
}

// JoinGroup requests membership in a group.
func (s *Service) JoinGroup(ctx context.Context, caller principal.ID, req groups.JoinRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.groups.JoinGroup(ctx, caller, req, s.now())
	s.observeGroupOp("join_group", err)
	return err
}

// UpdateMembership changes member statuses in caller's group.
func (s *Service) UpdateMembership(ctx context.Context, caller principal.ID, name string, updates []groups.MembershipUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.groups.UpdateMembership(ctx, caller, name, updates)
	s.observeGroupOp("update_membership", err)
	return err
}

// SetUser stores caller's nicknames.
func (s *Service) SetUser(ctx context.Context, caller principal.ID, data groups.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.groups.SetUser(ctx, caller, data)
	s.observeGroupOp("set_user", err)
	return err
}

// GetUser returns caller's nicknames.
func (s *Service) GetUser(ctx context.Context, caller principal.ID) (groups.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.groups.GetUser(ctx, caller)
	s.observeGroupOp("get_user", err)
	return data, err
}
