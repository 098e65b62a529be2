package groups

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

// Status is a member's review state.
type Status string

// Membership states. Owners may move a member between any of them.
const (
	PendingReview Status = "PendingReview"
	Accepted      Status = "Accepted"
	Rejected      Status = "Rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case PendingReview, Accepted, Rejected:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown statuses.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !Status(raw).Valid() {
		return fmt.Errorf("unknown membership status %q", raw)
	}
	*s = Status(raw)
	return nil
}

// Key identifies a group. It is immutable once the group exists.
type Key struct {
	Name  string
	Owner principal.ID
}

// Member is the durable record of one identity in one group.
type Member struct {
	JoinedAt time.Time `json:"joined_at"`
	Status   Status    `json:"status"`

	// Arguments are the vetted claim values the issuer vouches for.
	Arguments catalog.Arguments `json:"arguments,omitempty"`
}

// Record is the durable record of a group.
type Record struct {
	CreatedAt time.Time               `json:"created_at"`
	Members   map[principal.ID]Member `json:"members"`
}

// User is the durable record of a user's nicknames.
type User struct {
	UserNickname   *string `json:"user_nickname,omitempty"`
	IssuerNickname *string `json:"issuer_nickname,omitempty"`
}

// Stats summarizes a group.
type Stats struct {
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// MemberData is a member as shown to the group owner.
type MemberData struct {
	Member    principal.ID      `json:"member"`
	Nickname  string            `json:"nickname"`
	JoinedAt  time.Time         `json:"joined_at"`
	Status    Status            `json:"membership_status"`
	Arguments catalog.Arguments `json:"vc_arguments,omitempty"`
}

// FullGroupData is the owner's view of a group.
type FullGroupData struct {
	GroupName      string       `json:"group_name"`
	Owner          principal.ID `json:"owner"`
	IssuerNickname string       `json:"issuer_nickname"`
	Stats          Stats        `json:"stats"`
	Members        []MemberData `json:"members"`
}

// PublicGroupData is the projection of a group visible to any caller.
// The caller-specific fields are nil for anonymous callers.
type PublicGroupData struct {
	GroupName        string            `json:"group_name"`
	Owner            principal.ID      `json:"owner"`
	IssuerNickname   string            `json:"issuer_nickname"`
	Stats            Stats             `json:"stats"`
	IsOwner          *bool             `json:"is_owner,omitempty"`
	MembershipStatus *Status           `json:"membership_status,omitempty"`
	VCArguments      catalog.Arguments `json:"vc_arguments,omitempty"`
}

// MembershipUpdate moves one member to a new status.
type MembershipUpdate struct {
	Member    principal.ID `json:"member"`
	NewStatus Status       `json:"new_status"`
}

// JoinRequest asks to join the group (GroupName, Owner).
type JoinRequest struct {
	GroupName string            `json:"group_name"`
	Owner     principal.ID      `json:"owner"`
	Arguments catalog.Arguments `json:"vc_arguments,omitempty"`
}
