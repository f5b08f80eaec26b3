package domain

import (
	"strings"
	"time"
)

// MemberRole distinguishes the host from invited guests.
type MemberRole string

const (
	MemberRoleHost  MemberRole = "host"
	MemberRoleGuest MemberRole = "guest"
)

// CartMember is a participant of a team cart.
type CartMember struct {
	ID       string
	UserID   string
	Name     string
	Role     MemberRole
	JoinedAt time.Time
}

func newCartMember(id, userID, name string, role MemberRole, joinedAt time.Time) (CartMember, error) {
	id = strings.TrimSpace(id)
	userID = strings.TrimSpace(userID)
	if id == "" || userID == "" {
		return CartMember{}, ErrInvalidInput.WithMessage("member id and user id are required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return CartMember{}, ErrInvalidName.WithMessage("member name is required")
	}
	if len([]rune(name)) > 80 {
		return CartMember{}, ErrInvalidName.WithMessage("member name must be at most 80 characters")
	}
	return CartMember{ID: id, UserID: userID, Name: name, Role: role, JoinedAt: joinedAt.UTC()}, nil
}

// IsHost reports whether the member owns the cart.
func (m CartMember) IsHost() bool { return m.Role == MemberRoleHost }
