package auth

import (
	"context"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles carried in the "role" custom claim. Diners hold RoleUser; restaurant staff and operators
// may act on carts they do not belong to only through internal tooling.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// ProfileLoader fetches the Firebase user record for a UID.
type ProfileLoader func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)

// Identity is the diner behind a verified Firebase ID token.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	Roles       []string

	token *firebaseauth.Token

	loadProfile ProfileLoader
	profileOnce sync.Once
	profileName string
}

// Token exposes the decoded ID token.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity holds role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if normaliseRole(r) == role {
			return true
		}
	}
	return false
}

// MemberName is the name other members of a team cart see. The token name claim wins, then the
// Firebase profile display name, then the local part of the email address.
func (i *Identity) MemberName(ctx context.Context) string {
	if i == nil {
		return ""
	}
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	if name := i.profileDisplayName(ctx); name != "" {
		return name
	}
	if at := strings.IndexByte(i.Email, '@'); at > 0 {
		return i.Email[:at]
	}
	return ""
}

// profileDisplayName loads the profile at most once per request. Lookup failures degrade to the
// email fallback.
func (i *Identity) profileDisplayName(ctx context.Context) string {
	if i.loadProfile == nil {
		return ""
	}
	i.profileOnce.Do(func() {
		record, err := i.loadProfile(ctx, i.UID)
		if err != nil || record == nil || record.UserInfo == nil {
			return
		}
		i.profileName = strings.TrimSpace(record.DisplayName)
	})
	return i.profileName
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity stored by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
