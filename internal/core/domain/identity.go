package domain

import "context"

// Principal is the identity decoded from a verified session token.
type Principal struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Identity is the per-request authentication state. The zero value is an
// unauthenticated request.
//
// UserID and User are populated together by the authentication middleware,
// but authorization reads them separately: plain authentication checks use
// UserID, role checks require User.
type Identity struct {
	UserID string
	User   *Principal
}

// NewIdentity builds the identity for a verified token.
func NewIdentity(userID, role string) Identity {
	return Identity{
		UserID: userID,
		User:   &Principal{UserID: userID, Role: role},
	}
}

// Authenticated reports whether a user id was resolved for the request.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

type identityCtxKey struct{}

// WithIdentity stores the identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, or the zero Identity.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityCtxKey{}).(Identity)
	return id
}
