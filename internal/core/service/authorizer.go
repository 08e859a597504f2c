package service

import (
	"strings"

	"github.com/userhub/account-api/internal/core/domain"
)

// Authorize checks an identity against the roles an operation requires.
//
// With no required roles any authenticated identity passes; otherwise
// domain.ErrNotAuthenticated is returned. With required roles the identity
// must carry a resolved User whose role matches one of them, compared
// case-insensitively; otherwise domain.ErrAuthorizationDenied is returned.
// A bare UserID never satisfies a role requirement.
func Authorize(id domain.Identity, requiredRoles ...string) error {
	if len(requiredRoles) == 0 {
		if !id.Authenticated() {
			return domain.ErrNotAuthenticated
		}
		return nil
	}

	if id.User == nil {
		return domain.ErrAuthorizationDenied
	}
	for _, r := range requiredRoles {
		if strings.EqualFold(r, id.User.Role) {
			return nil
		}
	}
	return domain.ErrAuthorizationDenied
}
