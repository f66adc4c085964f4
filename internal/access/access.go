package access

import (
	"time"

	"github.com/google/uuid"

	"github.com/maktabhq/maktab-backend/pkg/models"
)

// Key composes a global permission key like "case:view".
func Key(res models.ResourceType, a models.Action) string {
	return string(res) + ":" + string(a)
}

// Snapshot is everything resolution needs about one (user, resource) pair,
// already loaded: the user's firm membership, their role (nil when the
// membership's roleId dangles or is unset), and the exact-match resource
// grant (nil when absent).
type Snapshot struct {
	Membership *models.FirmUser
	Role       *models.Role
	Grant      *models.UserResourceAccess
}

// Resolve decides allow/deny for one action on one resource.
//
// Precedence, highest first:
//  1. active grant with level "none"      -> deny, overriding everything
//  2. active grant with sufficient level  -> allow
//  3. membership custom permission key    -> allow
//  4. role policy rule matching type+id   -> allow
//  5. role global permission key          -> allow
//  6. default                             -> deny
//
// An expired grant is treated as absent. A present grant whose level is
// positive but insufficient for the action does not block the role layers.
func Resolve(s Snapshot, res models.ResourceType, resID uuid.UUID, action models.Action, now time.Time) bool {
	if s.Membership == nil || s.Membership.Status != models.MemberActive {
		return false
	}

	if g := activeGrant(s.Grant, now); g != nil {
		if g.AccessLevel == models.AccessNone {
			return false
		}
		if g.AccessLevel.Allows(action) {
			return true
		}
	}

	key := Key(res, action)
	for _, p := range s.Membership.CustomPermissions {
		if p == key {
			return true
		}
	}

	if s.Role != nil {
		for _, rule := range s.Role.Policy {
			if rule.ResourceType != res {
				continue
			}
			if rule.ResourceID != nil && *rule.ResourceID != resID {
				continue
			}
			for _, a := range rule.Actions {
				if a == action {
					return true
				}
			}
		}
		for _, p := range s.Role.Permissions {
			if p == key {
				return true
			}
		}
	}

	return false
}

func activeGrant(g *models.UserResourceAccess, now time.Time) *models.UserResourceAccess {
	if g == nil {
		return nil
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return nil
	}
	return g
}
