package access

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/internal/auth"
	"github.com/maktabhq/maktab-backend/pkg/models"
)

// Service loads the rows backing a decision and runs Resolve over them.
type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// Load assembles the Snapshot for (user, firm, resource).
func (s *Service) Load(ctx context.Context, userID, firmID uuid.UUID, res models.ResourceType, resID uuid.UUID) (Snapshot, error) {
	var snap Snapshot

	var fu models.FirmUser
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND firm_id = ?", userID, firmID).
		First(&fu).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return snap, nil // no membership: resolves to deny
		}
		return snap, err
	}
	snap.Membership = &fu

	if fu.RoleID != nil {
		var role models.Role
		err := s.db.WithContext(ctx).
			Where("id = ? AND firm_id = ?", *fu.RoleID, firmID).
			First(&role).Error
		switch {
		case err == nil:
			// Union in keys from the normalized junction so roles managed
			// through the catalog resolve the same as denormalized ones.
			keys, kerr := s.junctionKeys(ctx, role.ID)
			if kerr != nil {
				return snap, kerr
			}
			role.Permissions = mergeKeys(role.Permissions, keys)
			snap.Role = &role
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Role deleted while still referenced: resolve as no-role.
		default:
			return snap, err
		}
	}

	var grant models.UserResourceAccess
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND resource_type = ? AND resource_id = ?", userID, res, resID).
		First(&grant).Error
	switch {
	case err == nil:
		snap.Grant = &grant
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return snap, err
	}

	return snap, nil
}

func (s *Service) junctionKeys(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Table("role_permissions").
		Joins("JOIN permissions ON permissions.id = role_permissions.permission_id").
		Where("role_permissions.role_id = ?", roleID).
		Pluck("permissions.key", &keys).Error
	return keys, err
}

func mergeKeys(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range append(a, b...) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Decide answers (user, firm, resource, action) -> allow | deny.
func (s *Service) Decide(ctx context.Context, userID, firmID uuid.UUID, res models.ResourceType, resID uuid.UUID, action models.Action) (bool, error) {
	snap, err := s.Load(ctx, userID, firmID, res, resID)
	if err != nil {
		return false, err
	}
	return Resolve(snap, res, resID, action, time.Now()), nil
}

/* ============================== Middleware ============================== */

// RequireMember resolves the caller's active firm membership and stores
// firmID and membership in locals. 403 when the user is firm-less.
func (s *Service) RequireMember() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := uuid.Parse(auth.MustUserID(c))
		if err != nil {
			return fiber.ErrUnauthorized
		}
		var fu models.FirmUser
		if err := s.db.WithContext(c.Context()).
			Where("user_id = ? AND status = ?", userID, models.MemberActive).
			First(&fu).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusForbidden, "no active firm membership")
			}
			return fiber.ErrInternalServerError
		}
		c.Locals("firmID", fu.FirmID.String())
		c.Locals("membership", &fu)
		return c.Next()
	}
}

// Require guards a route with a permission decision. The resource id is
// read from the named route param; pass "" for type-level operations
// (create/list), which resolve against the zero UUID.
func (s *Service) Require(res models.ResourceType, action models.Action, idParam string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := uuid.Parse(auth.MustUserID(c))
		if err != nil {
			return fiber.ErrUnauthorized
		}
		firmID, err := uuid.Parse(MustFirmID(c))
		if err != nil {
			return fiber.ErrForbidden
		}

		resID := uuid.Nil
		if idParam != "" {
			resID, err = uuid.Parse(c.Params(idParam))
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid id")
			}
		}

		ok, err := s.Decide(c.Context(), userID, firmID, res, resID, action)
		if err != nil {
			return fiber.ErrInternalServerError
		}
		if !ok {
			return fiber.ErrForbidden
		}
		return c.Next()
	}
}

// MustFirmID reads the firm ID placed by RequireMember or panics
// (programming error).
func MustFirmID(c *fiber.Ctx) string {
	if v := c.Locals("firmID"); v != nil {
		return v.(string)
	}
	panic(errors.New("firm not in context"))
}
