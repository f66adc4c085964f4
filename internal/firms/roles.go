package firms

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/internal/access"
	"github.com/maktabhq/maktab-backend/internal/auth"
	"github.com/maktabhq/maktab-backend/pkg/models"
	"github.com/maktabhq/maktab-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

type policyRuleIn struct {
	ResourceType string   `json:"resource_type" validate:"required,oneof=case client hearing judgment document note expense reminder role firm"`
	ResourceID   *string  `json:"resource_id" validate:"omitempty,uuid4"`
	Actions      []string `json:"actions" validate:"required,min=1,dive,oneof=view edit manage"`
}

type RoleRequest struct {
	Name        string         `json:"name" validate:"required,min=2,max=80"`
	NameAr      string         `json:"name_ar" validate:"omitempty,max=80"`
	Permissions []string       `json:"permissions"`
	Policy      []policyRuleIn `json:"policy" validate:"omitempty,dive"`
}

type GrantRequest struct {
	UserID       string  `json:"user_id" validate:"required,uuid4"`
	ResourceType string  `json:"resource_type" validate:"required,oneof=case client hearing judgment document note expense reminder role firm"`
	ResourceID   string  `json:"resource_id" validate:"required,uuid4"`
	AccessLevel  string  `json:"access_level" validate:"required,accesslevel"`
	ExpiresAt    *string `json:"expires_at"` // RFC 3339; empty = never
}

func policyFromInput(in []policyRuleIn) ([]models.PolicyRule, error) {
	rules := make([]models.PolicyRule, 0, len(in))
	for _, r := range in {
		rule := models.PolicyRule{ResourceType: models.ResourceType(r.ResourceType)}
		if r.ResourceID != nil {
			id, err := uuid.Parse(*r.ResourceID)
			if err != nil {
				return nil, err
			}
			rule.ResourceID = &id
		}
		for _, a := range r.Actions {
			rule.Actions = append(rule.Actions, models.Action(a))
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

/* ================================ Roles ================================= */

// @Summary      List roles
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Router       /firm/roles [get]
func (h *Handler) ListRoles(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)

	roles := []models.Role{}
	if err := h.db.Where("firm_id = ?", firmID).
		Order("created_at ASC").Find(&roles).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"items": roles})
}

// @Summary      Create role
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Router       /firm/roles [post]
func (h *Handler) CreateRole(c *fiber.Ctx) error {
	firmID, _ := uuid.Parse(access.MustFirmID(c))

	var in RoleRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	policy, err := policyFromInput(in.Policy)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid resource id in policy")
	}

	role := models.Role{
		FirmID:      firmID,
		Name:        strings.TrimSpace(in.Name),
		NameAr:      strings.TrimSpace(in.NameAr),
		Permissions: in.Permissions,
		Policy:      policy,
	}
	if err := h.db.Create(&role).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": role.ID})
}

// @Summary      Update role
// @Tags         roles
// @Security     BearerAuth
// @Router       /firm/roles/{id} [patch]
func (h *Handler) UpdateRole(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	roleID := c.Params("id")
	if _, err := uuid.Parse(roleID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid role id")
	}

	var in RoleRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var role models.Role
	if err := h.db.Where("id = ? AND firm_id = ?", roleID, firmID).
		First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if role.IsSystem {
		return fiber.NewError(fiber.StatusConflict, "system role cannot be edited")
	}

	policy, err := policyFromInput(in.Policy)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid resource id in policy")
	}

	role.Name = strings.TrimSpace(in.Name)
	role.NameAr = strings.TrimSpace(in.NameAr)
	role.Permissions = in.Permissions
	role.Policy = policy
	if err := h.db.Save(&role).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Delete role
// @Description  Members still referencing the role resolve as no-role afterwards
// @Tags         roles
// @Security     BearerAuth
// @Router       /firm/roles/{id} [delete]
func (h *Handler) DeleteRole(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	roleID := c.Params("id")
	if _, err := uuid.Parse(roleID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid role id")
	}

	res := h.db.Where("id = ? AND firm_id = ? AND is_system = false", roleID, firmID).
		Delete(&models.Role{})
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{"ok": true})
}

/* ================================ Grants ================================ */

// @Summary      Grant or deny a user access to one resource
// @Description  Highest-precedence override; level "none" is an explicit deny
// @Tags         grants
// @Security     BearerAuth
// @Router       /firm/grants [post]
func (h *Handler) CreateGrant(c *fiber.Ctx) error {
	firmID, _ := uuid.Parse(access.MustFirmID(c))
	actorID, _ := uuid.Parse(auth.MustUserID(c))

	var in GrantRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	userID, _ := uuid.Parse(in.UserID)
	resourceID, _ := uuid.Parse(in.ResourceID)

	// Target must be a member of this firm.
	var cnt int64
	if err := h.db.Model(&models.FirmUser{}).
		Where("user_id = ? AND firm_id = ?", userID, firmID).
		Count(&cnt).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if cnt == 0 {
		return fiber.NewError(fiber.StatusNotFound, "user is not a firm member")
	}

	grant := models.UserResourceAccess{
		FirmID:       firmID,
		UserID:       userID,
		ResourceType: models.ResourceType(in.ResourceType),
		ResourceID:   resourceID,
		AccessLevel:  models.AccessLevel(in.AccessLevel),
		GrantedBy:    actorID,
	}
	if in.ExpiresAt != nil && *in.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *in.ExpiresAt)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid expires_at")
		}
		grant.ExpiresAt = &t
	}

	// The unique index rejects a second active row for the same tuple.
	if err := h.db.Create(&grant).Error; err != nil {
		return fiber.NewError(fiber.StatusConflict, "grant already exists for this resource")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": grant.ID})
}

// @Summary      List grants, optionally by user
// @Tags         grants
// @Security     BearerAuth
// @Router       /firm/grants [get]
func (h *Handler) ListGrants(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)

	q := h.db.Where("firm_id = ?", firmID)
	if userID := strings.TrimSpace(c.Query("user_id")); userID != "" {
		if _, err := uuid.Parse(userID); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid user_id")
		}
		q = q.Where("user_id = ?", userID)
	}

	grants := []models.UserResourceAccess{}
	if err := q.Order("created_at DESC").Find(&grants).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"items": grants})
}

// @Summary      Revoke a grant
// @Tags         grants
// @Security     BearerAuth
// @Router       /firm/grants/{id} [delete]
func (h *Handler) DeleteGrant(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	grantID := c.Params("id")
	if _, err := uuid.Parse(grantID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid grant id")
	}

	res := h.db.Where("id = ? AND firm_id = ?", grantID, firmID).
		Delete(&models.UserResourceAccess{})
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{"ok": true})
}
