package firms

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/internal/access"
	"github.com/maktabhq/maktab-backend/internal/auth"
	"github.com/maktabhq/maktab-backend/internal/storage"
	"github.com/maktabhq/maktab-backend/pkg/models"
	"github.com/maktabhq/maktab-backend/pkg/validation"
)

type Handler struct {
	db *gorm.DB
	sb *storage.Supabase
}

func NewHandler(db *gorm.DB, sb *storage.Supabase) *Handler {
	return &Handler{db: db, sb: sb}
}

/* ================================ DTOs ================================= */

type CreateFirmRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=120"`
	NameAr   string `json:"name_ar" validate:"omitempty,max=120"`
	Timezone string `json:"timezone" validate:"omitempty,max=60"`
}

type UpdateFirmRequest struct {
	Name           *string `json:"name" validate:"omitempty,min=2,max=120"`
	NameAr         *string `json:"name_ar" validate:"omitempty,max=120"`
	PrimaryColor   *string `json:"primary_color" validate:"omitempty,max=10"`
	SecondaryColor *string `json:"secondary_color" validate:"omitempty,max=10"`
	Timezone       *string `json:"timezone" validate:"omitempty,max=60"`
}

type InviteMemberRequest struct {
	Email  string  `json:"email" validate:"required,email,max=120"`
	RoleID *string `json:"role_id" validate:"omitempty,uuid4"`
}

type UpdateMemberRequest struct {
	RoleID            *string  `json:"role_id" validate:"omitempty,uuid4"`
	Status            *string  `json:"status" validate:"omitempty,oneof=active suspended"`
	CustomPermissions []string `json:"custom_permissions"`
}

/* ============================ Firm lifecycle ============================ */

// allPermissionKeys covers every resource/action pair; used for the system
// Owner role so firm creators are never locked out.
func allPermissionKeys() []string {
	resources := []models.ResourceType{
		models.ResCase, models.ResClient, models.ResHearing, models.ResJudgment,
		models.ResDocument, models.ResNote, models.ResExpense, models.ResReminder,
		models.ResRole, models.ResFirm,
	}
	actions := []models.Action{models.ActionView, models.ActionEdit, models.ActionManage}
	keys := make([]string, 0, len(resources)*len(actions))
	for _, r := range resources {
		for _, a := range actions {
			keys = append(keys, access.Key(r, a))
		}
	}
	return keys
}

// @Summary      Create firm
// @Description  Create a firm; the creator becomes its owner
// @Tags         firms
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateFirmRequest  true  "Firm payload"
// @Success      201  {object}  map[string]string  "id"
// @Failure      409  {object}  models.ErrorResponse  "already a firm member"
// @Router       /firms [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateFirmRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	userID, _ := uuid.Parse(auth.MustUserID(c))

	// A user belongs to at most one firm at a time.
	var existing int64
	if err := h.db.Model(&models.FirmUser{}).
		Where("user_id = ? AND status <> ?", userID, models.MemberSuspended).
		Count(&existing).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if existing > 0 {
		return fiber.NewError(fiber.StatusConflict, "already a firm member")
	}

	firm := models.Firm{
		Name:   strings.TrimSpace(in.Name),
		NameAr: strings.TrimSpace(in.NameAr),
	}
	if tz := strings.TrimSpace(in.Timezone); tz != "" {
		firm.Timezone = tz
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&firm).Error; err != nil {
			return err
		}
		owner := models.Role{
			FirmID:      firm.ID,
			Name:        "Owner",
			NameAr:      "مالك",
			Permissions: allPermissionKeys(),
			IsSystem:    true,
		}
		if err := tx.Create(&owner).Error; err != nil {
			return err
		}
		fu := models.FirmUser{
			FirmID: firm.ID,
			UserID: userID,
			RoleID: &owner.ID,
			Status: models.MemberActive,
		}
		return tx.Create(&fu).Error
	})
	if err != nil {
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": firm.ID})
}

// @Summary      Get my firm
// @Tags         firms
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.Firm
// @Router       /firm [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)

	var firm models.Firm
	if err := h.db.First(&firm, "id = ?", firmID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	return c.JSON(firm)
}

// @Summary      Update firm branding and settings
// @Tags         firms
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Router       /firm [patch]
func (h *Handler) Update(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)

	var in UpdateFirmRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	updates := map[string]any{}
	if in.Name != nil {
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.NameAr != nil {
		updates["name_ar"] = strings.TrimSpace(*in.NameAr)
	}
	if in.PrimaryColor != nil {
		updates["primary_color"] = *in.PrimaryColor
	}
	if in.SecondaryColor != nil {
		updates["secondary_color"] = *in.SecondaryColor
	}
	if in.Timezone != nil {
		updates["timezone"] = strings.TrimSpace(*in.Timezone)
	}
	if len(updates) == 0 {
		return c.JSON(fiber.Map{"ok": true})
	}

	if err := h.db.Model(&models.Firm{}).Where("id = ?", firmID).
		Updates(updates).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Soft-delete firm
// @Description  Logical deletion; firm-scoped data stays behind the tenant filter
// @Tags         firms
// @Security     BearerAuth
// @Router       /firm [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)

	if err := h.db.Delete(&models.Firm{}, "id = ?", firmID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

/* ============================== Membership ============================== */

// @Summary      Invite a member
// @Description  Attach an existing account to the firm as invited
// @Tags         firms
// @Security     BearerAuth
// @Router       /firm/members [post]
func (h *Handler) InviteMember(c *fiber.Ctx) error {
	firmID, _ := uuid.Parse(access.MustFirmID(c))
	actorID, _ := uuid.Parse(auth.MustUserID(c))

	var in InviteMemberRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var u models.User
	if err := h.db.Where("email = ?", strings.ToLower(strings.TrimSpace(in.Email))).
		First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no account with that email")
		}
		return fiber.ErrInternalServerError
	}

	// A user belongs to at most one firm at a time. The unique index only
	// covers (firm_id, user_id), so an invitation from a second firm would
	// otherwise create a parallel membership row.
	var existing int64
	if err := h.db.Model(&models.FirmUser{}).
		Where("user_id = ? AND status <> ?", u.ID, models.MemberSuspended).
		Count(&existing).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if existing > 0 {
		return fiber.NewError(fiber.StatusConflict, "user already belongs to a firm")
	}

	fu := models.FirmUser{
		FirmID:    firmID,
		UserID:    u.ID,
		Status:    models.MemberInvited,
		InvitedBy: &actorID,
	}
	if in.RoleID != nil {
		rid, err := uuid.Parse(*in.RoleID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid role_id")
		}
		var cnt int64
		if err := h.db.Model(&models.Role{}).
			Where("id = ? AND firm_id = ?", rid, firmID).
			Count(&cnt).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		if cnt == 0 {
			return fiber.NewError(fiber.StatusNotFound, "role not found")
		}
		fu.RoleID = &rid
	}

	if err := h.db.Create(&fu).Error; err != nil {
		return fiber.NewError(fiber.StatusConflict, "user already belongs to a firm")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": fu.ID})
}

// @Summary      Accept my invitation
// @Tags         firms
// @Security     BearerAuth
// @Router       /firm-invitations/accept [post]
func (h *Handler) AcceptInvite(c *fiber.Ctx) error {
	userID, _ := uuid.Parse(auth.MustUserID(c))

	// Refuse while an active membership exists anywhere; otherwise the
	// accept would leave the user resolving into an arbitrary firm.
	var active int64
	if err := h.db.Model(&models.FirmUser{}).
		Where("user_id = ? AND status = ?", userID, models.MemberActive).
		Count(&active).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if active > 0 {
		return fiber.NewError(fiber.StatusConflict, "already an active firm member")
	}

	res := h.db.Model(&models.FirmUser{}).
		Where("user_id = ? AND status = ?", userID, models.MemberInvited).
		Update("status", models.MemberActive)
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusNotFound, "no pending invitation")
	}
	return c.JSON(fiber.Map{"ok": true})
}

type memberItem struct {
	ID     uuid.UUID           `json:"id"`
	UserID uuid.UUID           `json:"user_id"`
	Name   string              `json:"name"`
	Email  string              `json:"email"`
	RoleID *uuid.UUID          `json:"role_id,omitempty"`
	Status models.MemberStatus `json:"status"`
}

// @Summary      List members
// @Tags         firms
// @Security     BearerAuth
// @Produce      json
// @Router       /firm/members [get]
func (h *Handler) ListMembers(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)

	rows := []memberItem{}
	if err := h.db.
		Table("firm_users").
		Select(`firm_users.id, firm_users.user_id, users.name, users.email,
          firm_users.role_id, firm_users.status`).
		Joins("JOIN users ON users.id = firm_users.user_id").
		Where("firm_users.firm_id = ?", firmID).
		Order("firm_users.created_at ASC").
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"items": rows})
}

// @Summary      Update a member's role, status or permission overrides
// @Tags         firms
// @Security     BearerAuth
// @Router       /firm/members/{id} [patch]
func (h *Handler) UpdateMember(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	memberID := c.Params("id")
	if _, err := uuid.Parse(memberID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid member id")
	}

	var in UpdateMemberRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var fu models.FirmUser
	if err := h.db.Where("id = ? AND firm_id = ?", memberID, firmID).
		First(&fu).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if in.RoleID != nil {
		rid, err := uuid.Parse(*in.RoleID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid role_id")
		}
		fu.RoleID = &rid
	}
	if in.Status != nil {
		fu.Status = models.MemberStatus(*in.Status)
	}
	if in.CustomPermissions != nil {
		fu.CustomPermissions = in.CustomPermissions
	}

	if err := h.db.Save(&fu).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}
