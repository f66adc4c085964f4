package clients

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/internal/access"
	"github.com/maktabhq/maktab-backend/internal/auth"
	"github.com/maktabhq/maktab-backend/pkg/models"
	"github.com/maktabhq/maktab-backend/pkg/sanitize"
	"github.com/maktabhq/maktab-backend/pkg/validation"
)

type Handler struct {
	db  *gorm.DB
	acl *access.Service
}

func NewHandler(db *gorm.DB, acl *access.Service) *Handler {
	return &Handler{db: db, acl: acl}
}

/* ================================ DTOs ================================= */

type ClientRequest struct {
	Type       string `json:"type" validate:"required,oneof=individual company government organization"`
	Name       string `json:"name" validate:"required,min=2,max=120"`
	NameAr     string `json:"name_ar" validate:"omitempty,max=120"`
	Email      string `json:"email" validate:"omitempty,email,max=120"`
	Phone      string `json:"phone" validate:"omitempty,max=20"`
	Address    string `json:"address" validate:"omitempty,max=300"`
	NationalID string `json:"national_id" validate:"omitempty,max=40"`
	Notes      string `json:"notes" validate:"omitempty,max=2000"`
}

type UpdateClientRequest struct {
	Name               *string `json:"name" validate:"omitempty,min=2,max=120"`
	NameAr             *string `json:"name_ar" validate:"omitempty,max=120"`
	Email              *string `json:"email" validate:"omitempty,email,max=120"`
	Phone              *string `json:"phone" validate:"omitempty,max=20"`
	Address            *string `json:"address" validate:"omitempty,max=300"`
	VerificationStatus *string `json:"verification_status" validate:"omitempty,oneof=unverified pending verified rejected"`
	RiskLevel          *string `json:"risk_level" validate:"omitempty,oneof=low medium high"`
	Notes              *string `json:"notes" validate:"omitempty,max=2000"`
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

// redactForViewer masks contact fields when the caller's access to this
// client resolves below "edit" (KYC privacy).
func (h *Handler) redactForViewer(c *fiber.Ctx, client *models.Client) {
	userID, err := uuid.Parse(auth.MustUserID(c))
	if err != nil {
		return
	}
	firmID, err := uuid.Parse(access.MustFirmID(c))
	if err != nil {
		return
	}
	ok, err := h.acl.Decide(c.Context(), userID, firmID, models.ResClient, client.ID, models.ActionEdit)
	if err != nil || ok {
		return
	}
	client.Email = sanitize.RedactPII(client.Email)
	client.Phone = sanitize.RedactPII(client.Phone)
	client.NationalID = ""
}

/* =============================== Handlers =============================== */

// @Summary      Create client
// @Tags         clients
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  ClientRequest  true  "Client payload"
// @Success      201  {object}  map[string]string  "id"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /clients [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	firmID, _ := uuid.Parse(access.MustFirmID(c))

	var in ClientRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	client := models.Client{
		FirmID:     firmID,
		Type:       models.ClientType(in.Type),
		Name:       strings.TrimSpace(in.Name),
		NameAr:     strings.TrimSpace(in.NameAr),
		Email:      strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:      strings.TrimSpace(in.Phone),
		Address:    strings.TrimSpace(in.Address),
		NationalID: strings.TrimSpace(in.NationalID),
		Notes:      strings.TrimSpace(in.Notes),
	}
	if err := h.db.Create(&client).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": client.ID})
}

type clientListItem struct {
	ID                 uuid.UUID         `json:"id"`
	Type               models.ClientType `json:"type"`
	Name               string            `json:"name"`
	VerificationStatus string            `json:"verification_status"`
	RiskLevel          string            `json:"risk_level"`
	Cases              int64             `json:"cases"`
	CreatedAt          time.Time         `json:"created_at"`
}

// @Summary      List clients (paginated, with case counts)
// @Tags         clients
// @Security     BearerAuth
// @Produce      json
// @Router       /clients [get]
func (h *Handler) List(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Client{}).Where("clients.firm_id = ?", firmID)
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		q = q.Where("clients.name ILIKE ?", "%"+search+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]clientListItem, 0, size)
	if err := q.
		Select(`clients.id, clients.type, clients.name, clients.verification_status,
          clients.risk_level, clients.created_at, COUNT(cases.id) AS cases`).
		Joins("LEFT JOIN cases ON cases.client_id = clients.id").
		Group("clients.id").
		Order("clients.created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

// @Summary      Client detail
// @Description  Contact fields are redacted below edit access
// @Tags         clients
// @Security     BearerAuth
// @Produce      json
// @Router       /clients/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	id := c.Params("id")

	var client models.Client
	if err := h.db.Where("id = ? AND firm_id = ?", id, firmID).
		First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	h.redactForViewer(c, &client)
	return c.JSON(client)
}

// @Summary      Update client
// @Tags         clients
// @Security     BearerAuth
// @Router       /clients/{id} [patch]
func (h *Handler) Update(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	id := c.Params("id")

	var in UpdateClientRequest
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
	if in.Email != nil {
		updates["email"] = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Phone != nil {
		updates["phone"] = strings.TrimSpace(*in.Phone)
	}
	if in.Address != nil {
		updates["address"] = strings.TrimSpace(*in.Address)
	}
	if in.VerificationStatus != nil {
		updates["verification_status"] = *in.VerificationStatus
	}
	if in.RiskLevel != nil {
		updates["risk_level"] = *in.RiskLevel
	}
	if in.Notes != nil {
		updates["notes"] = strings.TrimSpace(*in.Notes)
	}
	if len(updates) == 0 {
		return c.JSON(fiber.Map{"ok": true})
	}

	res := h.db.Model(&models.Client{}).
		Where("id = ? AND firm_id = ?", id, firmID).
		Updates(updates)
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Delete client
// @Description  Refused while cases still reference the client
// @Tags         clients
// @Security     BearerAuth
// @Router       /clients/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid client id")
	}

	var inUse int64
	if err := h.db.Model(&models.Case{}).
		Where("client_id = ? AND firm_id = ?", id, firmID).
		Count(&inUse).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if inUse > 0 {
		return fiber.NewError(fiber.StatusConflict, "client has cases")
	}

	res := h.db.Where("id = ? AND firm_id = ?", id, firmID).Delete(&models.Client{})
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{"ok": true})
}
