package expenses

import (
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

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

/* ================================ DTOs ================================= */

type ExpenseRequest struct {
	Category    string `json:"category" validate:"required,expensecat"`
	AmountCents int64  `json:"amount_cents" validate:"required,gte=1"`
	Currency    string `json:"currency" validate:"omitempty,currency"`
	Description string `json:"description" validate:"omitempty,max=500"`
	IncurredAt  string `json:"incurred_at" validate:"omitempty"` // RFC 3339; default now
}

// Summary holds aggregate totals for one case. Collections add, expenses
// subtract.
type Summary struct {
	ExpensesCents    int64 `json:"expenses_cents"`
	CollectionsCents int64 `json:"collections_cents"`
	NetCents         int64 `json:"net_cents"`
}

// Net computes collections minus expenses.
func Net(expenses, collections int64) int64 {
	return collections - expenses
}

/* =============================== Handlers =============================== */

// @Summary      Record expense or collection
// @Tags         expenses
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string          true  "case id (uuid)"
// @Param        payload  body  ExpenseRequest  true  "Entry payload"
// @Success      201  {object}  map[string]string  "id"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /cases/{id}/expenses [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	caseID := c.Params("id")
	if _, err := uuid.Parse(caseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	var in ExpenseRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var cnt int64
	if err := h.db.Model(&models.Case{}).
		Where("id = ? AND firm_id = ?", caseID, firmID).
		Count(&cnt).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if cnt == 0 {
		return fiber.ErrNotFound
	}

	incurredAt := time.Now()
	if in.IncurredAt != "" {
		t, err := time.Parse(time.RFC3339, in.IncurredAt)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid incurred_at")
		}
		incurredAt = t
	}

	fid, _ := uuid.Parse(firmID)
	cid, _ := uuid.Parse(caseID)
	actorID, _ := uuid.Parse(auth.MustUserID(c))
	e := models.CaseExpense{
		FirmID:      fid,
		CaseID:      cid,
		Category:    models.ExpenseCategory(in.Category),
		AmountCents: in.AmountCents,
		Description: strings.TrimSpace(in.Description),
		IncurredAt:  incurredAt,
		CreatedBy:   actorID,
	}
	if in.Currency != "" {
		e.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	}
	if err := h.db.Create(&e).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": e.ID})
}

// @Summary      List case expenses
// @Tags         expenses
// @Security     BearerAuth
// @Produce      json
// @Router       /cases/{id}/expenses [get]
func (h *Handler) ListByCase(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	caseID := c.Params("id")
	if _, err := uuid.Parse(caseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	items := []models.CaseExpense{}
	if err := h.db.Where("case_id = ? AND firm_id = ?", caseID, firmID).
		Order("incurred_at DESC").Find(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"items": items})
}

// @Summary      Case net balance
// @Description  Collections are additive, expenses subtractive
// @Tags         expenses
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  Summary
// @Router       /cases/{id}/expenses/summary [get]
func (h *Handler) Summarize(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	caseID := c.Params("id")
	if _, err := uuid.Parse(caseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	var row struct {
		Expenses    int64
		Collections int64
	}
	if err := h.db.Model(&models.CaseExpense{}).
		Select(`COALESCE(SUM(CASE WHEN category = 'expense' THEN amount_cents ELSE 0 END), 0) AS expenses,
          COALESCE(SUM(CASE WHEN category = 'collection' THEN amount_cents ELSE 0 END), 0) AS collections`).
		Where("case_id = ? AND firm_id = ?", caseID, firmID).
		Scan(&row).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(Summary{
		ExpensesCents:    row.Expenses,
		CollectionsCents: row.Collections,
		NetCents:         Net(row.Expenses, row.Collections),
	})
}

// @Summary      Delete expense entry
// @Tags         expenses
// @Security     BearerAuth
// @Router       /expenses/{expenseID} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	expenseID := c.Params("expenseID")
	if _, err := uuid.Parse(expenseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid expense id")
	}

	res := h.db.Where("id = ? AND firm_id = ?", expenseID, firmID).
		Delete(&models.CaseExpense{})
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{"ok": true})
}
