package reminders

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

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

/* ================================ DTOs ================================= */

type ReminderRequest struct {
	Title    string  `json:"title" validate:"required,max=120"`
	Body     string  `json:"body" validate:"omitempty,max=2000"`
	RemindAt string  `json:"remind_at" validate:"required"` // RFC 3339
	CaseID   *string `json:"case_id" validate:"omitempty,uuid4"`
}

type SnoozeRequest struct {
	Until string `json:"until" validate:"required"` // RFC 3339, must be in the future
}

/* =============================== Handlers =============================== */

// @Summary      Create reminder
// @Tags         reminders
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  ReminderRequest  true  "Reminder payload"
// @Success      201  {object}  map[string]string  "id"
// @Router       /reminders [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	firmID, _ := uuid.Parse(access.MustFirmID(c))
	userID, _ := uuid.Parse(auth.MustUserID(c))

	var in ReminderRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	remindAt, err := time.Parse(time.RFC3339, in.RemindAt)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid remind_at")
	}

	r := models.Reminder{
		FirmID:   firmID,
		UserID:   userID,
		Title:    strings.TrimSpace(in.Title),
		Body:     strings.TrimSpace(in.Body),
		RemindAt: remindAt,
		Status:   models.ReminderPending,
	}
	if in.CaseID != nil {
		caseID, _ := uuid.Parse(*in.CaseID)
		var cnt int64
		if err := h.db.Model(&models.Case{}).
			Where("id = ? AND firm_id = ?", caseID, firmID).
			Count(&cnt).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		if cnt == 0 {
			return fiber.NewError(fiber.StatusNotFound, "case not found")
		}
		r.CaseID = &caseID
	}

	if err := h.db.Create(&r).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": r.ID})
}

// @Summary      List my reminders
// @Tags         reminders
// @Security     BearerAuth
// @Produce      json
// @Param        status  query string false "status filter"
// @Router       /reminders [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	q := h.db.Where("user_id = ?", userID)
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		switch models.ReminderStatus(status) {
		case models.ReminderPending, models.ReminderDue, models.ReminderSnoozed,
			models.ReminderDismissed, models.ReminderCompleted:
			q = q.Where("status = ?", status)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
	}

	items := []models.Reminder{}
	if err := q.Order("remind_at ASC").Find(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"items": items})
}

// loadMine fetches a reminder owned by the caller.
func (h *Handler) loadMine(c *fiber.Ctx) (*models.Reminder, error) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid reminder id")
	}
	var r models.Reminder
	err := h.db.Where("id = ? AND user_id = ?", id, auth.MustUserID(c)).First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.ErrNotFound
		}
		return nil, fiber.ErrInternalServerError
	}
	return &r, nil
}

// @Summary      Snooze reminder
// @Description  Pushes remind_at forward and returns the reminder to pending
// @Tags         reminders
// @Security     BearerAuth
// @Router       /reminders/{id}/snooze [patch]
func (h *Handler) Snooze(c *fiber.Ctx) error {
	r, err := h.loadMine(c)
	if err != nil {
		return err
	}
	if r.Status == models.ReminderDismissed || r.Status == models.ReminderCompleted {
		return fiber.NewError(fiber.StatusConflict, "reminder is finished")
	}

	var in SnoozeRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	until, perr := time.Parse(time.RFC3339, in.Until)
	if perr != nil || !until.After(time.Now()) {
		return fiber.NewError(fiber.StatusBadRequest, "until must be a future timestamp")
	}

	if err := h.db.Model(r).Updates(map[string]any{
		"remind_at": until,
		"status":    models.ReminderSnoozed,
	}).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Dismiss reminder
// @Tags         reminders
// @Security     BearerAuth
// @Router       /reminders/{id}/dismiss [patch]
func (h *Handler) Dismiss(c *fiber.Ctx) error {
	r, err := h.loadMine(c)
	if err != nil {
		return err
	}
	if r.Status == models.ReminderCompleted {
		return fiber.NewError(fiber.StatusConflict, "reminder already completed")
	}

	if err := h.db.Model(r).Update("status", models.ReminderDismissed).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Complete reminder
// @Tags         reminders
// @Security     BearerAuth
// @Router       /reminders/{id}/complete [patch]
func (h *Handler) Complete(c *fiber.Ctx) error {
	r, err := h.loadMine(c)
	if err != nil {
		return err
	}
	if r.Status == models.ReminderDismissed {
		return fiber.NewError(fiber.StatusConflict, "reminder was dismissed")
	}

	now := time.Now()
	if err := h.db.Model(r).Updates(map[string]any{
		"status":       models.ReminderCompleted,
		"completed_at": now,
	}).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Delete reminder
// @Tags         reminders
// @Security     BearerAuth
// @Router       /reminders/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	r, err := h.loadMine(c)
	if err != nil {
		return err
	}
	if err := h.db.Delete(r).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}
