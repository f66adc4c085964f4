package hearings

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/maktabhq/maktab-backend/internal/access"
	"github.com/maktabhq/maktab-backend/internal/auth"
	"github.com/maktabhq/maktab-backend/pkg/models"
	"github.com/maktabhq/maktab-backend/pkg/utils"
	"github.com/maktabhq/maktab-backend/pkg/validation"
)

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

/* ================================ DTOs ================================= */

type CreateHearingRequest struct {
	HeldAt    string `json:"held_at" validate:"required"` // RFC 3339
	CourtRoom string `json:"court_room" validate:"omitempty,max=60"`
	Notes     string `json:"notes" validate:"omitempty,max=2000"`
}

type PostponeRequest struct {
	PostponedTo string `json:"postponed_to" validate:"required"` // RFC 3339
	Reason      string `json:"reason" validate:"omitempty,max=500"`
}

type JudgmentRequest struct {
	Summary      string `json:"summary" validate:"omitempty,max=5000"`
	JudgmentDate string `json:"judgment_date" validate:"required"` // RFC 3339
	// appeal_deadline is derived server-side and never accepted here.
}

/* =============================== Hearings =============================== */

// @Summary      Schedule hearing
// @Description  Hearing numbers are sequential per case
// @Tags         hearings
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                true  "case id (uuid)"
// @Param        payload  body  CreateHearingRequest  true  "Hearing payload"
// @Success      201  {object}  map[string]any  "id, hearing_number"
// @Router       /cases/{id}/hearings [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	caseID := c.Params("id")
	if _, err := uuid.Parse(caseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	var in CreateHearingRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	heldAt, err := time.Parse(time.RFC3339, in.HeldAt)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid held_at")
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	// Lock the case row so concurrent inserts cannot race for the next
	// hearing number.
	var cs models.Case
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&cs, "id = ? AND firm_id = ?", caseID, firmID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	var maxNo int
	if err := tx.Model(&models.Hearing{}).
		Where("case_id = ?", cs.ID).
		Select("COALESCE(MAX(hearing_number), 0)").
		Scan(&maxNo).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	hr := models.Hearing{
		FirmID:        cs.FirmID,
		CaseID:        cs.ID,
		HearingNumber: maxNo + 1,
		HeldAt:        heldAt,
		CourtRoom:     strings.TrimSpace(in.CourtRoom),
		Notes:         strings.TrimSpace(in.Notes),
	}
	if err := tx.Create(&hr).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": hr.ID, "hearing_number": hr.HearingNumber,
	})
}

// @Summary      List hearings for a case
// @Tags         hearings
// @Security     BearerAuth
// @Produce      json
// @Router       /cases/{id}/hearings [get]
func (h *Handler) ListByCase(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	caseID := c.Params("id")
	if _, err := uuid.Parse(caseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	items := []models.Hearing{}
	if err := h.db.Where("case_id = ? AND firm_id = ?", caseID, firmID).
		Order("hearing_number ASC").Find(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"items": items})
}

// @Summary      Postpone hearing
// @Description  Reschedules without losing the original record
// @Tags         hearings
// @Security     BearerAuth
// @Router       /hearings/{hearingID}/postpone [patch]
func (h *Handler) Postpone(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	hearingID := c.Params("hearingID")
	if _, err := uuid.Parse(hearingID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid hearing id")
	}

	var in PostponeRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	to, err := time.Parse(time.RFC3339, in.PostponedTo)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid postponed_to")
	}

	var hr models.Hearing
	if err := h.db.Where("id = ? AND firm_id = ?", hearingID, firmID).
		First(&hr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if err := h.db.Model(&hr).Updates(map[string]any{
		"is_postponed":    true,
		"postponed_to":    to,
		"postpone_reason": strings.TrimSpace(in.Reason),
	}).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	actorID, _ := uuid.Parse(auth.MustUserID(c))
	utils.LogCaseHistory(c.Context(), h.db, hr.CaseID, actorID,
		utils.ActionHearingPostponed, "", "", strings.TrimSpace(in.Reason))

	return c.JSON(fiber.Map{"ok": true})
}

/* =============================== Judgments ============================== */

// @Summary      Record judgment for a hearing
// @Description  appeal_deadline is derived as judgment_date + 30 days
// @Tags         judgments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        hearingID  path  string           true  "hearing id (uuid)"
// @Param        payload    body  JudgmentRequest  true  "Judgment payload"
// @Success      201  {object}  map[string]any  "id, appeal_deadline"
// @Failure      409  {object}  models.ErrorResponse  "hearing already has a judgment"
// @Router       /hearings/{hearingID}/judgment [post]
func (h *Handler) CreateJudgment(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	hearingID := c.Params("hearingID")
	if _, err := uuid.Parse(hearingID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid hearing id")
	}

	var in JudgmentRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	jDate, err := time.Parse(time.RFC3339, in.JudgmentDate)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid judgment_date")
	}

	var hr models.Hearing
	if err := h.db.Where("id = ? AND firm_id = ?", hearingID, firmID).
		First(&hr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if hr.HasJudgment {
		return fiber.NewError(fiber.StatusConflict, "hearing already has a judgment")
	}

	j := models.Judgment{
		FirmID:         hr.FirmID,
		CaseID:         hr.CaseID,
		HearingID:      hr.ID,
		Summary:        strings.TrimSpace(in.Summary),
		JudgmentDate:   jDate,
		AppealDeadline: AppealDeadline(jDate),
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&j).Error; err != nil {
			return err
		}
		return tx.Model(&models.Hearing{}).Where("id = ?", hr.ID).
			Update("has_judgment", true).Error
	})
	if err != nil {
		return fiber.ErrInternalServerError
	}

	actorID, _ := uuid.Parse(auth.MustUserID(c))
	utils.LogCaseHistory(c.Context(), h.db, hr.CaseID, actorID,
		utils.ActionJudgmentRecorded, "", "", "")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": j.ID, "appeal_deadline": j.AppealDeadline,
	})
}

// @Summary      Update judgment
// @Description  Editing judgment_date recomputes appeal_deadline
// @Tags         judgments
// @Security     BearerAuth
// @Router       /judgments/{judgmentID} [patch]
func (h *Handler) UpdateJudgment(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	judgmentID := c.Params("judgmentID")
	if _, err := uuid.Parse(judgmentID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid judgment id")
	}

	var in struct {
		Summary      *string `json:"summary" validate:"omitempty,max=5000"`
		JudgmentDate *string `json:"judgment_date"`
	}
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var j models.Judgment
	if err := h.db.Where("id = ? AND firm_id = ?", judgmentID, firmID).
		First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if in.Summary != nil {
		j.Summary = strings.TrimSpace(*in.Summary)
	}
	if in.JudgmentDate != nil {
		jDate, err := time.Parse(time.RFC3339, *in.JudgmentDate)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid judgment_date")
		}
		j.JudgmentDate = jDate
		j.AppealDeadline = AppealDeadline(jDate)
	}

	if err := h.db.Save(&j).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true, "appeal_deadline": j.AppealDeadline})
}

// @Summary      List judgments for a case
// @Tags         judgments
// @Security     BearerAuth
// @Produce      json
// @Router       /cases/{id}/judgments [get]
func (h *Handler) ListJudgmentsByCase(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	caseID := c.Params("id")
	if _, err := uuid.Parse(caseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	items := []models.Judgment{}
	if err := h.db.Where("case_id = ? AND firm_id = ?", caseID, firmID).
		Order("judgment_date DESC").Find(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"items": items})
}
