package cases

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/internal/auth"
	"github.com/maktabhq/maktab-backend/pkg/models"
	"github.com/maktabhq/maktab-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

type NoteRequest struct {
	Body     string  `json:"body" validate:"required,max=5000"`
	Pinned   bool    `json:"pinned"`
	Private  bool    `json:"private"`
	RemindAt *string `json:"remind_at"` // RFC 3339
}

type UpdateNoteRequest struct {
	Body     *string `json:"body" validate:"omitempty,max=5000"`
	Pinned   *bool   `json:"pinned"`
	Private  *bool   `json:"private"`
	RemindAt *string `json:"remind_at"`
}

type CaseUpdateRequest struct {
	Body string `json:"body" validate:"required,max=5000"`
}

/* ================================ Notes ================================= */

// @Summary      Add note to case
// @Tags         notes
// @Security     BearerAuth
// @Router       /cases/{id}/notes [post]
func (h *Handler) CreateNote(c *fiber.Ctx) error {
	cs, err := h.loadCase(c, c.Params("id"))
	if err != nil {
		return err
	}

	var in NoteRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	authorID, _ := uuid.Parse(auth.MustUserID(c))
	note := models.Note{
		FirmID:   cs.FirmID,
		CaseID:   cs.ID,
		AuthorID: authorID,
		Body:     strings.TrimSpace(in.Body),
		Pinned:   in.Pinned,
		Private:  in.Private,
	}
	if in.RemindAt != nil && *in.RemindAt != "" {
		t, err := time.Parse(time.RFC3339, *in.RemindAt)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid remind_at")
		}
		note.RemindAt = &t
	}

	if err := h.db.Create(&note).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": note.ID})
}

// @Summary      Edit note (author only)
// @Tags         notes
// @Security     BearerAuth
// @Router       /notes/{noteID} [patch]
func (h *Handler) UpdateNote(c *fiber.Ctx) error {
	noteID := c.Params("noteID")
	if _, err := uuid.Parse(noteID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid note id")
	}

	var in UpdateNoteRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	authorID := auth.MustUserID(c)
	var note models.Note
	if err := h.db.Where("id = ? AND author_id = ?", noteID, authorID).
		First(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if in.Body != nil {
		note.Body = strings.TrimSpace(*in.Body)
	}
	if in.Pinned != nil {
		note.Pinned = *in.Pinned
	}
	if in.Private != nil {
		note.Private = *in.Private
	}
	if in.RemindAt != nil {
		if *in.RemindAt == "" {
			note.RemindAt = nil
		} else {
			t, err := time.Parse(time.RFC3339, *in.RemindAt)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid remind_at")
			}
			note.RemindAt = &t
		}
	}

	if err := h.db.Save(&note).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Delete note (author only)
// @Tags         notes
// @Security     BearerAuth
// @Router       /notes/{noteID} [delete]
func (h *Handler) DeleteNote(c *fiber.Ctx) error {
	noteID := c.Params("noteID")
	if _, err := uuid.Parse(noteID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid note id")
	}

	res := h.db.Where("id = ? AND author_id = ?", noteID, auth.MustUserID(c)).
		Delete(&models.Note{})
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{"ok": true})
}

/* ============================= Case updates ============================= */

// @Summary      Append a case update
// @Tags         cases
// @Security     BearerAuth
// @Router       /cases/{id}/updates [post]
func (h *Handler) CreateUpdate(c *fiber.Ctx) error {
	cs, err := h.loadCase(c, c.Params("id"))
	if err != nil {
		return err
	}

	var in CaseUpdateRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	authorID, _ := uuid.Parse(auth.MustUserID(c))
	upd := models.CaseUpdate{
		FirmID:   cs.FirmID,
		CaseID:   cs.ID,
		AuthorID: authorID,
		Body:     strings.TrimSpace(in.Body),
	}
	if err := h.db.Create(&upd).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": upd.ID})
}
