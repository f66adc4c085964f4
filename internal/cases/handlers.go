package cases

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/internal/access"
	"github.com/maktabhq/maktab-backend/internal/auth"
	"github.com/maktabhq/maktab-backend/internal/storage"
	"github.com/maktabhq/maktab-backend/pkg/models"
	"github.com/maktabhq/maktab-backend/pkg/sanitize"
	"github.com/maktabhq/maktab-backend/pkg/utils"
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

type CreateCaseRequest struct {
	Title            string  `json:"title" validate:"required,max=120"`
	Description      string  `json:"description" validate:"max=5000"`
	CaseNumber       string  `json:"case_number" validate:"omitempty,max=60"`
	CourtName        string  `json:"court_name" validate:"omitempty,max=120"`
	ClaimAmountCents int64   `json:"claim_amount_cents" validate:"omitempty,gte=0"`
	Currency         string  `json:"currency" validate:"omitempty,currency"`
	Stage            string  `json:"stage" validate:"omitempty,max=60"`
	ClientID         *string `json:"client_id" validate:"omitempty,uuid4"`
	// Legacy party fields, used only when no client record is linked.
	ClientName   string  `json:"client_name" validate:"omitempty,max=120"`
	ClientPhone  string  `json:"client_phone" validate:"omitempty,max=20"`
	ParentCaseID *string `json:"parent_case_id" validate:"omitempty,uuid4"`
	Password     string  `json:"password" validate:"omitempty,min=4,max=72"`
}

type UpdateCaseRequest struct {
	Title            *string `json:"title" validate:"omitempty,max=120"`
	Description      *string `json:"description" validate:"omitempty,max=5000"`
	CaseNumber       *string `json:"case_number" validate:"omitempty,max=60"`
	CourtName        *string `json:"court_name" validate:"omitempty,max=120"`
	ClaimAmountCents *int64  `json:"claim_amount_cents" validate:"omitempty,gte=0"`
	Currency         *string `json:"currency" validate:"omitempty,currency"`
	Stage            *string `json:"stage" validate:"omitempty,max=60"`
	SetPassword      *string `json:"set_password" validate:"omitempty,min=4,max=72"`
	ClearPassword    bool    `json:"clear_password"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active pending closed archived decided"`
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type UnlockRequest struct {
	Password string `json:"password" validate:"required"`
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

/* ================================ Create ================================ */

// @Summary      Create case
// @Description  Party fields are snapshotted from the client record at creation and never re-synced
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateCaseRequest  true  "Case payload"
// @Success      201  {object}  map[string]string  "id"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /cases [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	firmID, _ := uuid.Parse(access.MustFirmID(c))
	actorID, _ := uuid.Parse(auth.MustUserID(c))

	var in CreateCaseRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	cs := models.Case{
		FirmID:           firmID,
		Title:            strings.TrimSpace(in.Title),
		Description:      strings.TrimSpace(in.Description),
		CaseNumber:       strings.TrimSpace(in.CaseNumber),
		CourtName:        strings.TrimSpace(in.CourtName),
		ClaimAmountCents: in.ClaimAmountCents,
		Stage:            strings.TrimSpace(in.Stage),
		Status:           models.CaseActive,
		CreatedBy:        actorID,
		ClientName:       strings.TrimSpace(in.ClientName),
		ClientPhone:      strings.TrimSpace(in.ClientPhone),
	}
	if in.Currency != "" {
		cs.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	}

	if in.ClientID != nil {
		clientID, _ := uuid.Parse(*in.ClientID)
		var client models.Client
		if err := h.db.Where("id = ? AND firm_id = ?", clientID, firmID).
			First(&client).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "client not found")
			}
			return fiber.ErrInternalServerError
		}
		cs.ClientID = &client.ID
		// Snapshot at case-creation time; the client record stays authoritative.
		cs.ClientName = client.Name
		cs.ClientPhone = client.Phone
	}

	if in.ParentCaseID != nil {
		parentID, _ := uuid.Parse(*in.ParentCaseID)
		var parent models.Case
		if err := h.db.Where("id = ? AND firm_id = ?", parentID, firmID).
			First(&parent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "parent case not found")
			}
			return fiber.ErrInternalServerError
		}
		cs.ParentCaseID = &parent.ID
		if parent.RelatedCaseGroupID != nil {
			cs.RelatedCaseGroupID = parent.RelatedCaseGroupID
		} else {
			// First linkage opens a group covering parent and child.
			group := uuid.New()
			cs.RelatedCaseGroupID = &group
			if err := h.db.Model(&models.Case{}).Where("id = ?", parent.ID).
				Update("related_case_group_id", group).Error; err != nil {
				return fiber.ErrInternalServerError
			}
		}
	}

	if in.Password != "" {
		hash, _ := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		s := string(hash)
		cs.PasswordHash = &s
	}

	if err := h.db.Create(&cs).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogCaseHistory(c.Context(), h.db, cs.ID, actorID,
		utils.ActionCreated, "", cs.Status, "")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": cs.ID})
}

/* ================================= List ================================= */

type caseListItem struct {
	ID          uuid.UUID         `json:"id"`
	Title       string            `json:"title"`
	CaseNumber  string            `json:"case_number"`
	ClientName  string            `json:"client_name"`
	Status      models.CaseStatus `json:"status"`
	Stage       string            `json:"stage"`
	Locked      bool              `json:"locked"`
	Preview     string            `json:"preview"`
	Hearings    int64             `json:"hearings"`
	CreatedAt   time.Time         `json:"created_at"`
}

// @Summary      List cases (paginated, with hearing counts)
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Param        status    query string false "status filter"
// @Router       /cases [get]
func (h *Handler) List(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Case{}).Where("cases.firm_id = ?", firmID)
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		switch models.CaseStatus(status) {
		case models.CaseActive, models.CasePending, models.CaseClosed,
			models.CaseArchived, models.CaseDecided:
			q = q.Where("cases.status = ?", status)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	type row struct {
		models.Case
		Hearings int64
	}
	rows := make([]row, 0, size)
	if err := q.
		Select("cases.*, COUNT(hearings.id) AS hearings").
		Joins("LEFT JOIN hearings ON hearings.case_id = cases.id").
		Group("cases.id").
		Order("cases.created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]caseListItem, 0, len(rows))
	for _, r := range rows {
		it := caseListItem{
			ID:         r.ID,
			Title:      r.Title,
			CaseNumber: r.CaseNumber,
			ClientName: r.ClientName,
			Status:     r.Status,
			Stage:      r.Stage,
			Locked:     r.PasswordHash != nil,
			Hearings:   r.Hearings,
			CreatedAt:  r.CreatedAt,
		}
		if r.PasswordHash == nil {
			it.Preview = sanitize.Summary(r.Description, 240)
		}
		items = append(items, it)
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

/* ================================ Detail ================================ */

// loadCase fetches a firm-scoped case or translates not-found.
func (h *Handler) loadCase(c *fiber.Ctx, id string) (*models.Case, error) {
	firmID := access.MustFirmID(c)
	var cs models.Case
	err := h.db.Where("id = ? AND firm_id = ?", id, firmID).First(&cs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.ErrNotFound
		}
		return nil, fiber.ErrInternalServerError
	}
	return &cs, nil
}

// @Summary      Case detail
// @Description  A password-locked case returns a stub until unlocked via X-Case-Unlock
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "case id (uuid)"
// @Success      200  {object}  models.Case
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id} [get]
func (h *Handler) GetDetail(c *fiber.Ctx) error {
	id := c.Params("id")
	cs, err := h.loadCase(c, id)
	if err != nil {
		return err
	}

	// Password gate (secondary to the permission system): no tab data
	// until the caller proves the case password.
	if cs.PasswordHash != nil && !verifyUnlockToken(c.Get("X-Case-Unlock"), cs.ID.String()) {
		return c.JSON(fiber.Map{
			"id":     cs.ID,
			"title":  cs.Title,
			"locked": true,
		})
	}

	userID, _ := uuid.Parse(auth.MustUserID(c))
	var full models.Case
	err2 := h.db.
		Where("id = ?", cs.ID).
		Preload("Hearings", func(db *gorm.DB) *gorm.DB { return db.Order("hearing_number ASC") }).
		Preload("Documents", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Notes", func(db *gorm.DB) *gorm.DB {
			return db.Where("private = false OR author_id = ?", userID).
				Order("pinned DESC, created_at DESC")
		}).
		Preload("Updates", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		Preload("Expenses", func(db *gorm.DB) *gorm.DB { return db.Order("incurred_at DESC") }).
		First(&full).Error
	if err2 != nil {
		return fiber.ErrInternalServerError
	}

	// Never send null collections.
	if full.Hearings == nil {
		full.Hearings = []models.Hearing{}
	}
	if full.Documents == nil {
		full.Documents = []models.CaseDocument{}
	}
	if full.Notes == nil {
		full.Notes = []models.Note{}
	}
	if full.Updates == nil {
		full.Updates = []models.CaseUpdate{}
	}
	if full.Expenses == nil {
		full.Expenses = []models.CaseExpense{}
	}

	return c.JSON(full)
}

// @Summary      Unlock a password-gated case
// @Description  Returns a short-lived token for X-Case-Unlock; nothing is persisted
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string         true  "case id (uuid)"
// @Param        payload  body  UnlockRequest  true  "Password"
// @Success      200  {object}  map[string]any  "unlock_token, expires_in"
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases/{id}/unlock [post]
func (h *Handler) Unlock(c *fiber.Ctx) error {
	id := c.Params("id")
	cs, err := h.loadCase(c, id)
	if err != nil {
		return err
	}
	if cs.PasswordHash == nil {
		return fiber.NewError(fiber.StatusConflict, "case is not locked")
	}

	var in UnlockRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	actorID, _ := uuid.Parse(auth.MustUserID(c))
	if bcrypt.CompareHashAndPassword([]byte(*cs.PasswordHash), []byte(in.Password)) != nil {
		utils.LogCaseHistory(c.Context(), h.db, cs.ID, actorID,
			utils.ActionUnlockFailed, cs.Status, cs.Status, "")
		return fiber.NewError(fiber.StatusUnauthorized, "wrong case password")
	}

	token, err2 := issueUnlockToken(cs.ID.String())
	if err2 != nil {
		return fiber.ErrInternalServerError
	}
	utils.LogCaseHistory(c.Context(), h.db, cs.ID, actorID,
		utils.ActionUnlocked, cs.Status, cs.Status, "")

	return c.JSON(fiber.Map{
		"unlock_token": token,
		"expires_in":   int(unlockTTL.Seconds()),
	})
}

/* ================================ Update ================================ */

// @Summary      Update case fields
// @Tags         cases
// @Security     BearerAuth
// @Router       /cases/{id} [patch]
func (h *Handler) Update(c *fiber.Ctx) error {
	id := c.Params("id")
	cs, err := h.loadCase(c, id)
	if err != nil {
		return err
	}

	var in UpdateCaseRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	updates := map[string]any{}
	if in.Title != nil {
		updates["title"] = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.CaseNumber != nil {
		updates["case_number"] = strings.TrimSpace(*in.CaseNumber)
	}
	if in.CourtName != nil {
		updates["court_name"] = strings.TrimSpace(*in.CourtName)
	}
	if in.ClaimAmountCents != nil {
		updates["claim_amount_cents"] = *in.ClaimAmountCents
	}
	if in.Currency != nil {
		updates["currency"] = strings.ToUpper(strings.TrimSpace(*in.Currency))
	}
	if in.Stage != nil {
		updates["stage"] = strings.TrimSpace(*in.Stage)
	}
	if in.SetPassword != nil {
		hash, _ := bcrypt.GenerateFromPassword([]byte(*in.SetPassword), bcrypt.DefaultCost)
		updates["password_hash"] = string(hash)
	} else if in.ClearPassword {
		updates["password_hash"] = nil
	}
	if len(updates) == 0 {
		return c.JSON(fiber.Map{"ok": true})
	}

	if err := h.db.Model(&models.Case{}).Where("id = ?", cs.ID).
		Updates(updates).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Change case status
// @Description  Transition is recorded in case history
// @Tags         cases
// @Security     BearerAuth
// @Router       /cases/{id}/status [patch]
func (h *Handler) UpdateStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	cs, err := h.loadCase(c, id)
	if err != nil {
		return err
	}

	var in StatusRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	newStatus := models.CaseStatus(in.Status)
	if newStatus == cs.Status {
		return c.JSON(fiber.Map{"ok": true})
	}

	if err := h.db.Model(&models.Case{}).Where("id = ?", cs.ID).
		Update("status", newStatus).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	actorID, _ := uuid.Parse(auth.MustUserID(c))
	utils.LogCaseHistory(c.Context(), h.db, cs.ID, actorID,
		utils.ActionStatusChanged, cs.Status, newStatus, strings.TrimSpace(in.Reason))

	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Case history
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Router       /cases/{id}/history [get]
func (h *Handler) History(c *fiber.Ctx) error {
	id := c.Params("id")
	cs, err := h.loadCase(c, id)
	if err != nil {
		return err
	}

	entries := []models.CaseHistory{}
	if err := h.db.Where("case_id = ?", cs.ID).
		Order("created_at DESC").Find(&entries).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"items": entries})
}

/* ================================ Delete ================================ */

// @Summary      Hard-delete a case and its children
// @Tags         cases
// @Security     BearerAuth
// @Router       /cases/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	cs, err := h.loadCase(c, id)
	if err != nil {
		return err
	}

	// Remove stored objects first (best effort), then rows atomically.
	var docs []models.CaseDocument
	if err := h.db.Where("case_id = ?", cs.ID).Find(&docs).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if h.sb != nil && len(docs) > 0 {
		keys := make([]string, 0, len(docs))
		for _, d := range docs {
			keys = append(keys, d.Key)
		}
		_ = h.sb.BulkDelete(keys)
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{
			&models.Judgment{}, &models.Hearing{}, &models.CaseDocument{},
			&models.Note{}, &models.CaseUpdate{}, &models.CaseExpense{},
		} {
			if err := tx.Where("case_id = ?", cs.ID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Case{}, "id = ?", cs.ID).Error
	})
	if err != nil {
		return fiber.ErrInternalServerError
	}

	actorID, _ := uuid.Parse(auth.MustUserID(c))
	utils.LogCaseHistory(c.Context(), h.db, cs.ID, actorID,
		utils.ActionDeleted, cs.Status, cs.Status, "")

	return c.JSON(fiber.Map{"ok": true})
}
