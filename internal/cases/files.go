package cases

import (
	"errors"
	"mime"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/internal/access"
	"github.com/maktabhq/maktab-backend/internal/auth"
	"github.com/maktabhq/maktab-backend/internal/billing"
	"github.com/maktabhq/maktab-backend/pkg/models"
)

// Upload Case Documents godoc
// @Summary      Upload case documents (PDF/PNG/JPEG)
// @Description  Up to 10 files per request; storage usage is charged to the firm quota
// @Tags         documents
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id     path      string   true  "case id (uuid)"
// @Param        files  formData  []file   true  "documents (max 10)"
// @Success      201    {array}   map[string]any  "id, key, name, size"
// @Failure      400    {object}  models.ErrorResponse
// @Failure      403    {object}  models.ErrorResponse
// @Router       /cases/{id}/documents [post]
func (h *Handler) UploadDocument(c *fiber.Ctx) error {
	cs, err := h.loadCase(c, c.Params("id"))
	if err != nil {
		return err
	}
	actorID, _ := uuid.Parse(auth.MustUserID(c))

	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form required; use files[]")
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "files are required (use key: files[])")
	}
	if len(files) > 10 {
		return fiber.NewError(fiber.StatusBadRequest, "max 10 files allowed")
	}

	var firm models.Firm
	if err := h.db.First(&firm, "id = ?", cs.FirmID).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	quota := billing.EffectiveStorageQuota(h.db, &firm)

	results := make([]fiber.Map, 0, len(files))
	var added int64

	for _, fh := range files {
		res := fiber.Map{
			"name": fh.Filename,
			"size": fh.Size,
		}

		if fh.Size <= 0 {
			res["error"] = "empty file"
			results = append(results, res)
			continue
		}
		if fh.Size > 10*1024*1024 {
			res["error"] = "max 10MB per file"
			results = append(results, res)
			continue
		}
		if firm.StorageUsed+added+fh.Size > quota {
			res["error"] = "firm storage quota exceeded"
			results = append(results, res)
			continue
		}

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
		}
		switch ct {
		case "application/pdf", "image/png", "image/jpeg":
			// ok
		default:
			res["error"] = "only PDF, PNG or JPEG are allowed"
			results = append(results, res)
			continue
		}

		f, err := fh.Open()
		if err != nil {
			res["error"] = "open failed"
			results = append(results, res)
			continue
		}
		defer f.Close()

		key := ""
		if h.sb != nil {
			key = h.sb.CaseObjectKey(cs.FirmID.String(), cs.ID.String(), fh.Filename)
			if err := h.sb.Upload(key, f, ct, fh.Size); err != nil {
				res["error"] = "upload failed"
				results = append(results, res)
				continue
			}
		} else {
			key = "firm/" + cs.FirmID.String() + "/case/" + cs.ID.String() + "/" + fh.Filename
		}

		rec := models.CaseDocument{
			FirmID:       cs.FirmID,
			CaseID:       cs.ID,
			Key:          key,
			Mime:         ct,
			Size:         fh.Size,
			OriginalName: fh.Filename,
			UploadedBy:   actorID,
		}
		if err := h.db.Create(&rec).Error; err != nil {
			res["error"] = "database error"
			results = append(results, res)
			continue
		}
		added += fh.Size

		res["id"] = rec.ID
		res["key"] = rec.Key
		results = append(results, res)
	}

	if added > 0 {
		_ = h.db.Model(&models.Firm{}).Where("id = ?", cs.FirmID).
			UpdateColumn("storage_used", gorm.Expr("storage_used + ?", added)).Error
	}

	// 201 even when some items failed; callers check per-item "error".
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"results": results})
}

// Signed Download URL godoc
// @Summary      Get signed URL for a document
// @Tags         documents
// @Security     BearerAuth
// @Produce      json
// @Param        docID  path string true "document id (uuid)"
// @Success      200  {object}  map[string]any  "url, expires_in, now"
// @Failure      404  {object}  models.ErrorResponse
// @Router       /documents/{docID}/signed-url [get]
func (h *Handler) SignedDownloadURL(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	docID := c.Params("docID")

	var doc models.CaseDocument
	if err := h.db.First(&doc, "id = ? AND firm_id = ?", docID, firmID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if h.sb == nil {
		// Storage not configured (tests, local dev): return a dummy URL.
		return c.JSON(fiber.Map{"url": "local://" + doc.Key, "expires_in": 60, "now": time.Now().UTC()})
	}

	url, err := h.sb.SignedURL(doc.Key, 60) // seconds
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"url": url, "expires_in": 60, "now": time.Now().UTC()})
}

// Delete Document godoc
// @Summary      Delete a document
// @Tags         documents
// @Security     BearerAuth
// @Param        docID  path string true "document id (uuid)"
// @Router       /documents/{docID} [delete]
func (h *Handler) DeleteDocument(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)
	docID := c.Params("docID")
	if _, err := uuid.Parse(docID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid document id")
	}

	var doc models.CaseDocument
	if err := h.db.First(&doc, "id = ? AND firm_id = ?", docID, firmID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if h.sb != nil {
		if err := h.sb.Delete(doc.Key); err != nil {
			return fiber.ErrInternalServerError
		}
	}

	if err := h.db.Delete(&doc).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	_ = h.db.Model(&models.Firm{}).Where("id = ?", firmID).
		UpdateColumn("storage_used", gorm.Expr("GREATEST(storage_used - ?, 0)", doc.Size)).Error

	return c.JSON(fiber.Map{"ok": true})
}
