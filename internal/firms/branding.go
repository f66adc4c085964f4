package firms

import (
	"mime"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/maktabhq/maktab-backend/internal/access"
	"github.com/maktabhq/maktab-backend/pkg/models"
)

// UploadLogo godoc
// @Summary      Upload firm logo
// @Tags         firms
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        logo  formData  file  true  "PNG or JPEG, max 2MB"
// @Success      200  {object}  map[string]string  "key"
// @Router       /firm/logo [post]
func (h *Handler) UploadLogo(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)

	fh, err := c.FormFile("logo")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "logo file is required")
	}
	if fh.Size <= 0 || fh.Size > 2*1024*1024 {
		return fiber.NewError(fiber.StatusBadRequest, "logo must be between 1 byte and 2MB")
	}

	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
	}
	if ct != "image/png" && ct != "image/jpeg" {
		return fiber.NewError(fiber.StatusBadRequest, "only PNG or JPEG logos are allowed")
	}

	key := "firm/" + firmID + "/branding/" + fh.Filename
	if h.sb != nil {
		key = h.sb.LogoKey(firmID, fh.Filename)
		f, err := fh.Open()
		if err != nil {
			return fiber.ErrInternalServerError
		}
		defer f.Close()
		if err := h.sb.Upload(key, f, ct, fh.Size); err != nil {
			return fiber.NewError(fiber.StatusBadGateway, "logo upload failed")
		}
	}

	if err := h.db.Model(&models.Firm{}).Where("id = ?", firmID).
		Update("logo_key", key).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"key": key})
}
