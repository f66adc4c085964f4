package billing

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/internal/access"
	"github.com/maktabhq/maktab-backend/pkg/models"
)

// Billing state is owned by Stripe; these handlers only maintain the local
// mirror that the dashboard reads.

type Handler struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewHandler(db *gorm.DB, log *logrus.Logger) *Handler {
	return &Handler{db: db, log: log}
}

// @Summary      My firm's subscription (mirror)
// @Tags         billing
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]any  "subscription, add_ons"
// @Router       /firm/subscription [get]
func (h *Handler) GetSubscription(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)

	var sub models.FirmSubscription
	if err := h.db.Where("firm_id = ?", firmID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	addOns := []models.FirmAddOn{}
	if err := h.db.Where("firm_id = ?", firmID).Find(&addOns).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"subscription": sub, "add_ons": addOns})
}

// @Summary      Payment history (mirror)
// @Tags         billing
// @Security     BearerAuth
// @Produce      json
// @Router       /firm/payments [get]
func (h *Handler) ListPayments(c *fiber.Ctx) error {
	firmID := access.MustFirmID(c)

	items := []models.PaymentRecord{}
	if err := h.db.Where("firm_id = ?", firmID).
		Order("created_at DESC").Find(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"items": items})
}

// StripeWebhook godoc
// @Summary      Stripe webhook (server-only)
// @Description  Verifies the signature and updates the local billing mirror
// @Tags         billing
// @Router       /billing/stripe/webhook [post]
func (h *Handler) StripeWebhook(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(
		c.Body(),
		c.Get("Stripe-Signature"),
		os.Getenv("STRIPE_WEBHOOK_SECRET"),
	)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid signature")
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return h.applySubscription(c, event)
	case "customer.subscription.deleted":
		return h.cancelSubscription(c, event)
	case "invoice.paid", "invoice.payment_failed":
		return h.recordInvoice(c, event)
	default:
		// Unhandled event types are acknowledged so Stripe stops retrying.
		return c.JSON(fiber.Map{"received": true})
	}
}

func mirrorStatus(s stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return models.SubTrialing
	case stripe.SubscriptionStatusActive:
		return models.SubActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubPastDue
	default:
		return models.SubCanceled
	}
}

func (h *Handler) applySubscription(c *fiber.Ctx, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed subscription payload")
	}

	firmID, err := uuid.Parse(sub.Metadata["firm_id"])
	if err != nil {
		h.log.WithField("subscription", sub.ID).Warn("stripe subscription without firm_id metadata")
		return c.JSON(fiber.Map{"received": true})
	}

	status := mirrorStatus(sub.Status)
	var periodEnd *time.Time
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd > 0 {
		t := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
		periodEnd = &t
	}
	var customerID *string
	if sub.Customer != nil {
		id := sub.Customer.ID
		customerID = &id
	}

	var mirror models.FirmSubscription
	err = h.db.Where("firm_id = ?", firmID).First(&mirror).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		mirror = models.FirmSubscription{
			FirmID:               firmID,
			StripeCustomerID:     customerID,
			StripeSubscriptionID: &sub.ID,
			Status:               status,
			CurrentPeriodEnd:     periodEnd,
		}
		if err := h.db.Create(&mirror).Error; err != nil {
			return fiber.ErrInternalServerError
		}
	case err == nil:
		mirror.StripeCustomerID = customerID
		mirror.StripeSubscriptionID = &sub.ID
		mirror.Status = status
		mirror.CurrentPeriodEnd = periodEnd
		if err := h.db.Save(&mirror).Error; err != nil {
			return fiber.ErrInternalServerError
		}
	default:
		return fiber.ErrInternalServerError
	}

	// Keep the firm's denormalized status in step with the mirror.
	if err := h.db.Model(&models.Firm{}).Where("id = ?", firmID).
		Update("sub_status", status).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	h.syncAddOns(firmID, &sub, status)

	h.log.WithFields(logrus.Fields{
		"firm":   firmID,
		"status": status,
	}).Info("subscription mirror updated")
	return c.JSON(fiber.Map{"received": true})
}

// syncAddOns mirrors storage add-on line items. Prices carry an
// add_on_code metadata key matching StorageAddOn.Code; other items are the
// base plan and are ignored.
func (h *Handler) syncAddOns(firmID uuid.UUID, sub *stripe.Subscription, status models.SubscriptionStatus) {
	if sub.Items == nil {
		return
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		code := item.Price.Metadata["add_on_code"]
		if code == "" {
			continue
		}
		var addOn models.StorageAddOn
		if err := h.db.Where("code = ?", code).First(&addOn).Error; err != nil {
			h.log.WithField("code", code).Warn("stripe price references unknown add-on")
			continue
		}

		var periodEnd *time.Time
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0)
			periodEnd = &t
		}
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}

		var mirror models.FirmAddOn
		err := h.db.Where("firm_id = ? AND add_on_id = ?", firmID, addOn.ID).
			First(&mirror).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			mirror = models.FirmAddOn{
				FirmID:           firmID,
				AddOnID:          addOn.ID,
				Quantity:         qty,
				Status:           status,
				CurrentPeriodEnd: periodEnd,
			}
			if err := h.db.Create(&mirror).Error; err != nil {
				h.log.WithError(err).Warn("add-on mirror create failed")
			}
		case err == nil:
			mirror.Quantity = qty
			mirror.Status = status
			mirror.CurrentPeriodEnd = periodEnd
			if err := h.db.Save(&mirror).Error; err != nil {
				h.log.WithError(err).Warn("add-on mirror update failed")
			}
		}
	}
}

func (h *Handler) cancelSubscription(c *fiber.Ctx, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed subscription payload")
	}

	var mirror models.FirmSubscription
	err := h.db.Where("stripe_subscription_id = ?", sub.ID).First(&mirror).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(fiber.Map{"received": true})
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	if err := h.db.Model(&mirror).Update("status", models.SubCanceled).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if err := h.db.Model(&models.Firm{}).Where("id = ?", mirror.FirmID).
		Update("sub_status", models.SubCanceled).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	// Add-ons ride the subscription; they end with it.
	if err := h.db.Model(&models.FirmAddOn{}).Where("firm_id = ?", mirror.FirmID).
		Update("status", models.SubCanceled).Error; err != nil {
		h.log.WithError(err).Warn("add-on mirror cancel failed")
	}
	return c.JSON(fiber.Map{"received": true})
}

func (h *Handler) recordInvoice(c *fiber.Ctx, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed invoice payload")
	}
	if inv.Customer == nil {
		return c.JSON(fiber.Map{"received": true})
	}

	var mirror models.FirmSubscription
	err := h.db.Where("stripe_customer_id = ?", inv.Customer.ID).First(&mirror).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.log.WithField("invoice", inv.ID).Warn("invoice for unknown customer")
		return c.JSON(fiber.Map{"received": true})
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	rec := models.PaymentRecord{
		FirmID:          mirror.FirmID,
		StripeInvoiceID: &inv.ID,
		AmountCents:     inv.AmountPaid,
		Currency:        string(inv.Currency),
		Status:          string(inv.Status),
	}
	if event.Type == "invoice.paid" {
		now := time.Now()
		rec.PaidAt = &now
	}
	// Replays of the same invoice hit the unique index; treat as received.
	if err := h.db.Create(&rec).Error; err != nil {
		return c.JSON(fiber.Map{"received": true})
	}
	return c.JSON(fiber.Map{"received": true})
}
