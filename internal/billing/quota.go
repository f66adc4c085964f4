package billing

import (
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/pkg/models"
)

// EffectiveStorageQuota is the firm's plan quota plus whatever trialing or
// active storage add-ons contribute.
func EffectiveStorageQuota(db *gorm.DB, firm *models.Firm) int64 {
	quota := firm.StorageQuota

	type row struct {
		Quantity     int64
		ExtraStorage int64
	}
	rows := []row{}
	if err := db.Table("firm_add_ons").
		Select("firm_add_ons.quantity, storage_add_ons.extra_storage").
		Joins("JOIN storage_add_ons ON storage_add_ons.id = firm_add_ons.add_on_id").
		Where("firm_add_ons.firm_id = ? AND firm_add_ons.status IN ?", firm.ID,
			[]models.SubscriptionStatus{models.SubTrialing, models.SubActive}).
		Scan(&rows).Error; err != nil {
		return quota
	}
	for _, r := range rows {
		quota += r.Quantity * r.ExtraStorage
	}
	return quota
}
