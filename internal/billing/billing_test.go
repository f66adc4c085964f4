package billing

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/pkg/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Fatal("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Firm{}, &models.StorageAddOn{}, &models.FirmAddOn{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	firm_add_ons,
	storage_add_ons,
	firms
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

const gb = int64(1024 * 1024 * 1024)

func seedAddOn(t *testing.T, db *gorm.DB, code string, extra int64) uuid.UUID {
	t.Helper()
	a := models.StorageAddOn{Code: code, Name: code, ExtraStorage: extra, Active: true}
	if err := db.Create(&a).Error; err != nil {
		t.Fatal(err)
	}
	return a.ID
}

func attachAddOn(t *testing.T, db *gorm.DB, firmID, addOnID uuid.UUID, qty int64, status models.SubscriptionStatus) {
	t.Helper()
	end := time.Now().AddDate(0, 1, 0)
	fa := models.FirmAddOn{
		FirmID: firmID, AddOnID: addOnID,
		Quantity: qty, Status: status, CurrentPeriodEnd: &end,
	}
	if err := db.Create(&fa).Error; err != nil {
		t.Fatal(err)
	}
}

// Active and trialing add-ons raise the quota above the plan base;
// canceled ones do not.
func Test_EffectiveStorageQuota(t *testing.T) {
	db := openTestDB(t)

	firm := models.Firm{ID: uuid.New(), Name: "F", StorageQuota: 5 * gb}
	if err := db.Create(&firm).Error; err != nil {
		t.Fatal(err)
	}

	tenGB := seedAddOn(t, db, "storage-10gb", 10*gb)
	fiftyGB := seedAddOn(t, db, "storage-50gb", 50*gb)

	if got := EffectiveStorageQuota(db, &firm); got != 5*gb {
		t.Fatalf("base quota: want %d, got %d", 5*gb, got)
	}

	attachAddOn(t, db, firm.ID, tenGB, 2, models.SubActive)
	if got := EffectiveStorageQuota(db, &firm); got != 25*gb {
		t.Fatalf("with 2x10GB active: want %d, got %d", 25*gb, got)
	}

	attachAddOn(t, db, firm.ID, fiftyGB, 1, models.SubCanceled)
	if got := EffectiveStorageQuota(db, &firm); got != 25*gb {
		t.Fatalf("canceled add-on must not count: want %d, got %d", 25*gb, got)
	}

	// Another firm's add-ons are invisible.
	other := models.Firm{ID: uuid.New(), Name: "G", StorageQuota: 5 * gb}
	if err := db.Create(&other).Error; err != nil {
		t.Fatal(err)
	}
	attachAddOn(t, db, other.ID, fiftyGB, 1, models.SubActive)
	if got := EffectiveStorageQuota(db, &firm); got != 25*gb {
		t.Fatalf("cross-firm add-on leaked: want %d, got %d", 25*gb, got)
	}
}
