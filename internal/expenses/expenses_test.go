package expenses

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

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
		&models.Firm{}, &models.User{}, &models.Case{}, &models.CaseExpense{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	case_expenses,
	cases,
	firms,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func withTx(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB)) {
	t.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	fn(tx)
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit tx: %v", err)
	}
}

// injectMember stands in for the auth and membership middleware.
func injectMember(userID, firmID uuid.UUID) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("userID", userID.String())
		c.Locals("firmID", firmID.String())
		return c.Next()
	}
}

func newTestApp(h *Handler, userID, firmID uuid.UUID) *fiber.App {
	app := fiber.New()
	app.Use(injectMember(userID, firmID))
	app.Post("/cases/:id/expenses", h.Create)
	app.Get("/cases/:id/expenses", h.ListByCase)
	app.Get("/cases/:id/expenses/summary", h.Summarize)
	app.Delete("/expenses/:expenseID", h.Delete)
	return app
}

func seedCase(t *testing.T, tx *gorm.DB) (firmID, caseID uuid.UUID) {
	t.Helper()
	firmID, caseID = uuid.New(), uuid.New()
	if err := tx.Create(&models.Firm{ID: firmID, Name: "F"}).Error; err != nil {
		t.Fatal(err)
	}
	if err := tx.Create(&models.Case{ID: caseID, FirmID: firmID, Title: "T"}).Error; err != nil {
		t.Fatal(err)
	}
	return
}

func addEntry(t *testing.T, tx *gorm.DB, firmID, caseID uuid.UUID, cat models.ExpenseCategory, cents int64) {
	t.Helper()
	if err := tx.Create(&models.CaseExpense{
		FirmID: firmID, CaseID: caseID,
		Category: cat, AmountCents: cents,
		IncurredAt: time.Now(),
	}).Error; err != nil {
		t.Fatal(err)
	}
}

/* ============================================================================
   Tests
   ============================================================================ */

func Test_Net(t *testing.T) {
	if got := Net(0, 0); got != 0 {
		t.Fatalf("empty case should net 0, got %d", got)
	}
	if got := Net(3000, 10000); got != 7000 {
		t.Fatalf("want 7000, got %d", got)
	}
	if got := Net(10000, 3000); got != -7000 {
		t.Fatalf("net can go negative, got %d", got)
	}
}

// Summary should add collections and subtract expenses, per case.
func Test_Summarize_NetBalance(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		firmID, caseID := seedCase(t, tx)
		addEntry(t, tx, firmID, caseID, models.ExpenseOut, 2500)
		addEntry(t, tx, firmID, caseID, models.ExpenseOut, 1500)
		addEntry(t, tx, firmID, caseID, models.CollectionIn, 10000)

		// A second case in the same firm must not bleed into the summary.
		otherCase := uuid.New()
		if err := tx.Create(&models.Case{ID: otherCase, FirmID: firmID, Title: "other"}).Error; err != nil {
			t.Fatal(err)
		}
		addEntry(t, tx, firmID, otherCase, models.ExpenseOut, 99999)

		app := newTestApp(NewHandler(tx), uuid.New(), firmID)
		req := httptest.NewRequest("GET", "/cases/"+caseID.String()+"/expenses/summary", nil)
		resp, _ := app.Test(req)
		if resp.StatusCode != 200 {
			t.Fatalf("status %d", resp.StatusCode)
		}

		var out Summary
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if out.ExpensesCents != 4000 || out.CollectionsCents != 10000 || out.NetCents != 6000 {
			t.Fatalf("want 4000/10000/6000, got %+v", out)
		}
	})
}

// Only "expense" and "collection" are valid categories.
func Test_Create_RejectsUnknownCategory(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		firmID, caseID := seedCase(t, tx)
		app := newTestApp(NewHandler(tx), uuid.New(), firmID)

		body := strings.NewReader(`{"category":"refund","amount_cents":100}`)
		req := httptest.NewRequest("POST", "/cases/"+caseID.String()+"/expenses", body)
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 400 {
			t.Fatalf("want 400 for unknown category, got %d", resp.StatusCode)
		}
	})
}

// Entries belong to the firm; a case from another firm is 404.
func Test_Create_CrossFirmCaseIsNotFound(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		_, caseID := seedCase(t, tx)

		otherFirm := uuid.New()
		if err := tx.Create(&models.Firm{ID: otherFirm, Name: "Other"}).Error; err != nil {
			t.Fatal(err)
		}
		app := newTestApp(NewHandler(tx), uuid.New(), otherFirm)

		body := strings.NewReader(`{"category":"expense","amount_cents":100}`)
		req := httptest.NewRequest("POST", "/cases/"+caseID.String()+"/expenses", body)
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 404 {
			t.Fatalf("want 404 across firms, got %d", resp.StatusCode)
		}
	})
}
