package hearings

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/pkg/models"
)

// openTestDB runs on the raw database so concurrent creates really contend
// on the case row lock; cleanup truncates afterwards.
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
		&models.Firm{}, &models.User{}, &models.Case{}, &models.Hearing{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	hearings,
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

func injectMember(userID, firmID uuid.UUID) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("userID", userID.String())
		c.Locals("firmID", firmID.String())
		return c.Next()
	}
}

func newHearingApp(h *Handler, userID, firmID uuid.UUID) *fiber.App {
	app := fiber.New()
	app.Use(injectMember(userID, firmID))
	app.Post("/cases/:id/hearings", h.Create)
	app.Get("/cases/:id/hearings", h.ListByCase)
	return app
}

func seedCase(t *testing.T, db *gorm.DB, firmID uuid.UUID) models.Case {
	t.Helper()
	cs := models.Case{ID: uuid.New(), FirmID: firmID, Title: "Dispute"}
	if err := db.Create(&cs).Error; err != nil {
		t.Fatal(err)
	}
	return cs
}

func createHearing(t *testing.T, app *fiber.App, caseID uuid.UUID) (int, int) {
	t.Helper()
	body := `{"held_at":"2026-09-10T09:00:00Z","court_room":"3A"}`
	r := httptest.NewRequest("POST", "/cases/"+caseID.String()+"/hearings",
		strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(r, 30000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var out struct {
		HearingNumber int `json:"hearing_number"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out.HearingNumber
}

// Numbers are assigned 1, 2, 3... per case and do not bleed across cases.
func Test_CreateHearing_SequentialNumbers(t *testing.T) {
	db := openTestDB(t)

	firmID := uuid.New()
	if err := db.Create(&models.Firm{ID: firmID, Name: "F"}).Error; err != nil {
		t.Fatal(err)
	}
	userID := uuid.New()
	app := newHearingApp(NewHandler(db), userID, firmID)

	cs := seedCase(t, db, firmID)
	for want := 1; want <= 3; want++ {
		code, num := createHearing(t, app, cs.ID)
		if code != 201 || num != want {
			t.Fatalf("hearing %d: got code=%d number=%d", want, code, num)
		}
	}

	other := seedCase(t, db, firmID)
	if _, num := createHearing(t, app, other.ID); num != 1 {
		t.Fatalf("second case should restart at 1, got %d", num)
	}
}

// Concurrent creates contend on the locked case row; the sequence must
// stay gapless and duplicate-free.
func Test_CreateHearing_ConcurrentNoGaps(t *testing.T) {
	db := openTestDB(t)

	firmID := uuid.New()
	if err := db.Create(&models.Firm{ID: firmID, Name: "F"}).Error; err != nil {
		t.Fatal(err)
	}
	userID := uuid.New()
	app := newHearingApp(NewHandler(db), userID, firmID)
	cs := seedCase(t, db, firmID)

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := `{"held_at":"2026-09-10T09:00:00Z"}`
			r := httptest.NewRequest("POST", "/cases/"+cs.ID.String()+"/hearings",
				strings.NewReader(body))
			r.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(r, 30000)
			if err != nil {
				return
			}
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != 201 {
			t.Fatalf("concurrent create %d got %d", i, code)
		}
	}

	var numbers []int
	if err := db.Model(&models.Hearing{}).
		Where("case_id = ?", cs.ID).
		Order("hearing_number ASC").
		Pluck("hearing_number", &numbers).Error; err != nil {
		t.Fatal(err)
	}
	if len(numbers) != n {
		t.Fatalf("want %d hearings, got %d", n, len(numbers))
	}
	for i, num := range numbers {
		if num != i+1 {
			t.Fatalf("gap or duplicate at position %d: %v", i, numbers)
		}
	}
}

// Hearings on another firm's case are unreachable.
func Test_CreateHearing_CrossFirmIsNotFound(t *testing.T) {
	db := openTestDB(t)

	firmA := uuid.New()
	firmB := uuid.New()
	for _, id := range []uuid.UUID{firmA, firmB} {
		if err := db.Create(&models.Firm{ID: id, Name: "F"}).Error; err != nil {
			t.Fatal(err)
		}
	}
	foreign := seedCase(t, db, firmB)

	app := newHearingApp(NewHandler(db), uuid.New(), firmA)
	if code, _ := createHearing(t, app, foreign.ID); code != 404 {
		t.Fatalf("cross-firm hearing should be 404, got %d", code)
	}
}
