package reminders

import (
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
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
		&models.Firm{}, &models.User{}, &models.Case{}, &models.Reminder{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	reminders,
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
	app.Post("/reminders", h.Create)
	app.Get("/reminders", h.ListMine)
	app.Patch("/reminders/:id/snooze", h.Snooze)
	app.Patch("/reminders/:id/dismiss", h.Dismiss)
	app.Patch("/reminders/:id/complete", h.Complete)
	app.Delete("/reminders/:id", h.Delete)
	return app
}

func seedReminder(t *testing.T, tx *gorm.DB, userID uuid.UUID, status models.ReminderStatus, remindAt time.Time) uuid.UUID {
	t.Helper()
	r := models.Reminder{
		ID: uuid.New(), FirmID: uuid.New(), UserID: userID,
		Title: "call the court clerk", RemindAt: remindAt, Status: status,
	}
	if err := tx.Create(&r).Error; err != nil {
		t.Fatal(err)
	}
	return r.ID
}

func patch(t *testing.T, app *fiber.App, target, body string) int {
	t.Helper()
	var r = httptest.NewRequest("PATCH", target, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(r)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp.StatusCode
}

func reload(t *testing.T, tx *gorm.DB, id uuid.UUID) models.Reminder {
	t.Helper()
	var r models.Reminder
	if err := tx.First(&r, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	return r
}

/* ============================================================================
   Guarded transitions
   ============================================================================ */

// Snoozing pushes remind_at forward; a finished reminder cannot be snoozed.
func Test_Snooze_Transitions(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		userID := uuid.New()
		app := newTestApp(NewHandler(tx), userID, uuid.New())

		due := seedReminder(t, tx, userID, models.ReminderDue, time.Now().Add(-time.Hour))
		until := time.Now().Add(2 * time.Hour).Format(time.RFC3339)
		if code := patch(t, app, "/reminders/"+due.String()+"/snooze", `{"until":"`+until+`"}`); code != 200 {
			t.Fatalf("snooze due got %d", code)
		}
		if r := reload(t, tx, due); r.Status != models.ReminderSnoozed {
			t.Fatalf("want snoozed, got %s", r.Status)
		}

		// A past "until" is rejected.
		past := time.Now().Add(-time.Minute).Format(time.RFC3339)
		if code := patch(t, app, "/reminders/"+due.String()+"/snooze", `{"until":"`+past+`"}`); code != 400 {
			t.Fatalf("past until should be 400, got %d", code)
		}

		// Completed reminders are immutable through snooze.
		done := seedReminder(t, tx, userID, models.ReminderCompleted, time.Now())
		if code := patch(t, app, "/reminders/"+done.String()+"/snooze", `{"until":"`+until+`"}`); code != 409 {
			t.Fatalf("snooze completed should be 409, got %d", code)
		}
	})
}

// Dismiss and complete exclude each other.
func Test_DismissComplete_Exclusion(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		userID := uuid.New()
		app := newTestApp(NewHandler(tx), userID, uuid.New())

		dismissed := seedReminder(t, tx, userID, models.ReminderDue, time.Now())
		if code := patch(t, app, "/reminders/"+dismissed.String()+"/dismiss", ""); code != 200 {
			t.Fatalf("dismiss got %d", code)
		}
		if code := patch(t, app, "/reminders/"+dismissed.String()+"/complete", ""); code != 409 {
			t.Fatalf("complete after dismiss should be 409, got %d", code)
		}

		completed := seedReminder(t, tx, userID, models.ReminderDue, time.Now())
		if code := patch(t, app, "/reminders/"+completed.String()+"/complete", ""); code != 200 {
			t.Fatalf("complete got %d", code)
		}
		if r := reload(t, tx, completed); r.CompletedAt == nil {
			t.Fatal("complete should stamp completed_at")
		}
		if code := patch(t, app, "/reminders/"+completed.String()+"/dismiss", ""); code != 409 {
			t.Fatalf("dismiss after complete should be 409, got %d", code)
		}
	})
}

// Reminders are personal: another user's reminder is invisible.
func Test_Reminders_AreOwnerScoped(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		owner, stranger := uuid.New(), uuid.New()
		id := seedReminder(t, tx, owner, models.ReminderPending, time.Now().Add(time.Hour))

		app := newTestApp(NewHandler(tx), stranger, uuid.New())
		if code := patch(t, app, "/reminders/"+id.String()+"/dismiss", ""); code != 404 {
			t.Fatalf("stranger should get 404, got %d", code)
		}
	})
}

/* ============================================================================
   Scanner sweep
   ============================================================================ */

// Only the scanner promotes to due, and only when remind_at has passed.
func Test_Sweep_PromotesDueReminders(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		userID := uuid.New()
		past := time.Now().Add(-time.Minute)
		future := time.Now().Add(time.Hour)

		ripePending := seedReminder(t, tx, userID, models.ReminderPending, past)
		ripeSnoozed := seedReminder(t, tx, userID, models.ReminderSnoozed, past)
		early := seedReminder(t, tx, userID, models.ReminderPending, future)
		dismissed := seedReminder(t, tx, userID, models.ReminderDismissed, past)

		log := logrus.New()
		log.SetOutput(io.Discard)
		NewScanner(tx, log).sweep()

		if r := reload(t, tx, ripePending); r.Status != models.ReminderDue {
			t.Fatalf("ripe pending should become due, got %s", r.Status)
		}
		if r := reload(t, tx, ripeSnoozed); r.Status != models.ReminderDue {
			t.Fatalf("ripe snoozed should become due, got %s", r.Status)
		}
		if r := reload(t, tx, early); r.Status != models.ReminderPending {
			t.Fatalf("future reminder must stay pending, got %s", r.Status)
		}
		if r := reload(t, tx, dismissed); r.Status != models.ReminderDismissed {
			t.Fatalf("dismissed must never come back, got %s", r.Status)
		}
	})
}
