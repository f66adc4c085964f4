// @title           Maktab API
// @version         1.0
// @description     Multi-tenant practice management for law firms: cases, hearings, judgments, clients, expenses and reminders, with per-firm roles and resource-level access grants.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/maktabhq/maktab-backend/internal/access"
	"github.com/maktabhq/maktab-backend/internal/auth"
	"github.com/maktabhq/maktab-backend/internal/billing"
	"github.com/maktabhq/maktab-backend/internal/cases"
	"github.com/maktabhq/maktab-backend/internal/clients"
	"github.com/maktabhq/maktab-backend/internal/expenses"
	"github.com/maktabhq/maktab-backend/internal/firms"
	"github.com/maktabhq/maktab-backend/internal/hearings"
	"github.com/maktabhq/maktab-backend/internal/reminders"
	"github.com/maktabhq/maktab-backend/internal/storage"
	"github.com/maktabhq/maktab-backend/pkg/database"
	"github.com/maktabhq/maktab-backend/pkg/models"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if os.Getenv("APP_ENV") == "dev" {
		log.SetFormatter(&logrus.TextFormatter{})
		log.SetLevel(logrus.DebugLevel)
	}

	db := database.Init()
	if err := db.AutoMigrate(
		&models.User{}, &models.Firm{}, &models.FirmUser{},
		&models.Role{}, &models.Permission{}, &models.RolePermission{},
		&models.UserResourceAccess{},
		&models.Client{}, &models.Case{}, &models.CaseHistory{},
		&models.Hearing{}, &models.Judgment{},
		&models.CaseUpdate{}, &models.Note{}, &models.CaseDocument{},
		&models.CaseExpense{}, &models.Reminder{},
		&models.SubscriptionPlan{}, &models.FirmSubscription{}, &models.PaymentRecord{},
		&models.StorageAddOn{}, &models.FirmAddOn{},
	); err != nil {
		log.WithError(err).Fatal("migration failed")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	acl := access.NewService(db)
	sb := storage.NewSupabase() // uses SUPABASE_URL / SUPABASE_SERVICE_KEY / SUPABASE_BUCKET

	// Firm lifecycle. Creating a firm and accepting an invitation are the
	// only firm routes reachable without an existing membership.
	firmH := firms.NewHandler(db, sb)
	api.Post("/firms", auth.RequireAuth(), firmH.Create)
	api.Post("/firm-invitations/accept", auth.RequireAuth(), firmH.AcceptInvite)

	// Everything below runs with a resolved membership in locals.
	firm := api.Group("/", auth.RequireAuth(), acl.RequireMember())

	firm.Get("/firm", acl.Require(models.ResFirm, models.ActionView, ""), firmH.Get)
	firm.Patch("/firm", acl.Require(models.ResFirm, models.ActionManage, ""), firmH.Update)
	firm.Delete("/firm", acl.Require(models.ResFirm, models.ActionManage, ""), firmH.Delete)
	firm.Post("/firm/logo", acl.Require(models.ResFirm, models.ActionManage, ""), firmH.UploadLogo)

	firm.Get("/firm/members", acl.Require(models.ResFirm, models.ActionView, ""), firmH.ListMembers)
	firm.Post("/firm/members", acl.Require(models.ResFirm, models.ActionManage, ""), firmH.InviteMember)
	firm.Patch("/firm/members/:id", acl.Require(models.ResFirm, models.ActionManage, ""), firmH.UpdateMember)

	firm.Get("/firm/roles", acl.Require(models.ResRole, models.ActionView, ""), firmH.ListRoles)
	firm.Post("/firm/roles", acl.Require(models.ResRole, models.ActionManage, ""), firmH.CreateRole)
	firm.Patch("/firm/roles/:id", acl.Require(models.ResRole, models.ActionManage, ""), firmH.UpdateRole)
	firm.Delete("/firm/roles/:id", acl.Require(models.ResRole, models.ActionManage, ""), firmH.DeleteRole)

	firm.Get("/firm/grants", acl.Require(models.ResRole, models.ActionManage, ""), firmH.ListGrants)
	firm.Post("/firm/grants", acl.Require(models.ResRole, models.ActionManage, ""), firmH.CreateGrant)
	firm.Delete("/firm/grants/:id", acl.Require(models.ResRole, models.ActionManage, ""), firmH.DeleteGrant)

	// Clients
	clientH := clients.NewHandler(db, acl)
	firm.Post("/clients", acl.Require(models.ResClient, models.ActionEdit, ""), clientH.Create)
	firm.Get("/clients", acl.Require(models.ResClient, models.ActionView, ""), clientH.List)
	firm.Get("/clients/:id", acl.Require(models.ResClient, models.ActionView, "id"), clientH.Get)
	firm.Patch("/clients/:id", acl.Require(models.ResClient, models.ActionEdit, "id"), clientH.Update)
	firm.Delete("/clients/:id", acl.Require(models.ResClient, models.ActionManage, "id"), clientH.Delete)

	// Cases
	caseH := cases.NewHandler(db, sb)
	firm.Post("/cases", acl.Require(models.ResCase, models.ActionEdit, ""), caseH.Create)
	firm.Get("/cases", acl.Require(models.ResCase, models.ActionView, ""), caseH.List)
	firm.Get("/cases/:id", acl.Require(models.ResCase, models.ActionView, "id"), caseH.GetDetail)
	firm.Post("/cases/:id/unlock", acl.Require(models.ResCase, models.ActionView, "id"), caseH.Unlock)
	firm.Patch("/cases/:id", acl.Require(models.ResCase, models.ActionEdit, "id"), caseH.Update)
	firm.Patch("/cases/:id/status", acl.Require(models.ResCase, models.ActionEdit, "id"), caseH.UpdateStatus)
	firm.Get("/cases/:id/history", acl.Require(models.ResCase, models.ActionView, "id"), caseH.History)
	firm.Delete("/cases/:id", acl.Require(models.ResCase, models.ActionManage, "id"), caseH.Delete)

	// Case notes and timeline updates
	firm.Post("/cases/:id/notes", acl.Require(models.ResCase, models.ActionEdit, "id"), caseH.CreateNote)
	firm.Patch("/notes/:noteID", acl.Require(models.ResNote, models.ActionEdit, ""), caseH.UpdateNote)
	firm.Delete("/notes/:noteID", acl.Require(models.ResNote, models.ActionEdit, ""), caseH.DeleteNote)
	firm.Post("/cases/:id/updates", acl.Require(models.ResCase, models.ActionEdit, "id"), caseH.CreateUpdate)

	// Case documents
	firm.Post("/cases/:id/documents", acl.Require(models.ResCase, models.ActionEdit, "id"), caseH.UploadDocument)
	firm.Get("/documents/:docID/signed-url", acl.Require(models.ResDocument, models.ActionView, ""), caseH.SignedDownloadURL)
	firm.Delete("/documents/:docID", acl.Require(models.ResDocument, models.ActionManage, ""), caseH.DeleteDocument)

	// Hearings & judgments
	hearingH := hearings.NewHandler(db)
	firm.Post("/cases/:id/hearings", acl.Require(models.ResCase, models.ActionEdit, "id"), hearingH.Create)
	firm.Get("/cases/:id/hearings", acl.Require(models.ResCase, models.ActionView, "id"), hearingH.ListByCase)
	firm.Patch("/hearings/:hearingID/postpone", acl.Require(models.ResHearing, models.ActionEdit, ""), hearingH.Postpone)
	firm.Post("/hearings/:hearingID/judgment", acl.Require(models.ResJudgment, models.ActionEdit, ""), hearingH.CreateJudgment)
	firm.Patch("/judgments/:judgmentID", acl.Require(models.ResJudgment, models.ActionEdit, ""), hearingH.UpdateJudgment)
	firm.Get("/cases/:id/judgments", acl.Require(models.ResCase, models.ActionView, "id"), hearingH.ListJudgmentsByCase)

	// Expenses & collections
	expenseH := expenses.NewHandler(db)
	firm.Post("/cases/:id/expenses", acl.Require(models.ResExpense, models.ActionEdit, ""), expenseH.Create)
	firm.Get("/cases/:id/expenses", acl.Require(models.ResExpense, models.ActionView, ""), expenseH.ListByCase)
	firm.Get("/cases/:id/expenses/summary", acl.Require(models.ResExpense, models.ActionView, ""), expenseH.Summarize)
	firm.Delete("/expenses/:expenseID", acl.Require(models.ResExpense, models.ActionManage, ""), expenseH.Delete)

	// Reminders are personal, so membership is enough.
	reminderH := reminders.NewHandler(db)
	firm.Post("/reminders", reminderH.Create)
	firm.Get("/reminders", reminderH.ListMine)
	firm.Patch("/reminders/:id/snooze", reminderH.Snooze)
	firm.Patch("/reminders/:id/dismiss", reminderH.Dismiss)
	firm.Patch("/reminders/:id/complete", reminderH.Complete)
	firm.Delete("/reminders/:id", reminderH.Delete)

	// Billing mirror
	billH := billing.NewHandler(db, log)
	firm.Get("/firm/subscription", acl.Require(models.ResFirm, models.ActionView, ""), billH.GetSubscription)
	firm.Get("/firm/payments", acl.Require(models.ResFirm, models.ActionView, ""), billH.ListPayments)

	// Stripe webhook (server-only, no auth)
	api.Post("/billing/stripe/webhook", billH.StripeWebhook)

	// Background promotion of reminders whose remind-at has passed.
	scanner := reminders.NewScanner(db, log)
	if err := scanner.Start(); err != nil {
		log.WithError(err).Fatal("reminder scanner failed to start")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		scanner.Stop()
		_ = app.Shutdown()
	}()

	log.WithField("port", port).Info("server starting")
	if err := app.Listen(":" + port); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
