package access

import (
	"context"
	"os"
	"testing"

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
		&models.Firm{}, &models.User{}, &models.FirmUser{},
		&models.Role{}, &models.Permission{}, &models.RolePermission{},
		&models.UserResourceAccess{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	user_resource_accesses,
	role_permissions,
	permissions,
	roles,
	firm_users,
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

func seedMembership(t *testing.T, tx *gorm.DB, roleID *uuid.UUID) (userID, firmID uuid.UUID) {
	t.Helper()
	userID, firmID = uuid.New(), uuid.New()
	if err := tx.Create(&models.Firm{ID: firmID, Name: "F"}).Error; err != nil {
		t.Fatal(err)
	}
	if err := tx.Create(&models.User{
		ID: userID, Email: "u_" + userID.String()[:8] + "@x.com", PasswordHash: "x",
	}).Error; err != nil {
		t.Fatal(err)
	}
	if err := tx.Create(&models.FirmUser{
		FirmID: firmID, UserID: userID, RoleID: roleID, Status: models.MemberActive,
	}).Error; err != nil {
		t.Fatal(err)
	}
	return
}

// Keys attached through the role_permissions junction resolve the same as
// keys stored directly on the role.
func Test_Decide_MergesJunctionKeys(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		roleID := uuid.New()
		userID, firmID := seedMembership(t, tx, &roleID)
		if err := tx.Create(&models.Role{
			ID: roleID, FirmID: firmID, Name: "Paralegal",
			Permissions: []string{"note:view"},
		}).Error; err != nil {
			t.Fatal(err)
		}

		perm := models.Permission{
			ID: uuid.New(), Key: "case:view",
			Resource: models.ResCase, Action: models.ActionView,
		}
		if err := tx.Create(&perm).Error; err != nil {
			t.Fatal(err)
		}
		if err := tx.Create(&models.RolePermission{
			RoleID: roleID, PermissionID: perm.ID,
		}).Error; err != nil {
			t.Fatal(err)
		}

		svc := NewService(tx)
		ctx := context.Background()

		ok, err := svc.Decide(ctx, userID, firmID, models.ResCase, uuid.Nil, models.ActionView)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("junction key should allow case:view")
		}

		ok, err = svc.Decide(ctx, userID, firmID, models.ResNote, uuid.Nil, models.ActionView)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("denormalized key should still allow note:view")
		}

		ok, err = svc.Decide(ctx, userID, firmID, models.ResCase, uuid.Nil, models.ActionEdit)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("nothing granted case:edit")
		}
	})
}

// A membership pointing at a deleted role resolves as role-less, not as an
// error.
func Test_Decide_DanglingRoleID(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		ghost := uuid.New() // never inserted
		userID, firmID := seedMembership(t, tx, &ghost)

		svc := NewService(tx)
		ok, err := svc.Decide(context.Background(), userID, firmID, models.ResCase, uuid.Nil, models.ActionView)
		if err != nil {
			t.Fatalf("dangling role must not error: %v", err)
		}
		if ok {
			t.Fatal("dangling role should deny")
		}
	})
}

// An exact-tuple grant beats the role, in both directions.
func Test_Decide_GrantPrecedence(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		roleID := uuid.New()
		userID, firmID := seedMembership(t, tx, &roleID)
		if err := tx.Create(&models.Role{
			ID: roleID, FirmID: firmID, Name: "Associate",
			Permissions: []string{"case:view", "case:edit"},
		}).Error; err != nil {
			t.Fatal(err)
		}

		sealed := uuid.New()
		if err := tx.Create(&models.UserResourceAccess{
			FirmID: firmID, UserID: userID,
			ResourceType: models.ResCase, ResourceID: sealed,
			AccessLevel: models.AccessNone, GrantedBy: userID,
		}).Error; err != nil {
			t.Fatal(err)
		}

		svc := NewService(tx)
		ctx := context.Background()

		ok, _ := svc.Decide(ctx, userID, firmID, models.ResCase, sealed, models.ActionView)
		if ok {
			t.Fatal("none grant should seal the case against the role")
		}
		ok, _ = svc.Decide(ctx, userID, firmID, models.ResCase, uuid.New(), models.ActionView)
		if !ok {
			t.Fatal("other cases still follow the role")
		}
	})
}
