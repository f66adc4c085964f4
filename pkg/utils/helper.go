package utils

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maktabhq/maktab-backend/pkg/models"
)

// Audit actions recorded into case_histories.
const (
	ActionCreated          = "created"
	ActionStatusChanged    = "status_changed"
	ActionUnlockFailed     = "unlock_failed"
	ActionUnlocked         = "unlocked"
	ActionJudgmentRecorded = "judgment_recorded"
	ActionHearingPostponed = "hearing_postponed"
	ActionDeleted          = "deleted"
)

// LogCaseHistory inserts an audit record into case_histories.
// Errors are ignored on purpose (best-effort logging).
func LogCaseHistory(
	ctx context.Context,
	db *gorm.DB,
	caseID, actorID uuid.UUID,
	action string,
	oldS, newS models.CaseStatus,
	reason string,
) {
	_ = db.WithContext(ctx).Create(&models.CaseHistory{
		CaseID:    caseID,
		ActorID:   actorID,
		Action:    action,
		OldStatus: oldS,
		NewStatus: newS,
		Reason:    reason,
		CreatedAt: time.Now(),
	}).Error
}
