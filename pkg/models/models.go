package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

/* =============================== Enums ================================== */

// MemberStatus defines lifecycle states for a firm membership.
type MemberStatus string

const (
	MemberInvited   MemberStatus = "invited"
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
)

// CaseStatus defines lifecycle states for a case.
type CaseStatus string

const (
	CaseActive   CaseStatus = "active"
	CasePending  CaseStatus = "pending"
	CaseClosed   CaseStatus = "closed"
	CaseArchived CaseStatus = "archived"
	CaseDecided  CaseStatus = "decided"
)

// ClientType discriminates the kind of party a client record represents.
type ClientType string

const (
	ClientIndividual   ClientType = "individual"
	ClientCompany      ClientType = "company"
	ClientGovernment   ClientType = "government"
	ClientOrganization ClientType = "organization"
)

// ExpenseCategory discriminates money out (expense) from money in (collection).
// Both live in one table; no other values are valid.
type ExpenseCategory string

const (
	ExpenseOut   ExpenseCategory = "expense"
	CollectionIn ExpenseCategory = "collection"
)

// ReminderStatus defines lifecycle states for a reminder.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderDue       ReminderStatus = "due"
	ReminderSnoozed   ReminderStatus = "snoozed"
	ReminderDismissed ReminderStatus = "dismissed"
	ReminderCompleted ReminderStatus = "completed"
)

// SubscriptionStatus mirrors the external billing provider's state.
type SubscriptionStatus string

const (
	SubTrialing SubscriptionStatus = "trialing"
	SubActive   SubscriptionStatus = "active"
	SubPastDue  SubscriptionStatus = "past_due"
	SubCanceled SubscriptionStatus = "canceled"
)

/* ======================== Access-control vocabulary ===================== */

// ResourceType names the kinds of firm resources access can be scoped to.
type ResourceType string

const (
	ResCase     ResourceType = "case"
	ResClient   ResourceType = "client"
	ResHearing  ResourceType = "hearing"
	ResJudgment ResourceType = "judgment"
	ResDocument ResourceType = "document"
	ResNote     ResourceType = "note"
	ResExpense  ResourceType = "expense"
	ResReminder ResourceType = "reminder"
	ResRole     ResourceType = "role"
	ResFirm     ResourceType = "firm"
)

// Action is what a user attempts on a resource.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionManage Action = "manage"
)

// AccessLevel is the per-resource override granted through UserResourceAccess.
// Levels form a ladder: none < view < edit < manage.
type AccessLevel string

const (
	AccessNone   AccessLevel = "none"
	AccessView   AccessLevel = "view"
	AccessEdit   AccessLevel = "edit"
	AccessManage AccessLevel = "manage"
)

var levelRank = map[AccessLevel]int{
	AccessNone:   0,
	AccessView:   1,
	AccessEdit:   2,
	AccessManage: 3,
}

var actionRank = map[Action]int{
	ActionView:   1,
	ActionEdit:   2,
	ActionManage: 3,
}

// Allows reports whether the level is sufficient for the action.
// Unknown levels or actions never allow anything.
func (l AccessLevel) Allows(a Action) bool {
	lr, ok := levelRank[l]
	if !ok || lr == 0 {
		return false
	}
	ar, ok := actionRank[a]
	if !ok {
		return false
	}
	return lr >= ar
}

// PolicyRule is one structured ABAC entry on a role: the listed actions are
// allowed on the given resource type, optionally narrowed to a single
// resource ID (nil means any resource of that type).
type PolicyRule struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   *uuid.UUID   `json:"resource_id,omitempty"`
	Actions      []Action     `json:"actions"`
}

/* =============================== Tenancy ================================ */

// Firm is the tenant. Every business row below carries its FirmID and no
// query may ever cross firms.
type Firm struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name           string    `gorm:"not null"`
	NameAr         string
	PrimaryColor   string
	SecondaryColor string
	Timezone       string             `gorm:"not null;default:'UTC'"`
	SubStatus      SubscriptionStatus `gorm:"type:varchar(20);default:'trialing'"`
	TrialEndsAt    *time.Time
	StorageUsed    int64 `gorm:"not null;default:0"`
	StorageQuota   int64 `gorm:"not null;default:5368709120"`
	LogoKey        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

// User is a platform account. A user may be firm-less; membership lives in
// FirmUser, never on the user row itself.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Name         string
	Phone        string
	Locale       string `gorm:"type:varchar(10);default:'en'"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FirmUser binds a user to a firm with a role and optional per-user
// permission overrides. A user holds at most one membership per firm.
type FirmUser struct {
	ID                uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID            uuid.UUID  `gorm:"type:uuid;not null;index:idx_firm_member,unique"`
	UserID            uuid.UUID  `gorm:"type:uuid;not null;index:idx_firm_member,unique"`
	RoleID            *uuid.UUID `gorm:"type:uuid"` // may dangle after role deletion
	Status            MemberStatus
	CustomPermissions []string `gorm:"serializer:json;type:jsonb"`
	InvitedBy         *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

/* ========================== Roles & permissions ========================= */

// Role is a firm-scoped named permission bundle. Permissions holds global
// keys ("case:view"); Policy holds structured per-resource rules.
type Role struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Name        string    `gorm:"not null"`
	NameAr      string
	Permissions []string     `gorm:"serializer:json;type:jsonb"`
	Policy      []PolicyRule `gorm:"serializer:json;type:jsonb"`
	IsSystem    bool         `gorm:"default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is one entry of the global permission catalog.
type Permission struct {
	ID          uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Key         string       `gorm:"uniqueIndex;not null"` // "<resource>:<action>"
	Resource    ResourceType `gorm:"type:varchar(30)"`
	Action      Action       `gorm:"type:varchar(20)"`
	Description string
	CreatedAt   time.Time
}

// RolePermission is the normalized role-to-permission junction. The composite
// primary key enforces uniqueness.
type RolePermission struct {
	RoleID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	PermissionID uuid.UUID `gorm:"type:uuid;primaryKey"`
}

// UserResourceAccess is an explicit per-resource grant or deny for one user.
// Highest precedence in resolution, optionally time-bounded. The unique
// index guarantees at most one row per (user, resourceType, resourceId).
type UserResourceAccess struct {
	ID           uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID       uuid.UUID    `gorm:"type:uuid;not null;index"`
	UserID       uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:ura_unique_user_resource"`
	ResourceType ResourceType `gorm:"type:varchar(30);not null;uniqueIndex:ura_unique_user_resource"`
	ResourceID   uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:ura_unique_user_resource"`
	AccessLevel  AccessLevel  `gorm:"type:varchar(10);not null"`
	GrantedBy    uuid.UUID    `gorm:"type:uuid"`
	ExpiresAt    *time.Time
	CreatedAt    time.Time
}

/* ============================ Business data ============================= */

// Client is a firm-scoped party record with KYC fields.
type Client struct {
	ID                 uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID             uuid.UUID  `gorm:"type:uuid;not null;index"`
	Type               ClientType `gorm:"type:varchar(20);not null;default:'individual'"`
	Name               string     `gorm:"not null"`
	NameAr             string
	Email              string
	Phone              string
	Address            string
	NationalID         string
	VerificationStatus string `gorm:"type:varchar(20);default:'unverified'"`
	RiskLevel          string `gorm:"type:varchar(10);default:'low'"`
	Notes              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Case is a firm-scoped legal matter. ClientName/ClientPhone are snapshots
// taken at creation time; when ClientID is set it is authoritative and the
// snapshot fields are never re-synced.
type Case struct {
	ID                 uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID             uuid.UUID `gorm:"type:uuid;not null;index"`
	ClientID           *uuid.UUID
	ClientName         string
	ClientPhone        string
	Title              string `gorm:"not null"`
	Description        string `gorm:"type:text"`
	CaseNumber         string
	CourtName          string
	ClaimAmountCents   int64
	Currency           string     `gorm:"type:varchar(3);default:'USD'"`
	Status             CaseStatus `gorm:"type:varchar(20);default:'active'"`
	Stage              string
	ParentCaseID       *uuid.UUID `gorm:"type:uuid"`
	RelatedCaseGroupID *uuid.UUID `gorm:"type:uuid"`
	PasswordHash       *string    `json:"-"` // non-nil means the detail view is gated
	CreatedBy          uuid.UUID  `gorm:"type:uuid"`
	CreatedAt          time.Time
	UpdatedAt          time.Time

	// Relations
	Hearings  []Hearing
	Documents []CaseDocument
	Notes     []Note
	Updates   []CaseUpdate
	Expenses  []CaseExpense
}

// Hearing belongs to a case; HearingNumber is sequential per case.
// Postponement keeps the original row and records the reschedule on it.
type Hearing struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID         uuid.UUID `gorm:"type:uuid;not null;index"`
	CaseID         uuid.UUID `gorm:"type:uuid;not null;index:idx_case_hearing_no,unique"`
	HearingNumber  int       `gorm:"not null;index:idx_case_hearing_no,unique"`
	HeldAt         time.Time `gorm:"not null"`
	CourtRoom      string
	Notes          string
	IsPostponed    bool `gorm:"default:false"`
	PostponedTo    *time.Time
	PostponeReason string
	HasJudgment    bool `gorm:"default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Judgment belongs to a hearing and case. AppealDeadline is derived from
// JudgmentDate and is never accepted from clients.
type Judgment struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID         uuid.UUID `gorm:"type:uuid;not null;index"`
	CaseID         uuid.UUID `gorm:"type:uuid;not null;index"`
	HearingID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Summary        string
	JudgmentDate   time.Time `gorm:"not null"`
	AppealDeadline time.Time `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CaseUpdate is an append-only annotation on a case.
type CaseUpdate struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID    uuid.UUID `gorm:"type:uuid;not null;index"`
	CaseID    uuid.UUID `gorm:"type:uuid;not null;index"`
	AuthorID  uuid.UUID `gorm:"type:uuid;not null"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// CaseHistory is an audit log entry for important case changes.
type CaseHistory struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	ActorID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	Action    string     `gorm:"type:varchar(50);not null"` // e.g. created, status_changed, judgment_recorded, deleted
	OldStatus CaseStatus `gorm:"type:varchar(20)"`
	NewStatus CaseStatus `gorm:"type:varchar(20)"`
	Reason    string     `gorm:"type:text"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

// Note is a case annotation with pin/private/reminder sub-state.
type Note struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID    uuid.UUID `gorm:"type:uuid;not null;index"`
	CaseID    uuid.UUID `gorm:"type:uuid;not null;index"`
	AuthorID  uuid.UUID `gorm:"type:uuid;not null"`
	Body      string    `gorm:"type:text;not null"`
	Pinned    bool      `gorm:"default:false"`
	Private   bool      `gorm:"default:false"` // visible to the author only
	RemindAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reminder is a task/deadline with snooze/dismiss/complete transitions.
// Only the due-scanner moves a reminder to "due".
type Reminder struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID      uuid.UUID `gorm:"type:uuid;not null;index"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index"`
	CaseID      *uuid.UUID
	Title       string         `gorm:"not null"`
	Body        string
	RemindAt    time.Time      `gorm:"not null;index"`
	Status      ReminderStatus `gorm:"type:varchar(20);default:'pending'"`
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CaseExpense is a firm+case scoped financial entry. Category decides the
// sign in net-balance computations: collection adds, expense subtracts.
type CaseExpense struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	CaseID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Category    ExpenseCategory `gorm:"type:varchar(20);not null"`
	AmountCents int64           `gorm:"not null"` // stored in cents to avoid float issues
	Currency    string          `gorm:"type:varchar(3);default:'USD'"`
	Description string
	IncurredAt  time.Time
	CreatedBy   uuid.UUID `gorm:"type:uuid"`
	CreatedAt   time.Time
}

// CaseDocument references an uploaded object by storage key.
type CaseDocument struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID       uuid.UUID `gorm:"type:uuid;not null;index"`
	CaseID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Key          string    `gorm:"not null"`
	Mime         string    `gorm:"not null"`
	Size         int64     `gorm:"not null"`
	OriginalName string
	UploadedBy   uuid.UUID `gorm:"type:uuid"`
	CreatedAt    time.Time
}

/* ============================ Billing mirror ============================ */
// Authoritative billing state lives at the payment provider; these tables
// are a cache/ledger updated from webhooks.

type SubscriptionPlan struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Code         string    `gorm:"uniqueIndex;not null"`
	Name         string
	PriceCents   int64
	Interval     string `gorm:"type:varchar(10)"` // month | year
	StorageQuota int64
	Active       bool `gorm:"default:true"`
	CreatedAt    time.Time
}

type FirmSubscription struct {
	ID                   uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID               uuid.UUID `gorm:"type:uuid;not null;index"`
	PlanID               *uuid.UUID
	StripeCustomerID     *string            `gorm:"uniqueIndex:ux_sub_customer_filled"`
	StripeSubscriptionID *string            `gorm:"uniqueIndex:ux_sub_subscription_filled"`
	Status               SubscriptionStatus `gorm:"type:varchar(20);default:'trialing'"`
	CurrentPeriodEnd     *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type PaymentRecord struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID          uuid.UUID `gorm:"type:uuid;not null;index"`
	StripeInvoiceID *string   `gorm:"uniqueIndex:ux_pay_invoice_filled"`
	AmountCents     int64     `gorm:"not null"`
	Currency        string    `gorm:"type:varchar(3)"`
	Status          string    `gorm:"type:varchar(20)"`
	PaidAt          *time.Time
	CreatedAt       time.Time
}

// StorageAddOn is a purchasable extra-storage product. The code matches the
// add_on_code metadata on the Stripe price.
type StorageAddOn struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Code         string    `gorm:"uniqueIndex;not null"`
	Name         string
	ExtraStorage int64 `gorm:"not null"` // bytes added to the firm quota
	PriceCents   int64
	Active       bool `gorm:"default:true"`
	CreatedAt    time.Time
}

// FirmAddOn mirrors a firm's purchased add-on; counted into the effective
// storage quota while its status is trialing or active.
type FirmAddOn struct {
	ID               uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirmID           uuid.UUID          `gorm:"type:uuid;not null;index;uniqueIndex:ux_firm_addon"`
	AddOnID          uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:ux_firm_addon"`
	Quantity         int64              `gorm:"not null;default:1"`
	Status           SubscriptionStatus `gorm:"type:varchar(20);default:'active'"`
	CurrentPeriodEnd *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
