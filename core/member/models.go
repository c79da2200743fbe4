package member

import (
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/iteamsociety/iteam/core"
)

// Tier is a membership level of the society.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

var AllTiers = []Tier{TierBronze, TierSilver, TierGold}

// tierFees is the annual fee per tier, in the society's base currency.
var tierFees = map[Tier]float64{
	TierBronze: 10,
	TierSilver: 25,
	TierGold:   50,
}

func IsValidTier(t Tier) bool {
	_, ok := tierFees[t]
	return ok
}

func (t Tier) Fee() float64 { return tierFees[t] }

// Membership status transitions: pending → active → expired. A rejected
// payment leaves the membership pending so the member can resubmit.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

type Membership struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Tier      Tier      `json:"tier"`
	Status    Status    `json:"status"`
	StartsAt  null.Time `json:"starts_at"`  // set on activation, UTC
	ExpiresAt null.Time `json:"expires_at"` // set on activation, UTC
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Expired reports whether the membership term has lapsed at now. Pending
// memberships never expire; they have no term yet.
func (m *Membership) Expired(now time.Time) bool {
	return m.Status == StatusActive && m.ExpiresAt.Valid && now.After(m.ExpiresAt.Time)
}

// PaymentStatus transitions: pending → verified|rejected. Terminal either way.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentVerified PaymentStatus = "verified"
	PaymentRejected PaymentStatus = "rejected"
)

type Payment struct {
	ID           string        `json:"id"`
	MembershipID string        `json:"membership_id"`
	UserID       string        `json:"user_id"`
	Amount       float64       `json:"amount"`
	EvidencePath string        `json:"evidence_path"`
	EvidenceURL  string        `json:"evidence_url"`
	Status       PaymentStatus `json:"status"`
	Note         null.String   `json:"note"` // reviewer note, set on rejection
	VerifiedBy   null.String   `json:"verified_by"`
	VerifiedAt   null.Time     `json:"verified_at"` // UTC
	CreatedAt    time.Time     `json:"created_at"`  // UTC
}

// NewMembership contains information needed to start a membership.
type NewMembership struct {
	Tier Tier `json:"tier" validate:"required,tier"`
}

func (nm *NewMembership) Validate(validate *validator.Validate) error {
	nm.Tier = Tier(core.CleanString(string(nm.Tier), true))
	return validate.Struct(nm)
}

// VerifyPayment is an admin's review decision on a pending payment.
type VerifyPayment struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

func (vp *VerifyPayment) Validate(validate *validator.Validate) error {
	vp.Note = core.CleanString(vp.Note)
	return validate.Struct(vp)
}

type QueryFilter struct {
	UserID string `query:"user_id"`
	Tier   Tier   `query:"tier"`
	Status Status `query:"status"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.UserID == "" && qf.Tier == "" && qf.Status == ""
}

// InitValidators registers member-specific validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(tierTag, tierValidation)
	core.RegisterCustomTranslation(validate, translator, tierTag, tierText)
}

var (
	tierTag  = "tier"
	tierText = "must be one of bronze, silver or gold"
)

func tierValidation(fl validator.FieldLevel) bool {
	return IsValidTier(Tier(strings.ToLower(fl.Field().String())))
}
