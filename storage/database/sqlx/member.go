package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/member"
)

type membershipRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Tier      string    `db:"tier"`
	Status    string    `db:"status"`
	StartsAt  null.Time `db:"starts_at"`
	ExpiresAt null.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r membershipRow) unpack() member.Membership {
	return member.Membership{
		ID:        r.ID,
		UserID:    r.UserID,
		Tier:      member.Tier(r.Tier),
		Status:    member.Status(r.Status),
		StartsAt:  r.StartsAt,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type paymentRow struct {
	ID           string      `db:"id"`
	MembershipID string      `db:"membership_id"`
	UserID       string      `db:"user_id"`
	Amount       float64     `db:"amount"`
	EvidencePath null.String `db:"evidence_path"`
	EvidenceURL  null.String `db:"evidence_url"`
	Status       string      `db:"status"`
	Note         null.String `db:"note"`
	VerifiedBy   null.String `db:"verified_by"`
	VerifiedAt   null.Time   `db:"verified_at"`
	CreatedAt    time.Time   `db:"created_at"`
}

func (r paymentRow) unpack() member.Payment {
	return member.Payment{
		ID:           r.ID,
		MembershipID: r.MembershipID,
		UserID:       r.UserID,
		Amount:       r.Amount,
		EvidencePath: r.EvidencePath.String,
		EvidenceURL:  r.EvidenceURL.String,
		Status:       member.PaymentStatus(r.Status),
		Note:         r.Note,
		VerifiedBy:   r.VerifiedBy,
		VerifiedAt:   r.VerifiedAt,
		CreatedAt:    r.CreatedAt,
	}
}

type memberRepository struct {
	db *sqlx.DB
}

var _ member.Repository = (*memberRepository)(nil) // interface compliance check

func NewMemberRepository(db *sqlx.DB) *memberRepository {
	return &memberRepository{db: db}
}

func (repo memberRepository) trapNoRowsErr(err error, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func (repo memberRepository) CreateMembership(ctx context.Context, mship member.Membership) (member.Membership, error) {
	mship.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO membership (id, user_id, tier, status, starts_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		mship.ID, mship.UserID, mship.Tier, mship.Status, mship.StartsAt, mship.ExpiresAt, mship.CreatedAt, mship.UpdatedAt)
	if err != nil {
		return member.Membership{}, errors.Wrap(err, "inserting membership")
	}
	return mship, nil
}

func (repo memberRepository) GetMembershipByID(ctx context.Context, id string) (member.Membership, error) {
	if _, err := uuid.Parse(id); err != nil {
		return member.Membership{}, member.ErrNotFound
	}
	var row membershipRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM membership WHERE id = $1`, id)
	if err != nil {
		return member.Membership{}, repo.trapNoRowsErr(err, member.ErrNotFound, "finding membership by ID")
	}
	return row.unpack(), nil
}

func (repo memberRepository) GetCurrentMembership(ctx context.Context, userID string) (member.Membership, error) {
	var row membershipRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM membership WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID)
	if err != nil {
		return member.Membership{}, repo.trapNoRowsErr(err, member.ErrNotFound, "finding current membership")
	}
	return row.unpack(), nil
}

func (repo memberRepository) FilterMemberships(ctx context.Context, filter *member.QueryFilter, ordering []core.DBOrdering) ([]member.Membership, error) {
	q := `SELECT * FROM membership`
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.UserID != "" {
			conds = append(conds, "user_id = ?")
			args = append(args, filter.UserID)
		}
		if filter.Tier != "" {
			conds = append(conds, "tier = ?")
			args = append(args, filter.Tier)
		}
		if filter.Status != "" {
			conds = append(conds, "status = ?")
			args = append(args, filter.Status)
		}
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += orderClause(ordering, "created_at DESC")

	var rows []membershipRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying memberships")
	}
	mships := make([]member.Membership, 0, len(rows))
	for _, row := range rows {
		mships = append(mships, row.unpack())
	}
	return mships, nil
}

func (repo memberRepository) UpdateMembership(ctx context.Context, mship member.Membership) (member.Membership, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE membership
		SET tier = $2, status = $3, starts_at = $4, expires_at = $5, updated_at = $6
		WHERE id = $1`,
		mship.ID, mship.Tier, mship.Status, mship.StartsAt, mship.ExpiresAt, mship.UpdatedAt)
	if err != nil {
		return member.Membership{}, errors.Wrap(err, "updating membership")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return member.Membership{}, member.ErrNotFound
	}
	return mship, nil
}

func (repo memberRepository) ListExpiredMemberships(ctx context.Context, asOf time.Time) ([]member.Membership, error) {
	var rows []membershipRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM membership WHERE status = $1 AND expires_at < $2`, member.StatusActive, asOf.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "querying lapsed memberships")
	}
	mships := make([]member.Membership, 0, len(rows))
	for _, row := range rows {
		mships = append(mships, row.unpack())
	}
	return mships, nil
}

func (repo memberRepository) CreatePayment(ctx context.Context, pmt member.Payment) (member.Payment, error) {
	pmt.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO payment (id, membership_id, user_id, amount, evidence_path, evidence_url, status, note, verified_by, verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		pmt.ID, pmt.MembershipID, pmt.UserID, pmt.Amount,
		null.NewString(pmt.EvidencePath, pmt.EvidencePath != ""), null.NewString(pmt.EvidenceURL, pmt.EvidenceURL != ""),
		pmt.Status, pmt.Note, pmt.VerifiedBy, pmt.VerifiedAt, pmt.CreatedAt)
	if err != nil {
		return member.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return pmt, nil
}

func (repo memberRepository) GetPaymentByID(ctx context.Context, id string) (member.Payment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return member.Payment{}, member.ErrPaymentNotFound
	}
	var row paymentRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM payment WHERE id = $1`, id)
	if err != nil {
		return member.Payment{}, repo.trapNoRowsErr(err, member.ErrPaymentNotFound, "finding payment by ID")
	}
	return row.unpack(), nil
}

func (repo memberRepository) FilterPayments(ctx context.Context, status member.PaymentStatus) ([]member.Payment, error) {
	q := `SELECT * FROM payment`
	var args []interface{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY created_at ASC`

	var rows []paymentRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	pmts := make([]member.Payment, 0, len(rows))
	for _, row := range rows {
		pmts = append(pmts, row.unpack())
	}
	return pmts, nil
}

func (repo memberRepository) UpdatePayment(ctx context.Context, pmt member.Payment) (member.Payment, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE payment
		SET status = $2, note = $3, verified_by = $4, verified_at = $5
		WHERE id = $1`,
		pmt.ID, pmt.Status, pmt.Note, pmt.VerifiedBy, pmt.VerifiedAt)
	if err != nil {
		return member.Payment{}, errors.Wrap(err, "updating payment")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return member.Payment{}, member.ErrPaymentNotFound
	}
	return pmt, nil
}
