package member

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/realtime"
	"github.com/iteamsociety/iteam/core/user"
)

var (
	// errors
	ErrNotFound        = errors.New("membership not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrAlreadyMember   = errors.New("user already has a current membership")
	ErrPaymentReviewed = errors.New("payment has already been reviewed")
	ErrNoEvidence      = errors.New("payment evidence is required")

	NowFunc = time.Now // mockable
)

// change bus tables
const (
	TableMemberships = "memberships"
	TablePayments    = "payments"
)

type (
	Repository interface {
		CreateMembership(ctx context.Context, mship Membership) (Membership, error)
		GetMembershipByID(ctx context.Context, id string) (Membership, error)
		GetCurrentMembership(ctx context.Context, userID string) (Membership, error)
		FilterMemberships(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Membership, error)
		UpdateMembership(ctx context.Context, mship Membership) (Membership, error)
		ListExpiredMemberships(ctx context.Context, asOf time.Time) ([]Membership, error)

		CreatePayment(ctx context.Context, pmt Payment) (Payment, error)
		GetPaymentByID(ctx context.Context, id string) (Payment, error)
		FilterPayments(ctx context.Context, status PaymentStatus) ([]Payment, error)
		UpdatePayment(ctx context.Context, pmt Payment) (Payment, error)
	}

	// UserGetter is the slice of the user service the member service needs.
	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service interface {
		// Start opens a pending membership for the user at the given tier.
		// It fails with ErrAlreadyMember while a pending or active membership exists.
		Start(ctx context.Context, usr user.User, tier Tier) (Membership, error)
		GetByID(ctx context.Context, id string) (Membership, error)
		GetForUser(ctx context.Context, userID string) (Membership, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Membership, error)

		// SubmitEvidence records uploaded payment evidence against the user's
		// current membership, leaving the payment pending review.
		SubmitEvidence(ctx context.Context, usr user.User, amount float64, evidencePath, evidenceURL string) (Payment, error)
		GetPayment(ctx context.Context, id string) (Payment, error)
		QueryPayments(ctx context.Context, status PaymentStatus) ([]Payment, error)
		PendingPayments(ctx context.Context) ([]Payment, error)
		// Verify applies an admin's review decision. Approval activates the
		// membership and starts its one-year term; rejection leaves it pending.
		Verify(ctx context.Context, paymentID string, reviewer user.User, vp VerifyPayment) (Payment, error)

		// ExpireLapsed transitions active memberships past their term to
		// expired. Returns the number transitioned.
		ExpireLapsed(ctx context.Context) (int, error)
	}

	service struct {
		repo    Repository
		userSvc UserGetter
		mailSvc core.EmailService
		bus     *realtime.Bus
		conf    *core.Config
		logger  core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, userSvc UserGetter, mailSvc core.EmailService, bus *realtime.Bus, conf *core.Config, logger core.Logger) Service {
	return &service{
		repo:    repo,
		userSvc: userSvc,
		mailSvc: mailSvc,
		bus:     bus,
		conf:    conf,
		logger:  logger,
	}
}

func (svc *service) Start(ctx context.Context, usr user.User, tier Tier) (Membership, error) {
	if cur, err := svc.repo.GetCurrentMembership(ctx, usr.ID); err == nil {
		if cur.Status == StatusPending || (cur.Status == StatusActive && !cur.Expired(NowFunc().UTC())) {
			return Membership{}, ErrAlreadyMember
		}
	} else if err != ErrNotFound {
		return Membership{}, err
	}

	now := NowFunc().UTC()
	mship := Membership{
		UserID:    usr.ID,
		Tier:      tier,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	mship, err := svc.repo.CreateMembership(ctx, mship)
	if err != nil {
		return Membership{}, err
	}
	svc.bus.Publish(realtime.Change{Table: TableMemberships, Op: realtime.OpInsert, Record: mship})
	return mship, nil
}

func (svc *service) GetByID(ctx context.Context, id string) (Membership, error) {
	return svc.repo.GetMembershipByID(ctx, id)
}

func (svc *service) GetForUser(ctx context.Context, userID string) (Membership, error) {
	return svc.repo.GetCurrentMembership(ctx, userID)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Membership, error) {
	return svc.repo.FilterMemberships(ctx, filter, ordering)
}

func (svc *service) SubmitEvidence(ctx context.Context, usr user.User, amount float64, evidencePath, evidenceURL string) (Payment, error) {
	if evidencePath == "" {
		return Payment{}, ErrNoEvidence
	}
	mship, err := svc.repo.GetCurrentMembership(ctx, usr.ID)
	if err != nil {
		return Payment{}, err
	}

	pmt := Payment{
		MembershipID: mship.ID,
		UserID:       usr.ID,
		Amount:       amount,
		EvidencePath: evidencePath,
		EvidenceURL:  evidenceURL,
		Status:       PaymentPending,
		CreatedAt:    NowFunc().UTC(),
	}
	pmt, err = svc.repo.CreatePayment(ctx, pmt)
	if err != nil {
		return Payment{}, err
	}
	svc.bus.Publish(realtime.Change{Table: TablePayments, Op: realtime.OpInsert, Record: pmt})
	return pmt, nil
}

func (svc *service) GetPayment(ctx context.Context, id string) (Payment, error) {
	return svc.repo.GetPaymentByID(ctx, id)
}

func (svc *service) QueryPayments(ctx context.Context, status PaymentStatus) ([]Payment, error) {
	return svc.repo.FilterPayments(ctx, status)
}

func (svc *service) PendingPayments(ctx context.Context) ([]Payment, error) {
	return svc.QueryPayments(ctx, PaymentPending)
}

func (svc *service) Verify(ctx context.Context, paymentID string, reviewer user.User, vp VerifyPayment) (Payment, error) {
	pmt, err := svc.repo.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if pmt.Status != PaymentPending {
		return Payment{}, ErrPaymentReviewed
	}

	now := NowFunc().UTC()
	if vp.Approve {
		pmt.Status = PaymentVerified
	} else {
		pmt.Status = PaymentRejected
	}
	pmt.Note = null.NewString(vp.Note, vp.Note != "")
	pmt.VerifiedBy = null.StringFrom(reviewer.ID)
	pmt.VerifiedAt = null.TimeFrom(now)
	pmt, err = svc.repo.UpdatePayment(ctx, pmt)
	if err != nil {
		return Payment{}, err
	}
	svc.bus.Publish(realtime.Change{Table: TablePayments, Op: realtime.OpUpdate, Record: pmt})

	if vp.Approve {
		if err = svc.activate(ctx, pmt.MembershipID, now); err != nil {
			return pmt, errors.Wrap(err, "activating membership")
		}
	}
	svc.sendReviewMail(ctx, pmt)
	return pmt, nil
}

func (svc *service) activate(ctx context.Context, membershipID string, now time.Time) error {
	mship, err := svc.repo.GetMembershipByID(ctx, membershipID)
	if err != nil {
		return err
	}
	mship.Status = StatusActive
	mship.StartsAt = null.TimeFrom(now)
	mship.ExpiresAt = null.TimeFrom(now.AddDate(1, 0, 0)) // one-year term
	mship.UpdatedAt = now
	mship, err = svc.repo.UpdateMembership(ctx, mship)
	if err != nil {
		return err
	}
	svc.bus.Publish(realtime.Change{Table: TableMemberships, Op: realtime.OpUpdate, Record: mship})
	return nil
}

func (svc *service) ExpireLapsed(ctx context.Context) (int, error) {
	now := NowFunc().UTC()
	lapsed, err := svc.repo.ListExpiredMemberships(ctx, now)
	if err != nil {
		return 0, err
	}
	var n int
	for _, mship := range lapsed {
		mship.Status = StatusExpired
		mship.UpdatedAt = now
		mship, err = svc.repo.UpdateMembership(ctx, mship)
		if err != nil {
			return n, errors.Wrapf(err, "expiring membership %s", mship.ID)
		}
		svc.bus.Publish(realtime.Change{Table: TableMemberships, Op: realtime.OpUpdate, Record: mship})
		n++
	}
	return n, nil
}

func (svc *service) sendReviewMail(ctx context.Context, pmt Payment) {
	usr, err := svc.userSvc.GetByID(ctx, pmt.UserID)
	if err != nil {
		svc.logger.Error("looking up payer for review mail", err, pmt)
		return
	}
	subject := "Your membership payment was verified"
	tmpl := "payment-verified"
	if pmt.Status == PaymentRejected {
		subject = "Your membership payment was rejected"
		tmpl = "payment-rejected"
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: struct {
			User    user.User
			Payment Payment
		}{usr, pmt},
	})
}
