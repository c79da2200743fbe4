package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/member"
)

type memberRepository struct {
	db *DB
}

var _ member.Repository = (*memberRepository)(nil)

func NewMemberRepository(db *DB) *memberRepository {
	return &memberRepository{db: db}
}

func (repo *memberRepository) CreateMembership(ctx context.Context, mship member.Membership) (member.Membership, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	mship.ID = repo.db.nextID()
	repo.db.memberships[mship.ID] = &mship
	return mship, nil
}

func (repo *memberRepository) GetMembershipByID(ctx context.Context, id string) (member.Membership, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if mship, ok := repo.db.memberships[id]; ok {
		return *mship, nil
	}
	return member.Membership{}, member.ErrNotFound
}

func (repo *memberRepository) GetCurrentMembership(ctx context.Context, userID string) (member.Membership, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var latest *member.Membership
	for _, mship := range repo.db.memberships {
		if mship.UserID != userID {
			continue
		}
		if latest == nil || mship.CreatedAt.After(latest.CreatedAt) {
			latest = mship
		}
	}
	if latest == nil {
		return member.Membership{}, member.ErrNotFound
	}
	return *latest, nil
}

func (repo *memberRepository) FilterMemberships(ctx context.Context, filter *member.QueryFilter, ordering []core.DBOrdering) ([]member.Membership, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	mships := make([]member.Membership, 0, len(repo.db.memberships))
	for _, mship := range repo.db.memberships {
		if filter != nil {
			if filter.UserID != "" && mship.UserID != filter.UserID {
				continue
			}
			if filter.Tier != "" && mship.Tier != filter.Tier {
				continue
			}
			if filter.Status != "" && mship.Status != filter.Status {
				continue
			}
		}
		mships = append(mships, *mship)
	}
	sort.Slice(mships, func(i, j int) bool { return mships[i].CreatedAt.Before(mships[j].CreatedAt) })
	return mships, nil
}

func (repo *memberRepository) UpdateMembership(ctx context.Context, mship member.Membership) (member.Membership, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.memberships[mship.ID]; !ok {
		return member.Membership{}, member.ErrNotFound
	}
	repo.db.memberships[mship.ID] = &mship
	return mship, nil
}

func (repo *memberRepository) ListExpiredMemberships(ctx context.Context, asOf time.Time) ([]member.Membership, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	lapsed := make([]member.Membership, 0)
	for _, mship := range repo.db.memberships {
		if mship.Expired(asOf) {
			lapsed = append(lapsed, *mship)
		}
	}
	return lapsed, nil
}

func (repo *memberRepository) CreatePayment(ctx context.Context, pmt member.Payment) (member.Payment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	pmt.ID = repo.db.nextID()
	repo.db.payments[pmt.ID] = &pmt
	return pmt, nil
}

func (repo *memberRepository) GetPaymentByID(ctx context.Context, id string) (member.Payment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if pmt, ok := repo.db.payments[id]; ok {
		return *pmt, nil
	}
	return member.Payment{}, member.ErrPaymentNotFound
}

func (repo *memberRepository) FilterPayments(ctx context.Context, status member.PaymentStatus) ([]member.Payment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	pmts := make([]member.Payment, 0)
	for _, pmt := range repo.db.payments {
		if status == "" || pmt.Status == status {
			pmts = append(pmts, *pmt)
		}
	}
	sort.Slice(pmts, func(i, j int) bool { return pmts[i].CreatedAt.Before(pmts[j].CreatedAt) })
	return pmts, nil
}

func (repo *memberRepository) UpdatePayment(ctx context.Context, pmt member.Payment) (member.Payment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.payments[pmt.ID]; !ok {
		return member.Payment{}, member.ErrPaymentNotFound
	}
	repo.db.payments[pmt.ID] = &pmt
	return pmt, nil
}
