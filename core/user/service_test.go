package user

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iteamsociety/iteam/core"
)

type fakeUserRepository struct {
	mu     sync.Mutex
	nextID int
	users  map[string]User
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{users: make(map[string]User)}
}

var _ Repository = (*fakeUserRepository)(nil)

func (r *fakeUserRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
loop:
	for _, usr := range r.users {
		for _, excl := range excludedUsers {
			if usr.ID == excl.ID {
				continue loop
			}
		}
		unameTaken := username != "" && usr.Username == username
		emailTaken := email != "" && usr.Email == email
		switch {
		case unameTaken && emailTaken:
			return ErrUserExists
		case unameTaken:
			return ErrUsernameExists
		case emailTaken:
			return ErrEmailExists
		}
	}
	return nil
}

func (r *fakeUserRepository) CreateUser(ctx context.Context, usr User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	usr.ID = strconv.Itoa(r.nextID)
	r.users[usr.ID] = usr
	return usr, nil
}

func (r *fakeUserRepository) GetUserByID(ctx context.Context, id string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	usr, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return usr, nil
}

func (r *fakeUserRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return r.find(func(usr User) bool { return usr.Username == username })
}

func (r *fakeUserRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return r.find(func(usr User) bool { return usr.Email == email })
}

func (r *fakeUserRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error) {
	return r.find(func(usr User) bool { return usr.Username == username || usr.Email == username })
}

func (r *fakeUserRepository) find(match func(User) bool) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, usr := range r.users {
		if match(usr) {
			return usr, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *fakeUserRepository) FilterUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]User, 0, len(r.users))
	for _, usr := range r.users {
		users = append(users, usr)
	}
	return users, nil
}

// UpdateUser only saves set fields.
func (r *fakeUserRepository) UpdateUser(ctx context.Context, usr User, isActive *bool) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	orig, ok := r.users[usr.ID]
	if !ok {
		return User{}, ErrNotFound
	}
	if usr.Name != "" {
		orig.Name = usr.Name
	}
	if usr.Username != "" {
		orig.Username = usr.Username
	}
	if usr.Email != "" {
		orig.Email = usr.Email
	}
	if usr.Role != "" {
		orig.Role = usr.Role
	}
	if len(usr.PasswordHash) > 0 {
		orig.PasswordHash = usr.PasswordHash
	}
	if !usr.LastLogin.IsZero() {
		orig.LastLogin = usr.LastLogin
	}
	if !usr.UpdatedAt.IsZero() {
		orig.UpdatedAt = usr.UpdatedAt
	}
	if isActive != nil {
		orig.SetActive(*isActive)
	}
	r.users[orig.ID] = orig
	return orig, nil
}

func (r *fakeUserRepository) UpdateOrCreateUser(ctx context.Context, usr User) (User, error) {
	r.mu.Lock()
	existing, ok := r.users[usr.ID]
	r.mu.Unlock()
	if !ok {
		return r.CreateUser(ctx, usr)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	usr.CreatedAt = existing.CreatedAt
	r.users[usr.ID] = usr
	return usr, nil
}

func (r *fakeUserRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.users, id)
	}
	return nil
}

type fakeUserMailService struct {
	mu   sync.Mutex
	sent []core.EmailMessage
}

func (m *fakeUserMailService) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		m.sent = append(m.sent, *msg)
	}
}

func newUserTestService() (Service, *fakeUserRepository, *fakeUserMailService) {
	repo := newFakeUserRepository()
	mailSvc := &fakeUserMailService{}
	return NewService(repo, mailSvc, testConfig(), core.NopLogger{}), repo, mailSvc
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc, _, mailSvc := newUserTestService()

	usr, err := svc.Create(ctx, NewUser{
		Name:     "Jane Poe",
		Username: "janepoe",
		Email:    "jane@test.cd",
		Password: "LordOfTheRings",
	})
	require.NoError(t, err)

	assert.Equal(t, RoleStudent, usr.Role, "role defaults to student when unset")
	assert.True(t, usr.Active())
	assert.False(t, usr.EmailVerified)
	require.NoError(t, usr.CheckPassword("LordOfTheRings"))

	require.Len(t, mailSvc.sent, 1)
	assert.Equal(t, "email-verification", mailSvc.sent[0].TemplateName)
	assert.Contains(t, mailSvc.sent[0].BodyStr, "uid="+EncodeUID(usr))
}

func TestService_CheckUniqueness(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newUserTestService()

	usr, err := svc.Create(ctx, NewUser{Name: "A", Username: "awesome", Email: "awe@test.cd", Password: "mdr"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		uname     string
		email     string
		excl      []User
		wantField string
	}{
		{name: "available", uname: "someoneelse", email: "other@test.cd"},
		{name: "username taken", uname: "awesome", email: "other@test.cd", wantField: "username"},
		{name: "email taken", uname: "someoneelse", email: "awe@test.cd", wantField: "email"},
		{name: "both taken", uname: "awesome", email: "awe@test.cd", wantField: "email"},
		{name: "self excluded", uname: "awesome", email: "awe@test.cd", excl: []User{usr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CheckUniqueness(tt.uname, tt.email, tt.excl...)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			vErr, ok := err.(*core.ValidationError)
			require.True(t, ok, "expected a ValidationError, got %v", err)
			require.Len(t, vErr.Fields, 1)
			assert.Equal(t, tt.wantField, vErr.Fields[0].Field)
		})
	}
}

func TestService_PasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	svc, repo, mailSvc := newUserTestService()

	usr, err := svc.Create(ctx, NewUser{Name: "A", Username: "awesome", Email: "awe@test.cd", Password: "old"})
	require.NoError(t, err)
	mailSvc.sent = nil

	require.Error(t, svc.RequestPasswordReset(ctx, "nobody@test.cd"))
	require.NoError(t, svc.RequestPasswordReset(ctx, "awe@test.cd"))
	require.Len(t, mailSvc.sent, 1)
	assert.Equal(t, "password-reset", mailSvc.sent[0].TemplateName)

	token, err := MakeToken(testConfig(), usr, purposePasswordReset)
	require.NoError(t, err)

	rp := ResetUserPassword{UID: EncodeUID(usr), Token: token, Password: "new", PasswordConfirm: "new"}
	require.NoError(t, svc.ResetPassword(ctx, rp))

	refreshed, err := repo.GetUserByID(ctx, usr.ID)
	require.NoError(t, err)
	require.NoError(t, refreshed.CheckPassword("new"))

	// the token signs over the password hash; changing it invalidates the token
	assert.Error(t, svc.ResetPassword(ctx, rp))
}

func TestService_VerifyEmail(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUserTestService()

	usr, err := svc.Create(ctx, NewUser{Name: "A", Username: "awesome", Email: "awe@test.cd", Password: "mdr"})
	require.NoError(t, err)

	token, err := MakeToken(testConfig(), usr, purposeEmailVerification)
	require.NoError(t, err)

	t.Run("garbage uid", func(t *testing.T) {
		err := svc.VerifyEmail(ctx, VerifyUserEmail{UID: "???", Token: token})
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "invalid"))
	})

	t.Run("wrong purpose token", func(t *testing.T) {
		wrong, err := MakeToken(testConfig(), usr, purposePasswordReset)
		require.NoError(t, err)
		assert.Error(t, svc.VerifyEmail(ctx, VerifyUserEmail{UID: EncodeUID(usr), Token: wrong}))
	})

	t.Run("valid token", func(t *testing.T) {
		require.NoError(t, svc.VerifyEmail(ctx, VerifyUserEmail{UID: EncodeUID(usr), Token: token}))
		refreshed, err := repo.GetUserByID(ctx, usr.ID)
		require.NoError(t, err)
		assert.True(t, refreshed.EmailVerified)
	})
}

func TestService_RoleOf(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUserTestService()

	usr, err := svc.Create(ctx, NewUser{Name: "A", Username: "awesome", Email: "awe@test.cd", Password: "mdr", Role: RoleStaff})
	require.NoError(t, err)

	role, err := svc.RoleOf(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleStaff, role)

	_, err = svc.RoleOf(ctx, "missing")
	assert.Equal(t, ErrNotFound, err)

	usr.Role = RoleAdmin
	usr.UpdatedAt = time.Now().UTC()
	_, err = repo.UpdateUser(ctx, usr, nil)
	require.NoError(t, err)

	role, err = svc.RoleOf(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}
