package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/event"
	"github.com/iteamsociety/iteam/core/member"
	"github.com/iteamsociety/iteam/core/realtime"
	"github.com/iteamsociety/iteam/core/session"
	"github.com/iteamsociety/iteam/core/user"
	emailsvc "github.com/iteamsociety/iteam/services/email"
	inmemdb "github.com/iteamsociety/iteam/storage/database/inmem"
	"github.com/iteamsociety/iteam/storage/object"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

// testServer bundles a fully wired Server with the services behind it so
// tests can arrange fixtures directly.
type testServer struct {
	srv       Server
	conf      *core.Config
	userRepo  user.Repository
	userSvc   user.Service
	eventSvc  event.Service
	memberSvc member.Service
	provider  *session.LocalProvider
	mgr       *session.Manager
	bus       *realtime.Bus
}

func newTestConfig(t *testing.T) *core.Config {
	conf := &core.Config{
		AppName:         "I-Team Society",
		Env:             "TEST",
		TestMode:        true,
		SecretKey:       []byte("secret"),
		FrontendBaseURL: "http://localhost:3000",
	}
	conf.Server.JWTExpirationDelta = 10 * time.Minute
	conf.Server.JWTRefreshExpirationDelta = 4 * time.Hour
	conf.Session.RoleCacheTTL = 5 * time.Minute
	conf.Session.BootstrapTimeout = 100 * time.Millisecond
	conf.Session.WatchdogTimeout = 300 * time.Millisecond
	conf.Session.GateTimeout = time.Second
	conf.Upload.MediaRoot = t.TempDir()
	conf.Upload.MediaBaseURL = "/media"
	conf.Upload.MaxSize = 1 << 20
	conf.Upload.ContentTypes = []string{"image/png", "application/pdf", "text/plain"}
	return conf
}

func newTestTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	conf := newTestConfig(t)
	logger := core.NopLogger{}

	validate := validator.New()
	translator := newTestTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	member.InitValidators(validate, translator)

	db := inmemdb.NewDB()
	userRepo := inmemdb.NewUserRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	bus := realtime.NewBus()

	userSvc := user.NewServiceMock(userRepo, mailSvc, conf)
	eventSvc := event.NewService(inmemdb.NewEventRepository(db), bus, logger)
	memberSvc := member.NewService(inmemdb.NewMemberRepository(db), userSvc, mailSvc, bus, conf, logger)

	resolver := session.NewResolver(userSvc, nil, conf.Session.RoleCacheTTL, logger)
	provider := session.NewLocalProvider(time.Hour)
	mgr := session.NewManager(session.ManagerDeps{
		Provider:         provider,
		Resolver:         resolver,
		Logger:           logger,
		BootstrapTimeout: conf.Session.BootstrapTimeout,
		WatchdogTimeout:  conf.Session.WatchdogTimeout,
	})
	mgr.Start()

	srv := NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		UserSvc:        userSvc,
		EventSvc:       eventSvc,
		MemberSvc:      memberSvc,
		SessionMgr:     mgr,
		Resolver:       resolver,
		Provider:       provider,
		Bus:            bus,
		Evidence:       object.NewDiskStore(conf),
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})

	t.Cleanup(func() {
		mgr.Close()
		provider.Close()
		bus.Close()
		emailsvc.ClearSentMessages()
	})

	return &testServer{
		srv:       srv,
		conf:      conf,
		userRepo:  userRepo,
		userSvc:   userSvc,
		eventSvc:  eventSvc,
		memberSvc: memberSvc,
		provider:  provider,
		mgr:       mgr,
		bus:       bus,
	}
}

// createUser seeds a verified, active user straight into the repository.
func (ts *testServer) createUser(t *testing.T, name, uname, email, pwd, role string) user.User {
	t.Helper()

	now := time.Now().UTC()
	usr := user.User{
		Name:          name,
		Username:      uname,
		Email:         email,
		Role:          role,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	usr.SetActive(true)
	if err := usr.SetPassword(pwd); err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	usr, err := ts.userRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func (ts *testServer) getToken(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(ts.conf, GetUserClaims(ts.conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

// signIn drives the local auth provider and waits for the session manager
// to settle on Authenticated.
func (ts *testServer) signIn(t *testing.T, usr user.User) {
	t.Helper()
	ts.provider.SignIn(session.Identity{ID: usr.ID, Email: usr.Email}, "tok-"+usr.ID)
	deadline := time.After(2 * time.Second)
	for {
		if ts.mgr.State().Status == session.StatusAuthenticated {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("signIn(): manager never reached Authenticated; status = %v", ts.mgr.State().Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
