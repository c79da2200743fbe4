package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/iteamsociety/iteam/core/session"
	"github.com/iteamsociety/iteam/core/user"
)

func Test_userApi_signup(t *testing.T) {
	ts := newTestServer(t)

	body := marchallObj(t, map[string]string{
		"name":             "Jane Poe",
		"email":            "jane@test.cd",
		"username":         "janepoe",
		"password":         "LordOfTheRings",
		"password_confirm": "LordOfTheRings",
		"role":             user.RoleAdmin, // must be ignored
	})
	req, rec := newRequest(http.MethodPost, "/v1/users/signup", body)
	ts.srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("failed! code = %v; body = %v", rec.Code, rec.Body.String())
	}
	var usr user.User
	if err := json.Unmarshal(rec.Body.Bytes(), &usr); err != nil {
		t.Fatalf("unmarshalling response failed: %v", err)
	}
	if usr.Role != user.RoleStudent {
		t.Errorf("signup role = %v; want %v", usr.Role, user.RoleStudent)
	}

	// duplicate email is a validation error
	req, rec = newRequest(http.MethodPost, "/v1/users/signup", body)
	ts.srv.ServeHTTP(rec, req)
	tt := httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
	}
	checkCodeAndData(t, tt, rec)
}

func Test_userApi_login(t *testing.T) {
	ts := newTestServer(t)

	usr := ts.createUser(t, "Jane Poe", "janepoe", "jane@test.cd", "LordOfTheRings", user.RoleStudent)

	unverified := user.User{
		Name: "New Guy", Username: "newguy1", Email: "new@test.cd",
	}
	unverified.SetActive(true)
	_ = unverified.SetPassword("pwd")
	if _, err := ts.userRepo.CreateUser(context.Background(), unverified); err != nil {
		t.Fatalf("seeding unverified user failed: %v", err)
	}

	tests := []httpTest{
		{
			name:     "unknown user fails",
			body:     marchallObj(t, LoginRequest{Username: "nobody", Password: "x"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name:     "wrong password fails",
			body:     marchallObj(t, LoginRequest{Username: usr.Username, Password: "nope"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name:     "unverified email is refused",
			body:     marchallObj(t, LoginRequest{Username: "newguy1", Password: "pwd"}),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "email address not verified"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			ts.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("valid credentials get a token", func(t *testing.T) {
		body := marchallObj(t, LoginRequest{Username: usr.Username, Password: "LordOfTheRings"})
		req, rec := newRequest(http.MethodPost, "/v1/users/login", body)
		ts.srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %v", rec.Code, rec.Body.String())
		}
		var res LoginResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		if res.Token == "" {
			t.Error("expected a signed token")
		}
	})
}

func Test_userApi_adminOnlyEndpoints(t *testing.T) {
	ts := newTestServer(t)

	admin := ts.createUser(t, "Admin", "admin1", "admin@test.cd", "pwd", user.RoleAdmin)
	student := ts.createUser(t, "Student", "student1", "student@test.cd", "pwd", user.RoleStudent)

	tests := []httpTest{
		{
			name:     "query without token fails",
			method:   http.MethodGet,
			path:     "/v1/users",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "query as student is forbidden",
			method:   http.MethodGet,
			path:     "/v1/users",
			token:    ts.getToken(t, student),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name:     "query as admin lists all users",
			method:   http.MethodGet,
			path:     "/v1/users",
			token:    ts.getToken(t, admin),
			wantCode: http.StatusOK,
			wantData: marchallList(t, admin, student),
		},
		{
			name:     "roles listing",
			method:   http.MethodGet,
			path:     "/v1/users/roles",
			token:    ts.getToken(t, admin),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, user.Roles),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			ts.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_updatePermissions(t *testing.T) {
	ts := newTestServer(t)

	admin := ts.createUser(t, "Admin", "admin1", "admin@test.cd", "pwd", user.RoleAdmin)
	student := ts.createUser(t, "Student", "student1", "student@test.cd", "pwd", user.RoleStudent)

	t.Run("student cannot change their role", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"role": user.RoleAdmin})
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, ts.getToken(t, student), body)
		ts.srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("failed! code = %v; want %v", rec.Code, http.StatusForbidden)
		}
	})

	t.Run("student can change their own name", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"name": "Student Renamed"})
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, ts.getToken(t, student), body)
		ts.srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %v", rec.Code, rec.Body.String())
		}
		var updated user.User
		if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		if updated.Name != "Student Renamed" {
			t.Errorf("name = %v; want %v", updated.Name, "Student Renamed")
		}
	})

	t.Run("student cannot read another user", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users/"+admin.ID, ts.getToken(t, student))
		ts.srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("failed! code = %v; want %v", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("admin can promote to staff", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"role": user.RoleStaff})
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, ts.getToken(t, admin), body)
		ts.srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %v", rec.Code, rec.Body.String())
		}
		var updated user.User
		if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		if updated.Role != user.RoleStaff {
			t.Errorf("role = %v; want %v", updated.Role, user.RoleStaff)
		}
	})

	t.Run("admin cannot delete themselves", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+admin.ID, ts.getToken(t, admin))
		ts.srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("failed! code = %v; want %v", rec.Code, http.StatusForbidden)
		}
	})
}

func Test_userApi_resolveRole(t *testing.T) {
	ts := newTestServer(t)

	staff := ts.createUser(t, "Staff", "staff1", "staff@test.cd", "pwd", user.RoleStaff)

	req, rec := newAuthRequest(http.MethodGet, "/v1/users/me/role", ts.getToken(t, staff))
	ts.srv.ServeHTTP(rec, req)

	tt := httpTest{
		wantCode: http.StatusOK,
		wantData: marchallObj(t, session.Resolution{Role: user.RoleStaff, Source: session.SourceDatabase}),
	}
	checkCodeAndData(t, tt, rec)

	// second hit is served from the cache
	req, rec = newAuthRequest(http.MethodGet, "/v1/users/me/role", ts.getToken(t, staff))
	ts.srv.ServeHTTP(rec, req)
	tt = httpTest{
		wantCode: http.StatusOK,
		wantData: marchallObj(t, session.Resolution{Role: user.RoleStaff, Source: session.SourceDatabase, FromCache: true}),
	}
	checkCodeAndData(t, tt, rec)
}

func Test_userApi_loginDrivesSessionManager(t *testing.T) {
	ts := newTestServer(t)

	usr := ts.createUser(t, "Jane Poe", "janepoe", "jane@test.cd", "pwd", user.RoleStudent)

	waitStatus := func(want session.Status) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for ts.mgr.State().Status != want {
			select {
			case <-deadline:
				t.Fatalf("manager never reached %v; status = %v", want, ts.mgr.State().Status)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}

	body := marchallObj(t, LoginRequest{Username: usr.Username, Password: "pwd"})
	req, rec := newRequest(http.MethodPost, "/v1/users/login", body)
	ts.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed! code = %v; body = %v", rec.Code, rec.Body.String())
	}
	waitStatus(session.StatusAuthenticated)
	if st := ts.mgr.State(); st.Role != user.RoleStudent {
		t.Errorf("role = %v; want %v", st.Role, user.RoleStudent)
	}

	req, rec = newAuthRequest(http.MethodPost, "/v1/users/logout", ts.getToken(t, usr))
	ts.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout failed! code = %v; body = %v", rec.Code, rec.Body.String())
	}
	waitStatus(session.StatusUnauthenticated)
}

func Test_userApi_tokenRefresh(t *testing.T) {
	ts := newTestServer(t)

	usr := ts.createUser(t, "Jane Poe", "janepoe", "jane@test.cd", "pwd", user.RoleStudent)

	req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", ts.getToken(t, usr))
	ts.srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %v", rec.Code, rec.Body.String())
	}
	var res LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshalling response failed: %v", err)
	}
	if res.Token == "" {
		t.Error("expected a refreshed token")
	}
}
