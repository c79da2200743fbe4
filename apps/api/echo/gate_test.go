package echoapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iteamsociety/iteam/core/event"
	"github.com/iteamsociety/iteam/core/user"
)

func Test_sessionGate_redirectsUnauthenticated(t *testing.T) {
	ts := newTestServer(t)

	admin := ts.createUser(t, "Admin", "admin1", "admin@test.cd", "pwd", user.RoleAdmin)

	// a valid token is not enough: the session manager never saw a sign-in
	req, rec := newAuthRequest(http.MethodGet, "/v1/reports/members", ts.getToken(t, admin))
	ts.srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("failed! code = %v; want %v", rec.Code, http.StatusFound)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, ts.conf.FrontendBaseURL+"/signin?next=") {
		t.Errorf("unexpected redirect location: %v", loc)
	}
	if !strings.Contains(loc, "reports") {
		t.Errorf("redirect must preserve the original location: %v", loc)
	}
}

func Test_sessionGate_passesAuthenticated(t *testing.T) {
	ts := newTestServer(t)

	admin := ts.createUser(t, "Admin", "admin1", "admin@test.cd", "pwd", user.RoleAdmin)
	ts.signIn(t, admin)

	t.Run("JSON report", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/reports/members", ts.getToken(t, admin))
		ts.srv.ServeHTTP(rec, req)
		tt := httpTest{
			wantCode: http.StatusOK,
			wantData: []byte("[]"),
		}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("CSV report", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/reports/members?format=csv", ts.getToken(t, admin))
		ts.srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %v", rec.Code, rec.Body.String())
		}
		if ctype := rec.Header().Get("Content-Type"); !strings.HasPrefix(ctype, "text/csv") {
			t.Errorf("content type = %v; want text/csv", ctype)
		}
		if !strings.HasPrefix(rec.Body.String(), "membership_id,user_id,name,email,tier,status") {
			t.Errorf("unexpected CSV header: %v", rec.Body.String())
		}
	})
}

func Test_realtimeApi_feed(t *testing.T) {
	ts := newTestServer(t)

	staff := ts.createUser(t, "Staff", "staff1", "staff@test.cd", "pwd", user.RoleStaff)
	ts.signIn(t, staff)
	token := ts.getToken(t, staff)

	t.Run("unknown table is a 404", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/feed/nope", token)
		ts.srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("failed! code = %v; want %v", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("event changes are streamed", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest(http.MethodGet, "/v1/feed/"+event.TableEvents, nil).WithContext(ctx)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			defer close(done)
			ts.srv.ServeHTTP(rec, req)
		}()

		// let the subscription attach before publishing
		time.Sleep(50 * time.Millisecond)
		evt, err := ts.eventSvc.Create(context.Background(), event.NewEvent{
			Title:    "Streamed Event",
			StartsAt: time.Now().Add(24 * time.Hour).UTC(),
		}, staff.ID)
		if err != nil {
			t.Fatalf("seeding event failed: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		cancel()
		<-done

		body := rec.Body.String()
		if ctype := rec.Header().Get("Content-Type"); ctype != "text/event-stream" {
			t.Errorf("content type = %v; want text/event-stream", ctype)
		}
		if !strings.Contains(body, "event: INSERT") {
			t.Errorf("expected an INSERT event in stream: %v", body)
		}
		if !strings.Contains(body, evt.ID) {
			t.Errorf("expected the created event in stream: %v", body)
		}
	})
}
