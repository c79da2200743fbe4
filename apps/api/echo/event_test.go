package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/iteamsociety/iteam/core/event"
	"github.com/iteamsociety/iteam/core/user"
)

func Test_eventApi_createRequiresStaff(t *testing.T) {
	ts := newTestServer(t)

	staff := ts.createUser(t, "Staff", "staff1", "staff@test.cd", "pwd", user.RoleStaff)
	student := ts.createUser(t, "Student", "student1", "student@test.cd", "pwd", user.RoleStudent)

	body := marchallObj(t, event.NewEvent{
		Title:    "Welcome Mixer",
		Location: "Main Hall",
		StartsAt: time.Now().Add(48 * time.Hour).UTC(),
		EndsAt:   time.Now().Add(50 * time.Hour).UTC(),
		Capacity: 100,
	})

	tests := []httpTest{
		{
			name:     "anonymous cannot create",
			token:    "",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "student cannot create",
			token:    ts.getToken(t, student),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/events", tt.token, body)
			ts.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("staff creates with themselves as author", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/events", ts.getToken(t, staff), body)
		ts.srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body = %v", rec.Code, rec.Body.String())
		}
		var evt event.Event
		if err := json.Unmarshal(rec.Body.Bytes(), &evt); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		if evt.CreatedBy != staff.ID {
			t.Errorf("created_by = %v; want %v", evt.CreatedBy, staff.ID)
		}
	})
}

func Test_eventApi_listingIsPublic(t *testing.T) {
	ts := newTestServer(t)

	staff := ts.createUser(t, "Staff", "staff1", "staff@test.cd", "pwd", user.RoleStaff)
	evt, err := ts.eventSvc.Create(context.Background(), event.NewEvent{
		Title:    "Hackathon",
		StartsAt: time.Now().Add(24 * time.Hour).UTC(),
	}, staff.ID)
	if err != nil {
		t.Fatalf("seeding event failed: %v", err)
	}

	req, rec := newRequest(http.MethodGet, "/v1/events")
	ts.srv.ServeHTTP(rec, req)

	tt := httpTest{
		wantCode: http.StatusOK,
		wantData: marchallList(t, evt),
	}
	checkCodeAndData(t, tt, rec)
}

func Test_eventApi_toggleRegistration(t *testing.T) {
	ts := newTestServer(t)

	staff := ts.createUser(t, "Staff", "staff1", "staff@test.cd", "pwd", user.RoleStaff)
	student := ts.createUser(t, "Student", "student1", "student@test.cd", "pwd", user.RoleStudent)
	token := ts.getToken(t, student)

	evt, err := ts.eventSvc.Create(context.Background(), event.NewEvent{
		Title:    "AGM",
		StartsAt: time.Now().Add(24 * time.Hour).UTC(),
		Capacity: 1,
	}, staff.ID)
	if err != nil {
		t.Fatalf("seeding event failed: %v", err)
	}
	path := "/v1/events/" + evt.ID + "/register"

	t.Run("first toggle registers", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, path, token)
		ts.srv.ServeHTTP(rec, req)
		tt := httpTest{
			wantCode: http.StatusOK,
			wantData: marchallObj(t, RegistrationResponse{EventID: evt.ID, Registered: true}),
		}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("full event turns others away", func(t *testing.T) {
		other := ts.createUser(t, "Other", "student2", "other@test.cd", "pwd", user.RoleStudent)
		req, rec := newAuthRequest(http.MethodPost, path, ts.getToken(t, other))
		ts.srv.ServeHTTP(rec, req)
		tt := httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: event.ErrEventFull.Error()}),
		}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("second toggle cancels", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, path, token)
		ts.srv.ServeHTTP(rec, req)
		tt := httpTest{
			wantCode: http.StatusOK,
			wantData: marchallObj(t, RegistrationResponse{EventID: evt.ID, Registered: false}),
		}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("started event refuses registration", func(t *testing.T) {
		started, err := ts.eventSvc.Create(context.Background(), event.NewEvent{
			Title:    "Yesterday's Workshop",
			StartsAt: time.Now().Add(-time.Hour).UTC(),
		}, staff.ID)
		if err != nil {
			t.Fatalf("seeding event failed: %v", err)
		}
		req, rec := newAuthRequest(http.MethodPost, "/v1/events/"+started.ID+"/register", token)
		ts.srv.ServeHTTP(rec, req)
		tt := httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: event.ErrEventStarted.Error()}),
		}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("unknown event is a 404", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/events/nope/register", token)
		ts.srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("failed! code = %v; want %v", rec.Code, http.StatusNotFound)
		}
	})
}

func Test_eventApi_updateKeepsCapacityWhenOmitted(t *testing.T) {
	ts := newTestServer(t)

	staff := ts.createUser(t, "Staff", "staff1", "staff@test.cd", "pwd", user.RoleStaff)
	evt, err := ts.eventSvc.Create(context.Background(), event.NewEvent{
		Title:    "Career Fair",
		StartsAt: time.Now().Add(24 * time.Hour).UTC(),
		Capacity: 30,
	}, staff.ID)
	if err != nil {
		t.Fatalf("seeding event failed: %v", err)
	}

	body := marchallObj(t, map[string]string{"title": "Career Fair 2026"})
	req, rec := newAuthRequest(http.MethodPut, "/v1/events/"+evt.ID, ts.getToken(t, staff), body)
	ts.srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %v", rec.Code, rec.Body.String())
	}
	var updated event.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("unmarshalling response failed: %v", err)
	}
	if updated.Title != "Career Fair 2026" {
		t.Errorf("title = %v; want %v", updated.Title, "Career Fair 2026")
	}
	if updated.Capacity != 30 {
		t.Errorf("capacity = %v; want %v", updated.Capacity, 30)
	}
}
