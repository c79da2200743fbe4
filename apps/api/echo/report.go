package echoapi

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/iteamsociety/iteam/core/event"
	"github.com/iteamsociety/iteam/core/member"
	"github.com/iteamsociety/iteam/core/user"
)

type reportApi struct {
	userSvc   user.Service
	eventSvc  event.Service
	memberSvc member.Service
}

// registerReportAPI mounts the admin reporting endpoints. Every report is
// served as JSON by default and as CSV with `?format=csv`. Reports sit
// behind the session gate on top of the JWT check: a half-initialized
// session must not leak a member roster.
func registerReportAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	gate echo.MiddlewareFunc,
	userSvc user.Service,
	eventSvc event.Service,
	memberSvc member.Service,
) {
	api := reportApi{
		userSvc:   userSvc,
		eventSvc:  eventSvc,
		memberSvc: memberSvc,
	}

	rg := g.Group("/reports", jwt, gate, adminMiddleware())
	rg.GET("/members", api.members)
	rg.GET("/registrations", api.registrations)
	rg.GET("/payments", api.payments)
}

// Handlers

func (api *reportApi) members(ctx echo.Context) error {
	filter := new(member.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		filter = new(member.QueryFilter)
	}

	mships, err := api.memberSvc.Query(ctx.Request().Context(), filter, nil)
	if err != nil {
		return errors.Wrap(err, "querying memberships")
	}

	rows := make([]MemberReportRow, 0, len(mships))
	for _, mship := range mships {
		row := MemberReportRow{
			MembershipID: mship.ID,
			UserID:       mship.UserID,
			Tier:         string(mship.Tier),
			Status:       string(mship.Status),
		}
		if usr, err := api.userSvc.GetByID(ctx.Request().Context(), mship.UserID); err == nil {
			row.Name = usr.Name
			row.Email = usr.Email
		}
		if mship.StartsAt.Valid {
			row.StartsAt = mship.StartsAt.Time.Format(time.RFC3339)
		}
		if mship.ExpiresAt.Valid {
			row.ExpiresAt = mship.ExpiresAt.Time.Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	if wantsCSV(ctx) {
		records := make([][]string, 0, len(rows))
		for _, r := range rows {
			records = append(records, []string{
				r.MembershipID, r.UserID, r.Name, r.Email, r.Tier, r.Status, r.StartsAt, r.ExpiresAt,
			})
		}
		return writeCSV(ctx, "members.csv",
			[]string{"membership_id", "user_id", "name", "email", "tier", "status", "starts_at", "expires_at"},
			records)
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (api *reportApi) registrations(ctx echo.Context) error {
	eventID := ctx.QueryParam("event_id")
	if eventID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event_id is required")
	}
	evt, err := api.eventSvc.GetByID(ctx.Request().Context(), eventID)
	if err != nil {
		if errors.Cause(err) == event.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding event by ID")
	}

	regs, err := api.eventSvc.Registrations(ctx.Request().Context(), evt.ID)
	if err != nil {
		return errors.Wrap(err, "listing event registrations")
	}

	rows := make([]RegistrationReportRow, 0, len(regs))
	for _, reg := range regs {
		row := RegistrationReportRow{
			EventID:      evt.ID,
			EventTitle:   evt.Title,
			UserID:       reg.UserID,
			RegisteredAt: reg.CreatedAt.Format(time.RFC3339),
		}
		if usr, err := api.userSvc.GetByID(ctx.Request().Context(), reg.UserID); err == nil {
			row.Name = usr.Name
			row.Email = usr.Email
		}
		rows = append(rows, row)
	}

	if wantsCSV(ctx) {
		records := make([][]string, 0, len(rows))
		for _, r := range rows {
			records = append(records, []string{
				r.EventID, r.EventTitle, r.UserID, r.Name, r.Email, r.RegisteredAt,
			})
		}
		return writeCSV(ctx, "registrations.csv",
			[]string{"event_id", "event_title", "user_id", "name", "email", "registered_at"},
			records)
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (api *reportApi) payments(ctx echo.Context) error {
	status := member.PaymentStatus(ctx.QueryParam("status"))
	if status == "" {
		status = member.PaymentPending
	}

	pmts, err := api.memberSvc.QueryPayments(ctx.Request().Context(), status)
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}

	rows := make([]PaymentReportRow, 0, len(pmts))
	for _, pmt := range pmts {
		row := PaymentReportRow{
			PaymentID:    pmt.ID,
			MembershipID: pmt.MembershipID,
			UserID:       pmt.UserID,
			Amount:       pmt.Amount,
			Status:       string(pmt.Status),
			SubmittedAt:  pmt.CreatedAt.Format(time.RFC3339),
		}
		if pmt.VerifiedBy.Valid {
			row.VerifiedBy = pmt.VerifiedBy.String
		}
		if pmt.VerifiedAt.Valid {
			row.VerifiedAt = pmt.VerifiedAt.Time.Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	if wantsCSV(ctx) {
		records := make([][]string, 0, len(rows))
		for _, r := range rows {
			records = append(records, []string{
				r.PaymentID, r.MembershipID, r.UserID,
				strconv.FormatFloat(r.Amount, 'f', 2, 64),
				r.Status, r.SubmittedAt, r.VerifiedBy, r.VerifiedAt,
			})
		}
		return writeCSV(ctx, "payments.csv",
			[]string{"payment_id", "membership_id", "user_id", "amount", "status", "submitted_at", "verified_by", "verified_at"},
			records)
	}
	return ctx.JSON(http.StatusOK, rows)
}

func wantsCSV(ctx echo.Context) bool {
	return ctx.QueryParam("format") == "csv"
}

func writeCSV(ctx echo.Context, filename string, header []string, records [][]string) error {
	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	res.WriteHeader(http.StatusOK)

	w := csv.NewWriter(res)
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "writing CSV header")
	}
	if err := w.WriteAll(records); err != nil {
		return errors.Wrap(err, "writing CSV records")
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flushing CSV")
}

type (
	MemberReportRow struct {
		MembershipID string `json:"membership_id"`
		UserID       string `json:"user_id"`
		Name         string `json:"name"`
		Email        string `json:"email"`
		Tier         string `json:"tier"`
		Status       string `json:"status"`
		StartsAt     string `json:"starts_at,omitempty"`
		ExpiresAt    string `json:"expires_at,omitempty"`
	}

	RegistrationReportRow struct {
		EventID      string `json:"event_id"`
		EventTitle   string `json:"event_title"`
		UserID       string `json:"user_id"`
		Name         string `json:"name"`
		Email        string `json:"email"`
		RegisteredAt string `json:"registered_at"`
	}

	PaymentReportRow struct {
		PaymentID    string  `json:"payment_id"`
		MembershipID string  `json:"membership_id"`
		UserID       string  `json:"user_id"`
		Amount       float64 `json:"amount"`
		Status       string  `json:"status"`
		SubmittedAt  string  `json:"submitted_at"`
		VerifiedBy   string  `json:"verified_by,omitempty"`
		VerifiedAt   string  `json:"verified_at,omitempty"`
	}
)
