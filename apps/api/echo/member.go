package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/member"
	"github.com/iteamsociety/iteam/core/user"
	"github.com/iteamsociety/iteam/storage/object"
)

type memberApi struct {
	svc      member.Service
	userSvc  user.Service
	evidence *object.Store
	validate *validator.Validate
}

func registerMemberAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc member.Service,
	userSvc user.Service,
	evidence *object.Store,
	validate *validator.Validate,
) {
	api := memberApi{
		svc:      svc,
		userSvc:  userSvc,
		evidence: evidence,
		validate: validate,
	}

	mg := g.Group("/memberships", jwt)
	mg.POST("", api.start)
	mg.GET("/mine", api.mine)
	mg.GET("", api.query, adminMiddleware())
	mg.POST("/expire-lapsed", api.expireLapsed, adminMiddleware())

	pg := g.Group("/payments", jwt)
	pg.POST("", api.submitEvidence)
	pg.GET("/pending", api.pendingPayments, adminMiddleware())
	pg.POST("/:id/verify", api.verifyPayment, adminMiddleware())
}

// Handlers

func (api *memberApi) start(ctx echo.Context) error {
	var data member.NewMembership
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMembership")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	mship, err := api.svc.Start(ctx.Request().Context(), ctxUsr, data.Tier)
	if err != nil {
		if errors.Cause(err) == member.ErrAlreadyMember {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return errors.Wrap(err, "starting membership")
	}
	return ctx.JSON(http.StatusCreated, mship)
}

func (api *memberApi) mine(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	mship, err := api.svc.GetForUser(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == member.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding current membership")
	}
	return ctx.JSON(http.StatusOK, mship)
}

func (api *memberApi) query(ctx echo.Context) error {
	filter := new(member.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []member.Membership{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	mships, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying memberships")
	}
	if mships == nil {
		mships = []member.Membership{}
	}
	return ctx.JSON(http.StatusOK, mships)
}

func (api *memberApi) expireLapsed(ctx echo.Context) error {
	n, err := api.svc.ExpireLapsed(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "expiring lapsed memberships")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"expired": n})
}

// submitEvidence accepts a multipart upload: the `evidence` file plus an
// optional `amount` field. When no amount is given, the tier fee of the
// caller's current membership is assumed.
func (api *memberApi) submitEvidence(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	fileHdr, err := ctx.FormFile("evidence")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "evidence", Error: member.ErrNoEvidence.Error()})
	}

	var amount float64
	if raw := ctx.FormValue("amount"); raw != "" {
		amount, err = strconv.ParseFloat(raw, 64)
		if err != nil || amount < 0 {
			return core.NewValidationError(nil, core.FieldError{Field: "amount", Error: "invalid amount"})
		}
	} else {
		mship, err := api.svc.GetForUser(ctx.Request().Context(), ctxUsr.ID)
		if err != nil {
			if errors.Cause(err) == member.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding current membership")
		}
		amount = mship.Tier.Fee()
	}

	src, err := fileHdr.Open()
	if err != nil {
		return errors.Wrap(err, "opening evidence upload")
	}
	defer src.Close()

	path, url, err := api.evidence.Save("evidence", fileHdr.Filename, fileHdr.Size, src)
	if err != nil {
		return errors.Wrap(err, "storing evidence")
	}

	pmt, err := api.svc.SubmitEvidence(ctx.Request().Context(), ctxUsr, amount, path, url)
	if err != nil {
		// do not keep the orphaned upload around
		if dErr := api.evidence.Delete(path); dErr != nil {
			ctx.Logger().Errorf("%+v", errors.Wrap(dErr, "deleting orphaned evidence"))
		}
		if errors.Cause(err) == member.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "submitting evidence")
	}
	return ctx.JSON(http.StatusCreated, pmt)
}

func (api *memberApi) pendingPayments(ctx echo.Context) error {
	pmts, err := api.svc.PendingPayments(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing pending payments")
	}
	if pmts == nil {
		pmts = []member.Payment{}
	}
	return ctx.JSON(http.StatusOK, pmts)
}

func (api *memberApi) verifyPayment(ctx echo.Context) error {
	var data member.VerifyPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyPayment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	pmt, err := api.svc.Verify(ctx.Request().Context(), ctx.Param("id"), ctxUsr, data)
	if err != nil {
		switch errors.Cause(err) {
		case member.ErrPaymentNotFound:
			return errHttpNotFound
		case member.ErrPaymentReviewed:
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return errors.Wrap(err, "verifying payment")
	}
	return ctx.JSON(http.StatusOK, pmt)
}
