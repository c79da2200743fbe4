package echoapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/session"
)

// sessionGate guards routes behind the session manager's lifecycle:
//   - still Loading past the gate timeout: 503 with a Retry-After affordance,
//     never an indefinite hang;
//   - Unauthenticated: redirect to the sign-in page, preserving the original
//     location in `next` so the user lands back where they were headed;
//   - Authenticated: pass through.
func sessionGate(mgr *session.Manager, conf *core.Config) echo.MiddlewareFunc {
	signinURL := conf.FrontendBaseURL + "/signin"
	retryAfter := strconv.Itoa(int(conf.Session.GateTimeout.Seconds()))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			gctx, cancel := context.WithTimeout(ctx.Request().Context(), conf.Session.GateTimeout)
			defer cancel()

			if !mgr.WaitSettled(gctx) {
				ctx.Response().Header().Set("Retry-After", retryAfter)
				return echo.NewHTTPError(http.StatusServiceUnavailable,
					"session initialization timed out; retry, or sign in again")
			}

			if mgr.State().Status != session.StatusAuthenticated {
				loc := signinURL + "?next=" + url.QueryEscape(ctx.Request().RequestURI)
				return ctx.Redirect(http.StatusFound, loc)
			}
			return next(ctx)
		}
	}
}
