package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/roster"
	"github.com/trezcool/masomo-billing/core/subscription"
)

const studentIDParam = "studentId"

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// selfOrAdminMiddleware lets students reach their own records only.
// Ids that could never be stored are refused up front.
func selfOrAdminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !roster.ValidID(ctx.Param(studentIDParam)) {
				return core.NewValidationError(roster.ErrInvalidID, core.FieldError{Field: studentIDParam, Error: roster.ErrInvalidID.Error()})
			}
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin || (claims.Subject != "" && claims.Subject == ctx.Param(studentIDParam)) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// EntitlementRequired only lets through students holding an approved, unexpired subscription.
// Admins are always let through.
func EntitlementRequired(svc *subscription.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin {
				return next(ctx)
			}

			entitled, err := svc.IsEntitled(ctx.Request().Context(), claims.Subject, subscription.NowFunc())
			if err != nil {
				return errors.Wrap(err, "checking entitlement")
			}
			if !entitled {
				return errSubscriptionRequired
			}
			return next(ctx)
		}
	}
}
