package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
	"github.com/trezcool/masomo-billing/core/roster"
	"github.com/trezcool/masomo-billing/core/subscription"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errSubscriptionRequired = echo.NewHTTPError(http.StatusPaymentRequired, "an approved subscription is required")
)

// error codes returned along with domain errors
var errorCodes = map[error]string{
	fee.ErrNoSchedule:              "NoSchedule",
	fee.ErrNoLedger:                "NoLedger",
	fee.ErrOverpayment:             "OverpaymentError",
	subscription.ErrNotFound:       "NoSubscription",
	subscription.ErrAlreadyPending: "AlreadyPending",
	subscription.ErrNotPending:     "NotPending",
	roster.ErrUnavailable:          "RosterUnavailable",
	core.ErrVersionConflict:        "Conflict",
}

func errorCode(err error, fallback string) string {
	if code, ok := errorCodes[errors.Cause(err)]; ok {
		return code
	}
	return fallback
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *core.NotFoundError:
			code = http.StatusNotFound
			message = echo.Map{"error": origErr.Error(), "code": errorCode(origErr.Err, "NotFound")}
		case *core.ConflictError:
			code = http.StatusConflict
			message = echo.Map{"error": origErr.Error(), "code": errorCode(origErr.Err, "Conflict")}
		case *core.DependencyError:
			code = http.StatusServiceUnavailable
			errCode := errorCode(origErr.Err, "Unavailable")
			if errCode == "RosterUnavailable" {
				code = http.StatusBadGateway
			}
			if origErr.Retryable {
				ctx.Response().Header().Set("Retry-After", "1")
			}
			logger.Warn(http.StatusText(code), err, contextActor(ctx))
			message = echo.Map{"error": http.StatusText(code), "code": errCode}
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			logger.Error(msg, errors.Wrap(err, msg), contextActor(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func contextActor(ctx echo.Context) core.Actor {
	if claims, err := getContextClaims(ctx); err == nil {
		return claims.Actor()
	}
	return core.Actor{}
}
