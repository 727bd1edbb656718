package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/subscription"
)

type (
	subscriptionApi struct {
		svc *subscription.Service
	}

	EntitlementResponse struct {
		StudentID string `json:"student_id"`
		Entitled  bool   `json:"entitled"`
	}
)

func registerSubscriptionAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *subscription.Service) {
	api := subscriptionApi{svc: svc}

	sg := g.Group("/subscriptions", jwt)
	sg.GET("", api.queryPending, adminMiddleware())

	// detail endpoints
	dg := sg.Group("/:"+studentIDParam, selfOrAdminMiddleware())
	dg.POST("", api.submit)
	dg.GET("", api.retrieve)
	dg.GET("/history", api.history)
	dg.GET("/entitled", api.entitled)
	dg.POST("/approve", api.approve, adminMiddleware())
	dg.POST("/reject", api.reject, adminMiddleware())
}

func views(subs []subscription.Subscription) []subscription.View {
	now := subscription.NowFunc()
	vs := make([]subscription.View, 0, len(subs))
	for _, sub := range subs {
		vs = append(vs, subscription.NewView(sub, now))
	}
	return vs
}

// Handlers

func (api *subscriptionApi) submit(ctx echo.Context) error {
	var data subscription.NewSubscription
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubscription")
	}

	sub, err := api.svc.Submit(ctx.Request().Context(), ctx.Param(studentIDParam), data)
	if err != nil {
		return errors.Wrap(err, "submitting subscription")
	}
	return ctx.JSON(http.StatusCreated, subscription.NewView(sub, subscription.NowFunc()))
}

func (api *subscriptionApi) retrieve(ctx echo.Context) error {
	sub, err := api.svc.Current(ctx.Request().Context(), ctx.Param(studentIDParam))
	if err != nil {
		return errors.Wrap(err, "getting subscription")
	}
	return ctx.JSON(http.StatusOK, subscription.NewView(sub, subscription.NowFunc()))
}

func (api *subscriptionApi) history(ctx echo.Context) error {
	subs, err := api.svc.History(ctx.Request().Context(), ctx.Param(studentIDParam))
	if err != nil {
		return errors.Wrap(err, "getting subscription history")
	}
	return ctx.JSON(http.StatusOK, views(subs))
}

func (api *subscriptionApi) entitled(ctx echo.Context) error {
	studentID := ctx.Param(studentIDParam)
	ok, err := api.svc.IsEntitled(ctx.Request().Context(), studentID, subscription.NowFunc())
	if err != nil {
		return errors.Wrap(err, "checking entitlement")
	}
	return ctx.JSON(http.StatusOK, EntitlementResponse{StudentID: studentID, Entitled: ok})
}

func (api *subscriptionApi) approve(ctx echo.Context) error {
	return api.review(ctx, api.svc.Approve)
}

func (api *subscriptionApi) reject(ctx echo.Context) error {
	return api.review(ctx, api.svc.Reject)
}

type reviewFunc func(ctx context.Context, studentID string, actor core.Actor) (subscription.Subscription, error)

func (api *subscriptionApi) review(ctx echo.Context, fn reviewFunc) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	sub, err := fn(ctx.Request().Context(), ctx.Param(studentIDParam), claims.Actor())
	if err != nil {
		return errors.Wrap(err, "reviewing subscription")
	}
	return ctx.JSON(http.StatusOK, subscription.NewView(sub, subscription.NowFunc()))
}

// queryPending lists subscriptions awaiting review (`?status=pending`, the only status listed).
func (api *subscriptionApi) queryPending(ctx echo.Context) error {
	if status := ctx.QueryParam("status"); status != "" && subscription.Status(status) != subscription.StatusPending {
		return core.NewValidationError(nil, core.FieldError{Field: "status", Error: "only pending subscriptions can be listed"})
	}
	subs, err := api.svc.Pending(ctx.Request().Context(), subscription.NowFunc())
	if err != nil {
		return errors.Wrap(err, "querying pending subscriptions")
	}
	return ctx.JSON(http.StatusOK, views(subs))
}

func featureAccess(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"feature": ctx.Param("feature"), "granted": true})
}
