package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core/fee"
)

type (
	feeApi struct {
		svc *fee.Service
	}

	PostScheduleResponse struct {
		ScheduleID   string `json:"schedule_id"`
		Generation   int    `json:"generation"`
		StudentCount int    `json:"student_count"`
	}
)

func registerFeeAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *fee.Service) {
	api := feeApi{svc: svc}

	sg := g.Group("/fee-schedules", jwt, adminMiddleware())
	sg.POST("", api.postSchedule)
	sg.GET("/current", api.currentSchedule)

	lg := g.Group("/ledgers", jwt)
	lg.GET("", api.queryLedgers, adminMiddleware())

	// detail endpoints
	dg := lg.Group("/:"+studentIDParam, selfOrAdminMiddleware())
	dg.GET("", api.retrieveLedger)
	dg.GET("/history", api.ledgerHistory)
	dg.POST("/payments", api.applyPayment, adminMiddleware())
}

// Handlers

func (api *feeApi) postSchedule(ctx echo.Context) error {
	var data fee.NewSchedule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSchedule")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	sched, err := api.svc.PostSchedule(ctx.Request().Context(), data, claims.Actor())
	if err != nil {
		return errors.Wrap(err, "posting fee schedule")
	}
	return ctx.JSON(http.StatusCreated, PostScheduleResponse{
		ScheduleID:   sched.ID,
		Generation:   sched.Generation,
		StudentCount: sched.StudentCount,
	})
}

func (api *feeApi) currentSchedule(ctx echo.Context) error {
	sched, err := api.svc.CurrentSchedule(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting current schedule")
	}
	return ctx.JSON(http.StatusOK, sched)
}

func (api *feeApi) queryLedgers(ctx echo.Context) error {
	filter := new(fee.LedgerFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to LedgerFilter")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	ledgers, err := api.svc.ListLedgers(ctx.Request().Context(), *filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying ledgers")
	}
	if ledgers == nil {
		ledgers = []fee.Ledger{}
	}
	return ctx.JSON(http.StatusOK, ledgers)
}

func (api *feeApi) retrieveLedger(ctx echo.Context) error {
	ldgr, err := api.svc.GetLedger(ctx.Request().Context(), ctx.Param(studentIDParam))
	if err != nil {
		return errors.Wrap(err, "getting ledger")
	}
	return ctx.JSON(http.StatusOK, ldgr)
}

func (api *feeApi) ledgerHistory(ctx echo.Context) error {
	ledgers, err := api.svc.LedgerHistory(ctx.Request().Context(), ctx.Param(studentIDParam))
	if err != nil {
		return errors.Wrap(err, "getting ledger history")
	}
	if ledgers == nil {
		ledgers = []fee.Ledger{}
	}
	return ctx.JSON(http.StatusOK, ledgers)
}

func (api *feeApi) applyPayment(ctx echo.Context) error {
	var data fee.NewPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}

	ldgr, err := api.svc.ApplyPayment(ctx.Request().Context(), ctx.Param(studentIDParam), data)
	if err != nil {
		return errors.Wrap(err, "applying payment")
	}
	return ctx.JSON(http.StatusOK, ldgr)
}
