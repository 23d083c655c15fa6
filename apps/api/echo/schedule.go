package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core/messaging"
)

type scheduleApi struct {
	deps ServerDeps
}

func registerScheduleAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := scheduleApi{deps: deps}

	sg := g.Group("/scheduled-messages", auth)
	sg.POST("", api.create)
	sg.GET("", api.queryMine)
	sg.GET("/:id", api.retrieve)
	sg.DELETE("/:id", api.cancel)
}

// Handlers

func (api *scheduleApi) create(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data messaging.NewScheduledMessage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewScheduledMessage")
	}
	if err := data.Validate(api.deps.Validate, time.Now().UTC()); err != nil {
		return err
	}

	sm, err := api.deps.ScheduleSvc.Schedule(ctx.Request().Context(), usr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sm)
}

func (api *scheduleApi) queryMine(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	sms, err := api.deps.ScheduleSvc.QueryUserScheduledMessages(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying scheduled messages")
	}
	if sms == nil {
		sms = []messaging.ScheduledMessage{}
	}
	return ctx.JSON(http.StatusOK, sms)
}

func (api *scheduleApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	sm, err := api.deps.ScheduleSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	if sm.SenderID != usr.ID {
		return errHttpForbidden
	}
	return ctx.JSON(http.StatusOK, sm)
}

func (api *scheduleApi) cancel(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err := api.deps.ScheduleSvc.Cancel(ctx.Request().Context(), usr, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
