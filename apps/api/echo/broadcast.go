package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core/messaging"
)

type broadcastApi struct {
	deps ServerDeps
}

func registerBroadcastAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := broadcastApi{deps: deps}

	bg := g.Group("/broadcasts", auth)
	bg.POST("", api.create, staffMiddleware())
	bg.GET("", api.queryMine)
	bg.GET("/:id", api.retrieve)
	bg.POST("/:id/read", api.markRead)
}

// Handlers

func (api *broadcastApi) create(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data messaging.NewBroadcast
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBroadcast")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	b, err := api.deps.BroadcastSvc.BroadcastToClass(ctx.Request().Context(), usr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, b)
}

// queryMine lists the broadcasts addressed to the calling student.
func (api *broadcastApi) queryMine(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	bs, err := api.deps.BroadcastSvc.QueryStudentBroadcasts(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying broadcasts")
	}
	if bs == nil {
		bs = []messaging.Broadcast{}
	}
	return ctx.JSON(http.StatusOK, bs)
}

func (api *broadcastApi) retrieve(ctx echo.Context) error {
	b, err := api.deps.BroadcastSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *broadcastApi) markRead(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err := api.deps.BroadcastSvc.MarkBroadcastRead(ctx.Request().Context(), ctx.Param("id"), usr.ID); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
