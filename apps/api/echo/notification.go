package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core/notification"
)

type notificationApi struct {
	deps ServerDeps
}

func registerNotificationAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := notificationApi{deps: deps}

	ng := g.Group("/notifications", auth)
	ng.GET("", api.queryMine)
	ng.POST("/:id/read", api.markRead)
	ng.POST("/:id/dismiss", api.dismiss)

	// attendance monitor administration
	mg := g.Group("/monitor", auth, officeMiddleware())
	mg.POST("/check", api.runCheck)
	mg.POST("/start", api.start)
	mg.POST("/stop", api.stop)
	mg.GET("/status", api.status)
	mg.GET("/retry-queue", api.retryQueue)
	mg.DELETE("/retry-queue", api.clearRetryQueue)
}

// Handlers

func (api *notificationApi) queryMine(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	notes, err := api.deps.NotificationSvc.QueryUserNotifications(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying notifications")
	}
	if notes == nil {
		notes = []notification.Notification{}
	}
	return ctx.JSON(http.StatusOK, notes)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err := api.deps.NotificationSvc.MarkRead(ctx.Request().Context(), ctx.Param("id"), usr.ID); err != nil {
		if errors.Cause(err) == notification.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notificationApi) dismiss(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err := api.deps.NotificationSvc.Dismiss(ctx.Request().Context(), ctx.Param("id"), usr.ID); err != nil {
		if errors.Cause(err) == notification.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// runCheck triggers a scan synchronously; a scan already in flight reports
// itself in the result errors rather than failing the request.
func (api *notificationApi) runCheck(ctx echo.Context) error {
	res := api.deps.Monitor.RunManualCheck(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, res)
}

func (api *notificationApi) start(ctx echo.Context) error {
	// detached from the request: the cron loop must outlive it
	api.deps.Monitor.Start(context.Background())
	return ctx.JSON(http.StatusOK, api.deps.Monitor.Status())
}

func (api *notificationApi) stop(ctx echo.Context) error {
	api.deps.Monitor.Stop()
	return ctx.JSON(http.StatusOK, api.deps.Monitor.Status())
}

func (api *notificationApi) status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.deps.Monitor.Status())
}

func (api *notificationApi) retryQueue(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, RetryQueueResponse{
		Status:  api.deps.Monitor.RetryQueueStatus(),
		Entries: api.deps.Monitor.RetryQueueEntries(),
	})
}

func (api *notificationApi) clearRetryQueue(ctx echo.Context) error {
	cleared := api.deps.Monitor.ClearRetryQueue()
	return ctx.JSON(http.StatusOK, echo.Map{"cleared": cleared})
}
