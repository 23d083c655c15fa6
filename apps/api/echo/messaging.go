package echoapi

import (
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core/messaging"
	"github.com/shulelink/backend/core/user"
)

type messagingApi struct {
	deps ServerDeps
}

func registerMessagingAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := messagingApi{deps: deps}

	mg := g.Group("/messages", auth)
	mg.POST("", api.send)
	mg.POST("/:id/forward", api.forward)

	cg := g.Group("/conversations", auth)
	cg.GET("", api.queryConversations)
	cg.GET("/:id/messages", api.queryMessages)
	cg.POST("/:id/read", api.markRead)
	cg.PUT("/:id/mute", api.setMuted)
	cg.PUT("/:id/archive", api.setArchived)
	cg.POST("/:id/typing", api.typing)
}

// Handlers

// send accepts either a JSON body or a multipart form carrying file parts
// under "attachments".
func (api *messagingApi) send(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data messaging.NewMessage
	var closers []multipart.File

	if strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		form, err := ctx.MultipartForm()
		if err != nil {
			return errors.Wrap(err, "parsing multipart form")
		}
		data = messaging.NewMessage{
			ConversationID: ctx.FormValue("conversation_id"),
			RecipientID:    ctx.FormValue("recipient_id"),
			RecipientType:  user.Role(ctx.FormValue("recipient_type")),
			Content:        ctx.FormValue("content"),
			Category:       ctx.FormValue("category"),
			ReplyToID:      ctx.FormValue("reply_to_id"),
		}
		for _, fh := range form.File["attachments"] {
			f, err := fh.Open()
			if err != nil {
				return errors.Wrap(err, "opening uploaded file")
			}
			closers = append(closers, f)
			data.Attachments = append(data.Attachments, messaging.FileUpload{
				Filename: fh.Filename,
				MimeType: fh.Header.Get(echo.HeaderContentType),
				Size:     fh.Size,
				Content:  f,
			})
		}
		defer func() {
			for _, f := range closers {
				_ = f.Close()
			}
		}()
	} else if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMessage")
	}

	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	msg, err := api.deps.MessagingSvc.SendMessage(ctx.Request().Context(), usr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *messagingApi) forward(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data ForwardRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ForwardRequest")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	msg, err := api.deps.MessagingSvc.ForwardMessage(
		ctx.Request().Context(), usr, ctx.Param("id"), data.RecipientID, data.RecipientType)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *messagingApi) queryConversations(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	convs, err := api.deps.MessagingSvc.QueryUserConversations(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying conversations")
	}
	if convs == nil {
		convs = []messaging.Conversation{}
	}
	return ctx.JSON(http.StatusOK, convs)
}

func (api *messagingApi) queryMessages(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	msgs, err := api.deps.MessagingSvc.QueryConversationMessages(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []messaging.Message{}
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *messagingApi) markRead(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err := api.deps.MessagingSvc.MarkRead(ctx.Request().Context(), ctx.Param("id"), usr); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *messagingApi) setMuted(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	var data MuteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MuteRequest")
	}
	if err := api.deps.MessagingSvc.SetMuted(ctx.Request().Context(), ctx.Param("id"), usr, data.Muted); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *messagingApi) setArchived(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	var data ArchiveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ArchiveRequest")
	}
	if err := api.deps.MessagingSvc.SetArchived(ctx.Request().Context(), ctx.Param("id"), usr, data.Archived); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// typing is fire-and-forget: the indicator is ephemeral and never persisted,
// so membership is the only check.
func (api *messagingApi) typing(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err := api.deps.MessagingSvc.NotifyTyping(ctx.Request().Context(), ctx.Param("id"), usr); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusAccepted)
}
