package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core/user"
)

// Identity headers set by the authenticating gateway.
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	headerUserName = "X-User-Name"
)

const principalCtxKey = "principal"

var (
	errUnauthenticated  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden    = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errPrincipalMissing = errors.New("principal not found in echo.Context")
)

// principalMiddleware resolves the acting user from the gateway identity
// headers. The role header is authoritative for authorization; the stored
// user row supplies display fields and the active flag.
func principalMiddleware(usrSvc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id := ctx.Request().Header.Get(headerUserID)
			role := user.Role(ctx.Request().Header.Get(headerUserRole))
			if id == "" || !role.Valid() {
				return errUnauthenticated
			}

			usr, err := usrSvc.GetByID(ctx.Request().Context(), id)
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					return errUnauthenticated
				}
				return errors.Wrap(err, "resolving principal")
			}
			if !usr.IsActive {
				return errHttpForbidden
			}
			usr.Role = role
			if name := ctx.Request().Header.Get(headerUserName); name != "" {
				usr.Name = name
			}

			ctx.Set(principalCtxKey, usr)
			return next(ctx)
		}
	}
}

// staffMiddleware restricts an endpoint to teachers and office staff.
func staffMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return err
			}
			if usr.IsStudent() {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

// officeMiddleware restricts an endpoint to office staff.
func officeMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return err
			}
			if !usr.IsOffice() {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

func getContextUser(ctx echo.Context) (user.User, error) {
	usr, ok := ctx.Get(principalCtxKey).(user.User)
	if !ok {
		return user.User{}, errors.Wrap(errPrincipalMissing, "getting context user")
	}
	return usr, nil
}
