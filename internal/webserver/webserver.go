package webserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/talkincode/wafleet/internal/app"
	"go.uber.org/zap"
)

const apiPrefix = "/api/v1"

var server *WebServer

// WebServer wraps the echo instance serving the admin API.
type WebServer struct {
	root   *echo.Echo
	api    *echo.Group
	appCtx *app.Application
}

type payloadValidator struct {
	validate *validator.Validate
}

func (v *payloadValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// Init builds the global web server around the application context.
func Init(appCtx *app.Application) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &payloadValidator{validate: validator.New()}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Info("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))

	// inject the application context for handlers
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("app", appCtx)
			return next(c)
		}
	})

	cfg := appCtx.Config()
	e.POST("/auth/token", issueToken(appCtx))

	api := e.Group(apiPrefix)
	api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(cfg.Web.JwtSecret),
	}))

	server = &WebServer{root: e, api: api, appCtx: appCtx}
	return server
}

// issueToken exchanges the configured api user credentials for a JWT.
func issueToken(appCtx *app.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var payload struct {
			Username string `json:"username" form:"username"`
			Password string `json:"password" form:"password"`
		}
		if err := c.Bind(&payload); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unable to parse request")
		}

		cfg := appCtx.Config()
		if payload.Username != cfg.Web.ApiUser || payload.Password != cfg.Web.ApiPasswd {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}

		claims := jwt.RegisteredClaims{
			Subject:   payload.Username,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte(cfg.Web.JwtSecret))
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to sign token")
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"token":      signed,
			"expires_in": 86400,
		})
	}
}

// Start begins serving on the configured host and port. Blocking.
func Start() error {
	if server == nil {
		return fmt.Errorf("webserver not initialized")
	}
	cfg := server.appCtx.Config()
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	zap.L().Info("admin api listening", zap.String("addr", addr))
	return server.root.Start(addr)
}

// Shutdown stops the http listener.
func Shutdown() {
	if server != nil {
		_ = server.root.Close()
	}
}

// Echo exposes the underlying echo instance (used in tests).
func Echo() *echo.Echo {
	if server == nil {
		return nil
	}
	return server.root
}

func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}
