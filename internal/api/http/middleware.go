package http

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"github.com/spec-kit/community-hub/internal/correlation"
	"github.com/spec-kit/community-hub/internal/observability"
	apperrors "github.com/spec-kit/community-hub/pkg/util"
)

// HeaderCorrelationID carries the request's correlation id in responses.
const HeaderCorrelationID = "X-Correlation-ID"

// RegisterMiddlewares attaches global middlewares. Order matters: the
// correlation scope encloses logging and error rendering so both can
// report the correlation id.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, clock abtime.AbstractTime, timeout time.Duration) {
	app.Use(correlationMiddleware(clock))
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
}

// correlationMiddleware opens a correlation scope per request and ends it
// on every exit path. Incoming ids are not trusted; a fresh one is issued.
func correlationMiddleware(clock abtime.AbstractTime) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cc := correlation.Begin(clock)
		defer cc.End()

		c.Set(HeaderCorrelationID, cc.ID())
		c.SetUserContext(correlation.NewContext(c.UserContext(), cc))
		return c.Next()
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				correlation.Logger(c.UserContext(), logger).Error("panic recovered",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(fmt.Errorf("panic: %v", r))
			}
			if err != nil {
				domainErr := apperrors.ToDomainError(err)
				if metrics != nil {
					metrics.RecordError(c.Path(), c.Method(), domainErr.Code)
				}
				body := fiber.Map{
					"code":    domainErr.Code,
					"message": domainErr.Message,
				}
				if id := correlation.IDFromContext(c.UserContext()); id != "" {
					body["correlation_id"] = id
				}
				if len(domainErr.Details) > 0 {
					body["details"] = domainErr.Details
				}

				log := correlation.Logger(c.UserContext(), logger)
				if domainErr.HTTPStatus >= 500 {
					log.Error("request failed", zap.String("code", domainErr.Code), zap.Error(domainErr))
				} else {
					log.Info("request rejected", zap.String("code", domainErr.Code), zap.Error(domainErr))
				}
				c.Status(domainErr.HTTPStatus)
				_ = c.JSON(fiber.Map{"error": body})
				err = nil
			}
		}()
		return c.Next()
	}
}
