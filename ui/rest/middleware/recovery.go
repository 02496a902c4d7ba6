package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/calmecac/wabridge/pkg/apperror"
	"github.com/calmecac/wabridge/pkg/utils"
)

// Recovery traduce panics de los handlers a la respuesta uniforme. Los
// apperror conservan su código y status; todo lo demás es un 500.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			if err := recover(); err != nil {
				res := utils.ResponseData{
					Status:  fiber.StatusInternalServerError,
					Code:    "INTERNAL_SERVER_ERROR",
					Message: fmt.Sprintf("%v", err),
				}

				if appErr, ok := err.(apperror.GenericError); ok {
					res.Status = appErr.StatusCode()
					res.Code = appErr.ErrCode()
					res.Message = appErr.Error()
				} else {
					logrus.Errorf("Panic recovered in middleware: %v", err)
				}

				_ = ctx.Status(res.Status).JSON(res)
			}
		}()

		return ctx.Next()
	}
}
