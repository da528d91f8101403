package httpapi

import (
	"errors"
	"fmt"
	"strings"

	"channel-platform/internal/channels"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds the custom binding rules to gin's validator.
// Call once before serving.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("httpapi: gin validator is not go-playground/validator")
	}
	return v.RegisterValidation("instancename", func(fl validator.FieldLevel) bool {
		return channels.ValidInstanceName(fl.Field().String())
	})
}

// bindMessage renders a binding error for the response body.
func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid json"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "instancename":
			parts = append(parts, fmt.Sprintf("%s must be 3-50 characters of letters, digits, '_' or '-'", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(parts, "; ")
}
