package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

var registerOnce sync.Once

// RegisterValidators adds the ucp_event and ucp_permission tags to gin's
// binding validator. It is safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("ucp_event", func(fl validator.FieldLevel) bool {
			return domain.IsEvent(fl.Field().String())
		})
		_ = v.RegisterValidation("ucp_permission", func(fl validator.FieldLevel) bool {
			_, ok := domain.ParsePermission(fl.Field().String())
			return ok
		})
	})
}

// bindJSON decodes and validates the body into out. On failure it writes a
// 400 and returns false.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		failBind(c, err)
		return false
	}
	return true
}

func failBind(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, validationMessage(ve))
		return
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
}

// validationMessage renders field errors as "field: rule" pairs.
func validationMessage(ve validator.ValidationErrors) string {
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "ucp_event":
			parts = append(parts, fmt.Sprintf("%s: unknown event %q", field, fe.Value()))
		case "ucp_permission":
			parts = append(parts, fmt.Sprintf("%s: must be one of read, write, admin", field))
		default:
			parts = append(parts, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
