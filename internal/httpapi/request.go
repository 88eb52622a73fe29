package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"gas_oracle/internal/apperr"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type createKeyRequest struct {
	Origin *string `json:"origin" validate:"omitempty,max=255"`
	Note   *string `json:"note" validate:"omitempty,max=1000"`
}

type editKeyRequest struct {
	Secret   string  `json:"secret"`
	Origin   *string `json:"origin" validate:"omitempty,max=255"`
	Note     *string `json:"note" validate:"omitempty,max=1000"`
	ResetKey bool    `json:"resetKey"`
}

type createSessionRequest struct {
	Token string `json:"token" validate:"required"`
}

// decodeBody reads an optional JSON body into dst and validates it. An empty body
// leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.KindBadRequest, "Invalid request payload.", err)
	}
	return validateStruct(dst)
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Tag() == "required" {
			return apperr.BadRequest(fmt.Sprintf("The %s was not provided.", fe.Field()))
		}
		return apperr.BadRequest(fmt.Sprintf("The informed %s is invalid.", fe.Field()))
	}
	return apperr.New(apperr.KindBadRequest, "Invalid request payload.", err)
}
