package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

var validationMessages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email",
	"oneof":    "must be one of",
	"gt":       "must be greater than",
	"lte":      "must be at most",
}

// decodeRequest parses a JSON body into dst and runs its validate tags. On
// failure the 400 response has already been written.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return false
		}

		details := make([]string, 0, len(errs))
		for _, e := range errs {
			msg := validationMessages[e.Tag()]
			if msg == "" {
				msg = "failed " + e.Tag()
			}
			if e.Param() != "" {
				msg += " " + e.Param()
			}
			details = append(details, fmt.Sprintf("%s %s", e.Field(), msg))
		}
		writeError(w, http.StatusBadRequest, "validation_failed", strings.Join(details, "; "))
		return false
	}

	return true
}
