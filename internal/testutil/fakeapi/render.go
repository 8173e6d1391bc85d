package fakeapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/itemsadmin/internal/service/validate"
)

type validationDetail struct {
	Loc []string `json:"loc"`
	Msg string   `json:"msg"`
}

func renderJSON(w http.ResponseWriter, data any) {
	jsonWithStatus(w, data, http.StatusOK)
}

// Errors are rendered with 'detail' field as the real backend does
func renderDetail(w http.ResponseWriter, detail string, code int) {
	jsonWithStatus(w, map[string]string{"detail": detail}, code)
}

func renderDecodeError(w http.ResponseWriter, err error) {
	var message string

	// Try to provide more specific error message based on error type
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		message = fmt.Sprintf("Invalid data type for field '%s'", typeErr.Field)
	default:
		message = fmt.Sprintf("Failed to parse JSON: %s", err.Error())
	}

	renderDetail(w, message, http.StatusBadRequest)
}

// Validation errors are rendered as list of {loc, msg}, 422 status
func renderValidationError(w http.ResponseWriter, errs validator.ValidationErrors) {
	fields := validate.Fields(errs)
	details := make([]validationDetail, 0, len(errs))
	for _, fieldError := range errs {
		details = append(details, validationDetail{
			Loc: []string{"body", fieldError.Field()},
			Msg: fieldError.Field() + ": " + fields[fieldError.Field()],
		})
	}

	jsonWithStatus(w, map[string]any{"detail": details}, http.StatusUnprocessableEntity)
}

// bind decodes JSON request body into type T and validates it using struct tags.
// Writes error response and returns false on failure.
func bind[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var value T

	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		renderDecodeError(w, err)
		return value, false
	}

	if err := validate.Struct(value); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			renderValidationError(w, errs)
		} else {
			renderDetail(w, err.Error(), http.StatusBadRequest)
		}
		return value, false
	}

	return value, true
}

// jsonWithStatus sends data as json and enforces status code
func jsonWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
