package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
)

var (
	validate      = newValidator()
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Return on 'TagName' json tag instead of struct name
	v.RegisterTagNameFunc(useJSONTagNames)
	_ = v.RegisterValidation("username", validateUsername)
	_ = v.RegisterValidation("password", validatePassword)

	return v
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func validateUsername(fl validator.FieldLevel) bool {
	return usernameRegex.MatchString(fl.Field().String())
}

// Password must contain at least one letter and one digit
func validatePassword(fl validator.FieldLevel) bool {
	var letter, digit bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

// Struct validates value by its struct tags.
// Returns FailureError of kind ErrValidation with per field messages joined.
func Struct(value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("can't validate: %w", err)
	}

	fields := Fields(errs)
	messages := make([]string, 0, len(errs))
	for _, fieldError := range errs {
		messages = append(messages, fieldError.Field()+": "+fields[fieldError.Field()])
	}

	return apperrors.NewFailure(apperrors.ErrValidation, strings.Join(messages, "; "), errs)
}

// Fields returns user-friendly message per invalid field
func Fields(errs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(errs))

	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required":
			message = "this field is required"
		case "min":
			message = fmt.Sprintf("value is too short (minimum %s)", fieldError.Param())
		case "max":
			message = fmt.Sprintf("value is too long (maximum %s)", fieldError.Param())
		case "email":
			message = "invalid email address"
		case "username":
			message = "only letters, digits, '_' and '-' are allowed"
		case "password":
			message = "must contain at least one letter and one digit"
		default:
			message = "invalid value"
		}
		fields[fieldError.Field()] = message
	}

	return fields
}
