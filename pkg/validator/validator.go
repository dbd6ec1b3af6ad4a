package validator

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/labstack/echo/v4"
)

// CustomValidator adapts go-playground/validator to echo's Validator
// interface, reporting translated messages keyed by json field name.
type CustomValidator struct {
	validate *validator.Validate
	trans    ut.Translator
}

func New() *CustomValidator {
	v := validator.New()

	// Surface errors under the json field name, not the Go field name.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}

		return name
	})

	english := en.New()
	trans, _ := ut.New(english, english).GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(v, trans); err != nil {
		panic("failed to register validator translations: " + err.Error())
	}

	return &CustomValidator{validate: v, trans: trans}
}

func (cv *CustomValidator) Validate(i any) error {
	err := cv.validate.Struct(i)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Translate(cv.trans)
	}

	return &ValidationError{Errors: details}
}

// ValidationError carries one translated message per failing field.
type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for field, msg := range e.Errors {
		parts = append(parts, field+": "+msg)
	}

	return strings.Join(parts, "; ")
}

type ValidationErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// HandleValidationError writes a 422 with per-field details for struct
// validation failures and a 400 for anything else.
func HandleValidationError(c echo.Context, err error) error {
	ve, ok := err.(*ValidationError)
	if !ok {
		return c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error: err.Error(),
		})
	}

	return c.JSON(http.StatusUnprocessableEntity, ValidationErrorResponse{
		Error:   "Validation failed",
		Details: ve.Errors,
	})
}
