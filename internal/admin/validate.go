package admin

import (
	"errors"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
)

var fieldMessages = map[string]string{
	FieldTitle:       "Введите название",
	FieldExternalURL: "Укажите ссылку, начинающуюся с http",
	FieldCoverImage:  "Загрузите обложку",
	FieldCategoryIDs: "Выберите хотя бы одну категорию",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a material before it is sent and returns a fields error keyed by JSON field name.
func Validate(in api.MaterialInput) error {
	in.Title = strings.TrimSpace(in.Title)

	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidationError(err.Error())
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Field()]
		if !ok {
			msg = "Некорректное значение"
		}
		fields[fe.Field()] = msg
	}
	return apperrors.NewFieldsError(fields)
}

// FieldErrors extracts the per-field messages of a validation error.
func FieldErrors(err error) map[string]string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Fields
	}
	return nil
}
