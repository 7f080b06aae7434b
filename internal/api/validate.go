package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"bronivik/bronivik_schedule/internal/model"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return "validation failed: " + strings.Join(messages, "; ")
}

// newValidator registers the clock and date tags and reports json field
// names in errors.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := model.ParseClock(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := model.ParseDate(fl.Field().String())
		return err == nil
	})
	return v
}

func (s *Server) validateStruct(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}

	out := make(ValidationErrors, 0, len(errs))
	for _, fe := range errs {
		message := fe.Error()
		switch fe.Tag() {
		case "required":
			message = "is required"
		case "clock":
			message = "must be a time as HH:MM"
		case "date":
			message = "must be a date as YYYY-MM-DD"
		case "email":
			message = "must be a valid email"
		case "gte":
			message = fmt.Sprintf("must be at least %s", fe.Param())
		case "max":
			message = fmt.Sprintf("must be at most %s", fe.Param())
		}
		out = append(out, ValidationError{Field: fe.Field(), Message: message})
	}
	return out
}
