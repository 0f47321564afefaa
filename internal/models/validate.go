package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/recurrence"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("time_of_day", validateTimeOfDay)
	return v
}

func validateTimeOfDay(fl validator.FieldLevel) bool {
	_, err := recurrence.ParseTimeOfDay(fl.Field().String())
	return err == nil
}

// FieldError is a single rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of a schedule. It matches ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validate checks a normalized schedule definition. Runtime fields are not checked.
func (s *Schedule) Validate() error {
	var fields []FieldError

	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fieldName(fe), Message: fieldMessage(fe)})
		}
	}

	// Day fields depend on the frequency; the rule knows which one is required.
	// The time of day was checked above, so midnight stands in for it here.
	if s.Frequency.Valid() {
		r := recurrence.Rule{Frequency: s.Frequency, DayOfWeek: s.DayOfWeek, DayOfMonth: s.DayOfMonth}
		if err := r.Validate(); err != nil {
			if f := ruleField(err); !hasField(fields, f) {
				fields = append(fields, FieldError{Field: f, Message: err.Error()})
			}
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

var fieldNames = map[string]string{
	"Name":       "name",
	"ReportType": "report_type",
	"Format":     "format",
	"Frequency":  "frequency",
	"TimeOfDay":  "time_of_day",
	"DayOfWeek":  "day_of_week",
	"DayOfMonth": "day_of_month",
	"Recipients": "recipients",
	"Status":     "status",
}

func fieldName(fe validator.FieldError) string {
	name := fe.StructField()
	if n, ok := fieldNames[name]; ok {
		name = n
	} else if strings.HasPrefix(fe.StructNamespace(), "Schedule.Recipients[") {
		// dive errors name the element, e.g. Recipients[1]
		return "recipients" + strings.TrimPrefix(fe.StructNamespace(), "Schedule.Recipients")
	}
	return name
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "time_of_day":
		return "must be HH:MM in 24-hour range"
	case "email":
		return "must be a valid email address"
	case "lowercase":
		return "must be lowercase"
	case "min":
		if fe.Kind().String() == "slice" {
			return "must contain at least " + fe.Param() + " entry"
		}
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}

func hasField(fields []FieldError, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

func ruleField(err error) string {
	switch {
	case errors.Is(err, recurrence.ErrDayOfWeekRequired), errors.Is(err, recurrence.ErrDayOfWeekRange):
		return "day_of_week"
	case errors.Is(err, recurrence.ErrDayOfMonthRequired), errors.Is(err, recurrence.ErrDayOfMonthRange):
		return "day_of_month"
	}
	return "frequency"
}
