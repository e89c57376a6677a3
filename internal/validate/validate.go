// Package validate holds the submission-time validation rules for the
// HTTP control surface, backed by go-playground/validator.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var destinationRe = regexp.MustCompile(`^\+?[0-9]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("smsdest", validateDestination)
	_ = v.RegisterValidation("priority", validatePriority)
	return v
}

// SubmitRequest is the validated shape of a POST /sms body.
type SubmitRequest struct {
	Recipient   string            `json:"recipient" validate:"required,smsdest"`
	Content     string            `json:"content" validate:"required"`
	Priority    string            `json:"priority" validate:"omitempty,priority"`
	ScheduledAt *int64            `json:"scheduled_at"`
	Metadata    map[string]string `json:"metadata"`
}

// MaxPayloadWarnLen is the code-unit length above which the payload is
// warned about but never rejected (spec.md §3).
const MaxPayloadWarnLen = 160

// Validate runs struct-tag validation and returns a single readable error.
func Validate(req *SubmitRequest) error {
	if err := validate.Struct(req); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "smsdest":
		return "recipient must be digits with an optional leading '+', 9-15 digits long"
	case "priority":
		return "priority must be one of LOW, NORMAL, HIGH, URGENT"
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

func validateDestination(fl validator.FieldLevel) bool {
	return DestinationValid(fl.Field().String())
}

// DestinationValid implements spec.md §3: digits with optional leading '+',
// length 9-15 after stripping punctuation.
func DestinationValid(raw string) bool {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, raw)
	if !destinationRe.MatchString(stripped) {
		return false
	}
	digits := strings.TrimPrefix(stripped, "+")
	return len(digits) >= 9 && len(digits) <= 15
}

func validatePriority(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "LOW", "NORMAL", "HIGH", "URGENT":
		return true
	default:
		return false
	}
}
