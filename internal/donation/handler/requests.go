package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"sangue/internal/docstore"
	"sangue/internal/donation/models"
	dErrors "sangue/pkg/domain-errors"
)

type deleteCampaignRequest struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status" validate:"required"`
}

type deleteDonorRequest struct {
	ID    string `json:"id" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

type joinCampaignRequest struct {
	ID    string `json:"id" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

type familyMembersRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type deleteFamilyMemberRequest struct {
	ID          string `json:"id" validate:"required"`
	EmailDoador string `json:"email_doador" validate:"required,email"`
}

// validateStruct checks the validate tags of a decoded request.
func validateStruct(v *validator.Validate, req any) error {
	if err := v.Struct(req); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, describe(err))
	}
	return nil
}

// validateEmailField checks that a free-form document carries a valid email in field.
func validateEmailField(v *validator.Validate, doc docstore.Document, field string) error {
	email, ok := doc[field].(string)
	if !ok {
		return dErrors.New(dErrors.CodeValidation, field+" is required")
	}
	if err := v.Var(email, "required,email"); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, field+" must be a valid email")
	}
	return nil
}

// validateIDField rejects a present id that is neither a string nor null.
func validateIDField(doc docstore.Document) error {
	switch doc[models.FieldID].(type) {
	case nil, string:
		return nil
	default:
		return dErrors.New(dErrors.CodeValidation, "id must be a string")
	}
}

// validateBloodTypesField accepts an absent or null field, otherwise a list
// of distinct non-blank strings. Values are stored exactly as sent.
func validateBloodTypesField(v *validator.Validate, doc docstore.Document) error {
	raw, present := doc[models.FieldRequiredBloodTypes]
	if !present || raw == nil {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return dErrors.New(dErrors.CodeValidation, models.FieldRequiredBloodTypes+" must be a list of strings")
	}
	values := make([]string, 0, len(items))
	for _, item := range items {
		value, ok := item.(string)
		if !ok || strings.TrimSpace(value) == "" {
			return dErrors.New(dErrors.CodeValidation, models.FieldRequiredBloodTypes+" must be a list of strings")
		}
		values = append(values, value)
	}
	if err := v.Var(values, "unique"); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, models.FieldRequiredBloodTypes+" must not repeat a blood type")
	}
	return nil
}

// newValidator reports fields by their JSON names.
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

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email"
	default:
		return fe.Field() + " is invalid"
	}
}
