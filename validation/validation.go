// Package validation turns untrusted form input into typed records. Every
// failure is reported as *Errors listing the violated constraints.
package validation

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"petsoft/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

type Errors struct {
	Fields []FieldError `json:"fields"`
}

func (e *Errors) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether field failed any rule.
func (e *Errors) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// AsErrors extracts the field list from err, if it carries one.
func AsErrors(err error) (*Errors, bool) {
	var ve *Errors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

type Credentials struct {
	Email    string `form:"email" validate:"required,email,max=100"`
	Password string `form:"password" validate:"max=100"`
}

// ParseAuth validates submitted login or signup fields. Both fields must be
// present in the submission.
func ParseAuth(values url.Values) (Credentials, error) {
	var errs Errors
	for _, key := range []string{"email", "password"} {
		if _, ok := values[key]; !ok {
			errs.Fields = append(errs.Fields, FieldError{Field: key, Rule: "required", Message: "Required"})
		}
	}
	if len(errs.Fields) > 0 {
		return Credentials{}, &errs
	}

	c := Credentials{
		Email:    values.Get("email"),
		Password: values.Get("password"),
	}
	if err := check(c); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// PetInput is a pet as submitted by a form, before any coercion.
type PetInput struct {
	Name      string `json:"name"`
	OwnerName string `json:"ownerName"`
	ImageURL  string `json:"imageUrl"`
	Age       string `json:"age"`
	Notes     string `json:"notes"`
}

func PetInputFromValues(values url.Values) PetInput {
	return PetInput{
		Name:      values.Get("name"),
		OwnerName: values.Get("ownerName"),
		ImageURL:  values.Get("imageUrl"),
		Age:       values.Get("age"),
		Notes:     values.Get("notes"),
	}
}

// PetForm is a validated pet. ImageURL is never empty.
type PetForm struct {
	Name      string `form:"name" validate:"required,max=100"`
	OwnerName string `form:"ownerName" validate:"required,max=100"`
	ImageURL  string `form:"imageUrl" validate:"omitempty,url"`
	Age       int    `form:"age" validate:"gt=0,lte=999"`
	Notes     string `form:"notes" validate:"max=1000"`
}

func ParsePet(in PetInput) (PetForm, error) {
	form := PetForm{
		Name:      strings.TrimSpace(in.Name),
		OwnerName: strings.TrimSpace(in.OwnerName),
		ImageURL:  strings.TrimSpace(in.ImageURL),
		Notes:     strings.TrimSpace(in.Notes),
	}

	age, ageErr := coerceAge(in.Age)
	form.Age = age

	err := check(form)
	if ageErr != nil {
		errs, ok := AsErrors(err)
		if !ok {
			errs = &Errors{}
		}
		// The coercion message replaces whatever the range check said.
		kept := errs.Fields[:0]
		for _, f := range errs.Fields {
			if f.Field != "age" {
				kept = append(kept, f)
			}
		}
		errs.Fields = append(kept, *ageErr)
		return PetForm{}, errs
	}
	if err != nil {
		return PetForm{}, err
	}

	if form.ImageURL == "" {
		form.ImageURL = models.DefaultPetImage
	}
	return form, nil
}

// Apply copies the validated fields onto p.
func (f PetForm) Apply(p *models.Pet) {
	p.Name = f.Name
	p.OwnerName = f.OwnerName
	p.ImageURL = f.ImageURL
	p.Age = f.Age
	p.Notes = f.Notes
}

func coerceAge(raw string) (int, *FieldError) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, &FieldError{Field: "age", Rule: "number", Message: "Age must be a number"}
	}
	if n != math.Trunc(n) {
		return 0, &FieldError{Field: "age", Rule: "int", Message: "Age must be a whole number"}
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, &FieldError{Field: "age", Rule: "lte", Message: "Age is too high"}
	}
	return int(n), nil
}

func ParsePetID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if err := validate.Var(id, "required,uuid"); err != nil {
		return "", &Errors{Fields: []FieldError{{Field: "id", Rule: "uuid", Message: "Invalid pet ID"}}}
	}
	return id, nil
}

var messages = map[string]string{
	"email.required":     "Email is required",
	"email.email":        "Invalid email address",
	"email.max":          "Email is too long",
	"password.max":       "Password is too long",
	"name.required":      "Name is required",
	"name.max":           "Name is too long",
	"ownerName.required": "Owner name is required",
	"ownerName.max":      "Owner name is too long",
	"imageUrl.url":       "Invalid image URL",
	"age.gt":             "Age must be a positive number",
	"age.lte":            "Age is too high",
	"notes.max":          "Notes are too long",
}

func check(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &Errors{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		msg, ok := messages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("failed %s", fe.Tag())
		}
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Message: msg})
	}
	return out
}
