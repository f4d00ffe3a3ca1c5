package library

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field limits of the book and account forms.
const (
	maxCategoryLen = 100

	minPasswordLen = 8
	// bcrypt rejects longer inputs.
	maxPasswordBytes = 72
)

var (
	passwordRules = fmt.Sprintf("required,min=%d,maxbytes=%d", minPasswordLen, maxPasswordBytes)
	categoryRules = fmt.Sprintf("max=%d", maxCategoryLen)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	})
	return v
}

// normalize trims surrounding whitespace from every text field and category name.
func (in BookInput) normalize() BookInput {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Description = strings.TrimSpace(in.Description)
	in.Publisher = strings.TrimSpace(in.Publisher)
	in.Language = strings.TrimSpace(in.Language)
	in.ISBN = strings.TrimSpace(in.ISBN)
	if in.Categories != nil {
		cats := make([]string, len(in.Categories))
		for i, c := range in.Categories {
			cats[i] = strings.TrimSpace(c)
		}
		in.Categories = cats
	}
	return in
}

// validate reports every field that does not satisfy the book form rules.
func (in BookInput) validate() error {
	return validationError(validate.Struct(in), "")
}

// signupInput is the account form.
type signupInput struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,max=254,email"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

func validateSignup(username, email, password string) error {
	return validationError(validate.Struct(signupInput{Username: username, Email: email, Password: password}), "")
}

func validatePassword(password string) error {
	return validationError(validate.Var(password, passwordRules), "password")
}

func validateCategoryName(name string) error {
	if name == "" {
		return &ValidationError{Fields: map[string]string{"name": "category name is required"}}
	}
	return validationError(validate.Var(name, categoryRules), "name")
}

// validationError converts validator output into a ValidationError. field names errors that
// come from validating a single value.
func validationError(err error, field string) error {
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}

	verr := &ValidationError{}
	for _, fe := range errs {
		name := fe.Field()
		if i := strings.IndexByte(name, '['); i >= 0 {
			name = name[:i]
		}
		if name == "" {
			name = field
		}
		verr.add(name, fieldMessage(name, fe))
	}
	return verr.orNil()
}

// FieldErrors converts the output of a struct validation, such as gin binding, into a
// ValidationError. Other errors are returned unchanged.
func FieldErrors(err error) error {
	return validationError(err, "")
}

func fieldMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "enter a valid email address"
	case "maxbytes":
		return fmt.Sprintf("ensure this value has at most %s bytes", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("ensure this value has at most %s characters", fe.Param())
		}
		return fmt.Sprintf("ensure this value is less than or equal to %s", fe.Param())
	case "min":
		if field == "password" {
			return fmt.Sprintf("password must be at least %s characters long", fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("ensure this value has at least %s characters", fe.Param())
		}
		return fmt.Sprintf("ensure this value is greater than or equal to %s", fe.Param())
	}
	return "enter a valid value"
}
