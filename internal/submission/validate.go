package submission

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

// DefaultLabel is the paper's base file name when none is given.
const DefaultLabel = "End-Term"

// DefaultMaxFileBytes caps uploads when the caller sets no limit of its own.
const DefaultMaxFileBytes int64 = 25 << 20

const minYear = 1900

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("pathsafe", pathSafe); err != nil {
		panic(fmt.Sprintf("register pathsafe validation: %v", err))
	}
	return v
}

// pathSafe accepts values that stay a single, unchanged path segment when joined.
func pathSafe(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if strings.ContainsAny(value, `/\`) || strings.Contains(value, "..") || strings.TrimSpace(value) != value {
		return false
	}
	return value != "." && path.Clean(value) == value
}

// Submission is one paper offered for the archive.
type Submission struct {
	CourseName string `validate:"required,max=200,pathsafe"`
	CourseCode string `validate:"required,max=32,pathsafe"`
	Year       int    `validate:"required"`
	// Label is the paper's base file name, without extension.
	Label       string `validate:"required,max=100,pathsafe"`
	File        []byte `validate:"required,min=1"`
	ContentType string
}

// Normalize trims fields, defaults Label and drops a trailing .pdf from it.
func (s Submission) Normalize() Submission {
	s.CourseName = strings.TrimSpace(s.CourseName)
	s.CourseCode = strings.TrimSpace(s.CourseCode)
	s.Label = strings.TrimSpace(s.Label)
	if len(s.Label) > 4 && strings.EqualFold(s.Label[len(s.Label)-4:], ".pdf") {
		s.Label = strings.TrimSpace(s.Label[:len(s.Label)-4])
	}
	if s.Label == "" {
		s.Label = DefaultLabel
	}
	return s
}

// Validate checks a normalized submission. maxBytes <= 0 disables the size limit.
func Validate(s Submission, now time.Time, maxBytes int64) error {
	var problems []string
	if err := validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			problems = append(problems, formatFieldError(fe))
		}
	}
	if s.Year != 0 && (s.Year < minYear || s.Year > now.Year()) {
		problems = append(problems, fmt.Sprintf("year must be between %d and %d", minYear, now.Year()))
	}
	if len(s.File) > 0 {
		if maxBytes > 0 && int64(len(s.File)) > maxBytes {
			problems = append(problems, fmt.Sprintf("file must be at most %d bytes", maxBytes))
		}
		if !mimetype.Detect(s.File).Is("application/pdf") {
			problems = append(problems, "file must be a PDF")
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	field := fieldNames[fe.Field()]
	if field == "" {
		field = strings.ToLower(fe.Field())
	}
	switch fe.Tag() {
	case "required", "min":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "pathsafe":
		return fmt.Sprintf("%s may not be '.' or contain slashes, '..' or surrounding spaces", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

var fieldNames = map[string]string{
	"CourseName": "courseName",
	"CourseCode": "courseCode",
	"Year":       "year",
	"Label":      "label",
	"File":       "file",
}
