package ccda

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// ErrEmptySubmission is returned when the input body carries no JSON value.
var ErrEmptySubmission = errors.New("ccda: submission is empty")

// Submission is the input contract supplied by a form or API client.
type Submission struct {
	FirstName     string           `json:"firstName" validate:"required"`
	LastName      string           `json:"lastName" validate:"required"`
	DateOfBirth   string           `json:"dateOfBirth"`
	Gender        string           `json:"gender"`
	DocumentDate  string           `json:"documentDate"`
	PerformingOrg string           `json:"performingOrg"`
	LabResults    []LabResultInput `json:"labResults" validate:"required,min=1,dive"`
}

// LabResultInput is one submitted lab result row.
type LabResultInput struct {
	Name      string `json:"name" validate:"required"`
	Code      string `json:"code"`
	Value     string `json:"value" validate:"required"`
	Unit      string `json:"unit"`
	RangeLow  string `json:"rangeLow"`
	RangeHigh string `json:"rangeHigh"`
	Date      string `json:"date" validate:"required"`
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError lists every field that failed boundary validation.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s (%s)", f.Field, f.Rule)
	}
	return "ccda: invalid submission: " + strings.Join(parts, ", ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeSubmission reads a JSON submission, rejecting unknown fields, and
// trims surrounding whitespace from every value.
func DecodeSubmission(r io.Reader) (*Submission, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ccda: failed to read submission: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptySubmission
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s Submission
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("ccda: failed to decode submission: %w", err)
	}
	s.trim()
	return &s, nil
}

func (s *Submission) trim() {
	for _, f := range []*string{&s.FirstName, &s.LastName, &s.DateOfBirth, &s.Gender, &s.DocumentDate, &s.PerformingOrg} {
		*f = strings.TrimSpace(*f)
	}
	for i := range s.LabResults {
		l := &s.LabResults[i]
		for _, f := range []*string{&l.Name, &l.Code, &l.Value, &l.Unit, &l.RangeLow, &l.RangeHigh, &l.Date} {
			*f = strings.TrimSpace(*f)
		}
	}
}

// Validate enforces presence of the fields the assembler cannot default:
// patient names and each result's name, value, and date.
func (s *Submission) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("ccda: validate submission: %w", err)
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field: trimNamespace(fe.Namespace()),
			Rule:  fe.Tag(),
		})
	}
	return out
}

// trimNamespace drops the root struct name from a validator namespace.
func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Patient returns the demographic snapshot for the assembler.
func (s *Submission) Patient() PatientRecord {
	return PatientRecord{
		GivenName:    s.FirstName,
		FamilyName:   s.LastName,
		BirthDate:    s.DateOfBirth,
		Gender:       s.Gender,
		DocumentDate: s.DocumentDate,
		Organization: s.PerformingOrg,
	}
}

// Labs returns the lab results in submission order.
func (s *Submission) Labs() []LabResultRecord {
	labs := make([]LabResultRecord, len(s.LabResults))
	for i, l := range s.LabResults {
		labs[i] = LabResultRecord{
			Name:      l.Name,
			Code:      l.Code,
			Value:     l.Value,
			Unit:      l.Unit,
			RangeLow:  l.RangeLow,
			RangeHigh: l.RangeHigh,
			Date:      l.Date,
		}
	}
	return labs
}
