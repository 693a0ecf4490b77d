package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/referral-api/internal/model"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
)

// Canonical field name -> accepted header aliases, first non-empty wins.
var headerAliases = []struct {
	field   string
	aliases []string
}{
	{"appointmentId", []string{"appointment_id", "id"}},
	{"patientFirstName", []string{"patient_first_name", "first_name"}},
	{"patientLastName", []string{"patient_last_name", "last_name"}},
	{"patientEmail", []string{"patient_email", "email"}},
	{"serviceName", []string{"service", "service_name"}},
	{"appointmentDate", []string{"start_time", "appointment_date", "date"}},
	{"appointmentStatus", []string{"status", "appointment_status"}},
	{"referralCodeUsed", []string{"referral_code_used", "referral_code"}},
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9 ]`)
	spacesRe     = regexp.MustCompile(` +`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// FieldError describes one invalid value in an uploaded payload. Row is 1-based, 0 for payload-level errors.
type FieldError struct {
	Row     int    `json:"row,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// canonicalHeader lower-cases, collapses whitespace, drops punctuation and joins words with underscores.
func canonicalHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = whitespaceRe.ReplaceAllString(h, " ")
	h = nonAlnumRe.ReplaceAllString(h, "")
	return spacesRe.ReplaceAllString(strings.TrimSpace(h), "_")
}

// Normalize parses a vendor CSV export into a validated payload. Any invalid row rejects the whole file.
func Normalize(r io.Reader, filename string) (*model.CsvPayload, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.Validation("CSV file is empty", []FieldError{{Field: "rows", Message: "at least one row is required"}})
	}
	if err != nil {
		return nil, apperrors.BadRequest("malformed CSV", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		key := canonicalHeader(h)
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}

	var (
		rows      []model.CsvRow
		fieldErrs []FieldError
	)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.BadRequest("malformed CSV", err)
		}
		if blankRecord(record) {
			continue
		}

		values := make(map[string]string, len(headerAliases))
		for _, f := range headerAliases {
			for _, alias := range f.aliases {
				i, ok := index[alias]
				if !ok || i >= len(record) {
					continue
				}
				if v := strings.TrimSpace(record[i]); v != "" {
					values[f.field] = v
					break
				}
			}
		}

		row := model.CsvRow{
			AppointmentID:     values["appointmentId"],
			PatientFirstName:  values["patientFirstName"],
			PatientLastName:   values["patientLastName"],
			PatientEmail:      values["patientEmail"],
			ServiceName:       values["serviceName"],
			AppointmentStatus: values["appointmentStatus"],
			ReferralCodeUsed:  values["referralCodeUsed"],
		}
		rowNum := len(rows) + 1
		if raw := values["appointmentDate"]; raw != "" {
			t, err := model.ParseAppointmentDate(raw)
			if err != nil {
				fieldErrs = append(fieldErrs, FieldError{Row: rowNum, Field: "appointmentDate", Message: err.Error()})
			} else {
				row.AppointmentDate = model.NewAppointmentDate(t)
			}
		} else {
			fieldErrs = append(fieldErrs, FieldError{Row: rowNum, Field: "appointmentDate", Message: "is required"})
		}
		rows = append(rows, row)
	}

	payload := &model.CsvPayload{Meta: model.CsvMeta{Filename: filename}, Rows: rows}
	fieldErrs = append(fieldErrs, validatePayload(payload, false)...)
	if len(fieldErrs) > 0 {
		return nil, apperrors.Validation("invalid CSV payload", fieldErrs)
	}
	return payload, nil
}

// ValidatePayload applies the CSV row rules to a payload submitted as JSON and canonicalizes statuses.
func ValidatePayload(p *model.CsvPayload) error {
	if p == nil {
		return apperrors.Validation("invalid CSV payload", []FieldError{{Field: "rows", Message: "at least one row is required"}})
	}
	if errs := validatePayload(p, true); len(errs) > 0 {
		return apperrors.Validation("invalid CSV payload", errs)
	}
	return nil
}

func validatePayload(p *model.CsvPayload, checkDates bool) []FieldError {
	var errs []FieldError
	if strings.TrimSpace(p.Meta.Filename) == "" {
		errs = append(errs, FieldError{Field: "meta.filename", Message: "is required"})
	}
	if len(p.Rows) == 0 {
		errs = append(errs, FieldError{Field: "rows", Message: "at least one row is required"})
	}

	for i := range p.Rows {
		row := &p.Rows[i]
		row.PatientEmail = strings.TrimSpace(row.PatientEmail)
		row.ServiceName = strings.TrimSpace(row.ServiceName)

		if err := validate.Struct(row); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					errs = append(errs, FieldError{Row: i + 1, Field: fe.Field(), Message: describe(fe)})
				}
			} else {
				errs = append(errs, FieldError{Row: i + 1, Field: "row", Message: err.Error()})
			}
		}
		if checkDates && row.AppointmentDate.IsZero() {
			errs = append(errs, FieldError{Row: i + 1, Field: "appointmentDate", Message: "is required"})
		}

		status, ok := model.CanonicalCsvStatus(row.AppointmentStatus)
		if !ok {
			errs = append(errs, FieldError{
				Row:     i + 1,
				Field:   "appointmentStatus",
				Message: fmt.Sprintf("must be one of Completed, No-Show, Cancelled, Other; got %q", row.AppointmentStatus),
			})
			continue
		}
		row.AppointmentStatus = status
	}
	return errs
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
