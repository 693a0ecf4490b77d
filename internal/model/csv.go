package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Accepted CSV appointment status values.
const (
	CsvStatusCompleted = "Completed"
	CsvStatusNoShow    = "No-Show"
	CsvStatusCancelled = "Cancelled"
	CsvStatusOther     = "Other"
)

var csvStatuses = []string{CsvStatusCompleted, CsvStatusNoShow, CsvStatusCancelled, CsvStatusOther}

// CanonicalCsvStatus matches s case-insensitively against the accepted values.
// Blank input defaults to Other.
func CanonicalCsvStatus(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CsvStatusOther, true
	}
	for _, v := range csvStatuses {
		if strings.EqualFold(s, v) {
			return v, true
		}
	}
	return "", false
}

// CsvRow is one normalized vendor row. It only lives for the duration of a batch.
type CsvRow struct {
	AppointmentID     string          `json:"appointmentId,omitempty"`
	PatientFirstName  string          `json:"patientFirstName,omitempty"`
	PatientLastName   string          `json:"patientLastName,omitempty"`
	PatientEmail      string          `json:"patientEmail" validate:"required,email"`
	ServiceName       string          `json:"serviceName" validate:"required,min=1"`
	AppointmentDate   AppointmentDate `json:"appointmentDate"`
	AppointmentStatus string          `json:"appointmentStatus,omitempty"`
	ReferralCodeUsed  string          `json:"referralCodeUsed,omitempty"`
}

type CsvMeta struct {
	Filename string `json:"filename" validate:"required,min=1"`
}

type CsvPayload struct {
	Meta CsvMeta  `json:"meta"`
	Rows []CsvRow `json:"rows" validate:"required,min=1,dive"`
}

var appointmentDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"01/02/2006 15:04",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseAppointmentDate coerces the formats vendor exports use. Values without a zone are UTC.
func ParseAppointmentDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range appointmentDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// AppointmentDate accepts any layout ParseAppointmentDate understands when decoded from JSON.
type AppointmentDate struct {
	time.Time
}

func NewAppointmentDate(t time.Time) AppointmentDate {
	return AppointmentDate{Time: t.UTC()}
}

func (d AppointmentDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time.UTC().Format(time.RFC3339Nano))
}

func (d *AppointmentDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("appointment date must be a string: %w", err)
	}
	t, err := ParseAppointmentDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// CsvRows is stored as a jsonb column on the upload batch.
type CsvRows []CsvRow

func (r CsvRows) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *CsvRows) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	}
	return fmt.Errorf("unsupported type %T for CsvRows", src)
}
