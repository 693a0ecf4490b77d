package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/model"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
)

func TestCanonicalHeader(t *testing.T) {
	cases := map[string]string{
		"Patient Email":        "patient_email",
		"  Start   Time ":      "start_time",
		"Appointment-ID":       "appointmentid",
		"Referral Code (used)": "referral_code_used",
		"\ufeffID":             "id",
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalHeader(in), in)
	}
}

func TestNormalizeMapsAliases(t *testing.T) {
	csv := "ID,First Name,Last Name,Email,Service,Start Time,Status,Referral Code,Notes\n" +
		"A-1,Ann,Lee,ANN@x.com,Therapeutic Massage,2024-01-01,completed,ZX-LEE-ABCD-H,ignored\n" +
		",,,\n" +
		"A-2,,,bo@x.com,MRI Scan,01/15/2024 09:30,,,\n"

	payload, err := Normalize(strings.NewReader(csv), "jane.csv")
	require.NoError(t, err)
	assert.Equal(t, "jane.csv", payload.Meta.Filename)
	require.Len(t, payload.Rows, 2)

	first := payload.Rows[0]
	assert.Equal(t, "A-1", first.AppointmentID)
	assert.Equal(t, "Ann", first.PatientFirstName)
	assert.Equal(t, "Lee", first.PatientLastName)
	assert.Equal(t, "ANN@x.com", first.PatientEmail)
	assert.Equal(t, "Therapeutic Massage", first.ServiceName)
	assert.Equal(t, model.CsvStatusCompleted, first.AppointmentStatus)
	assert.Equal(t, "ZX-LEE-ABCD-H", first.ReferralCodeUsed)
	assert.True(t, first.AppointmentDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	second := payload.Rows[1]
	assert.Equal(t, model.CsvStatusOther, second.AppointmentStatus)
	assert.Empty(t, second.PatientFirstName)
	assert.True(t, second.AppointmentDate.Equal(time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)))
}

func TestNormalizePrefersFirstNonEmptyAlias(t *testing.T) {
	csv := "appointment_id,id,email,service_name,date\n,B-9,c@x.com,Yoga,2024-02-02\n"

	payload, err := Normalize(strings.NewReader(csv), "f.csv")
	require.NoError(t, err)
	assert.Equal(t, "B-9", payload.Rows[0].AppointmentID)
}

func TestNormalizeRejectsWholeFile(t *testing.T) {
	tests := []struct {
		name  string
		csv   string
		field string
	}{
		{"bad email", "email,service,date\nnot-an-email,Yoga,2024-01-01\n", "patientEmail"},
		{"missing service", "email,service,date\na@x.com,,2024-01-01\n", "serviceName"},
		{"bad date", "email,service,date\na@x.com,Yoga,someday\n", "appointmentDate"},
		{"missing date", "email,service\na@x.com,Yoga\n", "appointmentDate"},
		{"bad status", "email,service,date,status\na@x.com,Yoga,2024-01-01,Rescheduled\n", "appointmentStatus"},
		{"no rows", "email,service,date\n", "rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(strings.NewReader(tt.csv), "f.csv")
			require.Error(t, err)

			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrBadRequest, appErr.Code)

			details, ok := appErr.Details.([]FieldError)
			require.True(t, ok)
			var fields []string
			for _, d := range details {
				fields = append(fields, d.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestNormalizeEmptyFile(t *testing.T) {
	_, err := Normalize(strings.NewReader(""), "f.csv")
	assert.Error(t, err)
}

func TestValidatePayloadCanonicalizesStatus(t *testing.T) {
	p := &model.CsvPayload{
		Meta: model.CsvMeta{Filename: "api.json"},
		Rows: []model.CsvRow{{
			PatientEmail:      " a@x.com ",
			ServiceName:       "Yoga",
			AppointmentDate:   model.NewAppointmentDate(time.Now()),
			AppointmentStatus: "no-show",
		}},
	}
	require.NoError(t, ValidatePayload(p))
	assert.Equal(t, model.CsvStatusNoShow, p.Rows[0].AppointmentStatus)
	assert.Equal(t, "a@x.com", p.Rows[0].PatientEmail)

	p.Rows[0].AppointmentDate = model.AppointmentDate{}
	assert.Error(t, ValidatePayload(p))

	assert.Error(t, ValidatePayload(&model.CsvPayload{Meta: model.CsvMeta{Filename: "x"}}))
}
