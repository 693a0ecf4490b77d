package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

func TestBatchUnclassifiedServiceIsDeferred(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.run(t, row("a@x.com", "Therapeutic Massage"))
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 0, res.Redeemed)

	svc, err := f.store.Services.GetByName(ctx, "Therapeutic Massage")
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationUnknown, svc.Classification)
	require.NotNil(t, svc.SuggestedClassification)
	assert.Equal(t, model.ClassificationWellness, *svc.SuggestedClassification)

	count, err := f.store.Appointments.CountByService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	key := IdempotencyKey("", "2024-01-01T00:00:00.000Z", "a@x.com")
	exists, err := f.store.Appointments.ExistsByKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	actions := f.actions(t, &res.BatchID)
	assert.Equal(t, 1, actions[model.AuditUnknownServiceDeferred])
	assert.Equal(t, 1, actions[model.AuditBatchSummary])
	assert.Empty(t, f.mailer.Sent())

	batch, err := f.store.Batches.Get(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.NotNil(t, batch.CompletedAt)
}

func TestBatchWellnessIssuesCodeAndSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.service(t, "Therapeutic Massage", model.ClassificationWellness)

	r := row("a@x.com", "Therapeutic Massage")
	r.PatientFirstName = "Ann"
	r.PatientLastName = "Lee"
	res := f.run(t, r)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 0, res.Deferred)

	patient, err := f.store.Patients.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	code, err := f.store.Referrals.GetActiveByOwner(ctx, patient.ID)
	require.NoError(t, err)
	assert.True(t, ValidCode(code.Code))
	assert.Equal(t, "ZX-LEE-", code.Code[:7])

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "wellness-referral", sent[0].TemplateID)
	assert.Equal(t, "a@x.com", sent[0].To)
	assert.Equal(t, map[string]string{
		"FNAME":         "Ann",
		"SERVICE_NAME":  "Therapeutic Massage",
		"REFERRAL_CODE": code.Code,
		"REWARD_COPY":   "Give $20, get $20",
		"REVIEW_URL":    "https://g.page/zenith/review",
	}, sent[0].MergeVars)

	logs := f.auditEntries(t, model.AuditEmailSent)
	require.Len(t, logs, 1)
	assert.Equal(t, "WELLNESS", logs[0].Payload["classification"])
	assert.Nil(t, logs[0].ActorID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EmailsSent.WithLabelValues("WELLNESS")))
}

func TestBatchWellnessReusesActiveCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.service(t, "Yoga", model.ClassificationWellness)

	first := row("a@x.com", "Yoga")
	first.AppointmentID = "A-1"
	second := row("a@x.com", "Yoga")
	second.AppointmentID = "A-2"
	res := f.run(t, first, second)
	assert.Equal(t, 2, res.Sent)

	sent := f.mailer.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].MergeVars["REFERRAL_CODE"], sent[1].MergeVars["REFERRAL_CODE"])

	codes, total, err := f.store.Referrals.List(ctx, &model.ReferralFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, codes, 1)
}

func TestBatchMedicalSendsReviewRequest(t *testing.T) {
	f := newFixture(t)
	f.service(t, "MRI Scan", model.ClassificationMedical)

	res := f.run(t, row("b@x.com", "MRI Scan"))
	assert.Equal(t, 1, res.Sent)

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "medical-review", sent[0].TemplateID)
	assert.NotContains(t, sent[0].MergeVars, "REFERRAL_CODE")
	assert.Equal(t, "https://g.page/zenith/review", sent[0].MergeVars["REVIEW_URL"])

	codes, _, err := f.store.Referrals.List(context.Background(), &model.ReferralFilters{})
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestBatchRedeemsReferralCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lastName := "Smith"
	referrer, err := f.store.Patients.Upsert(ctx, model.PatientUpsert{Email: "ref@x.com", LastName: &lastName})
	require.NoError(t, err)
	code, err := f.codes.Issue(ctx, referrer)
	require.NoError(t, err)

	r := row("new@x.com", "Consultation")
	r.ReferralCodeUsed = code.Code
	res := f.run(t, r)

	// The row defers on the unknown service but still counts the redemption.
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 1, res.Redeemed)

	redeemed, err := f.store.Referrals.GetByCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusRedeemed, redeemed.Status)
	require.NotNil(t, redeemed.RedeemedAt)

	newPatient, err := f.store.Patients.GetByEmail(ctx, "new@x.com")
	require.NoError(t, err)
	require.NotNil(t, redeemed.RedeemedByID)
	assert.Equal(t, newPatient.ID, *redeemed.RedeemedByID)

	tasks, _, err := f.store.Tasks.List(ctx, &model.TaskFilters{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskStatusOpen, tasks[0].Status)
	assert.Equal(t, model.TaskTypeIssueReward, tasks[0].Type)
	assert.Equal(t, referrer.ID, tasks[0].ReferrerID)
	assert.Equal(t, newPatient.ID, tasks[0].NewPatientID)

	logs := f.auditEntries(t, model.AuditReferralRedeemed)
	require.Len(t, logs, 1)
	assert.Equal(t, code.Code, logs[0].Payload["code"])
	assert.Equal(t, referrer.ID.String(), logs[0].Payload["referrerId"])
	assert.Equal(t, newPatient.ID.String(), logs[0].Payload["newPatientId"])
}

func TestBatchSecondRedemptionIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	referrer, err := f.store.Patients.Upsert(ctx, model.PatientUpsert{Email: "ref@x.com"})
	require.NoError(t, err)
	code, err := f.codes.Issue(ctx, referrer)
	require.NoError(t, err)

	first := row("one@x.com", "Consultation")
	first.ReferralCodeUsed = code.Code
	res := f.run(t, first)
	require.Equal(t, 1, res.Redeemed)

	before, err := f.store.Referrals.GetByCode(ctx, code.Code)
	require.NoError(t, err)

	second := row("two@x.com", "Consultation")
	second.ReferralCodeUsed = code.Code
	res = f.run(t, second)
	assert.Equal(t, 0, res.Redeemed)
	assert.Equal(t, 1, res.Processed)

	after, err := f.store.Referrals.GetByCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, before.RedeemedAt, after.RedeemedAt)
	assert.Equal(t, before.RedeemedByID, after.RedeemedByID)

	_, total, err := f.store.Tasks.List(ctx, &model.TaskFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, f.auditEntries(t, model.AuditReferralRedeemed), 1)
}

func TestBatchIgnoresUnknownAndSelfOwnedCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner, err := f.store.Patients.Upsert(ctx, model.PatientUpsert{Email: "own@x.com"})
	require.NoError(t, err)
	code, err := f.codes.Issue(ctx, owner)
	require.NoError(t, err)

	self := row("own@x.com", "Consultation")
	self.ReferralCodeUsed = code.Code
	bogus := row("other@x.com", "Consultation")
	bogus.ReferralCodeUsed = "ZX-NOP-0000-0"

	res := f.run(t, self, bogus)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Redeemed)

	stored, err := f.store.Referrals.GetByCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusActive, stored.Status)
}

func TestBatchSkipsNonCompletedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.service(t, "Yoga", model.ClassificationWellness)

	r := row("a@x.com", "Yoga")
	r.AppointmentStatus = model.CsvStatusNoShow
	res := f.run(t, r)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 0, res.Sent)

	_, err := f.store.Patients.GetByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	exists, err := f.store.Appointments.ExistsByKey(ctx, IdempotencyKey("", "2024-01-01T00:00:00.000Z", "a@x.com"))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, f.mailer.Sent())

	logs := f.auditEntries(t, model.AuditSkipNonCompleted)
	require.Len(t, logs, 1)
	payload, ok := logs[0].Payload["row"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a@x.com", payload["patientEmail"])
}

func TestBatchResubmissionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.service(t, "MRI Scan", model.ClassificationMedical)

	r := row("A@X.com", "MRI Scan")
	r.AppointmentID = "A-1"
	first := f.run(t, r)
	assert.Equal(t, 1, first.Sent)

	r.PatientEmail = "a@x.com"
	second := f.run(t, r)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 1, second.Deferred)
	assert.Equal(t, 1, second.Processed)

	assert.Len(t, f.mailer.Sent(), 1)
	assert.Equal(t, 1, f.actions(t, &second.BatchID)[model.AuditDuplicateSkip])
}

func TestBatchEmailFailureIsRowError(t *testing.T) {
	f := newFixture(t)
	f.service(t, "MRI Scan", model.ClassificationMedical)
	f.mailer.Err = errors.New("smtp unavailable")

	res := f.run(t, row("a@x.com", "MRI Scan"), row("b@x.com", "Consultation"))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Deferred)

	logs := f.auditEntries(t, model.AuditRowError)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, f.uploader, *logs[0].ActorID)
	assert.Contains(t, logs[0].Payload["error"], "smtp unavailable")
	assert.Equal(t, 0, logs[0].Payload["index"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EmailFailures))

	batch, err := f.store.Batches.Get(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
}

func TestBatchCodeExhaustionIsRowError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.service(t, "Yoga", model.ClassificationWellness)
	f.codes.rnd = zeroReader{}

	other, err := f.store.Patients.Upsert(ctx, model.PatientUpsert{Email: "other@x.com"})
	require.NoError(t, err)
	taken, err := f.codes.Issue(ctx, other)
	require.NoError(t, err)
	require.Equal(t, "ZX-XXX-0000-J", taken.Code)

	res := f.run(t, row("a@x.com", "Yoga"))
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, res.Sent)

	logs := f.auditEntries(t, model.AuditRowError)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Payload["error"], ErrCodeGenerationExhausted.Error())
	assert.Empty(t, f.mailer.Sent())
}

func TestBatchFailsWithoutSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Settings.Save(ctx, &model.Settings{ClinicName: "Zenith"}))

	_, err := f.orch.Run(ctx, &model.CsvPayload{
		Meta: model.CsvMeta{Filename: "upload.csv"},
		Rows: []model.CsvRow{row("a@x.com", "Yoga")},
	}, f.uploader)
	assert.ErrorIs(t, err, ErrSettingsMissing)

	batches, _, err := f.store.Batches.List(ctx, &model.BatchFilters{})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, model.BatchStatusFailed, batches[0].Status)
	require.NotNil(t, batches[0].Error)
	assert.Contains(t, *batches[0].Error, "settings missing")

	_, err = f.store.Patients.GetByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Len(t, f.auditEntries(t, model.AuditBatchFailed), 1)
}

func TestBatchRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Run(context.Background(), &model.CsvPayload{
		Meta: model.CsvMeta{Filename: "upload.csv"},
		Rows: []model.CsvRow{row("not-an-email", "Yoga")},
	}, f.uploader)
	require.Error(t, err)

	_, total, err := f.store.Batches.List(context.Background(), &model.BatchFilters{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestExecuteStopsOnCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	batch := NewBatch(&model.CsvPayload{
		Meta: model.CsvMeta{Filename: "upload.csv"},
		Rows: []model.CsvRow{row("a@x.com", "Yoga"), row("b@x.com", "Yoga")},
	}, f.uploader)
	require.NoError(t, f.store.Batches.Create(ctx, batch))
	cancel()

	_, err := f.orch.Execute(ctx, batch)
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := f.store.Batches.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, stored.Status)
	assert.Equal(t, 0, stored.Processed)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, model.AppointmentStatusCompleted, NormalizeStatus("Completed"))
	assert.Equal(t, model.AppointmentStatusNoShow, NormalizeStatus("No-Show"))
	assert.Equal(t, model.AppointmentStatusCancelled, NormalizeStatus("Cancelled"))
	assert.Equal(t, model.AppointmentStatusOther, NormalizeStatus("Other"))
}
