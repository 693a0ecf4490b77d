package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/email"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

// Templates selects the campaign per classification.
type Templates struct {
	Medical  email.Template
	Wellness email.Template
}

// RowContext is everything a row needs besides the store.
type RowContext struct {
	Batch    *model.UploadBatch
	Settings *model.Settings
	Index    int
	Row      model.CsvRow
}

// Processor runs one CSV row through status filtering, upserts, dedup, redemption and the email branch.
type Processor struct {
	store     *repository.Store
	mailer    email.Dispatcher
	codes     *CodeIssuer
	templates Templates
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewProcessor(store *repository.Store, mailer email.Dispatcher, codes *CodeIssuer, templates Templates,
	log *logger.Logger, m *metrics.Metrics) *Processor {
	return &Processor{
		store:     store,
		mailer:    mailer,
		codes:     codes,
		templates: templates,
		logger:    log,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeStatus maps a free-text status by case-insensitive substring.
func NormalizeStatus(s string) model.AppointmentStatus {
	v := strings.ToLower(s)
	switch {
	case strings.Contains(v, "complete"):
		return model.AppointmentStatusCompleted
	case strings.Contains(v, "no"):
		return model.AppointmentStatusNoShow
	case strings.Contains(v, "cancel"):
		return model.AppointmentStatusCancelled
	default:
		return model.AppointmentStatusOther
	}
}

// Process never returns an error; failures come back as OutcomeFailed.
func (p *Processor) Process(ctx context.Context, rc RowContext) RowResult {
	res := p.process(ctx, rc)
	if p.metrics != nil {
		p.metrics.RowsTotal.WithLabelValues(string(res.Outcome), res.Reason).Inc()
	}
	return res
}

func (p *Processor) process(ctx context.Context, rc RowContext) RowResult {
	row := rc.Row
	batchID := rc.Batch.ID

	dateISO := ISODate(row.AppointmentDate.Time)
	key := IdempotencyKey(row.AppointmentID, dateISO, row.PatientEmail)

	if NormalizeStatus(row.AppointmentStatus) != model.AppointmentStatusCompleted {
		if err := p.audit(ctx, batchID, model.AuditSkipNonCompleted, model.JSONMap{"row": rowPayload(row)}); err != nil {
			return failed(rc.Index, err)
		}
		return RowResult{Index: rc.Index, Outcome: OutcomeDeferred, Reason: model.AuditSkipNonCompleted}
	}

	patient, err := p.store.Patients.Upsert(ctx, model.PatientUpsert{
		Email:     row.PatientEmail,
		FirstName: model.StringPtr(row.PatientFirstName),
		LastName:  model.StringPtr(row.PatientLastName),
	})
	if err != nil {
		return failed(rc.Index, fmt.Errorf("failed to upsert patient: %w", err))
	}

	service, err := p.ensureService(ctx, row.ServiceName)
	if err != nil {
		return failed(rc.Index, err)
	}

	exists, err := p.store.Appointments.ExistsByKey(ctx, key)
	if err != nil {
		return failed(rc.Index, fmt.Errorf("failed to check duplicate: %w", err))
	}
	if exists {
		return p.duplicate(ctx, rc)
	}

	appt := &model.Appointment{
		ExternalID:     model.StringPtr(row.AppointmentID),
		PatientID:      patient.ID,
		ServiceID:      service.ID,
		BatchID:        batchID,
		Date:           row.AppointmentDate.Time.UTC(),
		Status:         model.AppointmentStatusCompleted,
		IdempotencyKey: key,
		ProcessedAt:    p.now(),
	}
	if err := p.store.Appointments.Create(ctx, appt); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return p.duplicate(ctx, rc)
		}
		return failed(rc.Index, fmt.Errorf("failed to create appointment: %w", err))
	}

	redeemed := false
	if code := strings.TrimSpace(row.ReferralCodeUsed); code != "" {
		redeemed, err = p.redeem(ctx, batchID, code, patient)
		if err != nil {
			return failed(rc.Index, err)
		}
	}

	res := p.dispatch(ctx, rc, patient, service, appt)
	res.Redeemed = redeemed
	return res
}

func (p *Processor) ensureService(ctx context.Context, name string) (*model.Service, error) {
	suggestion := Classify(name, "")
	candidate := &model.Service{
		Name:                 name,
		Classification:       model.ClassificationUnknown,
		SuggestionConfidence: suggestion.Confidence,
		RequiresReview:       suggestion.RequiresManualReview,
	}
	if suggestion.Type != model.ClassificationUnknown {
		t := suggestion.Type
		candidate.SuggestedClassification = &t
	}

	service, created, err := p.store.Services.EnsureByName(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert service: %w", err)
	}
	if created {
		p.logger.Debug("new service recorded",
			"service", service.Name, "suggested", string(suggestion.Type), "confidence", suggestion.Confidence)
	}
	return service, nil
}

func (p *Processor) duplicate(ctx context.Context, rc RowContext) RowResult {
	if err := p.audit(ctx, rc.Batch.ID, model.AuditDuplicateSkip, model.JSONMap{"row": rowPayload(rc.Row)}); err != nil {
		return failed(rc.Index, err)
	}
	return RowResult{Index: rc.Index, Outcome: OutcomeDeferred, Reason: model.AuditDuplicateSkip}
}

// redeem marks an ACTIVE code REDEEMED and opens a reward task. Unknown, inactive and self-owned codes are ignored.
func (p *Processor) redeem(ctx context.Context, batchID uuid.UUID, code string, patient *model.Patient) (bool, error) {
	ref, err := p.store.Referrals.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up referral code: %w", err)
	}
	if ref.Status != model.ReferralStatusActive || ref.OwnerID == patient.ID {
		return false, nil
	}

	ok, err := p.store.Referrals.Redeem(ctx, ref.ID, patient.ID, p.now())
	if err != nil {
		return false, fmt.Errorf("failed to redeem referral code: %w", err)
	}
	if !ok {
		return false, nil
	}

	task := &model.Task{
		Type:           model.TaskTypeIssueReward,
		Status:         model.TaskStatusOpen,
		ReferralCodeID: ref.ID,
		ReferrerID:     ref.OwnerID,
		NewPatientID:   patient.ID,
	}
	if err := p.store.Tasks.Create(ctx, task); err != nil {
		return false, fmt.Errorf("failed to create reward task: %w", err)
	}

	err = p.audit(ctx, batchID, model.AuditReferralRedeemed, model.JSONMap{
		"code":         ref.Code,
		"referrerId":   ref.OwnerID.String(),
		"newPatientId": patient.ID.String(),
		"taskId":       task.ID.String(),
	})
	if err != nil {
		return false, err
	}
	if p.metrics != nil {
		p.metrics.Redemptions.Inc()
	}
	return true, nil
}

func (p *Processor) dispatch(ctx context.Context, rc RowContext, patient *model.Patient, service *model.Service, appt *model.Appointment) RowResult {
	settings := rc.Settings
	var msg *email.Message

	switch service.Classification {
	case model.ClassificationMedical:
		msg = &email.Message{
			TemplateID: p.templates.Medical.ID,
			To:         patient.Email,
			Subject:    p.templates.Medical.Subject,
			MergeVars: map[string]string{
				"FNAME":        model.Deref(patient.FirstName),
				"SERVICE_NAME": service.Name,
				"REVIEW_URL":   settings.ReviewURL,
			},
		}
	case model.ClassificationWellness:
		ref, _, err := p.codes.EnsureActive(ctx, patient)
		if err != nil {
			return failed(rc.Index, err)
		}
		msg = &email.Message{
			TemplateID: p.templates.Wellness.ID,
			To:         patient.Email,
			Subject:    p.templates.Wellness.Subject,
			MergeVars: map[string]string{
				"FNAME":         model.Deref(patient.FirstName),
				"SERVICE_NAME":  service.Name,
				"REFERRAL_CODE": ref.Code,
				"REWARD_COPY":   settings.ReferralRewardCopy,
				"REVIEW_URL":    settings.ReviewURL,
			},
		}
	default:
		err := p.audit(ctx, rc.Batch.ID, model.AuditUnknownServiceDeferred, model.JSONMap{"serviceName": service.Name})
		if err != nil {
			return failed(rc.Index, err)
		}
		return RowResult{Index: rc.Index, Outcome: OutcomeDeferred, Reason: model.AuditUnknownServiceDeferred}
	}

	campaignID, err := p.mailer.Send(ctx, msg)
	if err != nil {
		if p.metrics != nil {
			p.metrics.EmailFailures.Inc()
		}
		return failed(rc.Index, fmt.Errorf("failed to send %s email: %w", strings.ToLower(string(service.Classification)), err))
	}
	if p.metrics != nil {
		p.metrics.EmailsSent.WithLabelValues(string(service.Classification)).Inc()
	}

	err = p.audit(ctx, rc.Batch.ID, model.AuditEmailSent, model.JSONMap{
		"appointmentId":  appt.ID.String(),
		"campaignId":     campaignID,
		"classification": string(service.Classification),
	})
	if err != nil {
		return failed(rc.Index, err)
	}
	return RowResult{Index: rc.Index, Outcome: OutcomeSent, Reason: model.AuditEmailSent}
}

func (p *Processor) audit(ctx context.Context, batchID uuid.UUID, action string, payload model.JSONMap) error {
	entry := &model.AuditLog{BatchID: &batchID, Action: action, Payload: payload}
	if err := p.store.Audit.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to write %s audit entry: %w", action, err)
	}
	return nil
}

func rowPayload(row model.CsvRow) map[string]interface{} {
	out := map[string]interface{}{
		"patientEmail":      row.PatientEmail,
		"serviceName":       row.ServiceName,
		"appointmentDate":   ISODate(row.AppointmentDate.Time),
		"appointmentStatus": row.AppointmentStatus,
	}
	optional := map[string]string{
		"appointmentId":    row.AppointmentID,
		"patientFirstName": row.PatientFirstName,
		"patientLastName":  row.PatientLastName,
		"referralCodeUsed": row.ReferralCodeUsed,
	}
	for k, v := range optional {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
