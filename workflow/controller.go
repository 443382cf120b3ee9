// Package workflow owns the report lifecycle: draft -> pending_review -> approved | rejected,
// with rejected reports reopening to draft for rework.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fieldreport_backend/attachment"
	"github.com/mmdatafocus/fieldreport_backend/checklist"
	"github.com/mmdatafocus/fieldreport_backend/compliance"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/signature"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fieldreport/workflow")

// Deps are the collaborators of a controller. Store is required.
type Deps struct {
	Store     Persistence
	Equipment compliance.ThresholdDirectory
	Identity  Identity
	Notifier  Notifier
	Locker    SessionLocker
	Settings  *config.Settings
	Logger    *logrus.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Identity == nil {
		d.Identity = ContextIdentity{}
	}
	if d.Settings == nil {
		s := config.LoadSettings()
		d.Settings = &s
	}
	if d.Logger == nil {
		d.Logger = config.GetLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Controller is one editing session on one report.
type Controller struct {
	deps        Deps
	report      *models.Report
	lock        SessionLock
	attachments *attachment.Manager
	closed      bool
}

// Create stores a new draft report and opens a session on it.
func Create(ctx context.Context, deps Deps, kind models.ReportKind, narrative models.Narrative) (*Controller, error) {
	deps = deps.withDefaults()
	if !kind.IsValid() {
		return nil, utils.ValidationError("report.create", "invalid report kind %q", kind)
	}
	technicianId, _, _ := deps.Identity.Technician(ctx)
	idempotencyKey, _ := utils.GetIdempotencyKeyFromContext(ctx)
	id, err := deps.Store.CreateReport(ctx, models.NewReport{
		Kind:           kind,
		Narrative:      narrative,
		CreatedBy:      technicianId,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		config.LogError(deps.Logger, "controller.go", "Create", "CreateReport", kind, err)
		return nil, err
	}
	deps.Logger.WithFields(logrus.Fields{
		"report_id": id,
		"kind":      kind,
	}).Info("[report.create] draft created")
	return Open(ctx, deps, id)
}

// Open loads a report and takes its session lock when a locker is configured.
func Open(ctx context.Context, deps Deps, id string) (*Controller, error) {
	deps = deps.withDefaults()
	var lock SessionLock
	if deps.Locker != nil {
		l, err := deps.Locker.Obtain(ctx, id)
		if err != nil {
			return nil, err
		}
		lock = l
	}
	report, err := deps.Store.GetReport(ctx, id)
	if err != nil {
		if lock != nil {
			_ = lock.Release(ctx)
		}
		return nil, err
	}
	c := &Controller{
		deps:   deps,
		report: report,
		lock:   lock,
		attachments: attachment.NewManager(id, deps.Store, report.Attachments, attachment.Options{
			MaxAttachments: deps.Settings.MaxAttachments,
			Concurrency:    deps.Settings.UploadConcurrency,
			Logger:         deps.Logger,
			Now:            deps.Now,
		}),
	}
	return c, nil
}

// Report returns a copy of the current report.
func (c *Controller) Report() *models.Report {
	return c.report.Clone()
}

func (c *Controller) State() models.LifecycleState {
	return c.report.LifecycleState
}

// Attachments exposes the working set of staged and committed attachments.
func (c *Controller) Attachments() *attachment.Manager {
	return c.attachments
}

// NewWizard builds a checklist wizard for this report's kind, pre-filled with saved checklist data.
func (c *Controller) NewWizard() (*checklist.Wizard, error) {
	w, err := checklist.NewWizardForKind(c.report.Kind)
	if err != nil {
		return nil, err
	}
	w.Restore(c.report.ChecklistData)
	return w, nil
}

func (c *Controller) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("report.id", c.report.ID),
		attribute.String("report.state", string(c.report.LifecycleState)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// live fails once the session is closed or the report deleted.
func (c *Controller) live(op string) error {
	if c.closed {
		return utils.InvalidOperationError(op, "editing session for report %s is closed", c.report.ID)
	}
	if c.report.IsDeleted {
		return utils.NotFoundError(op, "report %s not found", c.report.ID)
	}
	return nil
}

// notFinal fails with ReportFinalized for approved and rejected reports.
func (c *Controller) notFinal(op string) error {
	if err := c.live(op); err != nil {
		return err
	}
	if c.report.IsFinalized() || c.report.LifecycleState.IsFinal() {
		return utils.FinalizedError(op)
	}
	return nil
}

// editable allows field edits in draft only.
func (c *Controller) editable(op string) error {
	if err := c.notFinal(op); err != nil {
		return err
	}
	if c.report.LifecycleState != models.LifecycleStateDraft {
		return utils.InvalidOperationError(op, "report %s is %s; fields can only be edited in draft", c.report.ID, c.report.LifecycleState)
	}
	return nil
}

type change struct {
	op          string
	action      models.HistoryAction
	description string
	before      interface{}
	after       interface{}
}

// persist writes next and only then swaps it in, so a failed write leaves the session unchanged.
func (c *Controller) persist(ctx context.Context, next *models.Report, ch change) error {
	if c.lock != nil {
		if err := c.lock.Refresh(ctx); err != nil {
			config.LogError(c.deps.Logger, "controller.go", "persist", "Refresh", c.report.ID, err)
			return err
		}
	}
	err := c.deps.Store.UpdateReport(ctx, next.ID, models.ReportPatch{
		Report:          next,
		ExpectedVersion: c.report.Version,
		Action:          ch.action,
		Description:     ch.description,
		Before:          ch.before,
		After:           ch.after,
	})
	if err != nil {
		c.deps.Logger.WithFields(logrus.Fields{
			"report_id": c.report.ID,
			"version":   c.report.Version,
			"kind":      utils.KindOf(err),
			"error":     err.Error(),
		}).Warn("[" + ch.op + "] update failed")
		return err
	}
	c.report = next
	return nil
}

func (c *Controller) transitioned(ctx context.Context, action models.HistoryAction, from models.LifecycleState, reason string) {
	technicianId, _, _ := c.deps.Identity.Technician(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	c.deps.Logger.WithFields(logrus.Fields{
		"report_id": c.report.ID,
		"from":      from,
		"to":        c.report.LifecycleState,
	}).Info("[report." + strings.ToLower(string(action)) + "] transition")
	notify(ctx, c.deps.Logger, c.deps.Notifier, Event{
		ReportID:      c.report.ID,
		Kind:          c.report.Kind,
		Action:        action,
		From:          from,
		To:            c.report.LifecycleState,
		TechnicianId:  technicianId,
		Reason:        reason,
		CorrelationId: correlationId,
		OccurredAt:    c.deps.Now().UTC(),
	})
}

// SetCheck records one named check value.
func (c *Controller) SetCheck(ctx context.Context, name string, value models.CheckValue) (err error) {
	const op = "report.setCheck"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.editable(op); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return utils.ValidationError(op, "check name is required")
	}
	before, _ := c.report.Checks.Get(name)
	next := c.report.Clone()
	next.Checks = next.Checks.Set(name, value)
	return c.persist(ctx, next, change{
		op:          op,
		action:      models.HistoryActionEdit,
		description: fmt.Sprintf("Check %s set to %s.", name, value.Normalize()),
		before:      map[string]models.CheckValue{name: before},
		after:       map[string]models.CheckValue{name: value.Normalize()},
	})
}

// SetNarrative replaces the free-text fields.
func (c *Controller) SetNarrative(ctx context.Context, narrative models.Narrative) (err error) {
	const op = "report.setNarrative"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.editable(op); err != nil {
		return err
	}
	next := c.report.Clone()
	next.Narrative = narrative
	return c.persist(ctx, next, change{
		op:          op,
		action:      models.HistoryActionEdit,
		description: "Narrative updated.",
		before:      c.report.Narrative,
		after:       narrative,
	})
}

// AppendTemperatureReading adds a reading. Readings are never edited; corrections are new readings.
func (c *Controller) AppendTemperatureReading(ctx context.Context, reading models.TemperatureReading) (_ models.TemperatureReading, err error) {
	const op = "report.appendTemperature"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.editable(op); err != nil {
		return models.TemperatureReading{}, err
	}
	if err := utils.ValidateStruct(op, reading); err != nil {
		return models.TemperatureReading{}, err
	}
	reading.ID = uuid.NewString()
	if technicianId, _, err := c.deps.Identity.Technician(ctx); err == nil {
		reading.RecordedBy = technicianId
	}
	next := c.report.Clone()
	next.TemperatureReadings = append(next.TemperatureReadings, reading)
	err = c.persist(ctx, next, change{
		op:          op,
		action:      models.HistoryActionReading,
		description: fmt.Sprintf("Reading %s on %s recorded.", reading.Value.String(), reading.EquipmentID),
		after:       reading,
	})
	if err != nil {
		return models.TemperatureReading{}, err
	}
	return reading, nil
}

// AttachSignature stores a rendered signature for role. Signing stays open until the report is finalized,
// so a reviewer can collect the technician signature while the report is pending review.
func (c *Controller) AttachSignature(ctx context.Context, role models.SignerRole, artifact *signature.Artifact, signerName string) (err error) {
	const op = "report.sign"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.notFinal(op); err != nil {
		return err
	}
	if !role.IsValid() {
		return utils.ValidationError(op, "invalid signer role %q", role)
	}
	if artifact == nil || len(artifact.Data) == 0 {
		return utils.ValidationError(op, "signature is empty")
	}
	sig := &models.Signature{
		SignerRole: role,
		SignerName: strings.TrimSpace(signerName),
		Image:      append([]byte(nil), artifact.Data...),
		MimeType:   artifact.MimeType,
		CapturedAt: artifact.CapturedAt,
	}
	if role == models.SignerRoleTechnician {
		id, name, err := c.deps.Identity.Technician(ctx)
		if err != nil {
			return err
		}
		sig.SignerID = id
		if sig.SignerName == "" {
			sig.SignerName = name
		}
	} else if sig.SignerName == "" {
		return utils.ValidationError(op, "counterpart signer name is required")
	}

	next := c.report.Clone()
	if role == models.SignerRoleTechnician {
		next.Signatures.Technician = sig
	} else {
		next.Signatures.Counterpart = sig
	}
	return c.persist(ctx, next, change{
		op:          op,
		action:      models.HistoryActionSign,
		description: fmt.Sprintf("%s signature captured.", role),
		after:       map[string]interface{}{"signer_role": role, "signer_name": sig.SignerName, "captured_at": sig.CapturedAt},
	})
}

// AppendAttachment stages media locally. Evidence can be added until the report is approved.
func (c *Controller) AppendAttachment(ctx context.Context, media ...models.Media) error {
	const op = "report.appendAttachment"
	if err := c.live(op); err != nil {
		return err
	}
	if c.report.LifecycleState.IsTerminal() {
		return utils.FinalizedError(op)
	}
	return c.attachments.Stage(media...)
}

// RemoveStagedAttachment drops a not yet uploaded item from the working set.
func (c *Controller) RemoveStagedAttachment(index int) error {
	const op = "report.removeStagedAttachment"
	if err := c.live(op); err != nil {
		return err
	}
	return c.attachments.RemoveStaged(index)
}

// CommitAttachments uploads staged media and records the successful uploads on the report in one write.
// Per-item upload failures are returned in the results, not as the error. If the write fails, the
// uploaded objects are deleted and every item stays staged for a retry.
func (c *Controller) CommitAttachments(ctx context.Context) (results []attachment.ItemResult, err error) {
	const op = "report.commitAttachments"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.live(op); err != nil {
		return nil, err
	}
	if c.report.LifecycleState.IsTerminal() {
		return nil, utils.FinalizedError(op)
	}
	return c.attachments.CommitAndRecord(ctx, func(ctx context.Context, added []models.Attachment) error {
		next := c.report.Clone()
		next.Attachments = append(next.Attachments, added...)
		return c.persist(ctx, next, change{
			op:          op,
			action:      models.HistoryActionAttach,
			description: fmt.Sprintf("%d attachment(s) added.", len(added)),
			after:       added,
		})
	})
}

// RemoveAttachment detaches a committed attachment from the report, then deletes the object.
// A failed delete puts the attachment back on the report so the removal can be retried.
func (c *Controller) RemoveAttachment(ctx context.Context, reference string) (err error) {
	const op = "report.removeAttachment"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.notFinal(op); err != nil {
		return err
	}
	idx := -1
	for i, a := range c.report.Attachments {
		if a.Reference == reference {
			idx = i
			break
		}
	}
	if idx < 0 {
		return utils.NotFoundError(op, "attachment %s not found on report %s", reference, c.report.ID)
	}
	removed := c.report.Attachments[idx]
	next := c.report.Clone()
	next.Attachments = append(next.Attachments[:idx], next.Attachments[idx+1:]...)
	if err := c.persist(ctx, next, change{
		op:          op,
		action:      models.HistoryActionDetach,
		description: fmt.Sprintf("Attachment %s removed.", removed.FileName),
		before:      removed,
	}); err != nil {
		return err
	}

	deleteErr := c.attachments.RemoveCommitted(ctx, reference)
	if deleteErr == nil {
		return nil
	}
	restored := c.report.Clone()
	if idx > len(restored.Attachments) {
		idx = len(restored.Attachments)
	}
	restored.Attachments = append(restored.Attachments[:idx], append([]models.Attachment{removed}, restored.Attachments[idx:]...)...)
	if err := c.persist(context.WithoutCancel(ctx), restored, change{
		op:          op,
		action:      models.HistoryActionAttach,
		description: fmt.Sprintf("Attachment %s restored after a failed delete.", removed.FileName),
		after:       removed,
	}); err != nil {
		c.attachments.Forget(reference)
		c.deps.Logger.WithFields(logrus.Fields{
			"report_id": c.report.ID,
			"reference": reference,
			"error":     err.Error(),
		}).Error("[report.removeAttachment] orphaned object: delete and restore both failed")
	}
	return deleteErr
}

// SubmitForReview moves a draft to pending_review. With a wizard, every phase must be complete;
// its payload is saved and its check fields are merged into the report's checks.
// Without one, the checklist data already saved on the report must be complete (a reopened report).
// Compliance is not required to submit.
func (c *Controller) SubmitForReview(ctx context.Context, wizard *checklist.Wizard) (err error) {
	const op = "report.submit"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.notFinal(op); err != nil {
		return err
	}
	if c.report.LifecycleState != models.LifecycleStateDraft {
		return utils.InvalidOperationError(op, "only draft reports can be submitted; report %s is %s", c.report.ID, c.report.LifecycleState)
	}
	next := c.report.Clone()
	if wizard == nil {
		// No wizard in hand: the checklist saved on the report must already be complete.
		saved, err := c.NewWizard()
		if err != nil {
			return err
		}
		if incomplete := saved.IncompletePhases(); len(incomplete) > 0 {
			return utils.ValidationError(op, "checklist of report %s is incomplete: %s", c.report.ID, strings.Join(incomplete, ", "))
		}
	} else {
		if wizard.Schema().Kind != c.report.Kind {
			return utils.ValidationError(op, "checklist for %s cannot submit a %s report", wizard.Schema().Kind, c.report.Kind)
		}
		payload, err := wizard.Assemble()
		if err != nil {
			return err
		}
		next.ChecklistData = payload
		for _, check := range wizard.Schema().ChecksFrom(payload) {
			next.Checks = next.Checks.Set(check.Name, check.Value)
		}
	}
	from := c.report.LifecycleState
	next.LifecycleState = models.LifecycleStatePendingReview
	if err := c.persist(ctx, next, change{
		op:          op,
		action:      models.HistoryActionSubmit,
		description: "Report submitted for review.",
		before:      from,
		after:       next.LifecycleState,
	}); err != nil {
		return err
	}
	c.transitioned(ctx, models.HistoryActionSubmit, from, "")
	return nil
}

// Approve finalizes a pending report. A technician signature is required.
func (c *Controller) Approve(ctx context.Context) (err error) {
	const op = "report.approve"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.notFinal(op); err != nil {
		return err
	}
	if c.report.LifecycleState != models.LifecycleStatePendingReview {
		return utils.InvalidOperationError(op, "only reports pending review can be approved; report %s is %s", c.report.ID, c.report.LifecycleState)
	}
	if !c.report.HasTechnicianSignature() {
		return utils.ValidationError(op, "technician signature is required before approval")
	}
	from := c.report.LifecycleState
	now := c.deps.Now().UTC()
	next := c.report.Clone()
	next.LifecycleState = models.LifecycleStateApproved
	next.FinalizedAt = &now
	if err := c.persist(ctx, next, change{
		op:          op,
		action:      models.HistoryActionApprove,
		description: "Report approved.",
		before:      from,
		after:       next.LifecycleState,
	}); err != nil {
		return err
	}
	c.transitioned(ctx, models.HistoryActionApprove, from, "")
	return nil
}

// Reject finalizes a pending report as rejected. The reason is required.
func (c *Controller) Reject(ctx context.Context, reason string) (err error) {
	const op = "report.reject"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.notFinal(op); err != nil {
		return err
	}
	if c.report.LifecycleState != models.LifecycleStatePendingReview {
		return utils.InvalidOperationError(op, "only reports pending review can be rejected; report %s is %s", c.report.ID, c.report.LifecycleState)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return utils.ValidationError(op, "a rejection reason is required")
	}
	from := c.report.LifecycleState
	now := c.deps.Now().UTC()
	next := c.report.Clone()
	next.LifecycleState = models.LifecycleStateRejected
	next.FinalizedAt = &now
	next.RejectionReason = reason
	if err := c.persist(ctx, next, change{
		op:          op,
		action:      models.HistoryActionReject,
		description: "Report rejected: " + reason,
		before:      from,
		after:       next.LifecycleState,
	}); err != nil {
		return err
	}
	c.transitioned(ctx, models.HistoryActionReject, from, reason)
	return nil
}

// Reopen returns a rejected report to draft. Signatures are kept unless REOPEN_CLEARS_SIGNATURES is set.
func (c *Controller) Reopen(ctx context.Context) (err error) {
	const op = "report.reopen"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.live(op); err != nil {
		return err
	}
	if c.report.LifecycleState.IsTerminal() {
		return utils.FinalizedError(op)
	}
	if c.report.LifecycleState != models.LifecycleStateRejected {
		return utils.InvalidOperationError(op, "only rejected reports can be reopened; report %s is %s", c.report.ID, c.report.LifecycleState)
	}
	from := c.report.LifecycleState
	reason := c.report.RejectionReason
	next := c.report.Clone()
	next.LifecycleState = models.LifecycleStateDraft
	next.FinalizedAt = nil
	next.RejectionReason = ""
	if c.deps.Settings.ReopenClearsSignatures {
		next.Signatures = models.Signatures{}
	}
	if err := c.persist(ctx, next, change{
		op:          op,
		action:      models.HistoryActionReopen,
		description: "Report reopened for rework.",
		before:      map[string]interface{}{"state": from, "rejection_reason": reason},
		after:       next.LifecycleState,
	}); err != nil {
		return err
	}
	c.transitioned(ctx, models.HistoryActionReopen, from, "")
	return nil
}

// Delete flags the report as removed. History is kept; every later call reports NotFound.
func (c *Controller) Delete(ctx context.Context) (err error) {
	const op = "report.delete"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.notFinal(op); err != nil {
		return err
	}
	from := c.report.LifecycleState
	now := c.deps.Now().UTC()
	next := c.report.Clone()
	next.IsDeleted = true
	next.RemovedAt = &now
	if err := c.persist(ctx, next, change{
		op:          op,
		action:      models.HistoryActionDelete,
		description: "Report deleted.",
		before:      from,
	}); err != nil {
		return err
	}
	c.attachments.Dispose()
	c.transitioned(ctx, models.HistoryActionDelete, from, "")
	return nil
}

// Verdict evaluates the named checks plus one derived check per equipment, from its latest reading.
// Without an equipment directory only the named checks count.
func (c *Controller) Verdict(ctx context.Context) (compliance.Verdict, error) {
	if err := c.live("report.verdict"); err != nil {
		return compliance.Verdict{}, err
	}
	return compliance.ComposeVerdict(ctx, c.deps.Equipment, c.report.Checks, c.report.TemperatureReadings), nil
}

// TemperatureVerdicts classifies every reading, oldest first.
func (c *Controller) TemperatureVerdicts(ctx context.Context) ([]compliance.ReadingVerdict, error) {
	if err := c.live("report.temperatureVerdicts"); err != nil {
		return nil, err
	}
	return compliance.NewTemperatureChecker(c.deps.Equipment).CheckAll(ctx, c.report.TemperatureReadings), nil
}

// RenderDocument asks the store to render and keep a document of the current report.
func (c *Controller) RenderDocument(ctx context.Context) (handle *models.DocumentHandle, err error) {
	const op = "report.render"
	ctx, span := c.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := c.live(op); err != nil {
		return nil, err
	}
	return c.deps.Store.RenderToDocument(ctx, c.report.ID)
}

// Close ends the session: the attachment manager is disposed and the session lock released.
// In-flight uploads may finish but their results are ignored. Calling Close again does nothing.
func (c *Controller) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.attachments.Dispose()
	if c.lock != nil {
		if err := c.lock.Release(ctx); err != nil {
			config.LogError(c.deps.Logger, "controller.go", "Close", "Release", c.report.ID, err)
			return err
		}
	}
	return nil
}
