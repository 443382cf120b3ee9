package models

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("fieldreport/models")

// ObjectStorage holds attachment and document bytes.
type ObjectStorage interface {
	Put(ctx context.Context, objectName string, data []byte, contentType string) (reference string, err error)
	Delete(ctx context.Context, reference string) error
}

// DocumentRenderer turns a report into a printable document.
type DocumentRenderer interface {
	Render(ctx context.Context, report *Report) (data []byte, contentType string, err error)
}

// ReportPatch is the full desired state of a report plus the audit entry describing the change.
type ReportPatch struct {
	Report          *Report
	ExpectedVersion int
	Action          HistoryAction
	Description     string
	Before          interface{}
	After           interface{}
}

// ReportStore is the MySQL/GCS backed persistence for reports.
type ReportStore struct {
	db       *gorm.DB
	objects  ObjectStorage
	renderer DocumentRenderer
	now      func() time.Time
}

func NewReportStore(db *gorm.DB, objects ObjectStorage, renderer DocumentRenderer) *ReportStore {
	return &ReportStore{db: db, objects: objects, renderer: renderer, now: time.Now}
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func startSpan(ctx context.Context, name string, reportId string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("report.id", reportId)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

var errIdempotentReplay = errors.New("idempotency key already used")

// CreateReport inserts a draft plus its CREATE history row. With an idempotency key already seen
// for the same technician, nothing is written and the earlier report's id is returned.
func (s *ReportStore) CreateReport(ctx context.Context, input NewReport) (id string, err error) {
	id = uuid.NewString()
	ctx, span := startSpan(ctx, "ReportStore.CreateReport", id)
	defer func() { endSpan(span, err) }()

	if !input.Kind.IsValid() {
		return "", utils.ValidationError("report.create", "invalid report kind %q", input.Kind)
	}
	report := Report{
		ID:             id,
		Kind:           input.Kind,
		LifecycleState: LifecycleStateDraft,
		Narrative:      input.Narrative,
		Checks:         Checks{},
		Version:        1,
		CreatedBy:      input.CreatedBy,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IdempotencyKey != "" {
			key := IdempotencyKey{TechnicianId: input.CreatedBy, Key: input.IdempotencyKey, ReportID: id}
			if err := tx.Create(&key).Error; err != nil {
				if isDuplicateKeyErr(err) {
					return errIdempotentReplay
				}
				return err
			}
		}
		if err := tx.Create(&report).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return utils.ConflictError("report.create", "report %s already exists", id)
			}
			return err
		}
		return createHistory(tx, newHistory(ctx, id, HistoryActionCreate, nil, report.LifecycleState, fmt.Sprintf("%s report created.", report.Kind)))
	})
	if errors.Is(err, errIdempotentReplay) {
		return s.reportForIdempotencyKey(ctx, input.CreatedBy, input.IdempotencyKey)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *ReportStore) reportForIdempotencyKey(ctx context.Context, technicianId, key string) (string, error) {
	var existing IdempotencyKey
	err := s.db.WithContext(ctx).
		Where("technician_id = ? AND idempotency_key = ?", technicianId, key).
		Take(&existing).Error
	if err != nil {
		return "", err
	}
	return existing.ReportID, nil
}

// GetReport loads a live report. Deleted reports read as not found.
func (s *ReportStore) GetReport(ctx context.Context, id string) (report *Report, err error) {
	ctx, span := startSpan(ctx, "ReportStore.GetReport", id)
	defer func() { endSpan(span, err) }()

	var result Report
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFoundError("report.get", "report %s not found", id)
		}
		return nil, err
	}
	if result.IsDeleted {
		return nil, utils.NotFoundError("report.get", "report %s not found", id)
	}
	return &result, nil
}

// UpdateReport writes patch.Report when the stored version still equals patch.ExpectedVersion.
// On success the report's Version is advanced in place.
func (s *ReportStore) UpdateReport(ctx context.Context, id string, patch ReportPatch) (err error) {
	ctx, span := startSpan(ctx, "ReportStore.UpdateReport", id)
	defer func() { endSpan(span, err) }()

	if patch.Report == nil || patch.Report.ID != id {
		return utils.ValidationError("report.update", "patch does not target report %s", id)
	}
	next := patch.Report.Clone()
	next.Version = patch.ExpectedVersion + 1

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(next).
			Where("version = ?", patch.ExpectedVersion).
			Select("*").
			Omit("kind", "created_at", "created_by").
			Updates(next)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return utils.ConflictError("report.update", "report %s was modified concurrently (expected version %d)", id, patch.ExpectedVersion)
		}
		action := patch.Action
		if action == "" {
			action = HistoryActionEdit
		}
		return createHistory(tx, newHistory(ctx, id, action, patch.Before, patch.After, patch.Description))
	})
	if err != nil {
		return err
	}
	patch.Report.Version = next.Version
	patch.Report.UpdatedAt = next.UpdatedAt
	return nil
}

func attachmentPrefix(reportId string) string {
	return utils.ReportObjectKey(reportId, "attachments") + "/"
}

// UploadAttachment stores media under the report's prefix and returns its durable reference.
func (s *ReportStore) UploadAttachment(ctx context.Context, reportId string, media Media) (reference string, err error) {
	ctx, span := startSpan(ctx, "ReportStore.UploadAttachment", reportId)
	defer func() { endSpan(span, err) }()

	if len(media.Data) == 0 {
		return "", utils.ValidationError("attachment.upload", "empty file %q", media.FileName)
	}
	mimeType := utils.DetectMimeType(media.Data, media.MimeType)
	if !utils.AllowedAttachmentMimeType(mimeType) {
		return "", utils.ValidationError("attachment.upload", "unsupported file type %s", mimeType)
	}
	ext := strings.ToLower(filepath.Ext(media.FileName))
	if ext == "" {
		ext = extensionFromMimeType(mimeType)
	}
	objectName := attachmentPrefix(reportId) + uuid.NewString() + ext
	return s.objects.Put(ctx, objectName, media.Data, mimeType)
}

// DeleteAttachment removes a committed attachment's object. References outside the report are refused.
func (s *ReportStore) DeleteAttachment(ctx context.Context, reportId string, reference string) (err error) {
	ctx, span := startSpan(ctx, "ReportStore.DeleteAttachment", reportId)
	defer func() { endSpan(span, err) }()

	owner, key, ok := utils.ParseReportObjectReference(reference)
	if !ok || owner != reportId || !strings.HasPrefix(key, attachmentPrefix(reportId)) {
		return utils.InvalidOperationError("attachment.delete", "reference %q does not belong to report %s", reference, reportId)
	}
	return s.objects.Delete(ctx, reference)
}

// RenderToDocument renders the current report and stores the document next to its attachments.
func (s *ReportStore) RenderToDocument(ctx context.Context, reportId string) (handle *DocumentHandle, err error) {
	ctx, span := startSpan(ctx, "ReportStore.RenderToDocument", reportId)
	defer func() { endSpan(span, err) }()

	if s.renderer == nil {
		return nil, errors.New("no document renderer configured")
	}
	report, err := s.GetReport(ctx, reportId)
	if err != nil {
		return nil, err
	}
	data, contentType, err := s.renderer.Render(ctx, report)
	if err != nil {
		return nil, fmt.Errorf("render report %s: %w", reportId, err)
	}
	objectName := utils.ReportObjectKey(reportId, fmt.Sprintf("report-v%d%s", report.Version, extensionFromMimeType(contentType)))
	reference, err := s.objects.Put(ctx, objectName, data, contentType)
	if err != nil {
		return nil, err
	}
	return &DocumentHandle{
		Reference:   reference,
		ContentType: contentType,
		Size:        int64(len(data)),
		RenderedAt:  s.now().UTC(),
	}, nil
}

func extensionFromMimeType(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/heic":
		return ".heic"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}
