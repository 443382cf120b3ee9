package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type memoryObjects struct {
	puts    map[string][]byte
	deleted []string
}

func (m *memoryObjects) Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	if m.puts == nil {
		m.puts = map[string][]byte{}
	}
	m.puts[objectName] = data
	return "gs://test-bucket/" + objectName, nil
}

func (m *memoryObjects) Delete(ctx context.Context, reference string) error {
	m.deleted = append(m.deleted, reference)
	return nil
}

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, r *Report) ([]byte, string, error) {
	return []byte("%PDF-1.4 " + r.ID), "application/pdf", nil
}

func newMockStore(t *testing.T) (*ReportStore, sqlmock.Sqlmock, *memoryObjects, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	objects := &memoryObjects{}
	store := NewReportStore(db, objects, stubRenderer{})
	store.now = func() time.Time { return time.Date(2024, 7, 3, 8, 0, 0, 0, time.UTC) }
	return store, mock, objects, func() { _ = sqlDB.Close() }
}

var reportColumns = []string{"id", "kind", "lifecycle_state", "checks", "version", "is_deleted"}

func TestCreateReport(t *testing.T) {
	store, mock, _, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `reports`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `histories`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := utils.SetTechnicianIdInContext(context.Background(), "tech-7")
	id, err := store.CreateReport(ctx, NewReport{Kind: ReportKindHaccp, CreatedBy: "tech-7"})
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 36 {
		t.Fatalf("expected uuid id, got %q", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateReportInvalidKind(t *testing.T) {
	store, mock, _, done := newMockStore(t)
	defer done()

	if _, err := store.CreateReport(context.Background(), NewReport{Kind: "plumbing"}); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateReportDuplicateKey(t *testing.T) {
	store, mock, _, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `reports`").WillReturnError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	if _, err := store.CreateReport(context.Background(), NewReport{Kind: ReportKindMaintenance}); !errors.Is(err, utils.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateReportIdempotencyKey(t *testing.T) {
	store, mock, _, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `idempotency_keys`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `reports`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `histories`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	input := NewReport{Kind: ReportKindIntervention, CreatedBy: "tech-7", IdempotencyKey: "visit-42"}
	first, err := store.CreateReport(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `idempotency_keys`").WillReturnError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT \\* FROM `idempotency_keys` WHERE technician_id = \\? AND idempotency_key = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "technician_id", "idempotency_key", "report_id"}).
			AddRow(1, "tech-7", "visit-42", first))

	again, err := store.CreateReport(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Fatalf("retried create returned %q, want %q", again, first)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetReport(t *testing.T) {
	store, mock, _, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("SELECT \\* FROM `reports` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows(reportColumns).
			AddRow("r-1", "haccp", "draft", `[{"name":"frost","value":"false"}]`, 4, false))

	r, err := store.GetReport(context.Background(), "r-1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != ReportKindHaccp || r.Version != 4 || r.LifecycleState != LifecycleStateDraft {
		t.Fatalf("unexpected report %+v", r)
	}
	if v, ok := r.Checks.Get("frost"); !ok || v != CheckFalse {
		t.Fatalf("checks not decoded: %+v", r.Checks)
	}
}

func TestGetReportMissingOrDeleted(t *testing.T) {
	store, mock, _, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("SELECT \\* FROM `reports`").WillReturnRows(sqlmock.NewRows(reportColumns))
	if _, err := store.GetReport(context.Background(), "nope"); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mock.ExpectQuery("SELECT \\* FROM `reports`").
		WillReturnRows(sqlmock.NewRows(reportColumns).AddRow("r-2", "haccp", "draft", nil, 2, true))
	if _, err := store.GetReport(context.Background(), "r-2"); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("deleted report must read as not found, got %v", err)
	}

	mock.ExpectQuery("SELECT \\* FROM `reports`").WillReturnError(sql.ErrConnDone)
	if _, err := store.GetReport(context.Background(), "r-3"); utils.KindOf(err) != utils.ErrorKindInternal {
		t.Fatalf("driver errors stay internal, got %v", err)
	}
}

func TestUpdateReport(t *testing.T) {
	store, mock, _, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `reports` SET .*WHERE .*version = \\?").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `histories`").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	report := &Report{ID: "r-1", Kind: ReportKindHaccp, LifecycleState: LifecycleStatePendingReview, Version: 3}
	err := store.UpdateReport(context.Background(), "r-1", ReportPatch{
		Report:          report,
		ExpectedVersion: 3,
		Action:          HistoryActionSubmit,
		Description:     "Report submitted for review.",
		Before:          LifecycleStateDraft,
		After:           LifecycleStatePendingReview,
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Version != 4 {
		t.Fatalf("version must advance, got %d", report.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateReportVersionConflict(t *testing.T) {
	store, mock, _, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `reports` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	report := &Report{ID: "r-1", Kind: ReportKindHaccp, LifecycleState: LifecycleStateDraft, Version: 3}
	err := store.UpdateReport(context.Background(), "r-1", ReportPatch{Report: report, ExpectedVersion: 3})
	if !errors.Is(err, utils.ErrConflict) || utils.IsRetryable(err) {
		t.Fatalf("expected non-retryable conflict, got %v", err)
	}
	if report.Version != 3 {
		t.Fatalf("version must not move on conflict")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateReportRejectsMismatchedPatch(t *testing.T) {
	store, _, _, done := newMockStore(t)
	defer done()
	if err := store.UpdateReport(context.Background(), "r-1", ReportPatch{Report: &Report{ID: "r-2"}}); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUploadAttachment(t *testing.T) {
	store, _, objects, done := newMockStore(t)
	defer done()
	ctx := context.Background()

	ref, err := store.UploadAttachment(ctx, "r-1", Media{FileName: "Invoice.PDF", Data: []byte("%PDF-1.7\n")})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ref, "gs://test-bucket/reports/r-1/attachments/") || !strings.HasSuffix(ref, ".pdf") {
		t.Fatalf("unexpected reference %s", ref)
	}
	if len(objects.puts) != 1 {
		t.Fatalf("expected one stored object")
	}

	if _, err := store.UploadAttachment(ctx, "r-1", Media{FileName: "a.txt", Data: []byte("hello world")}); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("text files must be refused, got %v", err)
	}
	if _, err := store.UploadAttachment(ctx, "r-1", Media{FileName: "empty.png"}); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("empty files must be refused, got %v", err)
	}
}

func TestDeleteAttachmentScopedToReport(t *testing.T) {
	store, _, objects, done := newMockStore(t)
	defer done()
	ctx := context.Background()

	if err := store.DeleteAttachment(ctx, "r-1", "gs://test-bucket/reports/r-2/attachments/x.png"); !errors.Is(err, utils.ErrInvalidOperation) {
		t.Fatalf("foreign reference must be refused, got %v", err)
	}
	if err := store.DeleteAttachment(ctx, "r-1", "gs://test-bucket/reports/r-1/attachments/x.png"); err != nil {
		t.Fatal(err)
	}
	if len(objects.deleted) != 1 {
		t.Fatalf("expected delete forwarded to storage")
	}
}

func TestRenderToDocument(t *testing.T) {
	store, mock, objects, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("SELECT \\* FROM `reports`").
		WillReturnRows(sqlmock.NewRows(reportColumns).AddRow("r-1", "haccp", "approved", nil, 5, false))

	handle, err := store.RenderToDocument(context.Background(), "r-1")
	if err != nil {
		t.Fatal(err)
	}
	if handle.ContentType != "application/pdf" || handle.Reference != "gs://test-bucket/reports/r-1/report-v5.pdf" {
		t.Fatalf("unexpected handle %+v", handle)
	}
	if handle.Size != int64(len(objects.puts["reports/r-1/report-v5.pdf"])) {
		t.Fatalf("size mismatch")
	}
}
