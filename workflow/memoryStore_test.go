package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/utils"
)

// memoryStore mimics models.ReportStore: optimistic versions, logical delete, history per update.
type memoryStore struct {
	mu        sync.Mutex
	reports   map[string]*models.Report
	history   []models.ReportPatch
	objects   map[string][]byte
	updateErr error
	deleteErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{reports: map[string]*models.Report{}, objects: map[string][]byte{}}
}

func (s *memoryStore) CreateReport(ctx context.Context, input models.NewReport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.reports[id] = &models.Report{
		ID:             id,
		Kind:           input.Kind,
		LifecycleState: models.LifecycleStateDraft,
		Narrative:      input.Narrative,
		Checks:         models.Checks{},
		Version:        1,
		CreatedBy:      input.CreatedBy,
	}
	return id, nil
}

func (s *memoryStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok || r.IsDeleted {
		return nil, utils.NotFoundError("report.get", "report %s not found", id)
	}
	return r.Clone(), nil
}

func (s *memoryStore) UpdateReport(ctx context.Context, id string, patch models.ReportPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	current, ok := s.reports[id]
	if !ok {
		return utils.NotFoundError("report.update", "report %s not found", id)
	}
	if current.Version != patch.ExpectedVersion {
		return utils.ConflictError("report.update", "version %d != %d", current.Version, patch.ExpectedVersion)
	}
	next := patch.Report.Clone()
	next.Version = patch.ExpectedVersion + 1
	next.Kind = current.Kind
	s.reports[id] = next
	s.history = append(s.history, patch)
	patch.Report.Version = next.Version
	return nil
}

func (s *memoryStore) UploadAttachment(ctx context.Context, reportId string, media models.Media) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := fmt.Sprintf("gs://test/reports/%s/attachments/%s", reportId, media.FileName)
	s.objects[ref] = media.Data
	return ref, nil
}

func (s *memoryStore) DeleteAttachment(ctx context.Context, reportId string, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, reference)
	return nil
}

func (s *memoryStore) RenderToDocument(ctx context.Context, reportId string) (*models.DocumentHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[reportId]; !ok {
		return nil, errors.New("missing report")
	}
	return &models.DocumentHandle{Reference: "gs://test/reports/" + reportId + "/report.pdf", ContentType: "application/pdf", RenderedAt: time.Now()}, nil
}

// bump simulates a write from another session.
func (s *memoryStore) bump(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[id].Version++
}

func (s *memoryStore) actions() []models.HistoryAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.HistoryAction, 0, len(s.history))
	for _, h := range s.history {
		out = append(out, h.Action)
	}
	return out
}
