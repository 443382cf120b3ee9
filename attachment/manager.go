// Package attachment keeps the working set of a report's photos and documents:
// locally staged media waiting for upload plus already committed references.
package attachment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Uploader is the slice of the persistence collaborator the manager needs.
type Uploader interface {
	UploadAttachment(ctx context.Context, reportId string, media models.Media) (string, error)
	DeleteAttachment(ctx context.Context, reportId string, reference string) error
}

// Entry is a read-only view of one item in the working set.
type Entry struct {
	ID          string                  `json:"id"`
	Origin      models.AttachmentOrigin `json:"origin"`
	FileName    string                  `json:"file_name"`
	MimeType    string                  `json:"mime_type"`
	Size        int64                   `json:"size"`
	Reference   string                  `json:"reference,omitempty"`
	PreviewRef  string                  `json:"preview_ref,omitempty"`
	Uploading   bool                    `json:"uploading"`
	LastError   string                  `json:"last_error,omitempty"`
	CommittedAt time.Time               `json:"committed_at,omitempty"`
}

type item struct {
	Entry
	data            []byte
	previewReleased bool
}

// ItemResult is the outcome of uploading one staged item.
type ItemResult struct {
	EntryID    string
	FileName   string
	Attachment *models.Attachment
	Err        error
}

type Options struct {
	MaxAttachments int
	Concurrency    int
	Previewer      Previewer
	Logger         *logrus.Logger
	Now            func() time.Time
}

type Manager struct {
	mu sync.Mutex

	reportId    string
	uploader    Uploader
	previews    Previewer
	max         int
	concurrency int
	logger      *logrus.Logger
	now         func() time.Time

	items    []*item
	disposed bool
}

// NewManager seeds the working set with the report's committed attachments.
func NewManager(reportId string, uploader Uploader, committed []models.Attachment, opts Options) *Manager {
	settings := config.LoadSettings()
	m := &Manager{
		reportId:    reportId,
		uploader:    uploader,
		previews:    opts.Previewer,
		max:         opts.MaxAttachments,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if m.max <= 0 {
		m.max = settings.MaxAttachments
	}
	if m.concurrency <= 0 {
		m.concurrency = settings.UploadConcurrency
	}
	if m.previews == nil {
		m.previews = NewThumbnailStore(settings.PreviewWidth)
	}
	if m.logger == nil {
		m.logger = config.GetLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	for _, a := range committed {
		m.items = append(m.items, &item{Entry: Entry{
			ID:          uuid.NewString(),
			Origin:      models.AttachmentOriginCommitted,
			FileName:    a.FileName,
			MimeType:    a.MimeType,
			Size:        a.Size,
			Reference:   a.Reference,
			CommittedAt: a.CommittedAt,
		}, previewReleased: true})
	}
	return m
}

func (m *Manager) disposedError(op string) error {
	return utils.InvalidOperationError(op, "attachment manager for report %s is disposed", m.reportId)
}

// Items returns the ordered working set.
func (m *Manager) Items() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it.Entry)
	}
	return out
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Stage appends media as staged items. The batch is all-or-nothing.
func (m *Manager) Stage(media ...models.Media) error {
	const op = "attachment.stage"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return m.disposedError(op)
	}
	if len(m.items)+len(media) > m.max {
		return utils.NewError(utils.ErrorKindLimitExceeded, op,
			fmt.Sprintf("cannot stage %d file(s): limit is %d and %d already present", len(media), m.max, len(m.items)))
	}
	staged := make([]*item, 0, len(media))
	for _, md := range media {
		if len(md.Data) == 0 {
			m.releaseAll(staged)
			return utils.ValidationError(op, "file %q is empty", md.FileName)
		}
		if int64(len(md.Data)) > utils.MaxUploadSizeBytes {
			m.releaseAll(staged)
			return utils.ValidationError(op, "file %q exceeds the upload size limit", md.FileName)
		}
		mimeType := utils.DetectMimeType(md.Data, md.MimeType)
		if !utils.AllowedAttachmentMimeType(mimeType) {
			m.releaseAll(staged)
			return utils.ValidationError(op, "file %q has unsupported type %s", md.FileName, mimeType)
		}
		md.MimeType = mimeType
		ref, err := m.previews.Create(md)
		if err != nil {
			m.releaseAll(staged)
			return err
		}
		staged = append(staged, &item{
			Entry: Entry{
				ID:         uuid.NewString(),
				Origin:     models.AttachmentOriginStaged,
				FileName:   md.FileName,
				MimeType:   mimeType,
				Size:       int64(len(md.Data)),
				PreviewRef: ref,
			},
			data: md.Data,
		})
	}
	m.items = append(m.items, staged...)
	return nil
}

// RemoveStaged drops the staged item at index and releases its preview.
func (m *Manager) RemoveStaged(index int) error {
	const op = "attachment.removeStaged"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return m.disposedError(op)
	}
	if index < 0 || index >= len(m.items) {
		return utils.InvalidOperationError(op, "no attachment at index %d", index)
	}
	it := m.items[index]
	if it.Origin != models.AttachmentOriginStaged {
		return utils.InvalidOperationError(op, "attachment at index %d is committed; use removeCommitted", index)
	}
	if it.Uploading {
		return utils.InvalidOperationError(op, "attachment at index %d is being uploaded", index)
	}
	m.releasePreview(it)
	m.items = append(m.items[:index], m.items[index+1:]...)
	return nil
}

// RemoveCommitted asks the persistence collaborator to delete reference. On failure the item stays.
func (m *Manager) RemoveCommitted(ctx context.Context, reference string) error {
	const op = "attachment.removeCommitted"
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return m.disposedError(op)
	}
	if m.indexOfReference(reference) < 0 {
		m.mu.Unlock()
		return utils.NotFoundError(op, "attachment %s is not committed to report %s", reference, m.reportId)
	}
	m.mu.Unlock()

	if err := m.uploader.DeleteAttachment(ctx, m.reportId, reference); err != nil {
		m.logger.WithFields(logrus.Fields{
			"report_id": m.reportId,
			"reference": reference,
			"error":     err.Error(),
		}).Warn("[attachment.removeCommitted] delete failed; attachment kept")
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOfReference(reference); i >= 0 {
		m.items = append(m.items[:i], m.items[i+1:]...)
	}
	return nil
}

// Forget drops a committed item without touching storage.
func (m *Manager) Forget(reference string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOfReference(reference); i >= 0 {
		m.items = append(m.items[:i], m.items[i+1:]...)
	}
}

func (m *Manager) indexOfReference(reference string) int {
	for i, it := range m.items {
		if it.Origin == models.AttachmentOriginCommitted && it.Reference == reference {
			return i
		}
	}
	return -1
}

// Commit uploads every staged item with bounded concurrency. Each item resolves on its own:
// successes become committed, failures stay staged with LastError set.
func (m *Manager) Commit(ctx context.Context) ([]ItemResult, error) {
	return m.CommitAndRecord(ctx, nil)
}

// Recorder stores a batch of freshly uploaded attachments on the report.
type Recorder func(ctx context.Context, uploaded []models.Attachment) error

// CommitAndRecord is Commit with a record step between upload and commit. Successful uploads
// only become committed once record accepts them. When record fails, the uploaded objects are
// deleted and their items go back to staged with LastError set; the record error is returned.
func (m *Manager) CommitAndRecord(ctx context.Context, record Recorder) ([]ItemResult, error) {
	const op = "attachment.commit"
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, m.disposedError(op)
	}
	type job struct {
		id    string
		media models.Media
	}
	var jobs []job
	for _, it := range m.items {
		if it.Origin == models.AttachmentOriginStaged && !it.Uploading {
			it.Uploading = true
			jobs = append(jobs, job{id: it.ID, media: models.Media{FileName: it.FileName, MimeType: it.MimeType, Data: it.data}})
		}
	}
	m.mu.Unlock()

	results := make([]ItemResult, len(jobs))
	uploaded := make([]*models.Attachment, len(jobs))
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			reference, err := m.uploader.UploadAttachment(ctx, m.reportId, j.media)
			att := m.attachmentFor(j.media, reference)
			if err != nil || record == nil {
				results[i] = m.resolve(j.id, j.media, att, err)
				return nil
			}
			uploaded[i] = &att
			return nil
		})
	}
	_ = g.Wait()

	var batch []models.Attachment
	for _, att := range uploaded {
		if att != nil {
			batch = append(batch, *att)
		}
	}
	if len(batch) == 0 {
		return results, nil
	}
	recordErr := record(ctx, batch)
	if recordErr != nil {
		m.discardUploads(context.WithoutCancel(ctx), batch, recordErr)
	}
	for i, att := range uploaded {
		if att != nil {
			results[i] = m.resolve(jobs[i].id, jobs[i].media, *att, recordErr)
		}
	}
	return results, recordErr
}

func (m *Manager) attachmentFor(media models.Media, reference string) models.Attachment {
	return models.Attachment{
		Origin:      models.AttachmentOriginCommitted,
		Reference:   reference,
		FileName:    media.FileName,
		MimeType:    media.MimeType,
		Size:        int64(len(media.Data)),
		CommittedAt: m.now().UTC(),
	}
}

// discardUploads deletes objects the report never came to reference.
func (m *Manager) discardUploads(ctx context.Context, batch []models.Attachment, cause error) {
	for _, att := range batch {
		if err := m.uploader.DeleteAttachment(ctx, m.reportId, att.Reference); err != nil {
			m.logger.WithFields(logrus.Fields{
				"report_id": m.reportId,
				"reference": att.Reference,
				"cause":     cause.Error(),
				"error":     err.Error(),
			}).Error("[attachment.commit] orphaned object: record failed and delete failed")
		}
	}
}

// CommitAsync runs Commit in the background.
func (m *Manager) CommitAsync(ctx context.Context) <-chan []ItemResult {
	out := make(chan []ItemResult, 1)
	go func() {
		results, err := m.Commit(ctx)
		if err != nil {
			config.LogError(m.logger, "manager.go", "CommitAsync", "Commit", m.reportId, err)
		}
		out <- results
		close(out)
	}()
	return out
}

// resolve applies one upload outcome to its entry in a single critical section.
func (m *Manager) resolve(id string, media models.Media, att models.Attachment, err error) ItemResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := ItemResult{EntryID: id, FileName: media.FileName, Err: err}
	if m.disposed {
		if err == nil {
			res.Err = m.disposedError("attachment.commit")
		}
		return res
	}
	var it *item
	for _, candidate := range m.items {
		if candidate.ID == id {
			it = candidate
			break
		}
	}
	if it == nil {
		return res
	}
	it.Uploading = false
	if err != nil {
		it.LastError = err.Error()
		m.logger.WithFields(logrus.Fields{
			"report_id": m.reportId,
			"file_name": media.FileName,
			"error":     err.Error(),
		}).Warn("[attachment.commit] upload not committed; item stays staged")
		return res
	}
	it.Origin = models.AttachmentOriginCommitted
	it.Reference = att.Reference
	it.LastError = ""
	it.CommittedAt = att.CommittedAt
	it.data = nil
	m.releasePreview(it)
	it.PreviewRef = ""
	res.Attachment = &att
	return res
}

// Dispose releases every outstanding preview. Later uploads resolving on a disposed manager are ignored.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	m.releaseAll(m.items)
}

func (m *Manager) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

func (m *Manager) releaseAll(items []*item) {
	for _, it := range items {
		m.releasePreview(it)
	}
}

func (m *Manager) releasePreview(it *item) {
	if it.previewReleased || it.PreviewRef == "" {
		it.previewReleased = true
		return
	}
	it.previewReleased = true
	if err := m.previews.Release(it.PreviewRef); err != nil {
		config.LogError(m.logger, "manager.go", "releasePreview", "Release", it.PreviewRef, err)
	}
}
