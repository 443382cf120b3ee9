package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fieldreport_backend/checklist"
	"github.com/mmdatafocus/fieldreport_backend/compliance"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/reporting"
	"github.com/mmdatafocus/fieldreport_backend/signature"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"github.com/mmdatafocus/fieldreport_backend/workflow"
	"github.com/sirupsen/logrus"
)

type historyFunc func(ctx context.Context, reportId string) ([]*models.History, error)

// reportAPI exposes the lifecycle controller over HTTP. Every mutating request is one editing session.
type reportAPI struct {
	mu      sync.RWMutex
	deps    workflow.Deps
	history historyFunc
}

func (a *reportAPI) setup(deps workflow.Deps, history historyFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deps = deps
	a.history = history
}

func (a *reportAPI) ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.deps.Store != nil
}

func (a *reportAPI) current() (workflow.Deps, historyFunc) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.deps, a.history
}

func (a *reportAPI) logger() *logrus.Logger {
	deps, _ := a.current()
	if deps.Logger != nil {
		return deps.Logger
	}
	return config.GetLogger()
}

func (a *reportAPI) register(r *gin.Engine) {
	r.GET("/checklists/:kind", a.getChecklistSchema)

	g := r.Group("/reports")
	g.POST("", a.createReport)
	g.GET("/:id", a.getReport)
	g.DELETE("/:id", a.deleteReport)
	g.GET("/:id/history", a.listHistory)
	g.PUT("/:id/checks/:name", a.setCheck)
	g.PUT("/:id/narrative", a.setNarrative)
	g.POST("/:id/temperatures", a.appendTemperature)
	g.GET("/:id/temperatures/export", a.exportTemperatures)
	g.POST("/:id/signatures", a.attachSignature)
	g.POST("/:id/attachments", a.uploadAttachments)
	g.DELETE("/:id/attachments", a.removeAttachment)
	g.POST("/:id/submit", a.submit)
	g.POST("/:id/approve", a.approve)
	g.POST("/:id/reject", a.reject)
	g.POST("/:id/reopen", a.reopen)
	g.POST("/:id/document", a.renderDocument)
}

func statusForError(err error) int {
	switch utils.KindOf(err) {
	case utils.ErrorKindValidation:
		return http.StatusUnprocessableEntity
	case utils.ErrorKindInvalidOperation, utils.ErrorKindReportFinalized, utils.ErrorKindConflict:
		return http.StatusConflict
	case utils.ErrorKindLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case utils.ErrorKindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": utils.KindOf(err)})
}

func bindJSON(c *gin.Context, op string, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		respondError(c, utils.ValidationError(op, "invalid request body: %s", err.Error()))
		return false
	}
	return true
}

type reportView struct {
	Report  *models.Report     `json:"report"`
	Verdict compliance.Verdict `json:"verdict"`
}

func respondSession(c *gin.Context, ctrl *workflow.Controller, status int) {
	verdict, err := ctrl.Verdict(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, reportView{Report: ctrl.Report(), Verdict: verdict})
}

// open starts an editing session on the :id report. On failure the error is already written.
func (a *reportAPI) open(c *gin.Context) (*workflow.Controller, bool) {
	deps, _ := a.current()
	ctrl, err := workflow.Open(c.Request.Context(), deps, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return ctrl, true
}

// closeSession releases the session even when the request context is already cancelled.
func (a *reportAPI) closeSession(c *gin.Context, ctrl *workflow.Controller) {
	if err := ctrl.Close(context.WithoutCancel(c.Request.Context())); err != nil {
		config.LogError(a.logger(), "reportHandlers.go", "closeSession", "Close", c.Param("id"), err)
	}
}

// mutate runs fn inside an editing session and answers with the updated report.
func (a *reportAPI) mutate(c *gin.Context, fn func(ctx context.Context, ctrl *workflow.Controller) error) {
	ctrl, ok := a.open(c)
	if !ok {
		return
	}
	defer a.closeSession(c, ctrl)
	if err := fn(c.Request.Context(), ctrl); err != nil {
		respondError(c, err)
		return
	}
	respondSession(c, ctrl, http.StatusOK)
}

func (a *reportAPI) getChecklistSchema(c *gin.Context) {
	schema, err := checklist.SchemaFor(models.ReportKind(c.Param("kind")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

func (a *reportAPI) createReport(c *gin.Context) {
	var input struct {
		Kind      models.ReportKind `json:"kind" binding:"required"`
		Narrative models.Narrative  `json:"narrative"`
	}
	if !bindJSON(c, "report.create", &input) {
		return
	}
	deps, _ := a.current()
	ctrl, err := workflow.Create(c.Request.Context(), deps, input.Kind, input.Narrative)
	if err != nil {
		respondError(c, err)
		return
	}
	defer a.closeSession(c, ctrl)
	respondSession(c, ctrl, http.StatusCreated)
}

// getReport reads without a session so viewers never block an editor.
func (a *reportAPI) getReport(c *gin.Context) {
	deps, _ := a.current()
	ctx := c.Request.Context()
	report, err := deps.Store.GetReport(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	verdict := compliance.ComposeVerdict(ctx, deps.Equipment, report.Checks, report.TemperatureReadings)
	c.JSON(http.StatusOK, reportView{Report: report, Verdict: verdict})
}

func (a *reportAPI) deleteReport(c *gin.Context) {
	ctrl, ok := a.open(c)
	if !ok {
		return
	}
	defer a.closeSession(c, ctrl)
	if err := ctrl.Delete(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *reportAPI) listHistory(c *gin.Context) {
	deps, history := a.current()
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := deps.Store.GetReport(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	if history == nil {
		c.JSON(http.StatusOK, []*models.History{})
		return
	}
	rows, err := history(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (a *reportAPI) setCheck(c *gin.Context) {
	var body struct {
		Value models.CheckValue `json:"value"`
	}
	if !bindJSON(c, "report.setCheck", &body) {
		return
	}
	a.mutate(c, func(ctx context.Context, ctrl *workflow.Controller) error {
		return ctrl.SetCheck(ctx, c.Param("name"), body.Value)
	})
}

func (a *reportAPI) setNarrative(c *gin.Context) {
	var narrative models.Narrative
	if !bindJSON(c, "report.setNarrative", &narrative) {
		return
	}
	a.mutate(c, func(ctx context.Context, ctrl *workflow.Controller) error {
		return ctrl.SetNarrative(ctx, narrative)
	})
}

func (a *reportAPI) appendTemperature(c *gin.Context) {
	var reading models.TemperatureReading
	if !bindJSON(c, "report.appendReading", &reading) {
		return
	}
	ctrl, ok := a.open(c)
	if !ok {
		return
	}
	defer a.closeSession(c, ctrl)
	stored, err := ctrl.AppendTemperatureReading(c.Request.Context(), reading)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (a *reportAPI) exportTemperatures(c *gin.Context) {
	deps, _ := a.current()
	ctx := c.Request.Context()
	report, err := deps.Store.GetReport(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	data, err := reporting.NewTemperatureLogExporter(deps.Equipment).ExportBytes(ctx, report)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="temperatures-%s.xlsx"`, report.ID))
	c.Data(http.StatusOK, reporting.ContentTypeXLSX, data)
}

type signatureRequest struct {
	Role       models.SignerRole `json:"role" binding:"required"`
	SignerName string            `json:"signer_name"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Events     []signature.Event `json:"events" binding:"required"`
}

// attachSignature replays the posted pointer events through a capture surface and stores the rendered PNG.
func (a *reportAPI) attachSignature(c *gin.Context) {
	const op = "report.sign"
	var body signatureRequest
	if !bindJSON(c, op, &body) {
		return
	}
	deps, _ := a.current()
	settings := config.LoadSettings()
	if deps.Settings != nil {
		settings = *deps.Settings
	}
	// Checked before any canvas exists.
	if err := signature.ValidateSize(body.Width, body.Height, settings); err != nil {
		respondError(c, err)
		return
	}
	capture := signature.New(signature.Options{Width: body.Width, Height: body.Height, Settings: &settings, Logger: a.logger()})
	if capture.Degraded() {
		respondError(c, fmt.Errorf("%s: signature surface unavailable", op))
		return
	}
	artifact, err := capture.Replay(c.Request.Context(), body.Events)
	if err != nil {
		respondError(c, err)
		return
	}
	a.mutate(c, func(ctx context.Context, ctrl *workflow.Controller) error {
		return ctrl.AttachSignature(ctx, body.Role, artifact, body.SignerName)
	})
}

type uploadResult struct {
	FileName  string `json:"file_name"`
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error,omitempty"`
}

// uploadAttachments stages every multipart "files" part and commits them in one go.
// Partial failure answers 207 with one result per file.
func (a *reportAPI) uploadAttachments(c *gin.Context) {
	const op = "report.uploadAttachments"
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, utils.ValidationError(op, "invalid multipart form: %s", err.Error()))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		respondError(c, utils.ValidationError(op, "no files"))
		return
	}
	media := make([]models.Media, 0, len(files))
	for _, fh := range files {
		if fh.Size > utils.MaxUploadSizeBytes {
			respondError(c, utils.ValidationError(op, "file %q exceeds %d bytes", fh.Filename, utils.MaxUploadSizeBytes))
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respondError(c, err)
			return
		}
		media = append(media, models.Media{FileName: fh.Filename, MimeType: fh.Header.Get("Content-Type"), Data: data})
	}

	ctrl, ok := a.open(c)
	if !ok {
		return
	}
	defer a.closeSession(c, ctrl)
	ctx := c.Request.Context()
	if err := ctrl.AppendAttachment(ctx, media...); err != nil {
		respondError(c, err)
		return
	}
	results, err := ctrl.CommitAttachments(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	out := make([]uploadResult, 0, len(results))
	for _, r := range results {
		res := uploadResult{FileName: r.FileName}
		if r.Err != nil {
			res.Error = r.Err.Error()
			status = http.StatusMultiStatus
		} else if r.Attachment != nil {
			res.Reference = r.Attachment.Reference
		}
		out = append(out, res)
	}
	verdict, err := ctrl.Verdict(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, gin.H{"report": ctrl.Report(), "verdict": verdict, "results": out})
}

func (a *reportAPI) removeAttachment(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		respondError(c, utils.ValidationError("report.removeAttachment", "reference is required"))
		return
	}
	a.mutate(c, func(ctx context.Context, ctrl *workflow.Controller) error {
		return ctrl.RemoveAttachment(ctx, reference)
	})
}

// fillWizard walks the phases in order, setting each field found in payload, so phase gating
// and field rules apply exactly as they do interactively.
func fillWizard(w *checklist.Wizard, payload map[string]any) error {
	for {
		phase := w.Schema().Phases[w.CurrentIndex()]
		for _, f := range phase.Fields {
			if v, ok := payload[f.Name]; ok {
				if err := w.Set(f.Name, v); err != nil {
					return err
				}
			}
		}
		if w.IsFinalPhase() {
			return nil
		}
		if err := w.Next(); err != nil {
			return err
		}
	}
}

func (a *reportAPI) submit(c *gin.Context) {
	var body struct {
		Checklist map[string]any `json:"checklist"`
	}
	if !bindJSON(c, "report.submit", &body) {
		return
	}
	a.mutate(c, func(ctx context.Context, ctrl *workflow.Controller) error {
		if body.Checklist == nil {
			return ctrl.SubmitForReview(ctx, nil)
		}
		wizard, err := ctrl.NewWizard()
		if err != nil {
			return err
		}
		if err := fillWizard(wizard, body.Checklist); err != nil {
			return err
		}
		return ctrl.SubmitForReview(ctx, wizard)
	})
}

func (a *reportAPI) approve(c *gin.Context) {
	a.mutate(c, func(ctx context.Context, ctrl *workflow.Controller) error {
		return ctrl.Approve(ctx)
	})
}

func (a *reportAPI) reject(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !bindJSON(c, "report.reject", &body) {
		return
	}
	a.mutate(c, func(ctx context.Context, ctrl *workflow.Controller) error {
		return ctrl.Reject(ctx, body.Reason)
	})
}

func (a *reportAPI) reopen(c *gin.Context) {
	a.mutate(c, func(ctx context.Context, ctrl *workflow.Controller) error {
		return ctrl.Reopen(ctx)
	})
}

func (a *reportAPI) renderDocument(c *gin.Context) {
	ctrl, ok := a.open(c)
	if !ok {
		return
	}
	defer a.closeSession(c, ctrl)
	ctx := c.Request.Context()
	handle, err := ctrl.RenderDocument(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"document": handle}
	deps, _ := a.current()
	if deps.Settings != nil && deps.Settings.DocumentURLTTL > 0 {
		_, key, _ := utils.ParseReportObjectReference(handle.Reference)
		link, err := utils.SignDownload(ctx, key, "report-"+c.Param("id")+".pdf", deps.Settings.DocumentURLTTL)
		if err != nil {
			// the document is stored; only the convenience link is missing
			config.LogError(a.logger(), "reportHandlers.go", "renderDocument", "SignDownload", key, err)
		} else {
			resp["download"] = link
		}
	}
	c.JSON(http.StatusCreated, resp)
}
