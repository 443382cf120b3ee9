package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"github.com/mmdatafocus/fieldreport_backend/workflow"
	"github.com/sirupsen/logrus"
)

// PubSubMessage is the envelope of a Pub/Sub push delivery.
type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data,omitempty"`
		ID         string            `json:"id"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// reportEventsPushHandler receives lifecycle events pushed from REPORT_EVENTS_TOPIC and archives
// the document of every approved report. 2xx acks; only retryable failures answer 500 so Pub/Sub redelivers.
func (a *reportAPI) reportEventsPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := a.logger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "pubsubHandler.go", "reportEventsPushHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "pubsubHandler.go", "reportEventsPushHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		var event workflow.Event
		if err := json.Unmarshal(msg.Message.Data, &event); err != nil {
			config.LogError(logger, "pubsubHandler.go", "reportEventsPushHandler", "Unmarshal event", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		if event.ReportID == "" || event.Action != models.HistoryActionApprove {
			c.Status(http.StatusNoContent)
			return
		}

		correlationId := event.CorrelationId
		if correlationId == "" {
			correlationId = msg.Message.ID
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)

		deps, _ := a.current()
		handle, err := deps.Store.RenderToDocument(ctx, event.ReportID)
		if err != nil {
			config.LogError(logger, "pubsubHandler.go", "reportEventsPushHandler", "RenderToDocument", event.ReportID, err)
			if utils.IsRetryable(err) {
				c.Status(http.StatusInternalServerError)
				return
			}
			c.Status(http.StatusNoContent)
			return
		}
		logger.WithFields(logrus.Fields{
			"report_id":      event.ReportID,
			"reference":      handle.Reference,
			"correlation_id": correlationId,
			"message_id":     msg.Message.ID,
		}).Info("[report.archive] approved report document stored")
		c.Status(http.StatusNoContent)
	}
}
