package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings are the engine knobs read from env.
type Settings struct {
	// MAX_ATTACHMENTS: cap on staged + committed attachments per report.
	MaxAttachments int
	// SIGNATURE_CANVAS_WIDTH / SIGNATURE_CANVAS_HEIGHT in logical units.
	SignatureWidth  int
	SignatureHeight int
	// SIGNATURE_MAX_WIDTH / SIGNATURE_MAX_HEIGHT bound client-requested canvas sizes.
	SignatureMaxWidth  int
	SignatureMaxHeight int
	// SIGNATURE_STROKE_WIDTH in logical units.
	SignatureStrokeWidth float64
	// UPLOAD_CONCURRENCY bounds parallel uploads during attachment commit.
	UploadConcurrency int
	// PREVIEW_WIDTH of generated attachment thumbnails, in pixels.
	PreviewWidth int
	// REOPEN_CLEARS_SIGNATURES: when true, rejected -> draft drops captured signatures.
	// Default keeps them (they are historical facts).
	ReopenClearsSignatures bool
	// SESSION_LOCK_TTL_SECONDS for the per-report editing session lock.
	SessionLockTTL time.Duration
	// REPORT_EVENTS_TOPIC, empty disables lifecycle event publishing.
	ReportEventsTopic string
	// EQUIPMENT_CACHE_TTL_SECONDS for cached threshold bands.
	EquipmentCacheTTL time.Duration
	// DOCUMENT_URL_TTL_SECONDS, 0 disables signed download links for rendered documents.
	DocumentURLTTL time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MaxAttachments:       10,
		SignatureWidth:       400,
		SignatureHeight:      200,
		SignatureMaxWidth:    1600,
		SignatureMaxHeight:   800,
		SignatureStrokeWidth: 2.5,
		UploadConcurrency:    4,
		PreviewWidth:         200,
		SessionLockTTL:       5 * time.Minute,
		EquipmentCacheTTL:    5 * time.Minute,
	}
}

// LoadSettings overlays env values on DefaultSettings. Malformed values keep the default.
func LoadSettings() Settings {
	s := DefaultSettings()
	s.MaxAttachments = intFromEnv("MAX_ATTACHMENTS", s.MaxAttachments)
	s.SignatureWidth = intFromEnv("SIGNATURE_CANVAS_WIDTH", s.SignatureWidth)
	s.SignatureHeight = intFromEnv("SIGNATURE_CANVAS_HEIGHT", s.SignatureHeight)
	s.SignatureMaxWidth = intFromEnv("SIGNATURE_MAX_WIDTH", s.SignatureMaxWidth)
	s.SignatureMaxHeight = intFromEnv("SIGNATURE_MAX_HEIGHT", s.SignatureMaxHeight)
	s.SignatureStrokeWidth = floatFromEnv("SIGNATURE_STROKE_WIDTH", s.SignatureStrokeWidth)
	s.UploadConcurrency = intFromEnv("UPLOAD_CONCURRENCY", s.UploadConcurrency)
	s.PreviewWidth = intFromEnv("PREVIEW_WIDTH", s.PreviewWidth)
	s.ReopenClearsSignatures = boolFromEnv("REOPEN_CLEARS_SIGNATURES")
	s.SessionLockTTL = time.Duration(intFromEnv("SESSION_LOCK_TTL_SECONDS", int(s.SessionLockTTL/time.Second))) * time.Second
	s.EquipmentCacheTTL = time.Duration(intFromEnv("EQUIPMENT_CACHE_TTL_SECONDS", int(s.EquipmentCacheTTL/time.Second))) * time.Second
	s.DocumentURLTTL = time.Duration(intFromEnv("DOCUMENT_URL_TTL_SECONDS", 0)) * time.Second
	s.ReportEventsTopic = strings.TrimSpace(os.Getenv("REPORT_EVENTS_TOPIC"))

	if s.MaxAttachments <= 0 {
		s.MaxAttachments = DefaultSettings().MaxAttachments
	}
	if s.UploadConcurrency <= 0 {
		s.UploadConcurrency = 1
	}
	if s.SignatureMaxWidth < s.SignatureWidth {
		s.SignatureMaxWidth = s.SignatureWidth
	}
	if s.SignatureMaxHeight < s.SignatureHeight {
		s.SignatureMaxHeight = s.SignatureHeight
	}
	if s.DocumentURLTTL < 0 {
		s.DocumentURLTTL = 0
	}
	return s
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}
