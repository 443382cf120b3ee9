package config

import (
	"testing"
	"time"
)

func TestLoadSettings_Defaults(t *testing.T) {
	for _, key := range []string{"MAX_ATTACHMENTS", "SIGNATURE_CANVAS_WIDTH", "SIGNATURE_CANVAS_HEIGHT", "REOPEN_CLEARS_SIGNATURES", "UPLOAD_CONCURRENCY"} {
		t.Setenv(key, "")
	}
	s := LoadSettings()
	if s.MaxAttachments != 10 {
		t.Fatalf("expected default cap 10, got %d", s.MaxAttachments)
	}
	if s.SignatureWidth != 400 || s.SignatureHeight != 200 {
		t.Fatalf("expected 400x200 canvas, got %dx%d", s.SignatureWidth, s.SignatureHeight)
	}
	if s.ReopenClearsSignatures {
		t.Fatalf("signatures must survive reopen by default")
	}
	if s.SessionLockTTL != 5*time.Minute {
		t.Fatalf("expected 5m session lock ttl, got %s", s.SessionLockTTL)
	}
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	t.Setenv("MAX_ATTACHMENTS", "3")
	t.Setenv("SIGNATURE_CANVAS_WIDTH", "640")
	t.Setenv("SIGNATURE_STROKE_WIDTH", "4")
	t.Setenv("REOPEN_CLEARS_SIGNATURES", "yes")
	t.Setenv("UPLOAD_CONCURRENCY", "0")
	t.Setenv("SESSION_LOCK_TTL_SECONDS", "30")

	s := LoadSettings()
	if s.MaxAttachments != 3 {
		t.Fatalf("expected cap 3, got %d", s.MaxAttachments)
	}
	if s.SignatureWidth != 640 {
		t.Fatalf("expected width 640, got %d", s.SignatureWidth)
	}
	if s.SignatureStrokeWidth != 4 {
		t.Fatalf("expected stroke 4, got %v", s.SignatureStrokeWidth)
	}
	if !s.ReopenClearsSignatures {
		t.Fatalf("expected reopen to clear signatures")
	}
	if s.UploadConcurrency != 1 {
		t.Fatalf("non-positive concurrency must clamp to 1, got %d", s.UploadConcurrency)
	}
	if s.SessionLockTTL != 30*time.Second {
		t.Fatalf("expected 30s ttl, got %s", s.SessionLockTTL)
	}
}

func TestLoadSettings_MalformedKeepsDefault(t *testing.T) {
	t.Setenv("MAX_ATTACHMENTS", "ten")
	t.Setenv("SIGNATURE_STROKE_WIDTH", "-1")
	s := LoadSettings()
	if s.MaxAttachments != 10 {
		t.Fatalf("expected default cap, got %d", s.MaxAttachments)
	}
	if s.SignatureStrokeWidth != 2.5 {
		t.Fatalf("expected default stroke, got %v", s.SignatureStrokeWidth)
	}
}

func TestLoadSettings_DocumentURLTTL(t *testing.T) {
	t.Setenv("DOCUMENT_URL_TTL_SECONDS", "")
	if s := LoadSettings(); s.DocumentURLTTL != 0 {
		t.Fatalf("signed links must be off by default, got %s", s.DocumentURLTTL)
	}
	t.Setenv("DOCUMENT_URL_TTL_SECONDS", "900")
	if s := LoadSettings(); s.DocumentURLTTL != 15*time.Minute {
		t.Fatalf("expected 15m, got %s", s.DocumentURLTTL)
	}
	t.Setenv("DOCUMENT_URL_TTL_SECONDS", "-5")
	if s := LoadSettings(); s.DocumentURLTTL != 0 {
		t.Fatalf("negative ttl must disable links, got %s", s.DocumentURLTTL)
	}
}
