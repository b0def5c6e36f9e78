package core

import (
	"testing"
	"time"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , ,http://b.example")
	t.Setenv("FACE_DETECTION_URL", " http://detector:5000/detect_face ")
	t.Setenv("FACE_ATTEMPT_LIMIT", "5")
	t.Setenv("FACE_DETECTION_TIMEOUT", "2s")
	t.Setenv("FACE_RETRY_ON_UNAVAILABLE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8088" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "http://a.example" || cfg.AllowedOrigins[1] != "http://b.example" {
		t.Fatalf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	if cfg.DetectionURL != "http://detector:5000/detect_face" {
		t.Fatalf("DetectionURL = %q", cfg.DetectionURL)
	}
	if cfg.FaceAttemptLimit != 5 || cfg.DetectionTimeout != 2*time.Second || cfg.RetryOnUnavailable {
		t.Fatalf("face settings = %d %s %v", cfg.FaceAttemptLimit, cfg.DetectionTimeout, cfg.RetryOnUnavailable)
	}
}

func TestLoadSanitizesOutOfRangeValues(t *testing.T) {
	t.Setenv("SESSION_TTL", "-1s")
	t.Setenv("FACE_ATTEMPT_LIMIT", "0")
	t.Setenv("FACE_MATCH_MAX_DISTANCE", "3")
	t.Setenv("MAX_FRAME_BYTES", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != defaultSessionTTL {
		t.Fatalf("SessionTTL = %s", cfg.SessionTTL)
	}
	if cfg.FaceAttemptLimit != 3 {
		t.Fatalf("FaceAttemptLimit = %d", cfg.FaceAttemptLimit)
	}
	if cfg.FaceMatchDistance != DefaultFaceMatchMaxDistance {
		t.Fatalf("FaceMatchDistance = %v", cfg.FaceMatchDistance)
	}
	if cfg.MaxFrameBytes != 5<<20 {
		t.Fatalf("MaxFrameBytes = %d", cfg.MaxFrameBytes)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("FACE_ATTEMPT_LIMIT", "many")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
