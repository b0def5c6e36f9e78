package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// FaceDetector turns a captured frame into a classified outcome.
type FaceDetector interface {
	Detect(ctx context.Context, frame string) DetectionOutcome
}

// maxDetectionResponseBytes caps how much of a response body is read.
const maxDetectionResponseBytes = 1 << 20

// HTTPDetectionClient calls the external face-detection endpoint.
type HTTPDetectionClient struct {
	client   *http.Client
	endpoint string
	logger   *slog.Logger
}

func NewHTTPDetectionClient(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPDetectionClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPDetectionClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		endpoint: endpoint,
		logger:   logger,
	}
}

type detectionRequest struct {
	Image string `json:"image"`
}

// Detect posts frame exactly once. Invalid frames fail before any network call;
// every failure is reported as a TransportError outcome.
func (c *HTTPDetectionClient) Detect(ctx context.Context, frame string) DetectionOutcome {
	if c.endpoint == "" {
		return TransportError(0, "face detection url not configured")
	}
	image, err := normalizeFrame(frame)
	if err != nil {
		return TransportError(0, err.Error())
	}

	b, err := json.Marshal(detectionRequest{Image: image})
	if err != nil {
		return TransportError(0, fmt.Sprintf("encode detection request: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return TransportError(0, fmt.Sprintf("build detection request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return TransportError(0, fmt.Sprintf("detection request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetectionResponseBytes))
	if err != nil {
		return TransportError(resp.StatusCode, fmt.Sprintf("read detection response: %v", err))
	}
	out := ParseDetectionResponse(resp.StatusCode, body)
	c.logger.Debug("face detection", "status", resp.StatusCode, "outcome", out.Kind.String(),
		"frame_bytes", len(image), "duration_ms", time.Since(start).Milliseconds())
	return out
}

const defaultFramePrefix = "data:image/jpeg;base64,"

// normalizeFrame validates the frame and returns it as a data URI, which is
// the form the detector splits on.
func normalizeFrame(frame string) (string, error) {
	frame = strings.TrimSpace(frame)
	if frame == "" {
		return "", fmt.Errorf("empty frame")
	}
	payload := frame
	if strings.HasPrefix(frame, "data:") {
		idx := strings.IndexByte(frame, ',')
		if idx < 0 || !strings.Contains(frame[:idx], ";base64") {
			return "", fmt.Errorf("frame data uri must be base64 encoded")
		}
		payload = frame[idx+1:]
	} else {
		frame = defaultFramePrefix + frame
	}
	if payload == "" {
		return "", fmt.Errorf("empty frame")
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", fmt.Errorf("frame is not valid base64: %v", err)
	}
	return frame, nil
}
