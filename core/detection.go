package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DetectionKind tags the variant held by a DetectionOutcome.
type DetectionKind int

const (
	DetectionTransportError DetectionKind = iota
	DetectionMatched
	DetectionNoFace
	DetectionMultipleFaces
)

func (k DetectionKind) String() string {
	switch k {
	case DetectionMatched:
		return "matched"
	case DetectionNoFace:
		return "no_face"
	case DetectionMultipleFaces:
		return "multiple_faces"
	default:
		return "transport_error"
	}
}

// FaceHint is whatever the detection boundary reported about who the face
// belongs to. Both fields are optional; resolving them is up to a FaceResolver.
type FaceHint struct {
	Subject   string
	Embedding []float32
}

// DetectionOutcome is the classified result of one detection call.
// Only the fields relevant to Kind are populated.
type DetectionOutcome struct {
	Kind      DetectionKind
	Hint      FaceHint
	FaceCount int
	Status    int
	Message   string
}

func Matched(hint FaceHint) DetectionOutcome {
	return DetectionOutcome{Kind: DetectionMatched, Hint: hint, FaceCount: 1}
}

func NoFaceFound(message string) DetectionOutcome {
	return DetectionOutcome{Kind: DetectionNoFace, Message: message}
}

func MultipleFacesFound(count int, message string) DetectionOutcome {
	return DetectionOutcome{Kind: DetectionMultipleFaces, FaceCount: count, Message: message}
}

func TransportError(status int, message string) DetectionOutcome {
	return DetectionOutcome{Kind: DetectionTransportError, Status: status, Message: message}
}

const (
	errorTypeNoFace        = "no_face"
	errorTypeMultipleFaces = "multiple_faces"
)

// detectionPayload mirrors the boundary's response. Pointers distinguish a
// missing field from its zero value.
type detectionPayload struct {
	Success      *bool     `json:"success"`
	FaceCount    *int      `json:"face_count"`
	FaceDetected *bool     `json:"face_detected"`
	ErrorType    *string   `json:"error_type"`
	Message      string    `json:"message"`
	Error        string    `json:"error"`
	Subject      string    `json:"subject"`
	Embedding    []float32 `json:"embedding"`
}

// ParseDetectionResponse classifies a raw boundary response. Anything that
// does not fit a known shape is a TransportError.
func ParseDetectionResponse(status int, body []byte) DetectionOutcome {
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		msg := fmt.Sprintf("detection service returned status %d", status)
		var p detectionPayload
		if json.Unmarshal(body, &p) == nil {
			if detail := firstNonEmpty(p.Error, p.Message); detail != "" {
				msg += ": " + detail
			}
		}
		return TransportError(status, msg)
	}

	var p detectionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return TransportError(status, fmt.Sprintf("malformed detection response: %v", err))
	}
	if p.Success == nil || p.FaceCount == nil {
		return TransportError(status, "malformed detection response: success and face_count are required")
	}

	count := *p.FaceCount
	switch {
	case count < 0:
		return TransportError(status, fmt.Sprintf("malformed detection response: face_count %d", count))
	case count == 0:
		return NoFaceFound(firstNonEmpty(p.Message, "No face detected"))
	case count > 1:
		return MultipleFacesFound(count, firstNonEmpty(p.Message, "Multiple faces detected"))
	}

	if p.ErrorType != nil {
		switch strings.TrimSpace(*p.ErrorType) {
		case errorTypeNoFace:
			return NoFaceFound(firstNonEmpty(p.Message, "No face detected"))
		case errorTypeMultipleFaces:
			return MultipleFacesFound(count, firstNonEmpty(p.Message, "Multiple faces detected"))
		default:
			return TransportError(status, fmt.Sprintf("malformed detection response: unknown error_type %q", *p.ErrorType))
		}
	}

	if *p.Success && p.FaceDetected != nil && *p.FaceDetected {
		return Matched(FaceHint{Subject: strings.TrimSpace(p.Subject), Embedding: p.Embedding})
	}
	return TransportError(status, "malformed detection response: single face without a positive detection flag")
}
