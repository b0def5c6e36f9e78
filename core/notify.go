package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrIncompleteNotice is returned when a credentials notice misses a required field.
var ErrIncompleteNotice = errors.New("name, email, username and password are required")

// CredentialsNotice is sent to a newly provisioned user.
type CredentialsNotice struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (n CredentialsNotice) validate() error {
	if strings.TrimSpace(n.Name) == "" || strings.TrimSpace(n.Email) == "" ||
		strings.TrimSpace(n.Username) == "" || n.Password == "" {
		return ErrIncompleteNotice
	}
	return nil
}

// CredentialsNotifier delivers login credentials to a new account holder.
type CredentialsNotifier interface {
	Notify(ctx context.Context, notice CredentialsNotice) error
}

// HTTPCredentialsNotifier posts notices to a mail relay webhook.
type HTTPCredentialsNotifier struct {
	client   *http.Client
	endpoint string
}

func NewHTTPCredentialsNotifier(endpoint string) *HTTPCredentialsNotifier {
	return &HTTPCredentialsNotifier{
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		endpoint: endpoint,
	}
}

func (n *HTTPCredentialsNotifier) Notify(ctx context.Context, notice CredentialsNotice) error {
	if err := notice.validate(); err != nil {
		return err
	}
	b, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send credentials notice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
		return fmt.Errorf("credentials notifier returned status %d: %s", resp.StatusCode, body.Error)
	}
	return nil
}

// LogCredentialsNotifier only records that a notice would have been sent.
type LogCredentialsNotifier struct {
	logger *slog.Logger
}

func NewLogCredentialsNotifier(logger *slog.Logger) *LogCredentialsNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCredentialsNotifier{logger: logger}
}

func (n *LogCredentialsNotifier) Notify(ctx context.Context, notice CredentialsNotice) error {
	if err := notice.validate(); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "credentials notice not delivered: no webhook configured",
		"username", notice.Username, "email", notice.Email)
	return nil
}
