package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"mcpcms/pkg/httpx"
)

// RemoteVerifier delegates credential verification to an external service:
// POST {token} to <url>/verify, expect {subject_id}. The call carries a
// bounded timeout and retries transient failures.
type RemoteVerifier struct {
	Client     *http.Client
	URL        string
	Retries    int
	RetryDelay time.Duration
}

func NewRemoteVerifier(cfg Config) *RemoteVerifier {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &RemoteVerifier{
		Client:     client,
		URL:        strings.TrimRight(cfg.VerifierURL, "/"),
		Retries:    cfg.Retries,
		RetryDelay: delay,
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (string, error) {
	if v == nil || v.URL == "" {
		return "", errors.New("verifier url is required")
	}
	body, _ := json.Marshal(map[string]string{"token": token})
	status, respBody, err := httpx.RequestJSON(ctx, v.Client, http.MethodPost, v.URL+"/verify", body, nil, v.Retries, v.RetryDelay)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", errors.New("credential rejected")
	}
	var payload struct {
		SubjectID string `json:"subject_id"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.SubjectID) == "" {
		return "", errors.New("verifier returned no subject")
	}
	return payload.SubjectID, nil
}
