package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client is the HTTP JSON implementation of Gateway.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
	logger  *log.Logger
}

// NewClient creates a gateway client for the given base URL and user.
//
// If logger is nil, a default logger writing to stderr is used.
func NewClient(baseURL, userID string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[gateway] ", log.LstdFlags)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// savedAnswersResponse is the wire shape of GET saved-answers.
type savedAnswersResponse struct {
	Success bool              `json:"success"`
	Answers map[string]Answer `json:"answers"`
}

// SavedAnswers implements Gateway.SavedAnswers.
func (c *Client) SavedAnswers(ctx context.Context) (map[string]Answer, error) {
	url := fmt.Sprintf("%s/saved-answers?userId=%s", c.baseURL, c.userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build saved-answers request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("saved-answers fetch failed: %w", ErrOffline)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("saved-answers returned %d: %w", resp.StatusCode, ErrOffline)
	}

	var body savedAnswersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("saved-answers response malformed: %w", ErrOffline)
	}
	if !body.Success {
		return nil, fmt.Errorf("saved-answers reported failure: %w", ErrOffline)
	}

	if body.Answers == nil {
		body.Answers = map[string]Answer{}
	}
	return body.Answers, nil
}

// submitRequest is the wire shape of POST submit-answer. SubQuestionID
// serializes as null for regular questions.
type submitRequest struct {
	QuestionID    string  `json:"questionId"`
	SubQuestionID *string `json:"subQuestionId"`
	Answer        string  `json:"answer"`
	UserID        string  `json:"userId"`
}

// submitResponse is the wire shape of the submit-answer reply.
type submitResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SubmitAnswer implements Gateway.SubmitAnswer.
func (c *Client) SubmitAnswer(ctx context.Context, sub Submission) error {
	wire := submitRequest{
		QuestionID: sub.QuestionID,
		Answer:     sub.Answer,
		UserID:     sub.UserID,
	}
	if wire.UserID == "" {
		wire.UserID = c.userID
	}
	if sub.SubQuestionID != "" {
		wire.SubQuestionID = &sub.SubQuestionID
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}

	url := c.baseURL + "/submit-answer"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submit-answer for %s failed: %w", sub.QuestionID, ErrOffline)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	// A definitive "this question no longer exists" must not be retried.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return fmt.Errorf("submit-answer for %s: %w", sub.QuestionID, ErrUnknownField)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("submit-answer for %s returned %d: %w", sub.QuestionID, resp.StatusCode, ErrOffline)
	}

	var body submitResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("submit-answer response malformed: %w", ErrOffline)
	}
	if !body.Success {
		if isUnknownQuestion(body.Error) {
			return fmt.Errorf("submit-answer for %s: %w", sub.QuestionID, ErrUnknownField)
		}
		return fmt.Errorf("submit-answer for %s rejected: %w", sub.QuestionID, ErrOffline)
	}

	return nil
}

// UpdateProfile implements Gateway.UpdateProfile.
func (c *Client) UpdateProfile(ctx context.Context, p Profile) error {
	if p.UserID == "" {
		p.UserID = c.userID
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	url := c.baseURL + "/update-profile"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("update-profile failed: %w", ErrOffline)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("update-profile returned %d: %w", resp.StatusCode, ErrOffline)
	}

	return nil
}

// Healthy implements Gateway.Healthy with a short-deadline probe.
func (c *Client) Healthy(ctx context.Context) bool {
	probe, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probe, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// isUnknownQuestion recognizes the gateway's dead-identifier signal in
// an error string.
func isUnknownQuestion(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "unknown question") ||
		strings.Contains(m, "question not found") ||
		strings.Contains(m, "question no longer exists")
}
