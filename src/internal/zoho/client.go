package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Export polling: one attempt per minute, thirty attempts, so a stuck
// remote export surfaces as a timeout after roughly half an hour. Write
// jobs are typically much smaller and poll faster.
const (
	DefaultExportPollInterval = 60 * time.Second
	DefaultExportPollAttempts = 30
	DefaultWritePollInterval  = 5 * time.Second
	DefaultWritePollAttempts  = 30
)

// Remote job statuses reported by the bulk APIs
const (
	remoteStatusCompleted = "COMPLETED"
	remoteStatusFailed    = "FAILED"
)

// RemoteTimeoutError indicates the polling bound elapsed before the remote
// job reached a terminal state. Transient: safe to retry manually.
type RemoteTimeoutError struct {
	Operation string
	JobID     string
	Attempts  int
}

func (e *RemoteTimeoutError) Error() string {
	return fmt.Sprintf("zoho %s job %s did not complete within %d polling attempts",
		e.Operation, e.JobID, e.Attempts)
}

// RemoteFailureError carries a failure reported by the remote API,
// surfaced verbatim for diagnosis.
type RemoteFailureError struct {
	Operation string
	Message   string
}

func (e *RemoteFailureError) Error() string {
	return fmt.Sprintf("zoho %s failed: %s", e.Operation, e.Message)
}

// Client drives Zoho CRM's asynchronous bulk export and bulk write APIs
// for a single run, bound to one connection's API domain and one freshly
// exchanged access token.
type Client struct {
	http        *http.Client
	apiDomain   string
	accessToken string
	orgID       string
	logger      *slog.Logger

	ExportPollInterval time.Duration
	ExportPollAttempts int
	WritePollInterval  time.Duration
	WritePollAttempts  int
}

// NewClient creates a bulk API client for one run
func NewClient(apiDomain, accessToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http: &http.Client{
			Timeout: 5 * time.Minute,
		},
		apiDomain:   strings.TrimSuffix(apiDomain, "/"),
		accessToken: accessToken,
		logger:      logger,

		ExportPollInterval: DefaultExportPollInterval,
		ExportPollAttempts: DefaultExportPollAttempts,
		WritePollInterval:  DefaultWritePollInterval,
		WritePollAttempts:  DefaultWritePollAttempts,
	}
}

// envelope is the common {"data":[{...}]} response wrapper
type envelope struct {
	Data []struct {
		Status      string          `json:"status"`
		Message     string          `json:"message"`
		DownloadURL string          `json:"download_url"`
		Details     json.RawMessage `json:"details"`
	} `json:"data"`
}

type jobDetails struct {
	ID     string `json:"id"`
	FileID string `json:"file_id"`
}

// ResolveOrg resolves the tenant organization identifier attached to all
// bulk calls in this run. An explicit override wins; otherwise the org
// endpoint is consulted. Some tenants don't require one, so a failed
// resolution is logged and ignored.
func (c *Client) ResolveOrg(ctx context.Context, override string) {
	if override != "" {
		c.orgID = override
		return
	}

	var out struct {
		Org []struct {
			ZGID string `json:"zgid"`
		} `json:"org"`
	}
	if err := c.getJSON(ctx, c.apiDomain+"/crm/v8/org", &out); err != nil {
		c.logger.Warn("could not resolve zoho org id, proceeding without it", "error", err)
		return
	}
	if len(out.Org) > 0 {
		c.orgID = out.Org[0].ZGID
	}
}

// StartExport initiates an asynchronous full-account export and returns
// the remote job id
func (c *Client) StartExport(ctx context.Context) (string, error) {
	var env envelope
	if err := c.postJSON(ctx, c.apiDomain+"/crm/bulk/v8/backup", map[string]interface{}{}, &env); err != nil {
		return "", err
	}
	id, err := firstJobID(&env, "export")
	if err != nil {
		return "", err
	}
	return id, nil
}

// PollExport fetches the current status of an export job. A completed job
// yields the artifact download URL.
func (c *Client) PollExport(ctx context.Context, jobID string) (status, downloadURL string, err error) {
	var env envelope
	if err := c.getJSON(ctx, c.apiDomain+"/crm/bulk/v8/backup/"+jobID, &env); err != nil {
		return "", "", err
	}
	if len(env.Data) == 0 {
		return "", "", &RemoteFailureError{Operation: "export poll", Message: "empty response"}
	}
	return env.Data[0].Status, env.Data[0].DownloadURL, nil
}

// WaitForExport polls an export job on a fixed interval up to the bounded
// attempt count and returns the artifact download URL. Exceeding the bound
// is a RemoteTimeoutError, distinct from a remote-reported failure.
func (c *Client) WaitForExport(ctx context.Context, jobID string) (string, error) {
	for attempt := 0; attempt < c.ExportPollAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.ExportPollInterval); err != nil {
				return "", err
			}
		}

		status, downloadURL, err := c.PollExport(ctx, jobID)
		if err != nil {
			return "", err
		}
		switch status {
		case remoteStatusCompleted:
			return downloadURL, nil
		case remoteStatusFailed:
			return "", &RemoteFailureError{Operation: "export", Message: "remote reported job failure"}
		}
	}
	return "", &RemoteTimeoutError{Operation: "export", JobID: jobID, Attempts: c.ExportPollAttempts}
}

// DownloadExport streams the export artifact to destPath
func (c *Client) DownloadExport(ctx context.Context, downloadURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download export artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.remoteError("export download", resp)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	return nil
}

// UploadCSV stages row data for a bulk write and returns the remote file id
func (c *Client) UploadCSV(ctx context.Context, data []byte, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiDomain+"/crm/bulk/v8/write/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var env envelope
	if err := c.do(req, &env); err != nil {
		return "", err
	}
	if len(env.Data) == 0 {
		return "", &RemoteFailureError{Operation: "upload", Message: "empty response"}
	}
	var details jobDetails
	if err := json.Unmarshal(env.Data[0].Details, &details); err != nil || details.FileID == "" {
		return "", &RemoteFailureError{Operation: "upload", Message: "no file id in response"}
	}
	return details.FileID, nil
}

// FieldMapping maps an uploaded column index to a target field name
type FieldMapping struct {
	APIName string `json:"api_name"`
	Index   int    `json:"index"`
}

// StartBulkWrite submits a bulk write job for one module. operation is
// "upsert" or "insert"; upsert requires findBy, a column unique
// server-side used to match existing records.
func (c *Client) StartBulkWrite(ctx context.Context, module, fileID string, mappings []FieldMapping, operation, findBy string) (string, error) {
	resource := map[string]interface{}{
		"type":           "data",
		"module":         map[string]string{"api_name": module},
		"file_id":        fileID,
		"field_mappings": mappings,
	}
	if findBy != "" {
		resource["find_by"] = findBy
	}
	body := map[string]interface{}{
		"operation": operation,
		"resource":  []interface{}{resource},
	}

	var env envelope
	if err := c.postJSON(ctx, c.apiDomain+"/crm/bulk/v8/write", body, &env); err != nil {
		return "", err
	}
	id, err := firstJobID(&env, "bulk write")
	if err != nil {
		return "", err
	}
	return id, nil
}

// PollBulkWrite fetches the current status of a bulk write job
func (c *Client) PollBulkWrite(ctx context.Context, jobID string) (string, error) {
	var env envelope
	if err := c.getJSON(ctx, c.apiDomain+"/crm/bulk/v8/write/"+jobID, &env); err != nil {
		return "", err
	}
	if len(env.Data) == 0 {
		return "", &RemoteFailureError{Operation: "bulk write poll", Message: "empty response"}
	}
	return env.Data[0].Status, nil
}

// WaitForBulkWrite polls a bulk write job to completion under the bounded
// polling discipline
func (c *Client) WaitForBulkWrite(ctx context.Context, jobID string) error {
	for attempt := 0; attempt < c.WritePollAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.WritePollInterval); err != nil {
				return err
			}
		}

		status, err := c.PollBulkWrite(ctx, jobID)
		if err != nil {
			return err
		}
		switch status {
		case remoteStatusCompleted:
			return nil
		case remoteStatusFailed:
			return &RemoteFailureError{Operation: "bulk write", Message: "remote reported job failure"}
		}
	}
	return &RemoteTimeoutError{Operation: "bulk write", JobID: jobID, Attempts: c.WritePollAttempts}
}

// Module describes a remote data module available for backup
type Module struct {
	APIName     string `json:"api_name"`
	PluralLabel string `json:"plural_label"`
	IsCustom    bool   `json:"is_custom"`
}

// ListModules fetches the account's module catalogue
func (c *Client) ListModules(ctx context.Context) ([]Module, error) {
	var out struct {
		Modules []struct {
			APIName       string `json:"api_name"`
			PluralLabel   string `json:"plural_label"`
			GeneratedType string `json:"generated_type"`
		} `json:"modules"`
	}
	if err := c.getJSON(ctx, c.apiDomain+"/crm/v2/settings/modules", &out); err != nil {
		return nil, err
	}

	modules := make([]Module, 0, len(out.Modules))
	for _, m := range out.Modules {
		modules = append(modules, Module{
			APIName:     m.APIName,
			PluralLabel: m.PluralLabel,
			IsCustom:    m.GeneratedType == "",
		})
	}
	return modules, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Zoho-oauthtoken "+c.accessToken)
	if c.orgID != "" {
		req.Header.Set("X-CRM-ORG", c.orgID)
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &RemoteFailureError{Operation: req.Method + " " + req.URL.Path, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.remoteError(req.Method+" "+req.URL.Path, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &RemoteFailureError{Operation: req.URL.Path, Message: fmt.Sprintf("malformed response: %v", err)}
		}
	}
	return nil
}

// remoteError converts a non-2xx response into a display-safe error,
// preferring the structured error body when one is present
func (c *Client) remoteError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && env.Data[0].Message != "" {
		return &RemoteFailureError{Operation: operation, Message: env.Data[0].Message}
	}
	var single struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &single); err == nil && single.Message != "" {
		return &RemoteFailureError{Operation: operation, Message: single.Message}
	}
	return &RemoteFailureError{Operation: operation,
		Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
}

func firstJobID(env *envelope, operation string) (string, error) {
	if len(env.Data) == 0 {
		return "", &RemoteFailureError{Operation: operation, Message: "empty response"}
	}
	var details jobDetails
	if err := json.Unmarshal(env.Data[0].Details, &details); err != nil || details.ID == "" {
		return "", &RemoteFailureError{Operation: operation, Message: "no job id in response"}
	}
	return details.ID, nil
}

// sleep waits for d or until ctx is cancelled. Cancellation is checked
// here so every polling iteration boundary is a cooperative cancellation
// point.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
