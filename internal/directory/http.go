package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 5 * time.Second

// HTTPDirectory reads doctors and patients from the directory service REST API.
type HTTPDirectory struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPDirectory creates a client for the directory service at baseURL.
func NewHTTPDirectory(baseURL, token string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (d *HTTPDirectory) DoctorExists(ctx context.Context, doctorID string) (bool, error) {
	return doctorExists(ctx, d, doctorID)
}

func (d *HTTPDirectory) IsDoctorAvailable(ctx context.Context, doctorID, date string) (bool, error) {
	var out struct {
		Available bool `json:"available"`
	}
	path := fmt.Sprintf("/doctors/%s/availability?date=%s", url.PathEscape(doctorID), url.QueryEscape(date))
	if err := d.get(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

func (d *HTTPDirectory) Doctor(ctx context.Context, doctorID string) (*Doctor, error) {
	var doc Doctor
	if err := d.get(ctx, "/doctors/"+url.PathEscape(doctorID), &doc); err != nil {
		return nil, err
	}
	doc.Currency = strings.ToUpper(doc.Currency)
	return &doc, nil
}

func (d *HTTPDirectory) PatientContact(ctx context.Context, patientID string) (*Contact, error) {
	var c Contact
	if err := d.get(ctx, "/patients/"+url.PathEscape(patientID)+"/contact", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (d *HTTPDirectory) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("directory: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("directory: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("directory: unmarshal response: %w", err)
	}
	return nil
}
