package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"
)

// Supabase is a thin client for the Supabase Storage REST API. Objects are
// namespaced per firm so a bucket can be shared across tenants.
//
// Authorization note: a legacy service_role JWT needs both the `apikey` and
// `Authorization: Bearer` headers; a secret API key (sb_secret_...) works
// with `apikey` alone but tolerates the Bearer header, so we always send both.
type Supabase struct {
	baseURL string // e.g. https://<project>.supabase.co
	apiKey  string
	bucket  string
	client  *http.Client
}

func NewSupabase() *Supabase {
	return &Supabase{
		baseURL: os.Getenv("SUPABASE_URL"),
		apiKey:  os.Getenv("SUPABASE_SERVICE_KEY"),
		bucket:  os.Getenv("SUPABASE_BUCKET"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// CaseObjectKey builds the storage key for a case document:
// firm/<firmID>/case/<caseID>/<filename>
func (s *Supabase) CaseObjectKey(firmID, caseID, filename string) string {
	return path.Join("firm", firmID, "case", caseID, filename)
}

// LogoKey builds the storage key for a firm's logo.
func (s *Supabase) LogoKey(firmID, filename string) string {
	return path.Join("firm", firmID, "branding", filename)
}

// do runs a storage request and fails on any non-2xx status. The response
// body is returned for callers that need to decode it.
func (s *Supabase) do(method, url string, body io.Reader, contentType string) ([]byte, int, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, 0, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	res, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return raw, res.StatusCode, fmt.Errorf("supabase %s %s: %s | %s", method, url, res.Status, string(raw))
	}
	return raw, res.StatusCode, nil
}

// Upload stores a new object: POST /storage/v1/object/{bucket}/{key}
func (s *Supabase) Upload(key string, r io.Reader, contentType string, size int64) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, key)
	_, _, err := s.do(http.MethodPost, url, r, contentType)
	return err
}

// SignedURL creates a short-lived download URL:
// POST /storage/v1/object/sign/{bucket}/{key}  body: {"expiresIn": <seconds>}
func (s *Supabase) SignedURL(key string, expiresInSeconds int) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.baseURL, s.bucket, key)

	body, _ := json.Marshal(map[string]int{"expiresIn": expiresInSeconds})
	raw, _, err := s.do(http.MethodPost, url, bytes.NewReader(body), "application/json")
	if err != nil {
		return "", err
	}

	var out struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("empty signedURL in response")
	}

	// The API returns a relative path.
	return s.baseURL + "/storage/v1" + out.SignedURL, nil
}

// Delete removes one object. A 404 counts as success so retries are safe.
func (s *Supabase) Delete(key string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, key)
	_, status, err := s.do(http.MethodDelete, url, nil, "")
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

// BulkDelete removes multiple objects in one call:
// POST /storage/v1/object/{bucket}/remove  body: {"prefixes": [...]}
func (s *Supabase) BulkDelete(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	url := fmt.Sprintf("%s/storage/v1/object/%s/remove", s.baseURL, s.bucket)
	body, _ := json.Marshal(map[string][]string{"prefixes": keys})
	_, _, err := s.do(http.MethodPost, url, bytes.NewReader(body), "application/json")
	return err
}
