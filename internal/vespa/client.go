package vespa

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/eltociear/marqo/internal/errors"
)

// Defaults for backend calls.
const (
	DefaultFeedConcurrency    = 10
	DefaultFeedTimeout        = 60 * time.Second
	DefaultDeployTimeout      = 60 * time.Second
	DefaultConvergenceTimeout = 120 * time.Second
)

// errorCodeMap maps backend error codes to typed errors.
var errorCodeMap = map[string]func(message string) error{
	"INVALID_APPLICATION_PACKAGE": func(message string) error {
		return errors.InvalidApplication(message, nil)
	},
}

// Client talks to the backend over its three HTTP surfaces.
type Client struct {
	configURL   string
	documentURL string
	queryURL    string

	httpClient *http.Client
}

// NewClient creates a backend client with a pooled connection limit.
func NewClient(configURL, documentURL, queryURL string, poolSize int) *Client {
	if poolSize <= 0 {
		poolSize = 10
	}
	transport := &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize,
	}
	return &Client{
		configURL:   strings.TrimRight(configURL, "/"),
		documentURL: strings.TrimRight(documentURL, "/"),
		queryURL:    strings.TrimRight(queryURL, "/"),
		httpClient:  &http.Client{Transport: transport},
	}
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// DeployApplication deploys the application package rooted at the given
// directory as a gzipped tarball.
func (c *Client) DeployApplication(ctx context.Context, applicationRoot string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultDeployTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tarball, err := gzipDirectory(applicationRoot)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}

	endpoint := c.configURL + "/application/v2/tenant/default/prepareandactivate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(tarball))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/x-gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Transient("deploy request failed", err)
	}
	defer resp.Body.Close()

	return raiseForStatus(resp)
}

// WaitForApplicationConvergence polls the backend until the deployed
// application has converged on all services, or the timeout expires.
func (c *Client) WaitForApplicationConvergence(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConvergenceTimeout
	}
	deadline := time.Now().Add(timeout)
	endpoint := c.configURL +
		"/application/v2/tenant/default/application/default/environment/default/region/default/instance/default/serviceconverge"

	for {
		if time.Now().After(deadline) {
			return errors.Transient("application did not converge within the timeout", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		converged, err := c.checkConvergence(ctx, endpoint)
		if err == nil && converged {
			return nil
		}
		if err != nil {
			slog.Debug("convergence check failed, retrying", "error", err)
		}
		time.Sleep(time.Second)
	}
}

func (c *Client) checkConvergence(ctx context.Context, endpoint string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("convergence endpoint returned status %d", resp.StatusCode)
	}
	var body struct {
		Converged bool `json:"converged"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Converged, nil
}

// DownloadApplication downloads the current application package into
// destDir. The download creates a config session and then fetches its
// content listing; the session is local to one config node, so a single
// client with a cookie jar keeps session affinity across requests.
func (c *Client) DownloadApplication(ctx context.Context, destDir string) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	stickyClient := &http.Client{Jar: jar}

	sessionID, err := c.createDeploySession(ctx, stickyClient)
	if err != nil {
		return err
	}
	return c.downloadSessionContent(ctx, stickyClient, sessionID, destDir,
		fmt.Sprintf("%s/application/v2/tenant/default/session/%d/content/?recursive=true", c.configURL, sessionID))
}

func (c *Client) createDeploySession(ctx context.Context, client *http.Client) (int, error) {
	from := c.configURL +
		"/application/v2/tenant/default/application/default/environment/default/region/default/instance/default"
	endpoint := c.configURL + "/application/v2/tenant/default/session?from=" + from

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInternal, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, errors.Transient("session create failed", err)
	}
	defer resp.Body.Close()
	if err := raiseForStatus(resp); err != nil {
		return 0, err
	}

	var body struct {
		SessionID string `json:"session-id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, errors.Wrap(errors.ErrCodeInternal, err)
	}
	id, err := strconv.Atoi(body.SessionID)
	if err != nil {
		return 0, errors.Internal("session id %q is not numeric", body.SessionID)
	}
	return id, nil
}

// downloadSessionContent fetches one recursive content listing and
// downloads its files. Files are identified by a dot in the last path
// component; directory entries are skipped.
func (c *Client) downloadSessionContent(ctx context.Context, client *http.Client,
	sessionID int, destDir, listURL string) error {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Transient("content listing failed", err)
	}
	defer resp.Body.Close()
	if err := raiseForStatus(resp); err != nil {
		return err
	}

	var entries []string
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}

	contentMarker := fmt.Sprintf("/session/%d/content/", sessionID)
	for _, entry := range entries {
		segments := strings.Split(strings.TrimRight(entry, "/"), "/")
		last := segments[len(segments)-1]
		if !strings.Contains(last, ".") {
			// Directory: skip; its files appear in the recursive listing.
			continue
		}
		idx := strings.Index(entry, contentMarker)
		if idx < 0 {
			return errors.Internal("unexpected content url %s", entry)
		}
		relPath := entry[idx+len(contentMarker):]
		if err := c.downloadFile(ctx, client, entry, filepath.Join(destDir, filepath.FromSlash(relPath))); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) downloadFile(ctx context.Context, client *http.Client, fileURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Transient("file download failed", err)
	}
	defer resp.Body.Close()
	if err := raiseForStatus(resp); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

// Query runs a backend query. Query features become input.query(<name>)
// form parameters.
func (c *Client) Query(ctx context.Context, yql string, hits int, ranking, modelRestrict, summary string,
	queryFeatures map[string]any, params map[string]string) (*QueryResult, error) {

	form := url.Values{}
	form.Set("yql", yql)
	form.Set("hits", strconv.Itoa(hits))
	if ranking != "" {
		form.Set("ranking", ranking)
	}
	if modelRestrict != "" {
		form.Set("model.restrict", modelRestrict)
	}
	if summary != "" {
		form.Set("presentation.summary", summary)
	}
	for name, value := range queryFeatures {
		encoded, err := encodeQueryFeature(value)
		if err != nil {
			return nil, err
		}
		form.Set(fmt.Sprintf("input.query(%s)", name), encoded)
	}
	for name, value := range params {
		if value != "" {
			form.Set(name, value)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryURL+"/search/",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Transient("query request failed", err)
	}
	defer resp.Body.Close()
	if err := raiseForStatus(resp); err != nil {
		return nil, err
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return &result, nil
}

// encodeQueryFeature renders a query feature value: vectors and mapped
// tensors use the backend's literal forms, scalars their decimal form.
func encodeQueryFeature(value any) (string, error) {
	switch v := value.(type) {
	case []float32:
		parts := make([]string, len(v))
		for i, f := range v {
			parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case map[string]float64:
		var parts []string
		for key, f := range v {
			parts = append(parts, fmt.Sprintf("{%s:%s}", key, strconv.FormatFloat(f, 'g', -1, 64)))
		}
		return "{" + strings.Join(parts, ",") + "}", nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeInternal, err)
		}
		return string(data), nil
	}
}

// GetDocument fetches one document by id.
func (c *Client) GetDocument(ctx context.Context, id, schema string) (*GetDocumentResponse, error) {
	endpoint := fmt.Sprintf("%s/document/v1/%s/%s/docid/%s", c.documentURL, schema, schema, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Transient("get document failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Newf(errors.ErrCodeDocumentNotFound, "document %s not found in schema %s", id, schema)
	}
	if err := raiseForStatus(resp); err != nil {
		return nil, err
	}

	var result GetDocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return &result, nil
}

// GetAllDocuments lists documents in a schema with an opaque continuation
// token for pagination.
func (c *Client) GetAllDocuments(ctx context.Context, schema string, stream bool, continuation string) (*BatchGetDocumentResponse, error) {
	endpoint := fmt.Sprintf("%s/document/v1/%s/%s/docid?stream=%v", c.documentURL, schema, schema, stream)
	if continuation != "" {
		endpoint += "&continuation=" + url.QueryEscape(continuation)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Transient("document listing failed", err)
	}
	defer resp.Body.Close()
	if err := raiseForStatus(resp); err != nil {
		return nil, err
	}

	var result BatchGetDocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return &result, nil
}

// raiseForStatus maps non-2xx responses to typed errors. JSON bodies with
// an error-code are mapped through the code table; anything else becomes a
// generic status error carrying the HTTP status.
func raiseForStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var envelope errorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.ErrorCode != "" {
		if mapped, ok := errorCodeMap[envelope.ErrorCode]; ok {
			return mapped(envelope.Message)
		}
		return errors.BackendStatus(resp.StatusCode, envelope.Message)
	}
	return errors.BackendStatus(resp.StatusCode, string(body))
}

// gzipDirectory packs every file under root into an in-memory gzipped
// tarball with root-relative archive names.
func gzipDirectory(root string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
