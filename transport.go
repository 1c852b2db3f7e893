package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// Transport is the narrow contract the rest of this package needs from an
// HTTP/JSON client: GET/PUT/POST returning the raw JSON body, and DELETE.
// It is the narrow external collaborator boundary — the generic HTTP/JSON
// plumbing itself (retries at the socket level, TLS config, proxying) is
// not this package's concern, only the shape of the calls it needs to
// make. httpTransport below is the default, concrete implementation used
// outside of tests.
type Transport interface {
	Get(ctx context.Context, path string, query map[string]string) (json.RawMessage, error)
	Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error)
	Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error)
	Delete(ctx context.Context, path string) error
}

// RespError is the standard JSON error body returned by home servers.
type RespError struct {
	ErrCode string `json:"errcode"`
	Err     string `json:"error"`
}

func (e RespError) Error() string {
	return e.ErrCode + ": " + e.Err
}

// HTTPError wraps a non-2xx response, carrying the decoded RespError when
// the body parsed as one.
type HTTPError struct {
	Code      int
	Method    string
	Path      string
	RespError *RespError
	Contents  []byte
}

func (e HTTPError) Error() string {
	if e.RespError != nil {
		return fmt.Sprintf("matrix: %s %s: http %d: %s", e.Method, e.Path, e.Code, e.RespError.Error())
	}
	return fmt.Sprintf("matrix: %s %s: http %d", e.Method, e.Path, e.Code)
}

// httpTransport is the default Transport, built directly on net/http and
// split out behind the Transport seam so tests can substitute a fake.
type httpTransport struct {
	homeserverURL *url.URL
	pathPrefix    string
	accessToken   string
	userAgent     string
	httpClient    *http.Client
	log           zerolog.Logger
}

func newHTTPTransport(homeserverURL, pathPrefix string, httpClient *http.Client, log zerolog.Logger) (*httpTransport, error) {
	hsURL, err := url.Parse(homeserverURL)
	if err != nil {
		return nil, fmt.Errorf("matrix: invalid homeserver URL: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &httpTransport{
		homeserverURL: hsURL,
		pathPrefix:    pathPrefix,
		httpClient:    httpClient,
		userAgent:     "go-async-matrix",
		log:           log,
	}, nil
}

func (t *httpTransport) setCredentials(accessToken string) {
	t.accessToken = accessToken
}

func (t *httpTransport) buildURL(urlPath string, query map[string]string) string {
	u, _ := url.Parse(t.homeserverURL.String())
	u.Path = path.Join(u.Path, t.pathPrefix, urlPath)
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	if t.accessToken != "" {
		q.Set("access_token", t.accessToken)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (t *httpTransport) do(ctx context.Context, method, urlPath string, query map[string]string, body interface{}) (json.RawMessage, error) {
	fullURL := t.buildURL(urlPath, query)
	var reqBody io.Reader
	var logBody string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("matrix: marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
		logBody = string(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", t.userAgent)
	t.log.Debug().Str("method", method).Str("url", fullURL).Str("body", logBody).Msg("matrix request")

	res, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	contents, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode/100 != 2 {
		httpErr := HTTPError{Code: res.StatusCode, Method: method, Path: urlPath, Contents: contents}
		var respErr RespError
		if len(contents) > 0 {
			if jsonErr := json.Unmarshal(contents, &respErr); jsonErr == nil && respErr.ErrCode != "" {
				httpErr.RespError = &respErr
			}
		}
		return nil, httpErr
	}
	// Responses MAY have an empty body (including the literal "") which is a
	// valid, non-error, no-data response.
	trimmed := strings.TrimSpace(string(contents))
	if trimmed == "" || trimmed == `""` {
		return nil, nil
	}
	return json.RawMessage(contents), nil
}

func (t *httpTransport) Get(ctx context.Context, urlPath string, query map[string]string) (json.RawMessage, error) {
	return t.do(ctx, http.MethodGet, urlPath, query, nil)
}

func (t *httpTransport) Put(ctx context.Context, urlPath string, body interface{}) (json.RawMessage, error) {
	return t.do(ctx, http.MethodPut, urlPath, nil, body)
}

func (t *httpTransport) Post(ctx context.Context, urlPath string, body interface{}) (json.RawMessage, error) {
	return t.do(ctx, http.MethodPost, urlPath, nil, body)
}

func (t *httpTransport) Delete(ctx context.Context, urlPath string) error {
	_, err := t.do(ctx, http.MethodDelete, urlPath, nil, nil)
	return err
}
