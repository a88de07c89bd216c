// Package gooddata is a client for the GoodData REST API covering projects, reports,
// report export, the logical data model and data upload.
package gooddata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"gdcli/internal/token"

	"golang.org/x/oauth2"
)

const (
	headerSST = "X-GDC-AuthSST"
	headerTT  = "X-GDC-AuthTT"

	// ttLifetime is kept under the server's ten minute temporary token lifetime.
	ttLifetime = 9 * time.Minute

	// sstLifetime is the lifetime of a super secured token issued with remember=1.
	sstLifetime = 14 * 24 * time.Hour

	defaultPollInterval = 2 * time.Second
)

// ErrNotLoggedIn reports a call needing authentication made before Login or Resume.
var ErrNotLoggedIn = errors.New("not logged in")

// Options configure an APIClient.
type Options struct {
	BaseURL            string        // eg https://secure.gooddata.com
	WebDAVURL          string        // eg https://secure-di.gooddata.com/uploads
	AuthorizationToken string        // project creation authorization token
	PollInterval       time.Duration // interval between polls of asynchronous tasks
	HTTPClient         *http.Client
	Logger             *slog.Logger
}

// APIClient is a wrapper for making authenticated calls to the GoodData API.
type APIClient struct {
	ctx                context.Context
	httpClient         *http.Client // unauthenticated, used for login and webdav
	authClient         *http.Client // sends a temporary token with each request
	baseURL            string
	webdavURL          string
	authorizationToken string
	pollInterval       time.Duration
	sst                *token.ExtendedToken
	log                *slog.Logger
}

// NewAPIClient creates a new GoodData API client. If no HTTPClient is provided
// http.DefaultClient is used. The context is used for fetching temporary tokens.
func NewAPIClient(ctx context.Context, opts Options) *APIClient {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(
			os.Stderr,
			&slog.HandlerOptions{Level: slog.LevelWarn},
		))
	}
	return &APIClient{
		ctx:                ctx,
		httpClient:         opts.HTTPClient,
		baseURL:            strings.TrimRight(opts.BaseURL, "/"),
		webdavURL:          strings.TrimRight(opts.WebDAVURL, "/"),
		authorizationToken: opts.AuthorizationToken,
		pollInterval:       opts.PollInterval,
		log:                opts.Logger,
	}
}

// SetAuthorizationToken sets the authorization token used for project creation.
func (c *APIClient) SetAuthorizationToken(authToken string) {
	c.authorizationToken = authToken
}

// ProjectURI normalises a project reference, accepting either a bare project id or a
// project URI.
func ProjectURI(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.Contains(ref, "/") {
		return strings.TrimRight(ref, "/")
	}
	return "/gdc/projects/" + ref
}

// ProjectID extracts the project id from a project URI.
func ProjectID(uri string) (string, error) {
	id := path.Base(ProjectURI(uri))
	if id == "" || id == "." || id == "/" || id == "projects" {
		return "", fmt.Errorf("invalid project uri %q", uri)
	}
	return id, nil
}

// Projects lists the projects available to the logged in user.
func (c *APIClient) Projects(ctx context.Context) ([]Project, error) {
	if c.sst == nil {
		return nil, ErrNotLoggedIn
	}
	requestURL := c.url(c.sst.Profile + "/projects")
	c.log.Debug(fmt.Sprintf("Projects request %v", requestURL))

	req, err := c.newRequest(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	var response ProjectsResponse
	if _, err := do(c, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("Projects: failed to execute request: %v", err))
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	c.log.Info(fmt.Sprintf("Projects: retrieved %d projects", len(response.Projects)))
	return response.Projects, nil
}

// CreateProject creates a project and returns its URI.
func (c *APIClient) CreateProject(ctx context.Context, title, summary string) (string, error) {
	var body createProjectRequest
	body.Project.Meta.Title = title
	body.Project.Meta.Summary = summary
	body.Project.Content.GuidedNavigation = 1
	body.Project.Content.Driver = "Pg"
	body.Project.Content.AuthorizationToken = c.authorizationToken

	req, err := c.newRequest(ctx, http.MethodPost, c.url("/gdc/projects"), body)
	if err != nil {
		return "", err
	}
	var response uriResponse
	if _, err := do(c, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("CreateProject: request error: %v", err))
		return "", fmt.Errorf("failed to create project: %w", err)
	}
	if response.URI == "" {
		return "", errors.New("create project response did not contain a uri")
	}
	c.log.Info(fmt.Sprintf("CreateProject: created %s", response.URI))
	return response.URI, nil
}

// DeleteProject deletes the project at uri.
func (c *APIClient) DeleteProject(ctx context.Context, uri string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.url(ProjectURI(uri)), nil)
	if err != nil {
		return err
	}
	if _, err := do[struct{}](c, req, nil); err != nil {
		c.log.Error(fmt.Sprintf("DeleteProject: request error: %v", err))
		return fmt.Errorf("failed to delete project: %w", err)
	}
	c.log.Info(fmt.Sprintf("DeleteProject: deleted %s", uri))
	return nil
}

// Reports lists the reports defined in a project.
func (c *APIClient) Reports(ctx context.Context, projectURI string) ([]Report, error) {
	id, err := ProjectID(projectURI)
	if err != nil {
		return nil, err
	}
	requestURL := c.url(fmt.Sprintf("/gdc/md/%s/query/reports", id))
	c.log.Debug(fmt.Sprintf("Reports request %v", requestURL))

	req, err := c.newRequest(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	var response QueryResponse
	if _, err := do(c, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("Reports: failed to execute request: %v", err))
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	c.log.Info(fmt.Sprintf("Reports: retrieved %d reports", len(response.Query.Entries)))
	return response.Query.Entries, nil
}

// url turns an API path or URI into an absolute URL.
func (c *APIClient) url(uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return c.baseURL + uri
}

// newRequest is a helper to create a new HTTP request with common headers. A non-nil
// body is sent as JSON.
func (c *APIClient) newRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "gdcli")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do is a helper to execute an authenticated HTTP request and decode the JSON
// response. A nil `v` is supported for API calls not providing a response, such as
// DELETE calls.
func do[T any](c *APIClient, req *http.Request, v *T) (*http.Response, error) {
	if c.authClient == nil {
		return nil, ErrNotLoggedIn
	}
	return send(c.authClient, req, v)
}

// send executes req with client, treating non-2xx responses as errors.
func send[T any](client *http.Client, req *http.Request, v *T) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp)
	}

	if v != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}

// fetch executes an authenticated request and returns the status and raw body,
// leaving the interpretation of 2xx codes to the caller.
func (c *APIClient) fetch(req *http.Request) (int, []byte, error) {
	if c.authClient == nil {
		return 0, nil, ErrNotLoggedIn
	}
	resp, err := c.authClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil, apiError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// apiError describes a non-2xx response.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// poll calls check every poll interval until it reports done or fails.
func (c *APIClient) poll(ctx context.Context, check func() (bool, error)) error {
	for {
		done, err := check()
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// ttTransport is an http.RoundTripper adding a temporary token header to each
// request, in the manner of oauth2.Transport.
type ttTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

// RoundTrip implements http.RoundTripper.
func (t *ttTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Header.Set(headerTT, tok.AccessToken)
	return t.base.RoundTrip(r)
}
