// Package pocketbase is a small client for the hosted PocketBase backend that
// stores show sessions, the motherfile and the weekly planner.
package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

var ErrMissingCredentials = errors.New("missing PocketBase admin credentials: set PB_ADMIN_TOKEN or PB_ADMIN_EMAIL and PB_ADMIN_PASSWORD")

// APIError is a non-2xx answer from PocketBase.
type APIError struct {
	Status  int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pocketbase status %d", e.Status)
	}
	return fmt.Sprintf("pocketbase status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from PocketBase.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Client struct {
	BaseURL string
	http    *http.Client
	stream  *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

// WithHTTPClient replaces the request client (the realtime stream keeps its own).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8090"
	}
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 20 * time.Second},
		stream:  &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Credentials for the admin account. A token wins over email/password.
type Credentials struct {
	Token    string
	Email    string
	Password string
}

// Authenticate installs admin auth and reports which mode was used
// ("token" or "password").
func (c *Client) Authenticate(ctx context.Context, cred Credentials) (string, error) {
	if cred.Token != "" {
		c.SetToken(cred.Token)
		return "token", nil
	}
	if cred.Email != "" && cred.Password != "" {
		if err := c.AuthAdmin(ctx, cred.Email, cred.Password); err != nil {
			return "password", err
		}
		return "password", nil
	}
	return "", ErrMissingCredentials
}

// AuthAdmin signs in with an admin account. Older servers expose
// /api/admins, newer ones a _superusers auth collection.
func (c *Client) AuthAdmin(ctx context.Context, email, password string) error {
	body := map[string]string{"identity": email, "password": password}
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/admins/auth-with-password", nil, body, &out)
	if IsNotFound(err) {
		err = c.do(ctx, http.MethodPost, "/api/collections/_superusers/auth-with-password", nil, body, &out)
	}
	if err != nil {
		return fmt.Errorf("admin auth: %w", err)
	}
	if out.Token == "" {
		return errors.New("admin auth: empty token")
	}
	c.SetToken(out.Token)
	return nil
}

// ListCollections is admin-only, which makes it a cheap auth probe.
func (c *Client) ListCollections(ctx context.Context) error {
	q := url.Values{"page": {"1"}, "perPage": {"1"}}
	return c.do(ctx, http.MethodGet, "/api/collections", q, nil, nil)
}

type ListOptions struct {
	Page    int
	PerPage int
	Sort    string
	Filter  string
}

type ListResult struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
	Items      []json.RawMessage `json:"items"`
}

func (c *Client) List(ctx context.Context, collection string, opts ListOptions) (*ListResult, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set("perPage", strconv.Itoa(opts.PerPage))
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Filter != "" {
		q.Set("filter", opts.Filter)
	}
	var out ListResult
	if err := c.do(ctx, http.MethodGet, recordsPath(collection), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FullList pages through every record matching opts.
func (c *Client) FullList(ctx context.Context, collection string, opts ListOptions) ([]json.RawMessage, error) {
	if opts.PerPage <= 0 {
		opts.PerPage = 200
	}
	var items []json.RawMessage
	for page := 1; ; page++ {
		opts.Page = page
		res, err := c.List(ctx, collection, opts)
		if err != nil {
			return nil, err
		}
		items = append(items, res.Items...)
		if len(res.Items) < opts.PerPage || page >= res.TotalPages {
			return items, nil
		}
	}
}

// FirstListItem decodes the first record matching filter into out and
// returns a 404 APIError when nothing matches.
func (c *Client) FirstListItem(ctx context.Context, collection, filter string, out any) error {
	res, err := c.List(ctx, collection, ListOptions{Page: 1, PerPage: 1, Filter: filter})
	if err != nil {
		return err
	}
	if len(res.Items) == 0 {
		return &APIError{Status: http.StatusNotFound, Message: "The requested resource wasn't found."}
	}
	return json.Unmarshal(res.Items[0], out)
}

func (c *Client) GetOne(ctx context.Context, collection, id string, out any) error {
	return c.do(ctx, http.MethodGet, recordsPath(collection)+"/"+url.PathEscape(id), nil, nil, out)
}

func (c *Client) Create(ctx context.Context, collection string, body, out any) error {
	return c.do(ctx, http.MethodPost, recordsPath(collection), nil, body, out)
}

func (c *Client) Update(ctx context.Context, collection, id string, body, out any) error {
	return c.do(ctx, http.MethodPatch, recordsPath(collection)+"/"+url.PathEscape(id), nil, body, out)
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.do(ctx, http.MethodDelete, recordsPath(collection)+"/"+url.PathEscape(id), nil, nil, nil)
}

// File is one upload part of a multipart record update.
type File struct {
	Field string
	Name  string
	Data  io.Reader
}

// UpdateMultipart updates a record with form fields and file uploads.
func (c *Client) UpdateMultipart(ctx context.Context, collection, id string, fields map[string]string, files []File, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.Data); err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPatch, recordsPath(collection)+"/"+url.PathEscape(id), nil, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req, out)
}

// FileURL is the public URL of a file stored on a record.
func (c *Client) FileURL(collection, recordID, filename string) string {
	if collection == "" || recordID == "" || filename == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/files/%s/%s/%s", c.BaseURL, url.PathEscape(collection), url.PathEscape(recordID), url.PathEscape(filename))
}

// Quote renders s as a PocketBase filter string literal.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func recordsPath(collection string) string {
	return "/api/collections/" + url.PathEscape(collection) + "/records"
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, q, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", tok)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(b, apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
