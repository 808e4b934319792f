// Package httpapi implements gateway.Client against the annotation
// backend's REST API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/relmark/relmark/pkg/gateway"
	"github.com/relmark/relmark/pkg/schema"

	"golang.org/x/sync/semaphore"
)

const defaultBaseURL = "http://localhost:8000"

// Client talks to the backend over HTTP. All endpoints live under the
// /api prefix of the base URL. Mutating requests are serialized through
// a semaphore so concurrent saves cannot interleave.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	reqLock    *semaphore.Weighted
}

// NewClientParams contains configuration options for creating a new Client.
type NewClientParams struct {
	BaseURL string
	ApiKey  string

	Timeout time.Duration

	MaxConcurrentWrites int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		// don't overwrite if already set
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewClient creates a client for the backend at params.BaseURL (or the
// default local address if empty). When ApiKey is set it is sent as a
// bearer token on every request.
func NewClient(params NewClientParams) (*Client, error) {
	base := params.BaseURL
	if base == "" {
		base = defaultBaseURL
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}

	httpClient := &http.Client{
		Timeout: params.Timeout,
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	writes := params.MaxConcurrentWrites
	if writes <= 0 {
		writes = 1
	}

	return &Client{
		baseURL:    u,
		httpClient: httpClient,
		reqLock:    semaphore.NewWeighted(writes),
	}, nil
}

// apiError carries a backend failure status and its detail message.
type apiError struct {
	status int
	detail string
}

func (e *apiError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.status, e.detail)
	}
	return fmt.Sprintf("backend returned %d", e.status)
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL.JoinPath(append([]string{"api"}, parts...)...).String()
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var body struct {
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		if body.Detail != "" {
			return fmt.Errorf("%w: %s", gateway.ErrNotFound, body.Detail)
		}
		return gateway.ErrNotFound
	case http.StatusConflict:
		if body.Detail != "" {
			return fmt.Errorf("%w: %s", gateway.ErrConflict, body.Detail)
		}
		return gateway.ErrConflict
	}

	return &apiError{status: resp.StatusCode, detail: body.Detail}
}

func (c *Client) getJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach backend: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, rawURL string, query url.Values, body, out any) error {
	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.reqLock.Release(1)

	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, &payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach backend: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Classes fetches all entity class definitions.
func (c *Client) Classes(ctx context.Context) (map[string]schema.Class, error) {
	var classes map[string]schema.Class
	if err := c.getJSON(ctx, c.endpoint("classes"), nil, &classes); err != nil {
		return nil, fmt.Errorf("failed to fetch classes: %w", err)
	}
	return classes, nil
}

// Relations fetches all relation type definitions.
func (c *Client) Relations(ctx context.Context) (map[string]schema.Relation, error) {
	var relations map[string]schema.Relation
	if err := c.getJSON(ctx, c.endpoint("relations"), nil, &relations); err != nil {
		return nil, fmt.Errorf("failed to fetch relations: %w", err)
	}
	return relations, nil
}

// RefreshRelations tells the backend to re-read its relation registry
// from disk so newly authored types become visible without a restart.
func (c *Client) RefreshRelations(ctx context.Context) error {
	if err := c.postJSON(ctx, c.endpoint("relations", "refresh"), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to refresh relations: %w", err)
	}
	return nil
}

// Enums fetches all shared enum value lists.
func (c *Client) Enums(ctx context.Context) (map[string][]string, error) {
	var enums map[string][]string
	if err := c.getJSON(ctx, c.endpoint("enums"), nil, &enums); err != nil {
		return nil, fmt.Errorf("failed to fetch enums: %w", err)
	}
	return enums, nil
}

// CreateEnum registers a new shared enum. The backend normalizes the
// name and rejects duplicates with ErrConflict.
func (c *Client) CreateEnum(ctx context.Context, name string, values []string) error {
	body := struct {
		Name   string   `json:"name"`
		Values []string `json:"values"`
	}{Name: name, Values: values}

	if err := c.postJSON(ctx, c.endpoint("enums"), nil, body, nil); err != nil {
		return fmt.Errorf("failed to create enum: %w", err)
	}
	return nil
}

// FieldDescriptions fetches per-relation attribute help texts keyed by
// relation name, with shared entries under "general_qualifiers".
func (c *Client) FieldDescriptions(ctx context.Context) (map[string]map[string]string, error) {
	var descs map[string]map[string]string
	if err := c.getJSON(ctx, c.endpoint("field-descriptions"), nil, &descs); err != nil {
		return nil, fmt.Errorf("failed to fetch field descriptions: %w", err)
	}
	return descs, nil
}

// NextText fetches the corpus item at cursor. Past the end it returns
// ErrNoMoreTexts.
func (c *Client) NextText(ctx context.Context, cursor int) (gateway.TextPage, error) {
	q := url.Values{"cursor": {strconv.Itoa(cursor)}}

	var page gateway.TextPage
	if err := c.getJSON(ctx, c.endpoint("texts", "next"), q, &page); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return gateway.TextPage{}, gateway.ErrNoMoreTexts
		}
		return gateway.TextPage{}, fmt.Errorf("failed to fetch next text: %w", err)
	}
	return page, nil
}

// PrevText fetches the corpus item at cursor, clamped to the corpus
// bounds by the backend.
func (c *Client) PrevText(ctx context.Context, cursor int) (gateway.TextPage, error) {
	q := url.Values{"cursor": {strconv.Itoa(cursor)}}

	var page gateway.TextPage
	if err := c.getJSON(ctx, c.endpoint("texts", "prev"), q, &page); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return gateway.TextPage{}, gateway.ErrNoMoreTexts
		}
		return gateway.TextPage{}, fmt.Errorf("failed to fetch previous text: %w", err)
	}
	return page, nil
}

// Annotation fetches the saved annotation set for a text, or
// ErrNotFound when none was ever saved.
func (c *Client) Annotation(ctx context.Context, textID string) (gateway.SavedAnnotation, error) {
	var saved gateway.SavedAnnotation
	if err := c.getJSON(ctx, c.endpoint("annotations", url.PathEscape(textID)), nil, &saved); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return gateway.SavedAnnotation{}, gateway.ErrNotFound
		}
		return gateway.SavedAnnotation{}, fmt.Errorf("failed to fetch annotation: %w", err)
	}
	return saved, nil
}

// AnnotationExists reports whether the backend holds annotations for a
// text without transferring them.
func (c *Client) AnnotationExists(ctx context.Context, textID string) (bool, error) {
	var body struct {
		Exists bool `json:"exists"`
	}
	if err := c.getJSON(ctx, c.endpoint("annotations", url.PathEscape(textID), "exists"), nil, &body); err != nil {
		return false, fmt.Errorf("failed to check annotation: %w", err)
	}
	return body.Exists, nil
}

// SaveAnnotation persists an annotation set. Without overwrite the
// backend rejects texts that already have annotations with ErrConflict.
func (c *Client) SaveAnnotation(ctx context.Context, payload gateway.SavePayload, overwrite bool) (gateway.SaveReceipt, error) {
	q := url.Values{"overwrite": {strconv.FormatBool(overwrite)}}

	var receipt gateway.SaveReceipt
	if err := c.postJSON(ctx, c.endpoint("annotations"), q, payload, &receipt); err != nil {
		if errors.Is(err, gateway.ErrConflict) {
			return gateway.SaveReceipt{}, gateway.ErrConflict
		}
		return gateway.SaveReceipt{}, fmt.Errorf("failed to save annotation: %w", err)
	}
	return receipt, nil
}

// ProposeClass submits a new entity class for review.
func (c *Client) ProposeClass(ctx context.Context, proposal gateway.ProposedClass) error {
	if err := c.postJSON(ctx, c.endpoint("proposed-classes"), nil, proposal, nil); err != nil {
		return fmt.Errorf("failed to propose class: %w", err)
	}
	return nil
}

// ProposeRelation submits a new relation type for review.
func (c *Client) ProposeRelation(ctx context.Context, proposal gateway.ProposedRelation) error {
	if err := c.postJSON(ctx, c.endpoint("proposed-relations"), nil, proposal, nil); err != nil {
		return fmt.Errorf("failed to propose relation: %w", err)
	}
	return nil
}

// SemanticStatus reports whether the suggestion index for kind ("class"
// or "relation") is built and which embedding model backs it.
func (c *Client) SemanticStatus(ctx context.Context, kind string) (gateway.SemanticStatus, error) {
	if kind == "" {
		kind = "class"
	}
	q := url.Values{"kind": {kind}}

	var status gateway.SemanticStatus
	if err := c.getJSON(ctx, c.endpoint("semantic", "status"), q, &status); err != nil {
		return gateway.SemanticStatus{}, fmt.Errorf("failed to fetch semantic status: %w", err)
	}
	return status, nil
}

// Suggest ranks schema entries against a query phrase. A missing index
// is reported as a not-ready result rather than an error so callers can
// fall back to browsing the schema.
func (c *Client) Suggest(ctx context.Context, query gateway.SuggestQuery) (gateway.SuggestResult, error) {
	if query.Kind == "" {
		query.Kind = "class"
	}
	if query.TopK <= 0 {
		query.TopK = 10
	}
	if query.Threshold <= 0 {
		query.Threshold = 0.5
	}

	var result gateway.SuggestResult
	if err := c.postJSON(ctx, c.endpoint("semantic", "suggest"), nil, query, &result); err != nil {
		var aerr *apiError
		if errors.As(err, &aerr) && aerr.status == http.StatusServiceUnavailable {
			return gateway.SuggestResult{}, nil
		}
		return gateway.SuggestResult{}, fmt.Errorf("failed to fetch suggestions: %w", err)
	}
	return result, nil
}
