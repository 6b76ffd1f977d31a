package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/konnektr-io/twx-cli/pkg/logging"
)

const restAPIVersion = "2023-10-31"

// RESTBackend talks to a digital-twins REST endpoint (Azure Digital Twins
// or a compatible implementation such as Konnektr Graph).
type RESTBackend struct {
	endpoint string
	token    string
	http     *http.Client
	tracer   trace.Tracer
	log      logging.Logger
}

// RESTOptions configures a RESTBackend.
type RESTOptions struct {
	// Endpoint is the service host, with or without the https:// prefix.
	Endpoint string

	// Token is the bearer token attached to every request.
	Token string

	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client

	// TLS overrides transport security. Nil keeps the default transport.
	TLS *tls.Config

	// Logger receives request diagnostics. Nil means silent.
	Logger logging.Logger
}

// NewRESTBackend creates a REST backend. It performs no network I/O; the
// first operation does.
func NewRESTBackend(opts RESTOptions) (*RESTBackend, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	endpoint := opts.Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
		if opts.TLS != nil {
			httpClient.Transport = &http.Transport{TLSClientConfig: opts.TLS}
		}
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}

	return &RESTBackend{
		endpoint: endpoint,
		token:    opts.Token,
		http:     httpClient,
		tracer:   otel.Tracer("twx/client/rest"),
		log:      log,
	}, nil
}

// queryRequest is the POST /query body.
type queryRequest struct {
	Query             string `json:"query"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

// queryResponse is the POST /query result page.
type queryResponse struct {
	Value             []json.RawMessage `json:"value"`
	ContinuationToken string            `json:"continuationToken"`
}

func (b *RESTBackend) ExecuteQuery(ctx context.Context, query string) ([]json.RawMessage, error) {
	ctx, span := b.tracer.Start(ctx, "twx.query",
		trace.WithAttributes(attribute.Int("query_length", len(query))))
	defer span.End()

	var results []json.RawMessage
	continuation := ""
	pages := 0
	for {
		body, err := json.Marshal(queryRequest{Query: query, ContinuationToken: continuation})
		if err != nil {
			return nil, fmt.Errorf("encoding query request: %w", err)
		}

		var page queryResponse
		if err := b.do(ctx, http.MethodPost, "/query", nil, body, &page); err != nil {
			span.SetStatus(codes.Error, err.Error())
			if isBadRequest(err) {
				return nil, &QueryError{Query: query, Message: serviceMessage(err)}
			}
			return nil, err
		}

		results = append(results, page.Value...)
		pages++
		if page.ContinuationToken == "" {
			break
		}
		continuation = page.ContinuationToken
	}

	span.SetAttributes(
		attribute.Int("result_rows", len(results)),
		attribute.Int("pages", pages),
	)
	b.log.Debug("query executed",
		logging.F("rows", len(results)), logging.F("pages", pages))
	return results, nil
}

func (b *RESTBackend) GetTwin(ctx context.Context, twinID string) (json.RawMessage, error) {
	ctx, span := b.tracer.Start(ctx, "twx.twin.get",
		trace.WithAttributes(attribute.String("twin_id", twinID)))
	defer span.End()

	var twin json.RawMessage
	err := b.do(ctx, http.MethodGet, "/digitaltwins/"+url.PathEscape(twinID), nil, nil, &twin)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return twin, nil
}

func (b *RESTBackend) CreateTwin(ctx context.Context, twinID string, body json.RawMessage) (json.RawMessage, error) {
	ctx, span := b.tracer.Start(ctx, "twx.twin.create",
		trace.WithAttributes(attribute.String("twin_id", twinID)))
	defer span.End()

	var created json.RawMessage
	err := b.do(ctx, http.MethodPut, "/digitaltwins/"+url.PathEscape(twinID), nil, body, &created)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return created, nil
}

func (b *RESTBackend) UpdateTwin(ctx context.Context, twinID string, patch []PatchOp) error {
	ctx, span := b.tracer.Start(ctx, "twx.twin.update",
		trace.WithAttributes(
			attribute.String("twin_id", twinID),
			attribute.Int("patch_ops", len(patch)),
		))
	defer span.End()

	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}
	if err := b.do(ctx, http.MethodPatch, "/digitaltwins/"+url.PathEscape(twinID), nil, body, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (b *RESTBackend) DeleteTwin(ctx context.Context, twinID string) error {
	ctx, span := b.tracer.Start(ctx, "twx.twin.delete",
		trace.WithAttributes(attribute.String("twin_id", twinID)))
	defer span.End()

	if err := b.do(ctx, http.MethodDelete, "/digitaltwins/"+url.PathEscape(twinID), nil, nil, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// pagedResponse is the list shape used by relationship and model endpoints.
type pagedResponse struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"nextLink"`
}

func (b *RESTBackend) QueryRelationships(ctx context.Context, twinID string, dir Direction) ([]json.RawMessage, error) {
	ctx, span := b.tracer.Start(ctx, "twx.relationships.query",
		trace.WithAttributes(
			attribute.String("twin_id", twinID),
			attribute.String("direction", string(dir)),
		))
	defer span.End()

	var out []json.RawMessage
	if dir == DirectionOutgoing || dir == DirectionAll || dir == "" {
		items, err := b.drainPages(ctx, "/digitaltwins/"+url.PathEscape(twinID)+"/relationships")
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, items...)
	}
	if dir == DirectionIncoming || dir == DirectionAll {
		items, err := b.drainPages(ctx, "/digitaltwins/"+url.PathEscape(twinID)+"/incomingrelationships")
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		for _, item := range items {
			normalized, err := normalizeIncoming(item, twinID)
			if err != nil {
				b.log.Warn("skipping malformed incoming relationship", logging.Err(err))
				continue
			}
			out = append(out, normalized)
		}
	}
	span.SetAttributes(attribute.Int("relationships", len(out)))
	return out, nil
}

// normalizeIncoming rewrites an incoming-relationship record to the same
// shape as an outgoing one: the endpoint omits $targetId (the queried twin
// is the target) and names the type relationshipName without the $ prefix.
func normalizeIncoming(raw json.RawMessage, twinID string) (json.RawMessage, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if _, ok := m["$targetId"]; !ok {
		m["$targetId"] = twinID
	}
	if name, ok := m["relationshipName"]; ok {
		if _, has := m["$relationshipName"]; !has {
			m["$relationshipName"] = name
		}
		delete(m, "relationshipName")
	}
	delete(m, "$relationshipLink")
	return json.Marshal(m)
}

func (b *RESTBackend) CreateRelationship(ctx context.Context, sourceID, targetID, name, relID string) (json.RawMessage, error) {
	if relID == "" {
		relID = newRelationshipID()
	}
	ctx, span := b.tracer.Start(ctx, "twx.relationship.create",
		trace.WithAttributes(
			attribute.String("source_id", sourceID),
			attribute.String("target_id", targetID),
			attribute.String("relationship_name", name),
		))
	defer span.End()

	body, err := json.Marshal(map[string]string{
		"$targetId":         targetID,
		"$relationshipName": name,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding relationship: %w", err)
	}

	path := "/digitaltwins/" + url.PathEscape(sourceID) + "/relationships/" + url.PathEscape(relID)
	var created json.RawMessage
	if err := b.do(ctx, http.MethodPut, path, nil, body, &created); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return created, nil
}

func (b *RESTBackend) DeleteRelationship(ctx context.Context, sourceID, relID string) error {
	ctx, span := b.tracer.Start(ctx, "twx.relationship.delete",
		trace.WithAttributes(attribute.String("source_id", sourceID)))
	defer span.End()

	path := "/digitaltwins/" + url.PathEscape(sourceID) + "/relationships/" + url.PathEscape(relID)
	if err := b.do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (b *RESTBackend) ListModels(ctx context.Context) ([]json.RawMessage, error) {
	ctx, span := b.tracer.Start(ctx, "twx.models.list")
	defer span.End()

	items, err := b.drainPages(ctx, "/models?includeModelDefinition=true")
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("models", len(items)))
	return items, nil
}

func (b *RESTBackend) UploadModels(ctx context.Context, models []json.RawMessage) error {
	ctx, span := b.tracer.Start(ctx, "twx.models.upload",
		trace.WithAttributes(attribute.Int("models", len(models))))
	defer span.End()

	body, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("encoding models: %w", err)
	}
	if err := b.do(ctx, http.MethodPost, "/models", nil, body, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (b *RESTBackend) DeleteModel(ctx context.Context, modelID string) error {
	ctx, span := b.tracer.Start(ctx, "twx.models.delete",
		trace.WithAttributes(attribute.String("model_id", modelID)))
	defer span.End()

	if err := b.do(ctx, http.MethodDelete, "/models/"+url.PathEscape(modelID), nil, nil, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (b *RESTBackend) Close(context.Context) error {
	b.http.CloseIdleConnections()
	return nil
}

// drainPages follows nextLink until the listing is exhausted.
func (b *RESTBackend) drainPages(ctx context.Context, path string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	next := path
	for next != "" {
		var page pagedResponse
		if err := b.do(ctx, http.MethodGet, next, nil, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
		next = relativizeLink(page.NextLink)
	}
	return out, nil
}

// relativizeLink strips the scheme and host off a nextLink so it can be
// re-issued against the configured endpoint.
func relativizeLink(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}

// httpError carries the status and service message of a failed request.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("unexpected status %d", e.status)
	}
	return fmt.Sprintf("status %d: %s", e.status, e.message)
}

func isBadRequest(err error) bool {
	var he *httpError
	return errors.As(err, &he) && he.status == http.StatusBadRequest
}

func serviceMessage(err error) string {
	var he *httpError
	if errors.As(err, &he) {
		return he.message
	}
	return err.Error()
}

// do issues one request and decodes the response into out (when non-nil).
// Missing-resource and auth failures map onto the shared sentinels.
func (b *RESTBackend) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	u := b.endpoint + withAPIVersion(path)
	if len(query) > 0 {
		u += "&" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		if method == http.MethodPatch {
			req.Header.Set("Content-Type", "application/json-patch+json")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	req.Header.Set("x-ms-client-request-id", uuid.NewString())

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: %w", method, path, &httpError{
			status:  resp.StatusCode,
			message: extractErrorMessage(data),
		})
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// withAPIVersion appends the api-version parameter to a path that may or
// may not already carry a query string.
func withAPIVersion(path string) string {
	if strings.Contains(path, "?") {
		return path + "&api-version=" + restAPIVersion
	}
	return path + "?api-version=" + restAPIVersion
}

// extractErrorMessage pulls the human message out of a service error body,
// falling back to the raw body.
func extractErrorMessage(data []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return strings.TrimSpace(string(data))
}
