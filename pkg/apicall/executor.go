package apicall

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"searchcore/pkg/cluster"
	"searchcore/pkg/config"
	"searchcore/pkg/log"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hyp3rd/ewrap"
)

// Executor performs a single HTTP attempt against one node and feeds the
// outcome back into the registry.
type Executor struct {
	clients       map[*cluster.Node]*retryablehttp.Client
	shared        *retryablehttp.Client
	registry      *cluster.Registry
	apiKey        string
	apiKeyInQuery bool
	headers       map[string]string
	timeout       time.Duration
}

// NewExecutor creates an executor. With a nil httpClient every node gets its
// own pooled cleanhttp client; a given httpClient is shared by all nodes.
func NewExecutor(registry *cluster.Registry, cfg *config.Config, httpClient *http.Client) *Executor {
	e := &Executor{
		registry:      registry,
		apiKey:        cfg.APIKey,
		apiKeyInQuery: cfg.SendAPIKeyAsQueryParam,
		headers:       cfg.AdditionalHeaders,
		timeout:       cfg.ConnectionTimeout(),
	}

	if httpClient != nil {
		e.shared = CreateSingleAttemptClient(httpClient)
		return e
	}

	nodes := registry.Nodes()
	if nearest := registry.Nearest(); nearest != nil {
		nodes = append(nodes, nearest)
	}
	e.clients = make(map[*cluster.Node]*retryablehttp.Client, len(nodes))
	for _, node := range nodes {
		e.clients[node] = CreateSingleAttemptClient(cleanhttp.DefaultPooledClient())
	}

	return e
}

// CreateSingleAttemptClient wraps httpClient in a retryablehttp client that
// never retries on its own. Failover across nodes is the Coordinator's job.
//
// retryablehttp closes the idle connections of httpClient whenever it gives up
// on a request, which is every transport error here. Sharing one httpClient
// between nodes therefore lets a dead node drop keep-alive connections to the
// healthy ones.
func CreateSingleAttemptClient(httpClient *http.Client) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.HTTPClient = httpClient
	client.RetryMax = 0
	client.Logger = log.Leveled{Component: "http"}
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	return client
}

func (e *Executor) clientFor(node *cluster.Node) *retryablehttp.Client {
	if client, ok := e.clients[node]; ok {
		return client
	}
	return e.shared
}

// Execute sends req with the pre-encoded body to node.
//
// Transport failures, timeouts and 5xx replies mark the node unhealthy and
// come back as *ConnectionError or *ServerError. 2xx replies mark it healthy.
// Anything else is a *RequestMalformedError and leaves health untouched, as
// does cancellation of ctx.
func (e *Executor) Execute(ctx context.Context, node *cluster.Node, req *Request, body []byte) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	httpReq, err := e.buildRequest(attemptCtx, node, req, body)
	if err != nil {
		return nil, err
	}

	resp, err := e.clientFor(node).Do(httpReq)
	if err != nil {
		return nil, e.transportFailure(ctx, node, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Str("node", node.BaseURL()).Msg("Failed to close response body")
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, e.transportFailure(ctx, node, ewrap.Wrap(err, "read response body"))
	}

	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		e.registry.MarkHealthy(node)
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		e.registry.MarkUnhealthy(node)
		return nil, &ServerError{
			Node:       node.BaseURL(),
			StatusCode: resp.StatusCode,
			Message:    serverMessage(payload),
		}
	default:
		return nil, &RequestMalformedError{
			StatusCode: resp.StatusCode,
			Message:    serverMessage(payload),
			Body:       payload,
		}
	}
}

func (e *Executor) transportFailure(ctx context.Context, node *cluster.Node, err error) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}

	e.registry.MarkUnhealthy(node)
	return &ConnectionError{Node: node.BaseURL(), Err: err}
}

func (e *Executor) buildRequest(ctx context.Context, node *cluster.Node, req *Request, body []byte) (*retryablehttp.Request, error) {
	query := url.Values{}
	for k, v := range req.Query {
		query[k] = v
	}
	if e.apiKeyInQuery {
		query.Set(config.APIKeyQueryParam, e.apiKey)
	}

	target := node.BaseURL() + normalizePath(req.Path)
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	var reqBody interface{}
	if body != nil {
		reqBody = body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, target, reqBody)
	if err != nil {
		return nil, ewrap.Wrap(err, "new request")
	}

	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	if !e.apiKeyInQuery {
		httpReq.Header.Set(config.APIKeyHeader, e.apiKey)
	}
	for k, v := range e.headers {
		httpReq.Header.Set(k, v)
	}
	for k, values := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	return httpReq, nil
}

func normalizePath(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

// serverMessage pulls the "message" field out of an error payload, falling
// back to the raw text.
func serverMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(payload))
}
