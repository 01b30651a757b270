package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"searchcore/pkg/apicall"
	"searchcore/pkg/cache"
	"searchcore/pkg/cluster"
	"searchcore/pkg/config"
	"searchcore/pkg/log"
	"searchcore/pkg/models"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/metric"
)

// UseCacheParam asks the server to answer from its own search cache.
const UseCacheParam = "use_cache"

// Client dispatches calls to a search cluster. It is safe for concurrent use.
type Client struct {
	config      *config.Config
	registry    *cluster.Registry
	coordinator *apicall.Coordinator
	cache       *cache.ResponseCache[*apicall.Response]
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	clock      clock.Clock
	meter      metric.Meter
	httpClient *http.Client
}

// WithClock sets the time source used for health rechecks, retry waits and cache expiry.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithMeter sets the OpenTelemetry meter for call and cache metrics.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithHTTPClient replaces the pooled HTTP client used for node requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) { o.httpClient = httpClient }
}

// New validates cfg and builds a client around it.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	registry, err := cluster.NewRegistry(resolved.Nodes, resolved.NearestNode, o.clock)
	if err != nil {
		return nil, err
	}

	metrics, err := apicall.NewMetrics(o.meter)
	if err != nil {
		return nil, err
	}

	responses, err := cache.New[*apicall.Response](resolved.CacheMaxEntries, o.clock, o.meter)
	if err != nil {
		return nil, err
	}

	selector := cluster.NewSelector(registry, resolved.HealthcheckInterval())
	executor := apicall.NewExecutor(registry, resolved, o.httpClient)

	log.Debug().
		Int("nodes", len(resolved.Nodes)).
		Bool("nearest", resolved.NearestNode != nil).
		Int("num_retries", resolved.Retries()).
		Dur("timeout", resolved.ConnectionTimeout()).
		Msg("Search client configured")

	return &Client{
		config:   resolved,
		registry: registry,
		coordinator: apicall.NewCoordinator(selector, executor, resolved.Retries(),
			resolved.RetryInterval(), o.clock, metrics),
		cache: responses,
	}, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// Nodes reports the health of every configured node.
func (c *Client) Nodes() []models.NodeStatus {
	return c.registry.Snapshot()
}

// Call sends a request through the retry coordinator without caching.
func (c *Client) Call(ctx context.Context, method, path string, query url.Values, body any,
	header http.Header,
) (*apicall.Response, error) {
	return c.coordinator.Do(ctx, &apicall.Request{
		Method: method,
		Path:   path,
		Query:  query,
		Body:   body,
		Header: header,
	})
}

// CallCached sends a read through the response cache. Identical concurrent
// calls share one request, and a successful response is reused for ttl. A
// negative ttl uses the configured default; zero disables storage but keeps
// deduplication.
func (c *Client) CallCached(ctx context.Context, method, path string, query url.Values, body any,
	header http.Header, ttl time.Duration,
) (*apicall.Response, error) {
	if ttl < 0 {
		ttl = c.config.CacheTTL()
	}

	if c.config.UseServerSideSearchCache {
		withCache := make(url.Values, len(query)+1)
		for k, v := range query {
			withCache[k] = v
		}
		withCache.Set(UseCacheParam, "true")
		query = withCache
	}

	req := &apicall.Request{
		Method: method,
		Path:   path,
		Query:  query,
		Body:   body,
		Header: header,
	}

	encoded, err := apicall.EncodeBody(body)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Request not cacheable, sending uncached")
		return c.coordinator.Do(ctx, req)
	}

	signature := cache.Signature(method, path, query, encoded)
	return c.cache.Perform(ctx, signature, ttl, func(ctx context.Context) (*apicall.Response, error) {
		return c.coordinator.Do(ctx, req)
	})
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.cache.Purge()
}
