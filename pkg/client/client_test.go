package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"searchcore/pkg/apicall"
	"searchcore/pkg/config"
	"searchcore/pkg/models"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
)

const searchPath = "/collections/products/documents/search"

// fakeNode is a search node double that records what it was asked
type fakeNode struct {
	server    *httptest.Server
	hits      atomic.Int32
	lastQuery atomic.Value
}

// ClientTestSuite tests the public call contract end to end
type ClientTestSuite struct {
	suite.Suite
	clock *clock.Mock
}

// SetupTest runs before each test
func (s *ClientTestSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.clock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (s *ClientTestSuite) node(handler http.HandlerFunc) *fakeNode {
	n := &fakeNode{}
	n.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.hits.Add(1)
		n.lastQuery.Store(r.URL.RawQuery)
		handler(w, r)
	}))
	s.T().Cleanup(n.server.Close)
	return n
}

func reply(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}

func (s *ClientTestSuite) client(cfg config.Config, nodes ...*fakeNode) *Client {
	for _, n := range nodes {
		cfg.Nodes = append(cfg.Nodes, models.NodeConfig{URL: n.server.URL})
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "abcd"
	}

	c, err := New(cfg, WithClock(s.clock))
	s.Require().NoError(err)
	return c
}

func searchQuery(q string) url.Values {
	return url.Values{"q": {q}, "query_by": {"title"}}
}

// TestNewRejectsInvalidConfig tests configuration errors
func (s *ClientTestSuite) TestNewRejectsInvalidConfig() {
	_, err := New(config.Config{APIKey: "abcd"})

	var missing *config.MissingConfigurationError
	s.True(errors.As(err, &missing))
}

// TestConcurrentCachedCallsMakeOneRequest tests deduplication through the client
func (s *ClientTestSuite) TestConcurrentCachedCallsMakeOneRequest() {
	release := make(chan struct{})
	node := s.node(func(w http.ResponseWriter, r *http.Request) {
		<-release
		reply(http.StatusOK, `{"found":3}`)(w, r)
	})
	c := s.client(config.Config{}, node)

	const callers = 10
	responses := make([]*apicall.Response, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.CallCached(context.Background(), http.MethodGet, searchPath, searchQuery("shoes"), nil, nil, 0)
			s.NoError(err)
			responses[i] = resp
		}(i)
	}

	s.Eventually(func() bool { return node.hits.Load() == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int32(1), node.hits.Load())
	for _, resp := range responses {
		s.Require().NotNil(resp)
		s.JSONEq(`{"found":3}`, string(resp.Body))
	}
}

// TestCachedCallHonoursTTL tests storage and expiry
func (s *ClientTestSuite) TestCachedCallHonoursTTL() {
	node := s.node(reply(http.StatusOK, `{"found":1}`))
	c := s.client(config.Config{}, node)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.CallCached(ctx, http.MethodGet, searchPath, searchQuery("shoes"), nil, nil, 2*time.Minute)
		s.Require().NoError(err)
	}
	s.Equal(int32(1), node.hits.Load())

	s.clock.Add(2 * time.Minute)
	_, err := c.CallCached(ctx, http.MethodGet, searchPath, searchQuery("shoes"), nil, nil, 2*time.Minute)
	s.Require().NoError(err)
	s.Equal(int32(2), node.hits.Load())

	_, err = c.CallCached(ctx, http.MethodGet, searchPath, searchQuery("boots"), nil, nil, 2*time.Minute)
	s.Require().NoError(err)
	s.Equal(int32(3), node.hits.Load())
}

// TestCachedCallDefaultTTL tests the configured default lifetime
func (s *ClientTestSuite) TestCachedCallDefaultTTL() {
	node := s.node(reply(http.StatusOK, `{}`))
	c := s.client(config.Config{CacheSearchResultsForSeconds: 30}, node)
	ctx := context.Background()

	_, err := c.CallCached(ctx, http.MethodGet, searchPath, searchQuery("a"), nil, nil, -1)
	s.Require().NoError(err)
	s.clock.Add(29 * time.Second)
	_, err = c.CallCached(ctx, http.MethodGet, searchPath, searchQuery("a"), nil, nil, -1)
	s.Require().NoError(err)
	s.Equal(int32(1), node.hits.Load())

	s.clock.Add(time.Second)
	_, err = c.CallCached(ctx, http.MethodGet, searchPath, searchQuery("a"), nil, nil, -1)
	s.Require().NoError(err)
	s.Equal(int32(2), node.hits.Load())
}

// TestClearCache tests dropping cached responses
func (s *ClientTestSuite) TestClearCache() {
	node := s.node(reply(http.StatusOK, `{}`))
	c := s.client(config.Config{}, node)
	ctx := context.Background()

	_, err := c.CallCached(ctx, http.MethodGet, searchPath, searchQuery("a"), nil, nil, time.Minute)
	s.Require().NoError(err)
	c.ClearCache()
	_, err = c.CallCached(ctx, http.MethodGet, searchPath, searchQuery("a"), nil, nil, time.Minute)
	s.Require().NoError(err)

	s.Equal(int32(2), node.hits.Load())
}

// TestCallIsNeverCached tests the uncached path
func (s *ClientTestSuite) TestCallIsNeverCached() {
	node := s.node(reply(http.StatusOK, `{}`))
	c := s.client(config.Config{CacheSearchResultsForSeconds: 60}, node)

	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), http.MethodGet, "/collections", nil, nil, nil)
		s.Require().NoError(err)
	}
	s.Equal(int32(3), node.hits.Load())
}

// TestServerSideCacheParam tests the use_cache query parameter
func (s *ClientTestSuite) TestServerSideCacheParam() {
	node := s.node(reply(http.StatusOK, `{}`))
	c := s.client(config.Config{UseServerSideSearchCache: true}, node)

	query := searchQuery("shoes")
	_, err := c.CallCached(context.Background(), http.MethodGet, searchPath, query, nil, nil, 0)
	s.Require().NoError(err)

	sent, err := url.ParseQuery(node.lastQuery.Load().(string))
	s.Require().NoError(err)
	s.Equal("true", sent.Get(UseCacheParam))
	s.Empty(query.Get(UseCacheParam), "caller's query must not be modified")

	_, err = c.Call(context.Background(), http.MethodGet, "/collections", nil, nil, nil)
	s.Require().NoError(err)
	s.NotContains(node.lastQuery.Load().(string), UseCacheParam)
}

// TestCachedClientErrorsAreNotStored tests that 4xx results are not cached
func (s *ClientTestSuite) TestCachedClientErrorsAreNotStored() {
	node := s.node(reply(http.StatusNotFound, `{"message":"Not Found"}`))
	c := s.client(config.Config{}, node)

	for i := 0; i < 2; i++ {
		_, err := c.CallCached(context.Background(), http.MethodGet, searchPath, searchQuery("a"), nil, nil, time.Minute)
		s.ErrorIs(err, apicall.ErrObjectNotFound)
	}
	s.Equal(int32(2), node.hits.Load())
}

// TestFailoverAcrossCalls tests that a failed node is skipped by later calls
func (s *ClientTestSuite) TestFailoverAcrossCalls() {
	a := s.node(reply(http.StatusServiceUnavailable, ``))
	b := s.node(reply(http.StatusOK, `{}`))
	c := s.node(reply(http.StatusOK, `{}`))
	cfg := config.Config{APIKey: "abcd", RetryIntervalSeconds: config.Float(0.001)}
	for _, n := range []*fakeNode{a, b, c} {
		cfg.Nodes = append(cfg.Nodes, models.NodeConfig{URL: n.server.URL})
	}
	// Real clock: the retry wait must elapse on its own.
	cl, err := New(cfg)
	s.Require().NoError(err)

	for i := 0; i < 6; i++ {
		_, err := cl.Call(context.Background(), http.MethodGet, "/collections", nil, nil, nil)
		s.Require().NoError(err)
	}

	s.Equal(int32(1), a.hits.Load())
	s.False(cl.Nodes()[0].Healthy)
	s.True(cl.Nodes()[1].Healthy)
}

// TestCancelledWaiterDoesNotPoisonOthers tests cancellation of one of several
// identical cached calls
func (s *ClientTestSuite) TestCancelledWaiterDoesNotPoisonOthers() {
	release := make(chan struct{})
	node := s.node(func(w http.ResponseWriter, r *http.Request) {
		<-release
		reply(http.StatusOK, `{"found":9}`)(w, r)
	})
	c := s.client(config.Config{}, node)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := c.CallCached(ctx, http.MethodGet, searchPath, searchQuery("x"), nil, nil, time.Minute)
		cancelled <- err
	}()
	s.Eventually(func() bool { return node.hits.Load() == 1 }, 2*time.Second, time.Millisecond)

	survivor := make(chan *apicall.Response, 1)
	go func() {
		resp, err := c.CallCached(context.Background(), http.MethodGet, searchPath, searchQuery("x"), nil, nil, time.Minute)
		s.NoError(err)
		survivor <- resp
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	s.ErrorIs(<-cancelled, apicall.ErrCancelled)

	close(release)
	resp := <-survivor
	s.Require().NotNil(resp)
	s.JSONEq(`{"found":9}`, string(resp.Body))
	s.True(c.Nodes()[0].Healthy)
	s.Equal(int32(1), node.hits.Load())
}

// TestCancelledSoleCallerStopsRetries tests that a cached call abandoned by its
// only caller makes no further attempts and leaves node health alone
func (s *ClientTestSuite) TestCancelledSoleCallerStopsRetries() {
	slowFailure := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
		reply(http.StatusInternalServerError, `{"message":"boom"}`)(w, r)
	}
	nodes := []*fakeNode{s.node(slowFailure), s.node(slowFailure), s.node(slowFailure)}
	cfg := config.Config{APIKey: "abcd", RetryIntervalSeconds: config.Float(0)}
	for _, n := range nodes {
		cfg.Nodes = append(cfg.Nodes, models.NodeConfig{URL: n.server.URL})
	}
	c, err := New(cfg)
	s.Require().NoError(err)

	totalHits := func() int32 {
		var total int32
		for _, n := range nodes {
			total += n.hits.Load()
		}
		return total
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.CallCached(ctx, http.MethodGet, searchPath, searchQuery("slow"), nil, nil, time.Minute)
		done <- err
	}()
	s.Eventually(func() bool { return totalHits() == 1 }, 2*time.Second, time.Millisecond)

	cancel()
	s.ErrorIs(<-done, apicall.ErrCancelled)

	time.Sleep(500 * time.Millisecond)
	s.Equal(int32(1), totalHits())
	for _, status := range c.Nodes() {
		s.True(status.Healthy, status.URL)
	}
}

// TestUncacheableBodyFallsBack tests that a signature failure does not crash the call
func (s *ClientTestSuite) TestUncacheableBodyFallsBack() {
	node := s.node(reply(http.StatusOK, `{}`))
	c := s.client(config.Config{}, node)

	_, err := c.CallCached(context.Background(), http.MethodPost, "/multi_search", nil, make(chan int), nil, time.Minute)
	s.Error(err)
	s.NotErrorIs(err, apicall.ErrCancelled)
	s.Equal(int32(0), node.hits.Load())
}

// TestMultiSearchTextBodyIsCached tests caching of raw multi-search bodies
func (s *ClientTestSuite) TestMultiSearchTextBodyIsCached() {
	node := s.node(reply(http.StatusOK, `{"results":[]}`))
	c := s.client(config.Config{}, node)
	header := http.Header{"Content-Type": {"text/plain"}}

	for i := 0; i < 2; i++ {
		_, err := c.CallCached(context.Background(), http.MethodPost, "/multi_search", nil,
			"{\"q\":\"a\"}\n{\"q\":\"b\"}", header, time.Minute)
		s.Require().NoError(err)
	}
	_, err := c.CallCached(context.Background(), http.MethodPost, "/multi_search", nil,
		"{\"q\":\"c\"}", header, time.Minute)
	s.Require().NoError(err)

	s.Equal(int32(2), node.hits.Load())
}

// TestNodesSnapshot tests the node status report
func (s *ClientTestSuite) TestNodesSnapshot() {
	node := s.node(reply(http.StatusOK, `{}`))
	c := s.client(config.Config{NearestNode: &models.NodeConfig{URL: node.server.URL}}, node)

	nodes := c.Nodes()
	s.Len(nodes, 2)
	s.True(nodes[0].Nearest)
	s.Equal(2, c.Config().Retries())
}

// TestClientSuite runs the client test suite
func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
