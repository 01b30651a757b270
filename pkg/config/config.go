package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"searchcore/pkg/models"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConnectionTimeoutSeconds   = 5
	DefaultHealthcheckIntervalSeconds = 60
	DefaultRetryIntervalSeconds       = 0.1
	DefaultNumRetries                 = 3
	DefaultCacheMaxEntries            = 100
	DefaultLogLevel                   = "warn"

	// APIKeyHeader carries the API key on every request.
	APIKeyHeader = "X-TYPESENSE-API-KEY"
	// APIKeyQueryParam carries the API key when SendAPIKeyAsQueryParam is set.
	APIKeyQueryParam = "x-typesense-api-key"
)

// Config holds everything the request core needs. It is read-only once a
// client has been built from it.
type Config struct {
	Nodes       []models.NodeConfig `yaml:"nodes"`
	NearestNode *models.NodeConfig  `yaml:"nearest_node,omitempty"`
	APIKey      string              `yaml:"api_key"`

	ConnectionTimeoutSeconds   float64 `yaml:"connection_timeout_seconds"`
	HealthcheckIntervalSeconds float64 `yaml:"healthcheck_interval_seconds"`
	// RetryIntervalSeconds left nil waits DefaultRetryIntervalSeconds; an
	// explicit 0 retries at once.
	RetryIntervalSeconds *float64 `yaml:"retry_interval_seconds,omitempty"`
	// NumRetries left nil means one retry per configured node (nearest
	// included). An explicit value, 0 included, is kept.
	NumRetries *int `yaml:"num_retries,omitempty"`

	CacheSearchResultsForSeconds float64 `yaml:"cache_search_results_for_seconds"`
	CacheMaxEntries              int     `yaml:"cache_max_entries"`
	UseServerSideSearchCache     bool    `yaml:"use_server_side_search_cache"`

	SendAPIKeyAsQueryParam bool              `yaml:"send_api_key_as_query_param"`
	AdditionalHeaders      map[string]string `yaml:"additional_headers,omitempty"`

	LogLevel string `yaml:"log_level"`
}

// Load reads a YAML configuration file. The result still needs Resolve.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &cfg, nil
}

// Resolve validates the configuration and returns a copy with node URLs
// expanded and defaults applied.
func (c Config) Resolve() (*Config, error) {
	if len(c.Nodes) == 0 {
		return nil, &MissingConfigurationError{Reason: "Ensure that nodes[] is set"}
	}
	if c.APIKey == "" {
		return nil, &MissingConfigurationError{Reason: "Ensure that apiKey is set"}
	}

	resolved := c
	resolved.Nodes = make([]models.NodeConfig, len(c.Nodes))
	for i, node := range c.Nodes {
		n, err := ResolveNode(node)
		if err != nil {
			return nil, err
		}
		resolved.Nodes[i] = n
	}

	if c.NearestNode != nil {
		n, err := ResolveNode(*c.NearestNode)
		if err != nil {
			return nil, err
		}
		resolved.NearestNode = &n
	}

	if resolved.ConnectionTimeoutSeconds <= 0 {
		resolved.ConnectionTimeoutSeconds = DefaultConnectionTimeoutSeconds
	}
	if resolved.HealthcheckIntervalSeconds <= 0 {
		resolved.HealthcheckIntervalSeconds = DefaultHealthcheckIntervalSeconds
	}
	switch {
	case c.RetryIntervalSeconds == nil:
		resolved.RetryIntervalSeconds = Float(DefaultRetryIntervalSeconds)
	case *c.RetryIntervalSeconds < 0:
		return nil, &MissingConfigurationError{Reason: "retryIntervalSeconds must not be negative"}
	default:
		resolved.RetryIntervalSeconds = Float(*c.RetryIntervalSeconds)
	}
	switch {
	case c.NumRetries == nil:
		retries := len(resolved.Nodes)
		if resolved.NearestNode != nil {
			retries++
		}
		if retries == 0 {
			retries = DefaultNumRetries
		}
		resolved.NumRetries = Int(retries)
	case *c.NumRetries < 0:
		return nil, &MissingConfigurationError{Reason: "numRetries must not be negative"}
	default:
		resolved.NumRetries = Int(*c.NumRetries)
	}
	if resolved.CacheSearchResultsForSeconds < 0 {
		resolved.CacheSearchResultsForSeconds = 0
	}
	if resolved.CacheMaxEntries <= 0 {
		resolved.CacheMaxEntries = DefaultCacheMaxEntries
	}
	if resolved.LogLevel == "" {
		resolved.LogLevel = DefaultLogLevel
	}

	if len(c.AdditionalHeaders) > 0 {
		resolved.AdditionalHeaders = make(map[string]string, len(c.AdditionalHeaders))
		for k, v := range c.AdditionalHeaders {
			resolved.AdditionalHeaders[k] = v
		}
	}

	return &resolved, nil
}

// ResolveNode fills Protocol/Host/Port/Path from URL when given and checks
// that the node is addressable.
func ResolveNode(node models.NodeConfig) (models.NodeConfig, error) {
	if node.URL != "" {
		u, err := url.Parse(node.URL)
		if err != nil {
			return node, &MissingConfigurationError{Reason: fmt.Sprintf("invalid node url %q: %v", node.URL, err)}
		}

		node.Protocol = u.Scheme
		node.Host = u.Hostname()
		node.Path = strings.TrimSuffix(u.Path, "/")

		switch {
		case u.Port() != "":
			port, err := strconv.Atoi(u.Port())
			if err != nil {
				return node, &MissingConfigurationError{Reason: fmt.Sprintf("invalid port in node url %q", node.URL)}
			}
			node.Port = port
		case node.Protocol == "https":
			node.Port = 443
		case node.Protocol == "http":
			node.Port = 80
		}
	}

	if node.Protocol == "" || node.Host == "" || node.Port == 0 {
		return node, &MissingConfigurationError{
			Reason: "Ensure that nodes[].protocol, nodes[].host and nodes[].port are set",
		}
	}

	node.Protocol = strings.ToLower(node.Protocol)
	if node.Protocol != "http" && node.Protocol != "https" {
		return node, &MissingConfigurationError{Reason: fmt.Sprintf("unsupported protocol %q", node.Protocol)}
	}

	if node.Path != "" && !strings.HasPrefix(node.Path, "/") {
		node.Path = "/" + node.Path
	}
	node.Path = strings.TrimSuffix(node.Path, "/")

	return node, nil
}

// BaseURL renders protocol://host:port[path] for a resolved node.
func BaseURL(node models.NodeConfig) string {
	return node.Protocol + "://" + node.Host + ":" + strconv.Itoa(node.Port) + node.Path
}

func (c *Config) ConnectionTimeout() time.Duration {
	return seconds(c.ConnectionTimeoutSeconds)
}

func (c *Config) HealthcheckInterval() time.Duration {
	return seconds(c.HealthcheckIntervalSeconds)
}

// RetryInterval is the wait between attempts. Call it on a resolved Config.
func (c *Config) RetryInterval() time.Duration {
	if c.RetryIntervalSeconds == nil {
		return seconds(DefaultRetryIntervalSeconds)
	}
	return seconds(*c.RetryIntervalSeconds)
}

// Retries is the number of retries per logical call. Call it on a resolved Config.
func (c *Config) Retries() int {
	if c.NumRetries == nil {
		return DefaultNumRetries
	}
	return *c.NumRetries
}

// CacheTTL is the default lifetime of a cached search response.
func (c *Config) CacheTTL() time.Duration {
	return seconds(c.CacheSearchResultsForSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Int returns a pointer to v, for the optional integer settings.
func Int(v int) *int {
	return &v
}

// Float returns a pointer to v, for the optional float settings.
func Float(v float64) *float64 {
	return &v
}
