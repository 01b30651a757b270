package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"searchcore/pkg/client"
	"searchcore/pkg/config"
	"searchcore/pkg/log"
	"searchcore/pkg/models"
	"searchcore/pkg/server/proxy"
)

const (
	gracefulShutdownTimeout = 10 * time.Second
	apiKeyEnv               = "TYPESENSE_API_KEY"
)

func main() {
	// Initialize logger
	_ = log.Logger

	// Parse command-line flags
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	nodes := flag.String("nodes", "", "Comma-separated list of node URLs (e.g., http://node1:8108,http://node2:8108)")
	nearest := flag.String("nearest", "", "URL of the nearest node, tried before the others")
	apiKey := flag.String("api-key", "", "API key (defaults to $"+apiKeyEnv+")")
	addr := flag.String("addr", ":8109", "Proxy listen address")
	numRetries := flag.Int("num-retries", -1, "Retries per call (-1 = one per node, 0 = no retries)")
	retryInterval := flag.Float64("retry-interval", -1, "Seconds to wait between attempts (-1 = default)")
	timeout := flag.Float64("timeout", 0, "Per-attempt timeout in seconds")
	healthcheckInterval := flag.Float64("healthcheck-interval", 0, "Seconds before an unhealthy node is tried again")
	cacheTTL := flag.Float64("cache-ttl", 0, "Seconds to cache search results (0 = deduplicate only)")
	serverCache := flag.Bool("server-cache", false, "Ask nodes to use their server-side search cache")
	logLevel := flag.String("log-level", "", "Log level: trace, debug, info, warn, error, silent")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
		}
		cfg = loaded
	}

	// Flags override the file
	if *nodes != "" {
		cfg.Nodes = nil
		for _, node := range strings.Split(*nodes, ",") {
			cfg.Nodes = append(cfg.Nodes, models.NodeConfig{URL: strings.TrimSpace(node)})
		}
	}
	if *nearest != "" {
		cfg.NearestNode = &models.NodeConfig{URL: strings.TrimSpace(*nearest)}
	}
	if *apiKey != "" {
		cfg.APIKey = *apiKey
	} else if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(apiKeyEnv)
	}
	if *numRetries >= 0 {
		cfg.NumRetries = config.Int(*numRetries)
	}
	if *retryInterval >= 0 {
		cfg.RetryIntervalSeconds = config.Float(*retryInterval)
	}
	if *timeout > 0 {
		cfg.ConnectionTimeoutSeconds = *timeout
	}
	if *healthcheckInterval > 0 {
		cfg.HealthcheckIntervalSeconds = *healthcheckInterval
	}
	if *cacheTTL > 0 {
		cfg.CacheSearchResultsForSeconds = *cacheTTL
	}
	if *serverCache {
		cfg.UseServerSideSearchCache = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Configure logger
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	if *debug {
		log.SetDebugMode()
		log.Debug().Msg("Debug mode enabled")
	}

	searchClient, err := client.New(*cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	resolved := searchClient.Config()
	log.Info().
		Int("nodes", len(resolved.Nodes)).
		Int("num_retries", resolved.Retries()).
		Dur("timeout", resolved.ConnectionTimeout()).
		Dur("healthcheck_interval", resolved.HealthcheckInterval()).
		Dur("cache_ttl", resolved.CacheTTL()).
		Msg("Configured nodes")

	pServer := proxy.NewProxyServer(searchClient, gracefulShutdownTimeout)
	if err := pServer.Start(*addr); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}

	os.Exit(0)
}
