package apicall

import (
	"context"
	"errors"
	"time"

	"searchcore/pkg/cluster"
	"searchcore/pkg/log"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Coordinator runs one logical call: it asks the selector for a node it has not
// tried yet, makes a sequential attempt, and fails over on node-level errors
// until the attempt budget is used up.
type Coordinator struct {
	selector      *cluster.Selector
	executor      *Executor
	numRetries    int
	retryInterval time.Duration
	clock         clock.Clock
	metrics       *Metrics
}

// NewCoordinator creates a coordinator that makes at most numRetries+1
// attempts per call, waiting retryInterval between them.
func NewCoordinator(selector *cluster.Selector, executor *Executor, numRetries int, retryInterval time.Duration,
	clk clock.Clock, metrics *Metrics,
) *Coordinator {
	if numRetries < 0 {
		numRetries = 0
	}
	if clk == nil {
		clk = clock.New()
	}
	if metrics == nil {
		metrics, _ = NewMetrics(nil)
	}

	return &Coordinator{
		selector:      selector,
		executor:      executor,
		numRetries:    numRetries,
		retryInterval: retryInterval,
		clock:         clk,
		metrics:       metrics,
	}
}

// Do executes req. Caller errors (*RequestMalformedError) and cancellation
// end the call at once; node-level failures are retried on the next node.
func (c *Coordinator) Do(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	body, err := EncodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	logger := log.With("coordinator").With().
		Str("call_id", uuid.NewString()).
		Str("method", req.Method).
		Str("path", req.Path).
		Logger()

	budget := c.numRetries + 1
	tried := make(cluster.Tried, budget)
	var last error

	for attempt := 1; attempt <= budget; attempt++ {
		if ctx.Err() != nil {
			c.metrics.call(req.Method, outcomeCancelled, attempt-1, start)
			return nil, cancelled(ctx)
		}

		node := c.selector.Next(tried)
		tried.Add(node)
		logger.Debug().Int("attempt", attempt).Str("node", node.BaseURL()).Msg("Attempting request")

		resp, err := c.executor.Execute(ctx, node, req, body)
		switch {
		case err == nil:
			c.metrics.attempt(node.BaseURL(), outcomeSuccess)
			c.metrics.call(req.Method, outcomeSuccess, attempt, start)
			return resp, nil

		case errors.Is(err, ErrCancelled):
			c.metrics.attempt(node.BaseURL(), outcomeCancelled)
			c.metrics.call(req.Method, outcomeCancelled, attempt, start)
			return nil, err

		case IsNodeFailure(err):
			c.metrics.attempt(node.BaseURL(), outcomeNodeFailure)
			last = err
			logger.Warn().Err(err).
				Int("attempt", attempt).
				Int("budget", budget).
				Str("node", node.BaseURL()).
				Msg("Request to node failed")

		default:
			c.metrics.attempt(node.BaseURL(), outcomeCallerError)
			c.metrics.call(req.Method, outcomeCallerError, attempt, start)
			return nil, err
		}

		if attempt < budget {
			if err := c.wait(ctx); err != nil {
				c.metrics.call(req.Method, outcomeCancelled, attempt, start)
				return nil, err
			}
		}
	}

	c.metrics.call(req.Method, outcomeExhausted, budget, start)
	logger.Error().Err(last).Int("attempts", budget).Msg("All nodes unreachable")

	return nil, &AllNodesUnreachableError{Attempts: budget, Last: last}
}

func (c *Coordinator) wait(ctx context.Context) error {
	if c.retryInterval <= 0 {
		return nil
	}

	timer := c.clock.Timer(c.retryInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return cancelled(ctx)
	}
}
