// File: internal/service/components.go
package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/agent"
	"github.com/xkilldash9x/browserpilot/internal/browser"
	"github.com/xkilldash9x/browserpilot/internal/chat"
	"github.com/xkilldash9x/browserpilot/internal/metrics"
	"github.com/xkilldash9x/browserpilot/internal/search"
	"github.com/xkilldash9x/browserpilot/internal/store"
)

const (
	consumerDrainTimeout = 30 * time.Second
	browserCloseTimeout  = 30 * time.Second
)

// BrowserShutdowner is the part of the browser manager that Components needs.
type BrowserShutdowner interface {
	Shutdown(ctx context.Context) error
}

// Components holds every initialized service of a running process and owns their
// shutdown order.
type Components struct {
	Registry   *prometheus.Registry
	Metrics    *metrics.Collector
	DBPool     *pgxpool.Pool
	Store      *store.Store
	Browser    BrowserShutdowner
	Executor   *browser.Executor
	LLM        schemas.LLMClient
	Search     *search.Client
	Controller *agent.Controller
	Assistant  *chat.IntentRouter

	logger *zap.Logger

	// runsChan decouples run completion from persistence.
	runsChan chan store.Run
	// consumerWG is used to ensure the run consumer has finished draining the channel.
	consumerWG *sync.WaitGroup

	mu           sync.Mutex
	runsClosed   bool
	shutdownOnce sync.Once
}

// Record queues a finished run for persistence. It never blocks; with no database
// configured, or once shutdown has begun, the run is only logged.
func (c *Components) Record(chatID int64, res agent.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runsChan == nil || c.runsClosed {
		c.log().Debug("Run not persisted (no store).", zap.String("run_id", res.RunID))
		return
	}
	select {
	case c.runsChan <- store.RunFromResult(chatID, res):
	default:
		c.log().Warn("Run persistence queue is full, dropping run.", zap.String("run_id", res.RunID))
	}
}

// MetricsHandler serves the process registry in the Prometheus text format.
func (c *Components) MetricsHandler() http.Handler {
	if c.Registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

// ChatOptions wires the optional chat collaborators. The run lister is only set when a
// store exists, so the chat server falls back to its in-memory log otherwise.
func (c *Components) ChatOptions() chat.Options {
	opts := chat.Options{
		Recorder: c,
		Metrics:  c.MetricsHandler(),
	}
	if c.Store != nil {
		opts.Runs = c.Store
	}
	if c.Assistant != nil {
		opts.Assistant = c.Assistant
	}
	return opts
}

// Shutdown gracefully closes all components, ensuring resources are released in the correct order.
// It is safe to call more than once.
func (c *Components) Shutdown() {
	c.shutdownOnce.Do(c.shutdown)
}

func (c *Components) shutdown() {
	logger := c.log()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Close the runs channel. This signals the consumer to drain and stop.
	c.mu.Lock()
	if c.runsChan != nil && !c.runsClosed {
		close(c.runsChan)
		c.runsClosed = true
		logger.Debug("Runs channel closed.")
	}
	c.mu.Unlock()

	// 2. Wait for the consumer to write out what it still holds.
	if c.consumerWG != nil {
		if timedWait(c.consumerWG, consumerDrainTimeout) {
			logger.Debug("Run consumer finished processing.")
		} else {
			logger.Warn("Run consumer did not finish in time; some runs may not be persisted.")
		}
	}

	// 3. Shut down the browser, flushing the profile directory.
	if c.Browser != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), browserCloseTimeout)
		defer cancel()

		if err := c.Browser.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	// 4. Release model clients.
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		}
	}

	// 5. Close the database connection pool.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}

func (c *Components) log() *zap.Logger {
	if c.logger == nil {
		return zap.NewNop()
	}
	return c.logger
}

// timedWait waits for wg, giving up after timeout. It reports whether the wait completed.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
