// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/config"
	"github.com/xkilldash9x/browserpilot/internal/llmclient"
	"github.com/xkilldash9x/browserpilot/internal/store"
)

// Batching parameters of the run consumer.
const (
	runBatchSize    = 20
	runBatchTimeout = 2 * time.Second
)

// RunSaver persists a batch of finished runs. *store.Store satisfies it.
type RunSaver interface {
	SaveRuns(ctx context.Context, runs []store.Run) error
}

// InitializeDBPool connects to PostgreSQL and verifies the connection.
func InitializeDBPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("Database connection established.", zap.String("host", poolConfig.ConnConfig.Host))
	return pool, nil
}

// InitializeLLMClient creates the primary/fallback model router.
func InitializeLLMClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	router, err := llmclient.NewRouterFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. The controller cannot decide actions without it.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return router, nil
}

// StartRunConsumer launches a goroutine that reads finished runs from runsChan and
// persists them in batches. It manages its lifecycle using the provided WaitGroup.
func StartRunConsumer(ctx context.Context, wg *sync.WaitGroup, runsChan <-chan store.Run, saver RunSaver, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting run consumer goroutine.")
		defer logger.Info("Run consumer goroutine shut down.")

		batch := make([]store.Run, 0, runBatchSize)
		ticker := time.NewTicker(runBatchTimeout)
		defer ticker.Stop()

		processBatch := func() {
			if len(batch) == 0 {
				return
			}

			logger.Debug("Persisting run batch.", zap.Int("count", len(batch)))

			// Persistence must outlive a cancelled main context during shutdown.
			persistCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := saver.SaveRuns(persistCtx, batch); err != nil {
				logger.Error("Failed to persist run batch. Data may be lost.", zap.Error(err), zap.Int("batch_size", len(batch)))
			}

			batch = batch[:0]
		}

		for {
			select {
			case run, ok := <-runsChan:
				if !ok {
					logger.Info("Runs channel closed, processing remaining batch and shutting down.")
					processBatch()
					return
				}

				batch = append(batch, run)
				if len(batch) >= runBatchSize {
					processBatch()
					ticker.Reset(runBatchTimeout)
				}

			case <-ticker.C:
				processBatch()

			case <-ctx.Done():
				logger.Warn("Run consumer context canceled, attempting to drain channel and process remaining batch.")
				drainChannel(runsChan, &batch)
				processBatch()
				return
			}
		}
	}()
}

// drainChannel reads whatever is buffered in the channel into the batch. It stops
// when the channel is closed or the buffer is empty.
func drainChannel(runsChan <-chan store.Run, batch *[]store.Run) {
	for {
		select {
		case run, ok := <-runsChan:
			if !ok {
				return
			}
			*batch = append(*batch, run)
		default:
			return
		}
	}
}
