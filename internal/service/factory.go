// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/agent"
	"github.com/xkilldash9x/browserpilot/internal/browser"
	"github.com/xkilldash9x/browserpilot/internal/chat"
	"github.com/xkilldash9x/browserpilot/internal/config"
	"github.com/xkilldash9x/browserpilot/internal/metrics"
	"github.com/xkilldash9x/browserpilot/internal/search"
	"github.com/xkilldash9x/browserpilot/internal/store"
)

// runsQueueSize bounds how many finished runs may wait for persistence.
const runsQueueSize = 256

// ComponentFactory defines the interface for creating the set of components needed to
// run automation tasks. Commands depend on it so they can be tested with a fake.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles the full dependency injection and initialization of the components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	components.Registry = reg
	components.Metrics = metrics.NewCollector(reg)
	logger.Debug("Metrics registry initialized.")

	// 2. Database and run store (optional)
	if cfg.Database().URL == "" {
		logger.Warn("Database URL (BROWSERPILOT_DATABASE_URL) is not set. Proceeding without run persistence.")
	} else {
		pool, err := InitializeDBPool(ctx, cfg.Database(), logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		// Add to components immediately so the deferred Shutdown can close it if later steps fail.
		components.DBPool = pool

		runStore, err := store.New(ctx, pool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize run store: %w", err)
			return nil, initializationErr
		}
		if err := runStore.EnsureSchema(ctx); err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.Store = runStore

		components.runsChan = make(chan store.Run, runsQueueSize)
		components.consumerWG = &sync.WaitGroup{}
		// The consumer stops when Shutdown closes the channel, not when ctx is cancelled,
		// so runs that finish during a graceful stop are still written.
		StartRunConsumer(context.WithoutCancel(ctx), components.consumerWG, components.runsChan, runStore, logger)
		logger.Debug("Run store and consumer initialized.")
	}

	// 3. Browser manager and executor. Chrome starts lazily on the first action.
	manager := browser.NewManager(cfg.Browser(), logger)
	components.Browser = manager
	components.Executor = browser.NewExecutor(manager, components.Metrics, logger)
	logger.Debug("Browser manager initialized.")

	// 4. Vision model
	llm, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.LLM = llm

	// 5. Search backend
	components.Search = search.NewClient(cfg.Search(), logger)
	if !components.Search.Enabled() {
		logger.Warn("No search API key configured; link lookups will be answered by the language model.")
	}

	// 6. Oracles and controller
	decider := agent.NewDecisionOracle(llm, cfg.Browser().Viewport, components.Metrics, logger)
	resolver := agent.NewSearchOracle(components.Search, llm, cfg.Search().SnippetLength, components.Metrics, logger)
	components.Controller = agent.NewController(components.Executor, decider, resolver, cfg.Agent(), components.Metrics, logger)
	components.Assistant = chat.NewIntentRouter(llm, components.Search, cfg.Search().SnippetLength, components.Metrics, logger)

	logger.Info("All components initialized successfully.")
	return components, nil
}
