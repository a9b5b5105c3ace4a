package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/config"
	"github.com/adronaut/strategy-cli/internal/cost"
	"github.com/adronaut/strategy-cli/internal/insight"
	"github.com/adronaut/strategy-cli/internal/llm"
	"github.com/adronaut/strategy-cli/internal/store"
	"github.com/adronaut/strategy-cli/internal/workflow"
	anthropicpkg "github.com/adronaut/strategy-cli/pkg/anthropic"
	"github.com/adronaut/strategy-cli/pkg/openai"
)

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "strategy.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv holds the store and controller shared by the run, resume, and
// serve commands.
type pipelineEnv struct {
	Store      store.Store
	Controller *workflow.Controller
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, the provider stack, and the workflow
// controller. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("pipeline"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	primary, err := buildProvider(cfg.LLM.Provider)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var fallback llm.Provider
	if name := cfg.LLM.FallbackProvider; name != "" && name != cfg.LLM.Provider {
		fb, fbErr := buildProvider(name)
		if fbErr != nil {
			zap.L().Warn("fallback provider unavailable, continuing without it",
				zap.String("provider", name),
				zap.Error(fbErr),
			)
		} else {
			fallback = fb
		}
	}

	catalog := insight.DefaultCatalog()
	if cfg.Insights.CatalogPath != "" {
		loaded, loadErr := insight.LoadCatalog(cfg.Insights.CatalogPath)
		if loadErr != nil {
			_ = st.Close()
			return nil, eris.Wrap(loadErr, "load insight catalog")
		}
		catalog = loaded
		zap.L().Info("insight catalog loaded",
			zap.String("path", cfg.Insights.CatalogPath),
			zap.Int("directions", catalog.Len()),
		)
	}

	calc := cost.NewCalculator(pricingRates(cfg.Pricing))
	orch := llm.NewOrchestrator(primary, fallback, cfg.LLM.MaxTokens, calc)
	ctrl := workflow.New(cfg, st, orch, catalog)

	return &pipelineEnv{Store: st, Controller: ctrl}, nil
}

// buildProvider constructs one named generative-model provider from config.
func buildProvider(name string) (llm.Provider, error) {
	switch name {
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("anthropic key is required (STRATEGY_ANTHROPIC_KEY)")
		}
		return llm.NewAnthropicProvider(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model), nil
	case "openai":
		if cfg.OpenAI.Key == "" {
			return nil, eris.New("openai key is required (STRATEGY_OPENAI_KEY)")
		}
		client := openai.NewClient(cfg.OpenAI.Key,
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithModel(cfg.OpenAI.Model),
		)
		return llm.NewOpenAIProvider(client, cfg.OpenAI.Model), nil
	default:
		return nil, eris.Errorf("unknown llm provider: %s", name)
	}
}

// pricingRates overlays configured pricing on the default rate table.
func pricingRates(p config.PricingConfig) cost.Rates {
	rates := cost.DefaultRates()
	for m, r := range p.Anthropic {
		rates.Anthropic[m] = cost.ModelRate{Input: r.Input, Output: r.Output}
	}
	for m, r := range p.OpenAI {
		rates.OpenAI[m] = cost.ModelRate{Input: r.Input, Output: r.Output}
	}
	return rates
}
