package main

import (
	"context"
	"log"

	"github.com/fatturaanalyzer/reconciler/internal/anagraphics"
	"github.com/fatturaanalyzer/reconciler/internal/api"
	"github.com/fatturaanalyzer/reconciler/internal/batch"
	"github.com/fatturaanalyzer/reconciler/internal/combination"
	"github.com/fatturaanalyzer/reconciler/internal/config"
	"github.com/fatturaanalyzer/reconciler/internal/facade"
	"github.com/fatturaanalyzer/reconciler/internal/ledger"
	"github.com/fatturaanalyzer/reconciler/internal/matching"
	"github.com/fatturaanalyzer/reconciler/internal/pattern"
	"github.com/fatturaanalyzer/reconciler/internal/resolver"
	"github.com/fatturaanalyzer/reconciler/internal/store"
	"github.com/fatturaanalyzer/reconciler/internal/suggest"
)

func main() {
	log.Println("Starting FatturaAnalyzer Reconciliation Engine...")

	cfg := config.Load()

	ctx := context.Background()
	dbStore, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer dbStore.Close()

	if err := dbStore.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: schema init failed: %v", err)
	}

	// Warm-load the counterparty anagraphics cache from the store
	// so the resolver's fast path never blocks on a cold cache.
	cache := anagraphics.New(cfg.CacheMaxSize, cfg.CacheTTL)
	counterparties, err := dbStore.ListCounterparties(ctx)
	if err != nil {
		log.Printf("Warning: failed to warm-load counterparty cache: %v", err)
	} else {
		for _, cp := range counterparties {
			cache.Put(cp)
		}
		log.Printf("Warm-loaded %d counterparties into the anagraphics cache", len(counterparties))
	}

	res := resolver.New(cache, cfg.CacheTTL)
	analyzer := matching.New()
	combos := combination.New(combination.Limits{
		MaxWallclock:         cfg.SearchMaxWallclock,
		MaxCombinationSize:   cfg.SearchMaxCombinationSize,
		MaxIterationsPerSize: 200000,
		Workers:              cfg.EngineWorkers,
	})
	patterns := pattern.New(cfg.CacheMaxSize, cfg.PatternTTL)

	suggester := suggest.New(dbStore, res, analyzer, combos, patterns, cfg.MatchMinConfidence)
	applier := ledger.New(dbStore)
	batchProc := batch.New(dbStore)

	f := facade.NewFacade(dbStore, suggester, applier, batchProc)

	wsHub := api.NewHub()
	go wsHub.Run()

	router := api.SetupRouter(dbStore, f, wsHub)

	log.Printf("Engine listening on :%s\n", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("FATAL: server exited: %v", err)
	}
}
