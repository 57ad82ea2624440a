// Command reconcile-cli drives the reconciliation facade directly
// against the configured database, for operators who want a scriptable
// alternative to the HTTP surface. Exit codes follow sysexits:
// 0 success, 64 usage error, 65 validation failure, 70 internal error.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fatturaanalyzer/reconciler/internal/anagraphics"
	"github.com/fatturaanalyzer/reconciler/internal/batch"
	"github.com/fatturaanalyzer/reconciler/internal/combination"
	"github.com/fatturaanalyzer/reconciler/internal/config"
	"github.com/fatturaanalyzer/reconciler/internal/facade"
	"github.com/fatturaanalyzer/reconciler/internal/ledger"
	"github.com/fatturaanalyzer/reconciler/internal/matching"
	"github.com/fatturaanalyzer/reconciler/internal/parser"
	"github.com/fatturaanalyzer/reconciler/internal/pattern"
	"github.com/fatturaanalyzer/reconciler/internal/resolver"
	"github.com/fatturaanalyzer/reconciler/internal/store"
	"github.com/fatturaanalyzer/reconciler/internal/suggest"
)

const (
	exitUsage      = 64
	exitValidation = 65
	exitInternal   = 70
)

func main() {
	root := &cobra.Command{
		Use:   "reconcile-cli",
		Short: "Drive the FatturaAnalyzer reconciliation engine from the command line",
	}

	var txnID, cpID, invID int64
	var amount float64
	var invoiceID, transactionID int64

	suggest1to1Cmd := &cobra.Command{
		Use:   "suggest-1to1",
		Short: "List single-item match suggestions for a transaction or invoice",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(func(ctx context.Context, f *facade.Facade) facade.Envelope {
				return f.GetSuggestions1to1(ctx, invID, txnID, cpID)
			})
		},
	}
	suggest1to1Cmd.Flags().Int64Var(&txnID, "transaction-id", 0, "anchor bank transaction id")
	suggest1to1Cmd.Flags().Int64Var(&invID, "invoice-id", 0, "anchor invoice id (alternative to --transaction-id)")
	suggest1to1Cmd.Flags().Int64Var(&cpID, "counterparty-id", 0, "optional counterparty filter")

	suggestNtoMCmd := &cobra.Command{
		Use:   "suggest-ntom",
		Short: "List combination (n:m) match suggestions for a transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(func(ctx context.Context, f *facade.Facade) facade.Envelope {
				return f.GetSuggestionsNtoM(ctx, txnID, cpID)
			})
		},
	}
	suggestNtoMCmd.Flags().Int64Var(&txnID, "transaction-id", 0, "bank transaction id (required)")
	suggestNtoMCmd.Flags().Int64Var(&cpID, "counterparty-id", 0, "counterparty id (required)")
	_ = suggestNtoMCmd.MarkFlagRequired("transaction-id")
	_ = suggestNtoMCmd.MarkFlagRequired("counterparty-id")

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a single invoice/transaction match",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(func(ctx context.Context, f *facade.Facade) facade.Envelope {
				return f.ApplyMatch(ctx, invID, txnID, amount)
			})
		},
	}
	addMatchFlags(applyCmd.Flags(), &invID, &txnID, &amount)
	_ = applyCmd.MarkFlagRequired("invoice-id")
	_ = applyCmd.MarkFlagRequired("transaction-id")
	_ = applyCmd.MarkFlagRequired("amount")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Dry-run a match's preflight checks with no write",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(func(ctx context.Context, f *facade.Facade) facade.Envelope {
				return f.ValidateMatch(ctx, invID, txnID, amount)
			})
		},
	}
	addMatchFlags(validateCmd.Flags(), &invID, &txnID, &amount)
	_ = validateCmd.MarkFlagRequired("invoice-id")
	_ = validateCmd.MarkFlagRequired("transaction-id")
	_ = validateCmd.MarkFlagRequired("amount")

	autoCmd := &cobra.Command{
		Use:   "auto",
		Short: "Greedily auto-reconcile a candidate set of invoices against transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			invoiceIDs, _ := cmd.Flags().GetInt64Slice("invoice-ids")
			transactionIDs, _ := cmd.Flags().GetInt64Slice("transaction-ids")
			return withFacade(func(ctx context.Context, f *facade.Facade) facade.Envelope {
				return f.AutoReconcile(ctx, invoiceIDs, transactionIDs)
			})
		},
	}
	autoCmd.Flags().Int64Slice("invoice-ids", nil, "candidate invoice ids")
	autoCmd.Flags().Int64Slice("transaction-ids", nil, "candidate transaction ids")

	ignoreCmd := &cobra.Command{
		Use:   "ignore",
		Short: "Mark a transaction as ignored",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(func(ctx context.Context, f *facade.Facade) facade.Envelope {
				return f.IgnoreTransaction(ctx, txnID)
			})
		},
	}
	ignoreCmd.Flags().Int64Var(&txnID, "transaction-id", 0, "bank transaction id (required)")
	_ = ignoreCmd.MarkFlagRequired("transaction-id")

	unignoreCmd := &cobra.Command{
		Use:   "unignore",
		Short: "Clear a transaction's ignored status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(func(ctx context.Context, f *facade.Facade) facade.Envelope {
				return f.UnignoreTransaction(ctx, txnID)
			})
		},
	}
	unignoreCmd.Flags().Int64Var(&txnID, "transaction-id", 0, "bank transaction id (required)")
	_ = unignoreCmd.MarkFlagRequired("transaction-id")

	undoCmd := &cobra.Command{
		Use:   "undo",
		Short: "Detach every link touching a transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(func(ctx context.Context, f *facade.Facade) facade.Envelope {
				return f.UndoReconciliation(ctx, transactionID)
			})
		},
	}
	undoCmd.Flags().Int64Var(&transactionID, "transaction-id", 0, "bank transaction id (required)")
	_ = undoCmd.MarkFlagRequired("transaction-id")

	undoByInvoiceCmd := &cobra.Command{
		Use:   "undo-by-invoice",
		Short: "Detach every link touching an invoice",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(func(ctx context.Context, f *facade.Facade) facade.Envelope {
				return f.UndoReconciliationByInvoice(ctx, invoiceID)
			})
		},
	}
	undoByInvoiceCmd.Flags().Int64Var(&invoiceID, "invoice-id", 0, "invoice id (required)")
	_ = undoByInvoiceCmd.MarkFlagRequired("invoice-id")

	recomputeCmd := &cobra.Command{
		Use:   "recompute-all",
		Short: "Sweep every invoice and transaction, recomputing status from ground truth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(func(ctx context.Context, f *facade.Facade) facade.Envelope {
				return f.RecomputeAll(ctx)
			})
		},
	}

	importCmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import FatturaPA XML/P7M invoices and bank CSV statements",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(args)
		},
	}

	root.AddCommand(suggest1to1Cmd, suggestNtoMCmd, applyCmd, validateCmd, autoCmd,
		ignoreCmd, unignoreCmd, undoCmd, undoByInvoiceCmd, recomputeCmd, importCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
}

// addMatchFlags registers the (invoice, transaction, amount) triple the
// apply and validate subcommands both take.
func addMatchFlags(fs *pflag.FlagSet, invID, txnID *int64, amount *float64) {
	fs.Int64Var(invID, "invoice-id", 0, "invoice id (required)")
	fs.Int64Var(txnID, "transaction-id", 0, "bank transaction id (required)")
	fs.Float64Var(amount, "amount", 0, "amount (required)")
}

// withFacade connects to the configured database, wires the facade the
// same way cmd/reconciler does, runs op, prints its envelope as JSON,
// and maps the result to a process exit code.
func withFacade(op func(ctx context.Context, f *facade.Facade) facade.Envelope) error {
	cfg := config.Load()
	ctx := context.Background()

	dbStore, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(exitInternal)
	}
	defer dbStore.Close()

	cache := anagraphics.New(cfg.CacheMaxSize, cfg.CacheTTL)
	if counterparties, err := dbStore.ListCounterparties(ctx); err == nil {
		for _, cp := range counterparties {
			cache.Put(cp)
		}
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

	env := op(ctx, f)

	out, _ := json.MarshalIndent(env, "", "  ")
	fmt.Println(string(out))

	if env.Success {
		return nil
	}
	if env.Error != nil && env.Error.Kind == "Validation" {
		os.Exit(exitValidation)
	}
	os.Exit(exitInternal)
	return nil
}

// runImport reads each path as a file into memory and hands the batch
// to the importer directly; it bypasses the facade because import is a
// file-ingestion concern the reconciliation core never touches.
func runImport(paths []string) error {
	cfg := config.Load()
	ctx := context.Background()

	dbStore, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(exitInternal)
	}
	defer dbStore.Close()

	cache := anagraphics.New(cfg.CacheMaxSize, cfg.CacheTTL)
	if counterparties, err := dbStore.ListCounterparties(ctx); err == nil {
		for _, cp := range counterparties {
			cache.Put(cp)
		}
	}

	files := make(map[string][]byte, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", p, err)
			os.Exit(exitUsage)
		}
		files[filepath.Base(p)] = data
	}

	importer := parser.New(dbStore, cache, parser.OwnCompany{
		FiscalID: cfg.OwnFiscalID,
		TaxCode:  cfg.OwnTaxCode,
	})
	result := importer.ImportBatch(ctx, files)

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Errors > 0 {
		os.Exit(exitInternal)
	}
	return nil
}
