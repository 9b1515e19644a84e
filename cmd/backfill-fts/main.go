// Command backfill-fts re-indexes every existing memory into the
// SQLite FTS5 index using the same summary-preferred-then-redacted
// rule applied during normal ingestion. It is a one-time repair tool
// for databases whose FTS table was dropped, corrupted, or created
// after memories already existed. Grounded on
// original_source/scripts/backfill_fts.py.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/perolyat/bartholomew/internal/config"
	"github.com/perolyat/bartholomew/internal/memory"
)

var (
	dbPath   string
	batch    int
	optimize bool
	dryRun   bool
	verbose  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "backfill-fts",
		Short: "Backfill the FTS5 index for an existing Bartholomew memory database",
		RunE:  runBackfill,
	}
	rootCmd.Flags().StringVar(&dbPath, "db", "", "path to the SQLite database file (required)")
	rootCmd.Flags().IntVar(&batch, "batch", 500, "batch size for progress logging and commits")
	rootCmd.Flags().BoolVar(&optimize, "optimize", true, "optimize the FTS index after backfill")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview changes without writing to the database")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	_ = rootCmd.MarkFlagRequired("db")
	rootCmd.Flags().Bool("no-optimize", false, "skip FTS index optimization")
	rootCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if noOpt, _ := cmd.Flags().GetBool("no-optimize"); noOpt {
			optimize = false
		}
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("backfill failed")
		os.Exit(1)
	}
}

// stats tracks backfill outcomes, mirroring BackfillStats.report().
type stats struct {
	total, indexed, skipped, deleted, errors int
}

func (s stats) report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(&b, "FTS Backfill Complete\n")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(&b, "Total memories:     %d\n", s.total)
	fmt.Fprintf(&b, "Indexed:            %d\n", s.indexed)
	fmt.Fprintf(&b, "Skipped (no text):  %d\n", s.skipped)
	fmt.Fprintf(&b, "Deleted (denied):   %d\n", s.deleted)
	fmt.Fprintf(&b, "Errors:             %d\n", s.errors)
	fmt.Fprintf(&b, "%s", strings.Repeat("=", 60))
	return b.String()
}

type row struct {
	id                   int64
	kind, key, value, ts string
	summary              sql.NullString
}

func runBackfill(cmd *cobra.Command, args []string) error {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database not found: %s", dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	kernelCfg, err := config.LoadKernelConfig("")
	if err != nil {
		log.Warn().Err(err).Msg("failed to load kernel.yaml, using defaults")
		kernelCfg = config.DefaultKernelConfig()
	}
	policyCfg, err := config.LoadPolicyConfig("")
	if err != nil {
		log.Warn().Err(err).Msg("failed to load policy.yaml, using defaults")
		policyCfg = config.DefaultPolicyConfig()
	}
	policy := memory.Policy{DisallowStrongOnly: policyCfg.Indexing.DisallowStrongOnly}

	rules := memory.NewMemoryRulesEngine("")
	defer rules.StopWatcher()
	keys := memory.NewKeyProvider()
	enc := memory.NewEncryptionEngine(keys)

	fts := memory.NewFTSClient(db)
	if dryRun {
		log.Info().Msg("DRY RUN MODE - no changes will be written")
	} else {
		log.Info().Msg("initializing FTS schema")
		if err := fts.InitSchema(); err != nil {
			return fmt.Errorf("init fts schema: %w", err)
		}
	}

	ctx := context.Background()
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&total); err != nil {
		return fmt.Errorf("count memories: %w", err)
	}
	log.Info().Int("total", total).Msg("found memories to process")
	if total == 0 {
		log.Info().Msg("no memories to backfill")
		return nil
	}

	rows, err := db.QueryContext(ctx, `SELECT id, kind, key, value, summary, ts FROM memories ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query memories: %w", err)
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.kind, &r.key, &r.value, &r.summary, &r.ts); err != nil {
			rows.Close()
			return fmt.Errorf("scan memory row: %w", err)
		}
		all = append(all, r)
	}
	rows.Close()

	st := stats{total: total}
	var tx *sql.Tx
	inBatch := 0

	for i, r := range all {
		if !dryRun && inBatch == 0 {
			tx, err = db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin batch tx: %w", err)
			}
		}

		action := backfillOne(ctx, tx, fts, rules, enc, policy, kernelCfg.FTS.IndexMode, r, dryRun)
		switch action {
		case "indexed":
			st.indexed++
		case "skipped":
			st.skipped++
		case "deleted":
			st.deleted++
		default:
			st.errors++
		}
		inBatch++

		isLast := i == len(all)-1
		if !dryRun && (inBatch >= batch || isLast) {
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit batch: %w", err)
			}
			inBatch = 0
			if !isLast {
				log.Debug().Int("row", i+1).Int("total", st.total).Msg("committed batch")
			}
		}
	}

	if optimize && !dryRun {
		log.Info().Msg("optimizing FTS index")
		if _, err := db.ExecContext(ctx, `INSERT INTO memory_fts(memory_fts) VALUES('optimize')`); err != nil {
			log.Warn().Err(err).Msg("fts optimize failed")
		}
	}

	fmt.Println(st.report())
	if st.errors > 0 {
		return fmt.Errorf("%d memories failed to backfill", st.errors)
	}
	return nil
}

// backfillOne mirrors backfill_memory: decrypt, evaluate rules,
// redact, pick index text by the same summary-preferred rule
// ingestion uses, then write (or, in dry-run mode, just report).
func backfillOne(ctx context.Context, tx *sql.Tx, fts *memory.FTSClient, rules *memory.MemoryRulesEngine, enc *memory.EncryptionEngine, policy memory.Policy, defaultIndexMode string, r row, dryRun bool) string {
	plainValue := enc.TryDecryptIfEnvelope(r.value)
	var plainSummary string
	if r.summary.Valid && r.summary.String != "" {
		plainSummary = enc.TryDecryptIfEnvelope(r.summary.String)
	}

	evaluated := rules.Evaluate(memory.Candidate{Kind: r.kind, Key: r.key, Content: plainValue})

	if !evaluated.FTSIndex || !memory.CanIndex(evaluated, policy) {
		if !dryRun {
			if err := fts.RemoveTx(ctx, tx, r.id); err != nil {
				log.Error().Err(err).Int64("memory_id", r.id).Msg("failed to remove denied memory from fts")
				return "error"
			}
		}
		log.Debug().Int64("memory_id", r.id).Str("kind", r.kind).Str("key", r.key).Msg("deleted (policy denied)")
		return "deleted"
	}

	redacted := plainValue
	if evaluated.RedactStrategy != "" {
		redacted = memory.ApplyRedaction(plainValue, evaluated)
	}

	indexMode := defaultIndexMode
	if indexMode == "" {
		indexMode = "summary_preferred"
	}

	var indexText, source string
	if plainSummary != "" && indexMode == "summary_preferred" {
		indexText, source = plainSummary, "summary"
	} else {
		indexText, source = redacted, "redacted_value"
	}

	if strings.TrimSpace(indexText) == "" {
		log.Warn().Int64("memory_id", r.id).Str("kind", r.kind).Str("key", r.key).Str("source", source).Msg("no indexable text")
		return "skipped"
	}

	if !dryRun {
		if err := fts.ReindexTx(ctx, tx, r.id, indexText); err != nil {
			log.Error().Err(err).Int64("memory_id", r.id).Msg("failed to reindex memory")
			return "error"
		}
	}
	log.Debug().Int64("memory_id", r.id).Str("kind", r.kind).Str("key", r.key).Int("chars", len(indexText)).Str("source", source).Msg("indexed")
	return "indexed"
}
