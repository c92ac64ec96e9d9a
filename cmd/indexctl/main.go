// indexctl administers the index from the command line: schema init, full
// builds and delta imports from JSONL corpora, single-document mutations,
// ranked queries, compaction, integrity audits, snapshot export/restore,
// and publishing corpora onto the mutation feed. Results print as JSON on
// stdout; logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/builder"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/compactor"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/query"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
)

const usage = `usage: indexctl <command> [flags]

commands:
  init      create or migrate the index schema
  build     full build from a JSONL corpus (replaces existing content)
  import    fold a JSONL delta corpus into the existing index
  insert    index one document
  delete    tombstone one document
  modify    re-index one document under the same id
  query     run a ranked query
  compact   reclaim tombstoned rows
  sanity    audit the store invariants
  stats     print index statistics
  export    write columnar snapshots of every relation
  restore   replace store content from snapshots
  publish   send a JSONL corpus to the mutation feed

run 'indexctl <command> -h' for command flags`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "init":
		err = runInit(ctx, args)
	case "build":
		err = runBuild(ctx, args, false)
	case "import":
		err = runBuild(ctx, args, true)
	case "insert":
		err = runInsert(ctx, args)
	case "delete":
		err = runDelete(ctx, args)
	case "modify":
		err = runModify(ctx, args)
	case "query":
		err = runQuery(ctx, args)
	case "compact":
		err = runCompact(ctx, args)
	case "sanity":
		err = runSanity(ctx, args)
	case "stats":
		err = runStats(ctx, args)
	case "export":
		err = runExport(ctx, args)
	case "restore":
		err = runRestore(ctx, args)
	case "publish":
		err = runPublish(ctx, args)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", command, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "indexctl %s: %v\n", command, err)
		os.Exit(1)
	}
}

// newFlagSet creates a command FlagSet carrying the shared -config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (optional)")
	return fs, configPath
}

func openStore(ctx context.Context, configPath string) (*store.Store, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	st, err := store.OpenFromConfig(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runInit(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("init")
	fs.Parse(args)
	st, _, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return printJSON(map[string]string{"status": "initialised", "driver": st.Driver()})
}

func runBuild(ctx context.Context, args []string, delta bool) error {
	name := "build"
	if delta {
		name = "import"
	}
	fs, configPath := newFlagSet(name)
	corpus := fs.String("corpus", "", "JSONL corpus path (required)")
	fs.Parse(args)
	if *corpus == "" {
		return fmt.Errorf("-corpus is required")
	}

	st, cfg, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(*corpus)
	if err != nil {
		return fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()

	b := builder.New(st, cfg.Index)
	var report builder.Report
	if delta {
		report, err = b.ImportDelta(ctx, builder.NewJSONLSource(f))
	} else {
		report, err = b.Build(ctx, builder.NewJSONLSource(f))
	}
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runInsert(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("insert")
	docID := fs.Int64("id", 0, "document id (0 assigns the next unused one)")
	text := fs.String("text", "", "document text (required)")
	fs.Parse(args)
	if *text == "" {
		return fmt.Errorf("-text is required")
	}

	st, _, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := mutation.NewEngine(st, nil)
	id := *docID
	if id > 0 {
		err = engine.InsertWithID(ctx, id, *text)
	} else {
		id, err = engine.Insert(ctx, *text)
	}
	if err != nil {
		return err
	}
	return printJSON(map[string]int64{"doc_id": id})
}

func runDelete(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("delete")
	docID := fs.Int64("id", 0, "document id (required)")
	fs.Parse(args)
	if *docID <= 0 {
		return fmt.Errorf("-id is required")
	}

	st, _, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := mutation.NewEngine(st, nil).Delete(ctx, *docID); err != nil {
		return err
	}
	return printJSON(map[string]any{"doc_id": *docID, "status": "tombstoned"})
}

func runModify(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("modify")
	docID := fs.Int64("id", 0, "document id (required)")
	text := fs.String("text", "", "new document text (required)")
	fs.Parse(args)
	if *docID <= 0 {
		return fmt.Errorf("-id is required")
	}
	if *text == "" {
		return fmt.Errorf("-text is required")
	}

	st, _, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := mutation.NewEngine(st, nil).Modify(ctx, *docID, *text); err != nil {
		return err
	}
	return printJSON(map[string]any{"doc_id": *docID, "status": "modified"})
}

func runQuery(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("query")
	terms := fs.String("terms", "", "comma-separated query terms (required)")
	mode := fs.String("mode", "or", "query mode: and/or")
	topK := fs.Int("topk", 10, "number of results")
	fs.Parse(args)
	if *terms == "" {
		return fmt.Errorf("-terms is required")
	}

	queryMode, err := query.ParseMode(*mode)
	if err != nil {
		return err
	}

	st, _, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	results, err := query.NewEngine(st, nil).Search(ctx, strings.Split(*terms, ","), queryMode, *topK)
	if err != nil {
		return err
	}
	return printJSON(results)
}

func runCompact(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("compact")
	fs.Parse(args)

	st, cfg, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := compactor.New(st, nil, cfg.Compaction).Compact(ctx)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runSanity(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("sanity")
	fs.Parse(args)

	st, _, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	violations, err := st.VerifyIntegrity(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(map[string]any{
		"consistent": len(violations) == 0,
		"violations": violations,
	}); err != nil {
		return err
	}
	if len(violations) > 0 {
		return fmt.Errorf("%d integrity violations found", len(violations))
	}
	return nil
}

func runStats(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("stats")
	fs.Parse(args)

	st, _, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runExport(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("export")
	dir := fs.String("dir", "snapshots", "snapshot output directory")
	fs.Parse(args)

	st, _, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	infos, err := st.ExportSnapshots(ctx, *dir)
	if err != nil {
		return err
	}
	return printJSON(infos)
}

func runRestore(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("restore")
	dir := fs.String("dir", "snapshots", "snapshot input directory")
	fs.Parse(args)

	st, _, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	infos, err := st.RestoreSnapshots(ctx, *dir)
	if err != nil {
		return err
	}
	return printJSON(infos)
}

func runPublish(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (optional)")
	corpus := fs.String("corpus", "", "JSONL corpus path (required)")
	fs.Parse(args)
	if *corpus == "" {
		return fmt.Errorf("-corpus is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	f, err := os.Open(*corpus)
	if err != nil {
		return fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.MutationTopic)
	defer producer.Close()

	published, skipped, err := feed.NewPublisher(producer).PublishCorpus(ctx, builder.NewJSONLSource(f), cfg.Index.MaxContentLength)
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"published": published, "skipped": skipped})
}
