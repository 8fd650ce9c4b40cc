// Command kanobacklog is a thin flag-based CLI over the backlog core
// packages: it resolves a Context (internal/kanoctx) and dispatches to
// internal/canonical, internal/statemachine, internal/chunkindex,
// internal/workset, and internal/topic. It carries no business logic of
// its own beyond flag parsing and error-to-exit-code mapping.
//
// "index embed" is the lazy embedding-population step: chunkindex.Build
// and chunkindex.Refresh never call an embedder, so every chunk starts
// with a NULL embedding column; this subcommand backfills it via
// chunkindex.UpdateEmbeddings.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kano-ai/backlog/internal/audit"
	"github.com/kano-ai/backlog/internal/canonical"
	"github.com/kano-ai/backlog/internal/chunking"
	"github.com/kano-ai/backlog/internal/chunkindex"
	"github.com/kano-ai/backlog/internal/idseq"
	"github.com/kano-ai/backlog/internal/kanoctx"
	"github.com/kano-ai/backlog/internal/kanoerr"
	"github.com/kano-ai/backlog/internal/statemachine"
	"github.com/kano-ai/backlog/internal/tokenizer"
	"github.com/kano-ai/backlog/internal/topic"
	"github.com/kano-ai/backlog/internal/workset"
)

func configureLogger(dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	logger := configureLogger(os.Getenv("KANO_DEV") != "")
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: kanobacklog <item|index|seq|workset|topic> <subcommand> [flags]")
		os.Exit(kanoerr.ExitUser)
	}

	if err := run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(kanoerr.ExitCode(err))
	}
}

func run(ctx context.Context, group string, args []string) error {
	switch group {
	case "item":
		return runItem(ctx, args)
	case "index":
		return runIndex(ctx, args)
	case "seq":
		return runSeq(ctx, args)
	case "workset":
		return runWorkset(ctx, args)
	case "topic":
		return runTopic(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command group %q", kanoerr.ErrSchemaViolation, group)
	}
}

// resolveContext is shared by every subcommand: it registers the common
// -root/-product flags on fs and resolves a kanoctx.Context from the
// working directory once fs.Parse has run.
func resolveContext(fs *flag.FlagSet, args []string) (*kanoctx.Context, []string, error) {
	root := fs.String("root", "", "backlog root override")
	product := fs.String("product", "", "product name override")
	if err := fs.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", kanoerr.ErrSchemaViolation, err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}
	ctx, err := kanoctx.Resolve(cwd, kanoctx.ResolveOptions{RootOverride: *root, Product: *product})
	if err != nil {
		return nil, nil, err
	}
	return ctx, fs.Args(), nil
}

func resolveAdapter(kctx *kanoctx.Context) (tokenizer.Adapter, error) {
	reg := tokenizer.NewRegistry()
	res, err := reg.Resolve(kctx.Config.TokenizerAdapter, kctx.Config.TokenizerModel)
	if err != nil {
		return nil, err
	}
	return res.Adapter, nil
}

func newSequencer(ctx context.Context, kctx *kanoctx.Context) (*idseq.Sequencer, error) {
	productRoot := filepath.Join(kctx.BacklogRoot, "products", kctx.Product)
	dbPath := filepath.Join(cacheRootFor(kctx), fmt.Sprintf("product.%s.sequences.v1.db", kctx.Product))
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	return idseq.Open(ctx, dbPath, productRoot)
}

// chunkDBPath is the per-product chunk index location under the derived-
// store cache root.
func chunkDBPath(kctx *kanoctx.Context) string {
	return filepath.Join(cacheRootFor(kctx), fmt.Sprintf("product.%s.chunks.v1.db", kctx.Product))
}

// cacheRootFor resolves Config.CacheRoot relative to the project root
// (the directory containing .kano/), mirroring resolveBacklogRoot's
// convention in internal/kanoctx for path fields read from config.
func cacheRootFor(kctx *kanoctx.Context) string {
	projectRoot := filepath.Dir(filepath.Dir(kctx.Root))
	if filepath.IsAbs(kctx.Config.CacheRoot) {
		return kctx.Config.CacheRoot
	}
	return filepath.Join(projectRoot, kctx.Config.CacheRoot)
}

// logFileOperation appends to the audit trail; a failed append is logged
// but never fails the command that performed the underlying operation.
func logFileOperation(kctx *kanoctx.Context, operation, path, tool, agent string, metadata map[string]any) {
	if err := audit.NewLog(kctx.Root).LogFileOperation(operation, path, tool, agent, metadata); err != nil {
		slog.Warn("audit append failed", "operation", operation, "path", path, "error", err)
	}
}

func itemStore(kctx *kanoctx.Context, seq *idseq.Sequencer) *canonical.Store {
	productRoot := filepath.Join(kctx.BacklogRoot, "products", kctx.Product)
	return canonical.NewStore(productRoot, func(typeCode string) (int, error) {
		return seq.Next(context.Background(), typeCode)
	})
}

func runItem(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: item requires a subcommand (create|show|transition|list)", kanoerr.ErrSchemaViolation)
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("item "+sub, flag.ContinueOnError)

	switch sub {
	case "create":
		itype := fs.String("type", "task", "item type (task|bug|feature|epic|...)")
		title := fs.String("title", "", "item title")
		parent := fs.String("parent", "", "parent item UID")
		priority := fs.String("priority", "P2", "priority")
		owner := fs.String("owner", "", "owner agent")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		seq, err := newSequencer(ctx, kctx)
		if err != nil {
			return err
		}
		defer seq.Close()
		store := itemStore(kctx, seq)
		it, err := store.Create(kctx.ProductPrefix, canonical.ItemType(*itype), *title, *parent, *priority, *owner)
		if err != nil {
			return err
		}
		logFileOperation(kctx, "create", it.FilePath, "item.create", *owner, map[string]any{"id": it.ID})
		fmt.Printf("created %s (%s)\n", it.ID, it.UID)
		return nil

	case "show":
		id := fs.String("id", "", "item id")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		seq, err := newSequencer(ctx, kctx)
		if err != nil {
			return err
		}
		defer seq.Close()
		store := itemStore(kctx, seq)
		it, err := store.FindByID(*id)
		if err != nil {
			return err
		}
		fmt.Printf("%s [%s] %s — %s\n", it.ID, it.State, it.Title, it.Owner)
		return nil

	case "transition":
		id := fs.String("id", "", "item id")
		action := fs.String("action", "", "transition action")
		agent := fs.String("agent", "", "acting agent")
		model := fs.String("model", "", "acting model")
		message := fs.String("message", "", "worklog message")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		seq, err := newSequencer(ctx, kctx)
		if err != nil {
			return err
		}
		defer seq.Close()
		store := itemStore(kctx, seq)
		it, err := store.FindByID(*id)
		if err != nil {
			return err
		}
		if err := statemachine.Transition(it, statemachine.Action(*action), statemachine.TransitionOptions{
			Agent: *agent, Model: *model, Message: *message, Now: time.Now,
		}); err != nil {
			return err
		}
		if err := store.Write(it); err != nil {
			return err
		}
		logFileOperation(kctx, "update", it.FilePath, "item.transition", *agent, map[string]any{"id": it.ID, "action": *action})
		fmt.Printf("%s -> %s\n", it.ID, it.State)
		return nil

	case "list":
		typeFilter := fs.String("type", "", "restrict to a single item type")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		seq, err := newSequencer(ctx, kctx)
		if err != nil {
			return err
		}
		defer seq.Close()
		store := itemStore(kctx, seq)
		var itypePtr *canonical.ItemType
		if *typeFilter != "" {
			it := canonical.ItemType(*typeFilter)
			itypePtr = &it
		}
		paths, err := store.List(itypePtr)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown item subcommand %q", kanoerr.ErrSchemaViolation, sub)
	}
}

func runIndex(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: index requires a subcommand (build|refresh|search|embed|repo-build)", kanoerr.ErrSchemaViolation)
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("index "+sub, flag.ContinueOnError)

	switch sub {
	case "build", "refresh":
		force := fs.Bool("force", sub == "refresh", "rebuild even if the index already exists")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		seq, err := newSequencer(ctx, kctx)
		if err != nil {
			return err
		}
		defer seq.Close()
		store := itemStore(kctx, seq)
		adapter, err := resolveAdapter(kctx)
		if err != nil {
			return err
		}
		chunkOpts := chunking.DefaultOptions()
		chunkOpts.Version = kctx.Config.ChunkingVersion
		chunkOpts.TargetTokens = kctx.Config.ChunkingTarget
		chunkOpts.MaxTokens = kctx.Config.ChunkingMax
		chunkOpts.OverlapTokens = kctx.Config.ChunkingOverlap
		chunkOpts.TokenizerAdapter = kctx.Config.TokenizerAdapter
		dbPath := chunkDBPath(kctx)
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return err
		}
		opts := chunkindex.BuildOptions{
			Chunking:         chunkOpts,
			Tokenizer:        adapter,
			TokenizerModel:   kctx.Config.TokenizerModel,
			TokenizerAdapter: kctx.Config.TokenizerAdapter,
			Force:            *force,
		}
		var result chunkindex.BuildResult
		if sub == "refresh" {
			result, err = chunkindex.Refresh(ctx, dbPath, store, opts)
		} else {
			result, err = chunkindex.Build(ctx, dbPath, store, opts)
		}
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d items, %d chunks\n", result.ItemsIndexed, result.ChunksIndexed)
		return nil

	case "search":
		query := fs.String("query", "", "search query")
		limit := fs.Int("limit", 10, "max results")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		dbPath := chunkDBPath(kctx)
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return err
		}
		ix, err := chunkindex.Open(ctx, dbPath)
		if err != nil {
			return err
		}
		defer ix.Close()
		rows, err := ix.SearchKeyword(ctx, *query, *limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Printf("%.4f  %s  %s\n", r.Score, r.ItemID, r.Section)
		}
		return nil

	case "embed":
		model := fs.String("model", "", "embedding model name (default noop-embedding)")
		dimension := fs.Int("dimension", 1536, "embedding vector dimension")
		batchSize := fs.Int("batch-size", 32, "chunks embedded per batch")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		dbPath := chunkDBPath(kctx)
		ix, err := chunkindex.Open(ctx, dbPath)
		if err != nil {
			return err
		}
		defer ix.Close()
		embedder := chunkindex.NewNoOpEmbeddingAdapter(*model, *dimension)
		updated, err := chunkindex.UpdateEmbeddings(ctx, ix, embedder, *batchSize)
		if err != nil {
			return err
		}
		fmt.Printf("embedded %d chunks with %s\n", updated, embedder.ModelName())
		return nil

	case "repo-build":
		workspace := fs.String("workspace", "", "workspace root to index (default: project root)")
		force := fs.Bool("force", false, "rebuild even if the index already exists")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		adapter, err := resolveAdapter(kctx)
		if err != nil {
			return err
		}
		root := *workspace
		if root == "" {
			root = filepath.Dir(filepath.Dir(kctx.Root))
		}
		chunkOpts := chunking.DefaultOptions()
		chunkOpts.Version = kctx.Config.ChunkingVersion
		chunkOpts.TargetTokens = kctx.Config.ChunkingTarget
		chunkOpts.MaxTokens = kctx.Config.ChunkingMax
		chunkOpts.OverlapTokens = kctx.Config.ChunkingOverlap
		chunkOpts.TokenizerAdapter = kctx.Config.TokenizerAdapter
		dbPath := filepath.Join(cacheRootFor(kctx), fmt.Sprintf("repo.%s.chunks.v1.db", filepath.Base(root)))
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return err
		}
		result, err := chunkindex.BuildRepoIndex(ctx, dbPath, root, chunkindex.RepoBuildOptions{
			Chunking:         chunkOpts,
			Tokenizer:        adapter,
			TokenizerModel:   kctx.Config.TokenizerModel,
			TokenizerAdapter: kctx.Config.TokenizerAdapter,
			Force:            *force,
		})
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d files, %d chunks\n", result.ItemsIndexed, result.ChunksIndexed)
		return nil

	default:
		return fmt.Errorf("%w: unknown index subcommand %q", kanoerr.ErrSchemaViolation, sub)
	}
}

func runSeq(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: seq requires a subcommand (sync|health)", kanoerr.ErrSchemaViolation)
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("seq "+sub, flag.ContinueOnError)

	switch sub {
	case "sync", "health":
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		seq, err := newSequencer(ctx, kctx)
		if err != nil {
			return err
		}
		defer seq.Close()
		for _, itype := range canonical.ValidTypes {
			code := itype.TypeCode()
			fileMax, err := canonical.MaxNumberOnDisk(seq.ProductRoot, code)
			if err != nil {
				return err
			}
			if sub == "sync" {
				res, err := seq.Sync(ctx, code, fileMax)
				if err != nil {
					return err
				}
				fmt.Printf("%s next=%d file_max=%d bumped=%t\n", code, res.DBNext, res.FileMax, res.Bumped)
				continue
			}
			h, err := seq.Health(ctx, code, fileMax)
			if err != nil {
				return err
			}
			fmt.Printf("%s db_next=%d file_max=%d status=%s\n", code, h.DBNext, h.FileMax, h.Status)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown seq subcommand %q", kanoerr.ErrSchemaViolation, sub)
	}
}

func runWorkset(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: workset requires a subcommand (init|refresh|next|promote|cleanup|list|detect-adr)", kanoerr.ErrSchemaViolation)
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("workset "+sub, flag.ContinueOnError)

	switch sub {
	case "init", "refresh":
		id := fs.String("id", "", "item id")
		agent := fs.String("agent", "", "acting agent")
		ttl := fs.Int("ttl-hours", 72, "workset TTL in hours")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		seq, err := newSequencer(ctx, kctx)
		if err != nil {
			return err
		}
		defer seq.Close()
		store := itemStore(kctx, seq)
		it, err := store.FindByID(*id)
		if err != nil {
			return err
		}
		cacheRoot := cacheRootFor(kctx)
		now := time.Now()
		if sub == "refresh" {
			res, err := workset.Refresh(cacheRoot, kctx.Product, it, *agent, now)
			if err != nil {
				return err
			}
			fmt.Println(res.WorksetPath)
			return nil
		}
		res, err := workset.Init(cacheRoot, kctx.Product, it, *agent, *ttl, now)
		if err != nil {
			return err
		}
		fmt.Println(res.WorksetPath)
		return nil

	case "next":
		id := fs.String("id", "", "item id")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		cacheRoot := cacheRootFor(kctx)
		next, err := workset.Next(cacheRoot, kctx.Product, *id)
		if err != nil {
			return err
		}
		if next.IsComplete {
			fmt.Println("done")
			return nil
		}
		fmt.Printf("%d: %s\n", next.StepNumber, next.Description)
		return nil

	case "promote":
		id := fs.String("id", "", "item id")
		agent := fs.String("agent", "", "acting agent")
		dryRun := fs.Bool("dry-run", false, "list targets without moving files")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		seq, err := newSequencer(ctx, kctx)
		if err != nil {
			return err
		}
		defer seq.Close()
		store := itemStore(kctx, seq)
		it, err := store.FindByID(*id)
		if err != nil {
			return err
		}
		cacheRoot := cacheRootFor(kctx)
		res, err := workset.Promote(cacheRoot, kctx.Product, it, store, *agent, *dryRun, time.Now())
		if err != nil {
			return err
		}
		if !*dryRun {
			for _, f := range res.PromotedFiles {
				logFileOperation(kctx, "move", filepath.Join(res.TargetPath, f), "workset.promote", *agent, map[string]any{"id": it.ID})
			}
		}
		fmt.Printf("promoted %d files to %s\n", len(res.PromotedFiles), res.TargetPath)
		return nil

	case "cleanup":
		ttl := fs.Int("ttl-hours", 72, "TTL in hours")
		dryRun := fs.Bool("dry-run", false, "report only")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		cacheRoot := cacheRootFor(kctx)
		res, err := workset.Cleanup(cacheRoot, *ttl, *dryRun, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d worksets, reclaimed %d bytes\n", res.DeletedCount, res.SpaceReclaimedBytes)
		return nil

	case "list":
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		listings, err := workset.List(cacheRootFor(kctx), time.Now())
		if err != nil {
			return err
		}
		for _, l := range listings {
			fmt.Printf("%s/%s age=%.1fh size=%dB ttl=%dh\n", l.Product, l.ItemID, l.AgeHours, l.SizeBytes, l.TTLHours)
		}
		return nil

	case "detect-adr":
		id := fs.String("id", "", "item id")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		candidates, err := workset.DetectADRCandidates(cacheRootFor(kctx), kctx.Product, *id)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			fmt.Printf("%s\n", c.SuggestedTitle)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown workset subcommand %q", kanoerr.ErrSchemaViolation, sub)
	}
}

func runTopic(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: topic requires a subcommand (create|add-item|distill|switch|close|merge|pin-doc|add-snippet|export|snapshot|restore|decision-audit|cleanup)", kanoerr.ErrSchemaViolation)
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("topic "+sub, flag.ContinueOnError)

	switch sub {
	case "create":
		name := fs.String("name", "", "topic name")
		agent := fs.String("agent", "", "acting agent")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		if _, err := topic.Create(sharedRoot, *name, *agent, time.Now()); err != nil {
			return err
		}
		fmt.Printf("created topic %s\n", *name)
		return nil

	case "add-item":
		name := fs.String("name", "", "topic name")
		item := fs.String("item", "", "item UID")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		if _, err := topic.AddItem(sharedRoot, *name, *item, time.Now()); err != nil {
			return err
		}
		fmt.Printf("added %s to %s\n", *item, *name)
		return nil

	case "distill":
		name := fs.String("name", "", "topic name")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		brief, err := topic.Distill(sharedRoot, *name, nil)
		if err != nil {
			return err
		}
		fmt.Print(brief)
		return nil

	case "switch":
		name := fs.String("name", "", "topic name")
		agent := fs.String("agent", "", "acting agent")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		prev, err := topic.Switch(sharedRoot, *name, *agent, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("switched %s to %s (was %s)\n", *agent, *name, prev)
		return nil

	case "close":
		name := fs.String("name", "", "topic name")
		agent := fs.String("agent", "", "acting agent")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		if _, err := topic.Close(sharedRoot, *name, *agent, time.Now()); err != nil {
			return err
		}
		fmt.Printf("closed %s\n", *name)
		return nil

	case "merge":
		target := fs.String("target", "", "target topic")
		sources := fs.String("sources", "", "comma-separated source topics")
		dryRun := fs.Bool("dry-run", false, "report only")
		deleteSources := fs.Bool("delete-sources", false, "delete source topics after merging")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		all, err := topic.ListTopics(sharedRoot)
		if err != nil {
			return err
		}
		srcList := strings.Split(*sources, ",")
		res, err := topic.Merge(sharedRoot, *target, srcList, *dryRun, *deleteSources, all, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("merged %d items, %d snippets into %s\n", res.ItemsMerged, res.SnippetsMerged, *target)
		return nil

	case "pin-doc":
		name := fs.String("name", "", "topic name")
		doc := fs.String("doc", "", "workspace-relative document path")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		if _, err := topic.PinDocument(sharedRoot, *name, *doc, time.Now()); err != nil {
			return err
		}
		fmt.Printf("pinned %s to %s\n", *doc, *name)
		return nil

	case "add-snippet":
		name := fs.String("name", "", "topic name")
		file := fs.String("file", "", "snippet source file")
		start := fs.Int("start", 1, "first line (1-based, inclusive)")
		end := fs.Int("end", 1, "last line (inclusive)")
		agent := fs.String("agent", "", "acting agent")
		snapshot := fs.Bool("snapshot", false, "cache the selected text in the manifest")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		if _, err := topic.AddSnippet(sharedRoot, *name, *file, *start, *end, *agent, *snapshot, time.Now()); err != nil {
			return err
		}
		fmt.Printf("added %s:%d-%d to %s\n", *file, *start, *end, *name)
		return nil

	case "export":
		name := fs.String("name", "", "topic name")
		format := fs.String("format", "json", "output format (json|markdown)")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		bundle, rendered, err := topic.ExportContext(sharedRoot, *name, *format, time.Now())
		if err != nil {
			return err
		}
		if *format == "markdown" {
			fmt.Print(rendered)
			return nil
		}
		raw, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil

	case "snapshot":
		name := fs.String("name", "", "topic name")
		snap := fs.String("snap", "", "snapshot name")
		agent := fs.String("agent", "", "acting agent")
		materials := fs.Bool("materials", false, "include spec/ and publish/ subtrees")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		path, err := topic.Snapshot(sharedRoot, *name, *snap, *agent, *materials, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil

	case "restore":
		name := fs.String("name", "", "topic name")
		snap := fs.String("snap", "", "snapshot name")
		agent := fs.String("agent", "", "acting agent")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		res, err := topic.Restore(sharedRoot, *name, *snap, *agent, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("restored %s from %s (backup at %s)\n", *name, *snap, res.BackupPath)
		return nil

	case "decision-audit":
		name := fs.String("name", "", "topic name")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		seq, err := newSequencer(ctx, kctx)
		if err != nil {
			return err
		}
		defer seq.Close()
		store := itemStore(kctx, seq)
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		paths, err := store.List(nil)
		if err != nil {
			return err
		}
		res, err := topic.DecisionAudit(sharedRoot, *name, func(uid string) (string, error) {
			for _, p := range paths {
				it, err := canonical.Read(p)
				if err != nil {
					continue
				}
				if it.UID == uid {
					return strings.Join([]string{it.Context, it.Goal, it.Approach, it.Alternatives, it.AcceptanceCriteria, it.Risks}, "\n\n"), nil
				}
			}
			return "", nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("%d decisions, %d items with writeback, %d missing, report at %s\n",
			res.DecisionsFound, len(res.ItemsWithWriteback), len(res.ItemsMissingWriteback), res.ReportPath)
		return nil

	case "cleanup":
		ttlDays := fs.Int("ttl-days", 30, "TTL in days for closed topics")
		apply := fs.Bool("apply", false, "delete instead of reporting")
		deleteDir := fs.Bool("delete-topic-dir", false, "delete the whole topic directory")
		kctx, _, err := resolveContext(fs, rest)
		if err != nil {
			return err
		}
		sharedRoot := filepath.Join(kctx.Root, "_shared")
		res, err := topic.Cleanup(sharedRoot, *ttlDays, *apply, *deleteDir, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("%d eligible, %d deleted\n", len(res.EligibleTopics), len(res.DeletedDirs))
		return nil

	default:
		return fmt.Errorf("%w: unknown topic subcommand %q", kanoerr.ErrSchemaViolation, sub)
	}
}
