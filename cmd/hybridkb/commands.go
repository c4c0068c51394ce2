package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/hybridkb/internal/cli"
	"github.com/hyperjump/hybridkb/internal/indexer"
	"github.com/hyperjump/hybridkb/internal/jobs"
	"github.com/hyperjump/hybridkb/internal/models"
)

// commonFlags holds the flags shared by the maintenance commands.
type commonFlags struct {
	config string
	server string
	kb     string
	output string
}

func newFlagSet(name string, c *commonFlags) *flag.FlagSet {
	fset := flag.NewFlagSet(name, flag.ExitOnError)
	fset.StringVar(&c.config, "config", defaultConfigPath, "config file path")
	fset.StringVar(&c.kb, "kb", "", "knowledge base id")
	fset.StringVar(&c.output, "output", "text", "output format: text or json")
	return fset
}

func (c *commonFlags) serverFlag(fset *flag.FlagSet, def string) {
	fset.StringVar(&c.server, "server", def, "server URL (empty = open the database directly)")
}

func (c *commonFlags) format() cli.OutputFormat {
	f, err := cli.ParseOutputFormat(c.output)
	if err != nil {
		fatalf("%v\n", err)
	}
	return f
}

func (c *commonFlags) requireKB(usage string) {
	if c.kb == "" {
		fatalf("Usage: %s\n", usage)
	}
}

func runIngest(args []string) {
	var c commonFlags
	fset := newFlagSet("ingest", &c)
	c.serverFlag(fset, "")
	_ = fset.Parse(searchArgsReorder(args))
	const usage = "hybridkb ingest --kb <id> [flags] <file-or-directory>"
	c.requireKB(usage)
	if fset.NArg() < 1 {
		fatalf("Usage: %s\n", usage)
	}
	path := fset.Arg(0)
	info, err := os.Stat(path)
	if err != nil {
		fatalf("Failed to stat path: %v\n", err)
	}
	ctx := context.Background()

	if c.server != "" {
		client := cli.NewClient(c.server)
		files := []string{path}
		if info.IsDir() {
			files = collectFiles(path, indexer.DefaultExtensions)
		}
		n := 0
		for _, f := range files {
			doc, err := indexer.LoadFile(f)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", f, err)
				continue
			}
			res, err := client.AddDocument(ctx, c.kb, doc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Ingest %s failed: %v\n", f, err)
				continue
			}
			if !res.Skipped {
				n++
			}
		}
		fmt.Printf("Ingested %d of %d file(s) into %s\n", n, len(files), c.kb)
		return
	}

	svc, _, cleanup := openService(c.config, false)
	defer cleanup()
	if info.IsDir() {
		n, err := svc.IngestDirectory(ctx, c.kb, path)
		if err != nil {
			fatalf("Ingesting directory failed: %v\n", err)
		}
		fmt.Printf("Ingested %d file(s) from %s into %s\n", n, path, c.kb)
		return
	}
	res, err := svc.IngestFile(ctx, c.kb, path)
	if err != nil {
		fatalf("Ingest failed: %v\n", err)
	}
	if res.Skipped {
		fmt.Printf("Unchanged, skipped: %s\n", path)
		return
	}
	fmt.Printf("Ingested %s: %d chunks (local=%t cloud=%t)\n", path, res.Chunks, res.Local, res.Cloud)
}

// collectFiles lists the files under dir whose extension is allowed.
func collectFiles(dir string, exts []string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && indexer.ExtensionAllowed(filepath.Ext(p), exts) {
			files = append(files, p)
		}
		return nil
	})
	return files
}

func runRemove(args []string) {
	var c commonFlags
	fset := newFlagSet("remove", &c)
	c.serverFlag(fset, "")
	_ = fset.Parse(searchArgsReorder(args))
	const usage = "hybridkb remove --kb <id> [flags] <filename>"
	c.requireKB(usage)
	if fset.NArg() < 1 {
		fatalf("Usage: %s\n", usage)
	}
	filename := buildSearchQuery(fset.Args())
	ctx := context.Background()

	if c.server != "" {
		if err := cli.NewClient(c.server).RemoveDocument(ctx, c.kb, filename); err != nil {
			fatalf("Remove failed: %v\n", err)
		}
		fmt.Printf("Document removed: %s/%s\n", c.kb, filename)
		return
	}
	svc, _, cleanup := openService(c.config, false)
	defer cleanup()
	removed, err := svc.RemoveDocument(ctx, c.kb, filename)
	if err != nil {
		fatalf("Remove failed: %v\n", err)
	}
	if !removed {
		fmt.Printf("No document %q in %s\n", filename, c.kb)
		return
	}
	fmt.Printf("Document removed: %s/%s\n", c.kb, filename)
}

func runKnowledgeBase(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: hybridkb kb <create|list|delete|status> [flags]")
		fmt.Println("  hybridkb kb create [--name n] [--description d] [--icon i] <id>")
		fmt.Println("  hybridkb kb list                 List knowledge bases")
		fmt.Println("  hybridkb kb delete <id>          Delete a knowledge base and its indexes")
		fmt.Println("  hybridkb kb status <id>          Show embedding status")
		os.Exit(1)
	}
	sub := args[0]
	var c commonFlags
	fset := newFlagSet("kb "+sub, &c)
	if sub == "list" {
		c.serverFlag(fset, "")
	}
	name := fset.String("name", "", "display name (create)")
	description := fset.String("description", "", "description (create)")
	icon := fset.String("icon", "", "icon (create)")
	_ = fset.Parse(searchArgsReorder(args[1:]))
	format := c.format()
	ctx := context.Background()

	if sub == "list" && c.server != "" {
		kbs, err := cli.NewClient(c.server).ListKnowledgeBases(ctx)
		if err != nil {
			fatalf("List failed: %v\n", err)
		}
		if err := cli.WriteKnowledgeBases(os.Stdout, kbs, format); err != nil {
			fatalf("Output failed: %v\n", err)
		}
		return
	}

	id := c.kb
	if fset.NArg() > 0 {
		id = fset.Arg(0)
	}
	if sub != "list" && id == "" {
		fatalf("Usage: hybridkb kb %s <id>\n", sub)
	}

	svc, _, cleanup := openService(c.config, false)
	defer cleanup()
	switch sub {
	case "create":
		kbName := *name
		if kbName == "" {
			kbName = id
		}
		kb, err := svc.CreateKnowledgeBase(ctx, id, kbName, *description, *icon)
		if err != nil {
			fatalf("Create failed: %v\n", err)
		}
		fmt.Printf("Knowledge base created: %s\n", kb.ID)
	case "list":
		kbs, err := svc.ListKnowledgeBases(ctx)
		if err != nil {
			fatalf("List failed: %v\n", err)
		}
		if err := cli.WriteKnowledgeBases(os.Stdout, kbs, format); err != nil {
			fatalf("Output failed: %v\n", err)
		}
	case "delete":
		deleted, err := svc.DeleteKnowledgeBase(ctx, id)
		if err != nil {
			fatalf("Delete failed: %v\n", err)
		}
		if !deleted {
			fatalf("Knowledge base not found: %s\n", id)
		}
		fmt.Printf("Knowledge base deleted: %s\n", id)
	case "status":
		st, err := svc.EmbeddingStatus(ctx, id)
		if err != nil {
			fatalf("Status failed: %v\n", err)
		}
		if err := cli.WriteEmbeddingStatus(os.Stdout, st, format); err != nil {
			fatalf("Output failed: %v\n", err)
		}
	default:
		fatalf("Unknown kb subcommand: %s\n", sub)
	}
}

func runDocuments(args []string) {
	var c commonFlags
	fset := newFlagSet("documents", &c)
	_ = fset.Parse(args)
	c.requireKB("hybridkb documents --kb <id> [flags]")
	format := c.format()

	svc, _, cleanup := openService(c.config, false)
	defer cleanup()
	docs, err := svc.ListDocuments(context.Background(), c.kb)
	if err != nil {
		fatalf("List failed: %v\n", err)
	}
	if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
		fatalf("Output failed: %v\n", err)
	}
}

func runReindex(args []string) {
	var c commonFlags
	fset := newFlagSet("reindex", &c)
	c.serverFlag(fset, "")
	all := fset.Bool("all", false, "reindex every knowledge base")
	wait := fset.Bool("wait", true, "with --server, wait for the job to finish")
	_ = fset.Parse(args)
	if !*all {
		c.requireKB("hybridkb reindex (--kb <id> | --all) [flags]")
	}
	ctx := context.Background()

	if c.server != "" {
		jobType, kbID := jobs.TypeReindex, c.kb
		if *all {
			jobType, kbID = jobs.TypeReindexAll, ""
		}
		client := cli.NewClient(c.server)
		job, err := client.SubmitJob(ctx, jobType, kbID)
		if err != nil {
			fatalf("Submit failed: %v\n", err)
		}
		fmt.Printf("Job submitted: %s\n", job.ID)
		if !*wait {
			return
		}
		job, err = waitForJob(ctx, client, job.ID)
		if err != nil {
			fatalf("Job failed: %v\n", err)
		}
		fmt.Printf("Job %s %s\n", job.ID, job.Status)
		if job.Status != models.JobCompleted {
			os.Exit(1)
		}
		return
	}

	svc, _, cleanup := openService(c.config, false)
	defer cleanup()
	progress := func(done, total int) {
		fmt.Fprintf(os.Stderr, "\r%d/%d", done, total)
	}
	if *all {
		counts, err := svc.ReindexAll(ctx, progress)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fatalf("Reindex failed: %v\n", err)
		}
		for id, n := range counts {
			fmt.Printf("%s: %d chunks\n", id, n)
		}
		return
	}
	n, err := svc.ReindexKnowledgeBase(ctx, c.kb, progress)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatalf("Reindex failed: %v\n", err)
	}
	fmt.Printf("%s: %d chunks\n", c.kb, n)
}

// waitForJob polls the job until it reaches a terminal state.
func waitForJob(ctx context.Context, client *cli.Client, id string) (*models.Job, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		job, err := client.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		fmt.Fprintf(os.Stderr, "\r%3d%% %s", job.Progress, job.Message)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func runClearEmbeddings(args []string) {
	var c commonFlags
	fset := newFlagSet("clear-embeddings", &c)
	_ = fset.Parse(args)
	c.requireKB("hybridkb clear-embeddings --kb <id>")

	svc, _, cleanup := openService(c.config, false)
	defer cleanup()
	res, err := svc.ClearEmbeddings(context.Background(), c.kb)
	if err != nil {
		fatalf("Clear failed: %v\n", err)
	}
	fmt.Printf("Cleared %s (local=%t cloud=%t)\n", c.kb, res.Local, res.Cloud)
}

func runStats(args []string) {
	var c commonFlags
	fset := newFlagSet("stats", &c)
	c.serverFlag(fset, "http://localhost:8080")
	_ = fset.Parse(args)
	format := c.format()
	ctx := context.Background()

	var (
		st  *models.Stats
		err error
	)
	if c.server != "" {
		st, err = cli.NewClient(c.server).Stats(ctx)
	} else {
		svc, _, cleanup := openService(c.config, false)
		defer cleanup()
		st, err = svc.Stats(ctx)
	}
	if err != nil {
		fatalf("Stats failed: %v\n", err)
	}
	if err := cli.WriteStats(os.Stdout, st, format); err != nil {
		fatalf("Output failed: %v\n", err)
	}
}
