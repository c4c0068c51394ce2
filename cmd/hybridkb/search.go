package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hyperjump/hybridkb/internal/cli"
	"github.com/hyperjump/hybridkb/internal/models"
)

const fallbackTopK = 12

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: hybridkb search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Hybrid mode fuses vector and lexical scores (0.5/0.5 by default).
  • Use --mode lexical when no embedding provider is reachable.
  • Use --vector-weight 0 or --lexical-weight 0 to switch one leg off.
  • Expansion only applies to knowledge bases named with --kb that define an expansion table.

Examples:
  hybridkb search Haftung Wasserschaden
  hybridkb search --kb rechtliches "Art. 14 VVG"
  hybridkb search --mode fulltext Selbstbehalt
  hybridkb search --top-k 5 --output compact Kündigungsfrist
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// searchTopKDefaultFromConfig returns rag.top_k from the config at path, or 12 when it cannot be loaded.
func searchTopKDefaultFromConfig(path string) int {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil || cfg.RAG.TopK <= 0 {
		return fallbackTopK
	}
	return cfg.RAG.TopK
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. The flag package stops at
// the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// searchFlags holds the parsed search flags.
type searchFlags struct {
	kbs           string
	mode          string
	topK          int
	provider      string
	vectorWeight  float64
	lexicalWeight float64
	expand        bool
	rerank        bool
	debug         bool
}

// buildQuery turns parsed flags into a SearchQuery. Optional fields are only set when
// the flag was given on the command line so server defaults apply otherwise.
func buildQuery(text string, f searchFlags, set map[string]bool) *models.SearchQuery {
	q := &models.SearchQuery{
		Query:          text,
		Mode:           models.SearchMode(f.mode),
		KnowledgeBases: splitList(f.kbs),
		TopK:           f.topK,
		Provider:       f.provider,
		Debug:          f.debug,
	}
	if set["vector-weight"] {
		w := f.vectorWeight
		q.VectorWeight = &w
	}
	if set["lexical-weight"] {
		w := f.lexicalWeight
		q.LexicalWeight = &w
	}
	if set["expand"] {
		e := f.expand
		q.Expand = &e
	}
	if set["rerank"] {
		r := f.rerank
		q.Rerank = &r
	}
	return q
}

func runSearch(args []string) {
	searchArgs := searchArgsReorder(args)
	configPath := searchConfigPathFromArgs(searchArgs, defaultConfigPath)
	defaultTopK := searchTopKDefaultFromConfig(configPath)

	var f searchFlags
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPathFlag := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = open the database directly)")
	fs.StringVar(&f.kbs, "kb", "", "comma-separated knowledge base ids (default: all)")
	fs.StringVar(&f.mode, "mode", string(models.ModeHybrid), "search mode: vector, lexical, hybrid or fulltext")
	fs.IntVar(&f.topK, "top-k", defaultTopK, "number of results")
	fs.StringVar(&f.provider, "provider", "auto", "embedding provider for the query: auto, local or cloud")
	fs.Float64Var(&f.vectorWeight, "vector-weight", 0.5, "weight of the vector score in hybrid mode")
	fs.Float64Var(&f.lexicalWeight, "lexical-weight", 0.5, "weight of the lexical score in hybrid mode")
	fs.BoolVar(&f.expand, "expand", true, "expand the query with synonyms")
	fs.BoolVar(&f.rerank, "rerank", true, "apply citation and keyword boosts")
	fs.BoolVar(&f.debug, "debug", false, "include debug information")
	outputFormat := fs.String("output", "text", "output format: text, compact or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v\n", err)
	}
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	query := buildQuery(queryStr, f, set)

	var response *models.SearchResponse
	if *serverURL != "" {
		// The server holds the database and lexical index; go through its API.
		response, err = cli.NewClient(*serverURL).Search(context.Background(), query)
	} else {
		svc, _, cleanup := openService(*configPathFlag, false)
		defer cleanup()
		response, err = svc.Run(context.Background(), query)
	}
	if err != nil {
		fatalf("Search failed: %v\n", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fatalf("Output failed: %v\n", err)
	}
}
