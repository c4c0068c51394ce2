// Package cli provides output formatting and an HTTP client for the hybridkb command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputCompact, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\t%s\n", r.Rank, r.Score, r.KnowledgeBaseID, r.Metadata.Filename,
				TruncateWords(utils.CollapseWhitespace(r.Content), 12))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (mode %s", response.Total, response.QueryTime, response.Mode)
	if response.Provider != "" {
		fmt.Fprintf(w, ", provider %s", response.Provider)
	}
	fmt.Fprintln(w, ")")
	if e := response.Expansion; e != nil && e.WasExpanded {
		fmt.Fprintf(w, "Expanded query: %s\n", e.ExpandedQuery)
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, r *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f", r.Rank, r.Score)
	if r.VectorScore > 0 || r.LexicalScore > 0 {
		fmt.Fprintf(w, " (Vector: %.4f, Lexical: %.4f)", r.VectorScore, r.LexicalScore)
	}
	if r.Boost > 0 {
		fmt.Fprintf(w, " | Boost: +%.2f [%s]", r.Boost, strings.Join(r.BoostReasons, ", "))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Source: %s/%s (chunk %d)\n", r.KnowledgeBaseID, r.Metadata.Filename, r.Metadata.ChunkIndex)
	fmt.Fprintf(w, "\n%s\n\n", Truncate(r.Content, 300))
}

// WriteKnowledgeBases prints knowledge bases as a table or JSON.
func WriteKnowledgeBases(w io.Writer, kbs []*models.KnowledgeBase, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, kbs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDOCUMENTS\tCHUNKS\tDESCRIPTION")
	for _, kb := range kbs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", kb.ID, kb.Name, kb.DocumentCount, kb.ChunkCount, kb.Description)
	}
	return tw.Flush()
}

// WriteDocuments prints the documents of a knowledge base.
func WriteDocuments(w io.Writer, docs []*models.DocumentInfo, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, docs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILENAME\tCHUNKS\tLOCAL\tCLOUD\tHASH")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%t\t%s\n", d.Filename, d.ChunkCount, d.HasLocal, d.HasCloud, Truncate(d.ContentHash, 12))
	}
	return tw.Flush()
}

// WriteStats prints aggregate statistics.
func WriteStats(w io.Writer, st *models.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "knowledge_bases:    %d\n", st.KnowledgeBaseCount)
	fmt.Fprintf(w, "documents:          %d\n", st.TotalDocuments)
	fmt.Fprintf(w, "chunks:             %d\n", st.TotalChunks)
	fmt.Fprintf(w, "disk_usage_bytes:   %d   # database + lexical indexes\n", st.DiskUsageBytes)
	if len(st.KnowledgeBases) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOCUMENTS\tCHUNKS\tLOCAL\tCLOUD")
	for _, kb := range st.KnowledgeBases {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", kb.ID, kb.DocumentCount, kb.ChunkCount, kb.LocalVectors, kb.CloudVectors)
	}
	return tw.Flush()
}

// WriteEmbeddingStatus prints the embedding status of one knowledge base.
func WriteEmbeddingStatus(w io.Writer, st *models.EmbeddingStatus, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "knowledge_base:   %s\n", st.KnowledgeBaseID)
	fmt.Fprintf(w, "local vectors:    %d (%s)\n", st.LocalCount, st.LocalHealth)
	fmt.Fprintf(w, "cloud vectors:    %d (%s)\n", st.CloudCount, st.CloudHealth)
	fmt.Fprintf(w, "search provider:  %s\n", st.SearchProvider)
	return nil
}

// Truncate shortens s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
