// Package main implements the railctl CLI for manual operations against
// the railadviced HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the railadviced HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "railctl",
	Short: "CLI for railadviced server operations",
	Long: `railctl is a command-line interface for the railadviced server.
It provides commands for asking questions, managing the document corpus
and checking server health.`,
	Version: version,
}

var (
	querySessionID string
	ingestID       string
	ingestTitle    string
	ingestLanguage string
	ingestCategory string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "railadviced server URL")

	queryCmd.Flags().StringVar(&querySessionID, "session", "", "session id to continue a conversation")
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document id to replace (a new id is minted when empty)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (defaults to the file name)")
	ingestCmd.Flags().StringVar(&ingestLanguage, "language", "", "document language (no or en; detected when empty)")
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "document category (detected when empty)")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(healthCmd)
}

// queryCmd asks the assistant one question
var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask the assistant a question",
	Long: `Ask the assistant a question in Norwegian or English.

Examples:
  # One-off question
  railctl query "Hva er kravene til ERTMS?"

  # Continue a conversation
  railctl query --session 4f2c... "Hva koster det?"`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

// ingestCmd ingests a document from a file or stdin
var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document into the corpus",
	Long: `Ingest a document from a file or stdin.

Examples:
  # Ingest a file, title from the file name
  railctl ingest docs/teknisk-regelverk.txt

  # Ingest from stdin with an explicit title
  cat notes.md | railctl ingest - --title "ERTMS utbyggingsplan"

  # Replace an existing document with a revised version
  railctl ingest docs/teknisk-regelverk-v2.txt --id 6d1b1a9f-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

// docsCmd lists the corpus
var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List ingested documents",
	RunE:  runDocs,
}

// removeCmd removes a document
var removeCmd = &cobra.Command{
	Use:   "remove <document-id>",
	Short: "Remove a document and its index entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

// seedCmd ingests every text file in a directory
var seedCmd = &cobra.Command{
	Use:   "seed <dir>",
	Short: "Ingest all .txt and .md files in a directory",
	Long: `Ingest every .txt and .md file in a directory, using file names as
titles. Duplicates already in the corpus are skipped.

Examples:
  railctl seed ./corpus`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check railadviced server health",
	RunE:  runHealth,
}

// QueryRequest matches internal/httpapi/server.go QueryRequest
type QueryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

// QueryResponse matches internal/httpapi/server.go QueryResponse
type QueryResponse struct {
	SessionID  string   `json:"session_id"`
	Answer     string   `json:"answer"`
	Intent     string   `json:"intent"`
	Confidence string   `json:"confidence"`
	Language   string   `json:"language"`
	Citations  []string `json:"citations,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// IngestRequest matches internal/httpapi/server.go IngestRequest
type IngestRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	Language   string `json:"language,omitempty"`
	Category   string `json:"category,omitempty"`
	Source     string `json:"source,omitempty"`
}

// IngestResponse matches internal/httpapi/server.go IngestResponse
type IngestResponse struct {
	DocumentID    string   `json:"document_id"`
	ChunkCount    int      `json:"chunk_count"`
	SkippedChunks []string `json:"skipped_chunks,omitempty"`
	Duplicate     bool     `json:"duplicate,omitempty"`
	Replaced      bool     `json:"replaced,omitempty"`
}

// DocumentSummary matches internal/httpapi/server.go DocumentSummary
type DocumentSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Language   string    `json:"language"`
	Category   string    `json:"category"`
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

func postJSON(path string, body, out any) (int, error) {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := httpClient().Post(serverURL+path, "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to reach server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	var resp QueryResponse
	_, err := postJSON("/api/v1/query", QueryRequest{
		SessionID: querySessionID,
		Query:     args[0],
	}, &resp)
	if err != nil {
		return err
	}

	fmt.Println(resp.Answer)
	fmt.Println()
	fmt.Printf("session: %s  intent: %s  confidence: %s\n", resp.SessionID, resp.Intent, resp.Confidence)
	if len(resp.Citations) > 0 {
		fmt.Printf("citations: %s\n", strings.Join(resp.Citations, ", "))
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error
	source := "stdin"

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
		source = args[0]
	}

	title := ingestTitle
	if title == "" {
		if source == "stdin" {
			return fmt.Errorf("--title is required when reading from stdin")
		}
		title = titleFromPath(source)
	}

	var resp IngestResponse
	_, err = postJSON("/api/v1/documents", IngestRequest{
		DocumentID: ingestID,
		Title:      title,
		Text:       string(content),
		Language:   ingestLanguage,
		Category:   ingestCategory,
		Source:     source,
	}, &resp)
	if err != nil {
		return err
	}

	if resp.Duplicate {
		fmt.Printf("already ingested as %s\n", resp.DocumentID)
		return nil
	}
	verb := "ingested"
	if resp.Replaced {
		verb = "replaced"
	}
	fmt.Printf("%s %s (%d chunks", verb, resp.DocumentID, resp.ChunkCount)
	if len(resp.SkippedChunks) > 0 {
		fmt.Printf(", %d skipped", len(resp.SkippedChunks))
	}
	fmt.Println(")")
	return nil
}

func runDocs(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(serverURL + "/api/v1/documents")
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var docs []DocumentSummary
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(docs) == 0 {
		fmt.Println("no documents ingested")
		return nil
	}
	for _, d := range docs {
		fmt.Printf("%s  %-10s %-2s  %3d chunks  %s\n",
			d.ID, d.Category, d.Language, d.ChunkCount, d.Title)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequest(http.MethodDelete, serverURL+"/api/v1/documents/"+args[0], nil)
	if err != nil {
		return err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		fmt.Println("removed")
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("document %s not found", args[0])
	default:
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(args[0])
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", args[0], err)
	}

	var ingested, duplicates, failed int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		path := filepath.Join(args[0], e.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
			failed++
			continue
		}

		var resp IngestResponse
		_, err = postJSON("/api/v1/documents", IngestRequest{
			Title:  titleFromPath(path),
			Text:   string(content),
			Source: path,
		}, &resp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
			failed++
			continue
		}
		if resp.Duplicate {
			duplicates++
			continue
		}
		ingested++
		fmt.Printf("ingested %s as %s (%d chunks)\n", e.Name(), resp.DocumentID, resp.ChunkCount)
	}

	fmt.Printf("done: %d ingested, %d duplicates, %d failed\n", ingested, duplicates, failed)
	if failed > 0 {
		return fmt.Errorf("%d files failed", failed)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
	} else {
		fmt.Println(pretty.String())
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy (%d)", resp.StatusCode)
	}
	return nil
}

// titleFromPath turns "docs/teknisk-regelverk.txt" into "teknisk regelverk".
func titleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ReplaceAll(base, "-", " ")
	base = strings.ReplaceAll(base, "_", " ")
	return strings.TrimSpace(base)
}
