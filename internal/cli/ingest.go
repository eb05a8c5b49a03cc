package cli

import (
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-continuity/internal/chunker"
	"github.com/rcliao/agent-continuity/internal/continuity"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Store a document as file-context memories",
		Long:  "Split extracted document text into section-aware chunks and store one file_context memory per chunk.",
		Args:  cobra.ExactArgs(1),
		Run:   runIngest,
	}

	cmd.Flags().StringP("session", "s", "", "Owning session id")
	cmd.Flags().String("doc", "", "Document id (default: generated)")
	cmd.Flags().String("method", "plain_text", "Extraction method recorded in provenance")
	cmd.Flags().Float64("confidence", 1.0, "Extraction confidence in [0,1]")
	cmd.Flags().Float64("importance", 0.5, "Importance of every chunk")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags for every chunk")
	cmd.Flags().Int("chunk-size", chunker.DefaultTargetSize, "Target chunk size in characters")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	doc, _ := cmd.Flags().GetString("doc")
	method, _ := cmd.Flags().GetString("method")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	importance, _ := cmd.Flags().GetFloat64("importance")
	tags, _ := cmd.Flags().GetString("tags")
	size, _ := cmd.Flags().GetInt("chunk-size")

	path := args[0]
	text, err := os.ReadFile(path)
	if err != nil {
		exitErr("read file", err)
	}
	fileType := mime.TypeByExtension(filepath.Ext(path))
	if fileType == "" {
		fileType = "text/plain"
	}

	m, st, _ := openManager()
	defer st.Close()

	out, err := m.IngestDocument(cmd.Context(), continuity.Document{
		UserID:           userID,
		SessionID:        session,
		DocumentID:       doc,
		FileName:         filepath.Base(path),
		FileType:         fileType,
		ExtractionMethod: method,
		Text:             string(text),
		Confidence:       confidence,
		Importance:       importance,
		Tags:             splitList(tags),
		Chunking:         chunker.Options{TargetSize: size, MaxSize: size * 3 / 2},
	})
	if err != nil {
		exitErr("ingest", err)
	}
	printJSON(out)
}
