package cmd

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/output"
	"github.com/Aman-CERP/woochi/pkg/woochi"
)

// maxRecordSize bounds one JSONL line.
const maxRecordSize = 4 * 1024 * 1024

// chunkRecord is one line of an ingest file.
type chunkRecord struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

func newIngestCmd() *cobra.Command {
	var names collectionFlags

	cmd := &cobra.Command{
		Use:   "ingest [collection] <file.jsonl>",
		Short: "Ingest chunks into a collection",
		Long: `Ingest a JSONL file of chunks into a collection as one atomic batch.

Each line is an object with "text" and optional "id" and "metadata" fields.
A missing id is derived from the text content. Use "-" to read stdin.

The collection is the first argument, or <domain>_<strategy> when --domain
is given. Either the whole file becomes searchable or none of it does.`,
		Example: `  woochi ingest meditation_recursive chunks.jsonl
  woochi ingest --domain meditation --strategy recursive chunks.jsonl
  cat chunks.jsonl | woochi ingest meditation_recursive -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rest, err := names.resolve(args, 1)
			if err != nil {
				return err
			}
			if len(rest) != 1 {
				return woerrors.ValidationError("expected exactly one input file", nil)
			}
			return runIngest(cmd, name, rest[0])
		},
	}
	names.register(cmd)
	return cmd
}

func runIngest(cmd *cobra.Command, collectionName, path string) error {
	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return woerrors.ValidationError("failed to open ingest file", err).WithDetail("path", path)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	chunks, err := readChunks(in)
	if err != nil {
		return err
	}

	engine, cleanup, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	var opts []woochi.IngestOption
	if output.IsTTY(cmd.ErrOrStderr()) {
		progress := output.New(cmd.ErrOrStderr())
		opts = append(opts, woochi.WithProgress(func(done, total int) {
			progress.Progress(done, total, "Embedding chunks")
		}))
	}
	if err := engine.Ingest(cmd.Context(), collectionName, chunks, opts...); err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("Ingested %d chunks into %s", len(chunks), collectionName)
	return nil
}

// readChunks parses JSONL records, skipping blank lines.
func readChunks(r io.Reader) ([]*woochi.Chunk, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)

	var chunks []*woochi.Chunk
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec chunkRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, woerrors.ValidationError(fmt.Sprintf("invalid JSON on line %d", line), err)
		}
		if rec.ID == "" {
			rec.ID = contentID(rec.Text)
		}
		chunks = append(chunks, &woochi.Chunk{ID: rec.ID, Text: rec.Text, Metadata: rec.Metadata})
	}
	if err := scanner.Err(); err != nil {
		return nil, woerrors.ValidationError("failed to read ingest input", err)
	}
	return chunks, nil
}

// contentID is the first 16 hex characters of sha256(text).
func contentID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}
