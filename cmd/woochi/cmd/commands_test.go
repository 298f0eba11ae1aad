package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/pkg/woochi"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: the root command
	cmd := NewRootCmd()

	// Then: every operator command is registered
	names := map[string]bool{}
	for _, sc := range cmd.Commands() {
		names[sc.Name()] = true
	}
	for _, want := range []string{"ingest", "search", "collections", "drop", "check", "logs", "config", "version"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestReadChunks(t *testing.T) {
	// Given: JSONL with a blank line and a record without id
	chunks, err := readChunks(strings.NewReader(medJSONL))

	// Then: blank lines are skipped and the missing id is a content hash
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "A", chunks[0].ID)
	assert.Equal(t, "breathing", chunks[0].Metadata["title"])
	assert.Equal(t, contentID("걷기 명상"), chunks[2].ID)
	assert.Len(t, chunks[2].ID, 16)
}

func TestReadChunks_InvalidLine(t *testing.T) {
	_, err := readChunks(strings.NewReader("{\"id\":\"A\",\"text\":\"ok\"}\nnot json\n"))

	require.Error(t, err)
	assert.Equal(t, woerrors.ErrCodeInvalidInput, woerrors.GetCode(err))
	assert.Contains(t, err.Error(), "line 2")
}

func TestContentID_Deterministic(t *testing.T) {
	assert.Equal(t, contentID("걷기 명상"), contentID("걷기 명상"))
	assert.NotEqual(t, contentID("걷기 명상"), contentID("마음챙김 기초"))
}

func TestIngestCmd(t *testing.T) {
	// Given: an isolated environment and a JSONL file
	dir := cliEnv(t)

	// When: ingesting
	out, err := runCLI(t, dir, "ingest", "meditation_recursive", writeFile(t, "med.jsonl", medJSONL))

	// Then: all records are reported
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 3 chunks into meditation_recursive")
}

func TestIngestCmd_DuplicateAcrossRuns(t *testing.T) {
	// Given: a collection already holding A
	dir := cliEnv(t)
	ingestMed(t, dir)

	// When: ingesting A again in a later invocation
	_, err := runCLI(t, dir, "ingest", "meditation_recursive",
		writeFile(t, "dup.jsonl", `{"id":"A","text":"다른 내용"}`))

	// Then: the restored collection rejects it
	require.Error(t, err)
	assert.True(t, errors.Is(err, woerrors.ErrDuplicateID))
}

func TestSearchCmd_JSON(t *testing.T) {
	// Given: an ingested collection from a previous invocation
	dir := cliEnv(t)
	ingestMed(t, dir)

	// When: searching lexical-only with stats
	out, err := runCLI(t, dir, "search", "meditation_recursive", "호흡",
		"--lexical-weight", "1", "-k", "2", "--json", "--stats")

	// Then: A ranks first and the stats count this query
	require.NoError(t, err)
	var resp searchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "meditation_recursive", resp.Collection)
	assert.Equal(t, "호흡", resp.Query)
	require.NotEmpty(t, resp.Results)
	assert.LessOrEqual(t, len(resp.Results), 2)
	assert.Equal(t, "A", resp.Results[0].ChunkID)
	assert.Equal(t, "breathing", resp.Results[0].Metadata["title"])
	require.NotNil(t, resp.Stats)
	assert.Equal(t, int64(1), resp.Stats.TotalQueries)
}

func TestSearchCmd_NotReady(t *testing.T) {
	dir := cliEnv(t)

	_, err := runCLI(t, dir, "search", "missing_collection", "호흡")

	require.Error(t, err)
	assert.True(t, errors.Is(err, woerrors.ErrCollectionNotReady))
}

func TestSearchCmd_InvalidWeight(t *testing.T) {
	dir := cliEnv(t)
	ingestMed(t, dir)

	_, err := runCLI(t, dir, "search", "meditation_recursive", "호흡", "--lexical-weight", "1.5")

	require.Error(t, err)
	assert.Equal(t, woerrors.ErrCodeInvalidInput, woerrors.GetCode(err))
}

func TestCollectionsDropCheck(t *testing.T) {
	dir := cliEnv(t)
	ingestMed(t, dir)

	// collections
	out, err := runCLI(t, dir, "collections", "--json")
	require.NoError(t, err)
	var infos []woochi.CollectionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	assert.Equal(t, []woochi.CollectionInfo{{Name: "meditation_recursive", State: "READY", Chunks: 3}}, infos)

	// check
	out, err = runCLI(t, dir, "check", "meditation_recursive", "--json")
	require.NoError(t, err)
	var report woochi.ConsistencyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Consistent())
	assert.True(t, report.CatalogChecked)
	assert.Equal(t, 3, report.CatalogIDs)

	// drop
	_, err = runCLI(t, dir, "drop", "meditation_recursive")
	require.NoError(t, err)

	out, err = runCLI(t, dir, "collections", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	assert.Empty(t, infos)

	_, err = runCLI(t, dir, "drop", "meditation_recursive")
	assert.True(t, errors.Is(err, woerrors.ErrNotFound))
}

func TestConfigShowCmd(t *testing.T) {
	dir := cliEnv(t)

	out, err := runCLI(t, dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "default_k: 5")
	assert.Contains(t, out, "backend: sqlite")

	out, err = runCLI(t, dir, "config", "show", "--format", "toml")
	require.NoError(t, err)
	assert.Contains(t, out, "[retrieval]")
}

func TestConfigInit(t *testing.T) {
	// Given: a path with no config
	path := filepath.Join(t.TempDir(), "woochi", "config.yaml")
	cmd := NewRootCmd()
	cmd.SetOut(new(strings.Builder))

	// When: initializing twice, the second time after editing
	require.NoError(t, runConfigInit(cmd, path, false))
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))
	require.NoError(t, runConfigInit(cmd, path, false))

	// Then: the edit survives without --force
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))

	// When: forcing
	require.NoError(t, runConfigInit(cmd, path, true))

	// Then: defaults are written back
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "default_k: 5")
}

func TestLogsCmd(t *testing.T) {
	// Given: a JSON log file with mixed levels
	dir := cliEnv(t)
	logFile := writeFile(t, "woochi.log", strings.Join([]string{
		`{"time":"2026-01-02T03:04:05.000Z","level":"INFO","msg":"engine_opened"}`,
		`{"time":"2026-01-02T03:04:06.000Z","level":"WARN","msg":"retrieval_degraded","collection":"meditation_recursive"}`,
		`{"time":"2026-01-02T03:04:07.000Z","level":"INFO","msg":"retrieval_completed"}`,
	}, "\n")+"\n")

	// When: viewing warnings only
	out, err := runCLI(t, dir, "logs", "--file", logFile, "--level", "warn", "--no-color")

	// Then: only the warning is printed
	require.NoError(t, err)
	assert.Contains(t, out, "retrieval_degraded")
	assert.Contains(t, out, "collection=meditation_recursive")
	assert.NotContains(t, out, "engine_opened")
}

func TestLogsCmd_Grep(t *testing.T) {
	dir := cliEnv(t)
	logFile := writeFile(t, "woochi.log",
		`{"time":"2026-01-02T03:04:05.000Z","level":"INFO","msg":"engine_opened"}`+"\n"+
			`{"time":"2026-01-02T03:04:06.000Z","level":"INFO","msg":"collection_restored"}`+"\n")

	out, err := runCLI(t, dir, "logs", "--file", logFile, "--grep", "restored", "--no-color")

	require.NoError(t, err)
	assert.Contains(t, out, "collection_restored")
	assert.NotContains(t, out, "engine_opened")
}

func TestLogsCmd_MissingFile(t *testing.T) {
	dir := cliEnv(t)

	_, err := runCLI(t, dir, "logs", "--file", filepath.Join(t.TempDir(), "absent.log"))

	assert.Error(t, err)
}

func TestIngestAndSearch_DomainStrategyFlags(t *testing.T) {
	// Given: chunks ingested by domain and strategy
	dir := cliEnv(t)
	out, err := runCLI(t, dir, "ingest", "--domain", "meditation", "--strategy", "recursive",
		writeFile(t, "med.jsonl", medJSONL))
	require.NoError(t, err)
	assert.Contains(t, out, "into meditation_recursive")

	// When: searching by the same pair
	out, err = runCLI(t, dir, "search", "--domain", "meditation", "--strategy", "recursive",
		"호흡", "--lexical-weight", "1", "--json")

	// Then: the conventional collection name was used
	require.NoError(t, err)
	var resp searchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "meditation_recursive", resp.Collection)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "A", resp.Results[0].ChunkID)
}

func TestSearchCmd_StrategyWithoutDomain(t *testing.T) {
	dir := cliEnv(t)

	_, err := runCLI(t, dir, "search", "--strategy", "recursive", "호흡")

	require.Error(t, err)
	assert.Equal(t, woerrors.ErrCodeInvalidInput, woerrors.GetCode(err))
}

func TestRun_JSONErrorForJSONCommands(t *testing.T) {
	// Given: a search with --json against an unknown collection
	dir := cliEnv(t)
	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"--config-dir", dir, "search", "missing_collection", "호흡", "--json"})
	var stderr bytes.Buffer

	// When
	code := run(root, &stderr)

	// Then: a non-fatal exit and a JSON error document
	assert.Equal(t, ExitError, code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(stderr.Bytes(), &doc))
	assert.Equal(t, woerrors.ErrCodeCollectionNotReady, doc["code"])
}

func TestRun_TextErrorAndFatalExitCode(t *testing.T) {
	// Given: a command failing with diverged indexes
	root := &cobra.Command{
		Use:           "woochi",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(*cobra.Command, []string) error {
			return woerrors.IndexDiverged("med_recursive", "vector index is missing chunk A")
		},
	}
	root.SetArgs([]string{})
	var stderr bytes.Buffer

	// When
	code := run(root, &stderr)

	// Then: fatal errors get their own exit code and CLI text
	assert.Equal(t, ExitFatal, code)
	assert.Contains(t, stderr.String(), "Code: "+woerrors.ErrCodeIndexDiverged)
}

func TestRun_Success(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"version", "--short"})

	assert.Equal(t, ExitOK, run(root, new(bytes.Buffer)))
}

func TestSearchCmd_Mode(t *testing.T) {
	dir := cliEnv(t)
	ingestMed(t, dir)

	// When: searching with only the lexical signal
	out, err := runCLI(t, dir, "search", "meditation_recursive", "호흡", "--mode", "lexical", "--json")

	// Then: only the term match is returned, at full score
	require.NoError(t, err)
	var resp searchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "A", resp.Results[0].ChunkID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)

	_, err = runCLI(t, dir, "search", "meditation_recursive", "호흡", "--mode", "fuzzy")
	assert.Equal(t, woerrors.ErrCodeInvalidInput, woerrors.GetCode(err))
}
