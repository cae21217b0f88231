package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.Enabled = false
	cfg.Chunking.Tokenizer = "words"
	cfg.Qdrant.DenseSize = 64
	return cfg
}

func TestBuildApp_InMemoryBackends(t *testing.T) {
	ctx := context.Background()
	a, err := buildApp(ctx, memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.close()

	names := make([]string, 0, len(a.checks))
	for _, c := range a.checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"index", "memory", "generation"}, names)

	counts, err := a.ingest.IngestBatch(ctx, []domain.DocumentInput{{
		Text:       "# Leave\n\nEmployees receive twelve days of paid leave every year.",
		TenantID:   "acme",
		SourceFile: "handbook.md",
		Roles:      []int{1},
	}})
	require.NoError(t, err)
	assert.Positive(t, counts["handbook.md"])

	docs, err := a.ingest.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	// no generation model is configured
	_, err = a.chat.Ask(ctx, domain.AskRequest{Query: "How much leave?", TenantID: "acme", Role: 1, UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestBuildApp_BadQdrantURL(t *testing.T) {
	cfg := memoryConfig()
	cfg.Qdrant.URL = "://not-a-url"

	_, err := buildApp(context.Background(), cfg, zap.NewNop())

	assert.Error(t, err)
}

func TestValidateMode(t *testing.T) {
	for _, mode := range []string{"api", "worker", "all"} {
		assert.NoError(t, validateMode(mode))
	}
	assert.Error(t, validateMode("cron"))
}

func TestReadDocuments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "travel.md")
	require.NoError(t, os.WriteFile(path, []byte("# Travel"), 0o600))

	docs, err := readDocuments([]string{path}, "acme", []int{2})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "travel.md", docs[0].SourceFile)
	assert.Equal(t, "# Travel", docs[0].Text)

	_, err = readDocuments([]string{filepath.Join(dir, "missing.md")}, "acme", []int{2})
	assert.Error(t, err)
}

func TestRootCmd(t *testing.T) {
	cmd := newRootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "ingest", "ask", "schema", "optimize"}, names)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"serve", "--mode", "cron"})
	assert.ErrorContains(t, cmd.Execute(), "unknown mode")
}
