package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliHarness struct {
	t       *testing.T
	dataDir string
}

func newCLIHarness(t *testing.T) cliHarness {
	t.Helper()
	return cliHarness{t: t, dataDir: t.TempDir()}
}

func (h cliHarness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	fullArgs := append([]string{"--data-dir", h.dataDir, "--log-level", "error"}, args...)
	err := run(context.Background(), fullArgs, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func (h cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	output, err := h.run("", args...)
	require.NoError(h.t, err, "flashnotes %v", args)
	return output
}

func (h cliHarness) mustDecode(output string, target any) {
	h.t.Helper()
	require.NoError(h.t, json.Unmarshal([]byte(output), target), output)
}

func TestCLICreateListAndShow(t *testing.T) {
	harness := newCLIHarness(t)

	var created struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	harness.mustDecode(harness.mustRun("new", "Shopping", "list"), &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "Shopping list", created.Title)

	var listed []struct {
		ID string `json:"id"`
	}
	harness.mustDecode(harness.mustRun("list"), &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	assert.Equal(t, "Shopping list", harness.mustRun("show", "--raw", created.ID))
	_, err := os.Stat(filepath.Join(harness.dataDir, "flashnotes.db"))
	assert.NoError(t, err)
}

func TestCLISaveFromStdinAndSearch(t *testing.T) {
	harness := newCLIHarness(t)

	var created struct {
		ID string `json:"id"`
	}
	harness.mustDecode(harness.mustRun("new"), &created)

	output, err := harness.run("Recipes\nsourdough starter feeding\n", "save", "--stdin", created.ID)
	require.NoError(t, err)
	var saved map[string]string
	harness.mustDecode(output, &saved)
	assert.Equal(t, "Recipes", saved["title"])
	assert.Equal(t, "sourdough starter feeding", saved["preview"])

	var results []struct {
		ID      string `json:"id"`
		Snippet string `json:"snippet"`
	}
	harness.mustDecode(harness.mustRun("search", "sour", "feed"), &results)
	require.Len(t, results, 1)
	assert.Equal(t, created.ID, results[0].ID)
	assert.Contains(t, results[0].Snippet, "<mark>")
}

func TestCLIShowWritesOutputFile(t *testing.T) {
	harness := newCLIHarness(t)
	var created struct {
		ID string `json:"id"`
	}
	harness.mustDecode(harness.mustRun("new", "exported"), &created)

	target := filepath.Join(t.TempDir(), "note.txt")
	harness.mustRun("show", "--output", target, created.ID)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "exported", string(data))
}

func TestCLIDeleteReportsNextID(t *testing.T) {
	harness := newCLIHarness(t)
	var first, second struct {
		ID string `json:"id"`
	}
	harness.mustDecode(harness.mustRun("new", "first"), &first)
	harness.mustDecode(harness.mustRun("new", "second"), &second)

	var deleted struct {
		Deleted string  `json:"deleted"`
		NextID  *string `json:"next_id"`
	}
	harness.mustDecode(harness.mustRun("rm", second.ID), &deleted)
	require.NotNil(t, deleted.NextID)
	assert.Equal(t, first.ID, *deleted.NextID)

	harness.mustDecode(harness.mustRun("rm", first.ID), &deleted)
	assert.Nil(t, deleted.NextID)

	_, err := harness.run("", "rm", first.ID)
	assert.Error(t, err)
}

func TestCLISettingsRoundTrip(t *testing.T) {
	harness := newCLIHarness(t)

	harness.mustRun("settings", "set", "font_size", "18")
	var values struct {
		FontSize   int    `json:"font_size"`
		FontFamily string `json:"font_family"`
	}
	harness.mustDecode(harness.mustRun("settings"), &values)
	assert.Equal(t, 18, values.FontSize)
	assert.Equal(t, "JetBrains Mono", values.FontFamily)
}

func TestCLIArchivePinCountAndCleanup(t *testing.T) {
	harness := newCLIHarness(t)
	var kept, blank struct {
		ID string `json:"id"`
	}
	harness.mustDecode(harness.mustRun("new", "keep"), &kept)
	harness.mustDecode(harness.mustRun("new", "   "), &blank)

	var pinned map[string]any
	harness.mustDecode(harness.mustRun("pin", kept.ID), &pinned)
	assert.Equal(t, true, pinned["pinned"])

	var cleaned map[string]int64
	harness.mustDecode(harness.mustRun("cleanup"), &cleaned)
	assert.EqualValues(t, 1, cleaned["removed"])

	harness.mustRun("archive", kept.ID)
	var counted map[string]int64
	harness.mustDecode(harness.mustRun("count"), &counted)
	assert.EqualValues(t, 0, counted["count"])
	harness.mustDecode(harness.mustRun("count", "--all"), &counted)
	assert.EqualValues(t, 1, counted["count"])

	harness.mustRun("unarchive", kept.ID)
	harness.mustRun("reorder", kept.ID)
	harness.mustDecode(harness.mustRun("count"), &counted)
	assert.EqualValues(t, 1, counted["count"])
}

func TestCLIMaintenanceCommands(t *testing.T) {
	harness := newCLIHarness(t)

	var doctor struct {
		OK bool `json:"ok"`
	}
	harness.mustDecode(harness.mustRun("doctor"), &doctor)
	assert.True(t, doctor.OK)
	harness.mustRun("vacuum")

	var snapshots []struct {
		Path string `json:"path"`
	}
	harness.mustDecode(harness.mustRun("backup", "list"), &snapshots)
	// The startup backup from the first invocation.
	require.Len(t, snapshots, 1)
	assert.True(t, strings.HasPrefix(filepath.Base(snapshots[0].Path), "flashnotes_"))
}

func TestCLIRejectsInvalidConfiguration(t *testing.T) {
	harness := newCLIHarness(t)

	_, err := harness.run("", "--readers", "0", "list")
	assert.Error(t, err)

	_, err = harness.run("", "--config", filepath.Join(t.TempDir(), "missing.toml"), "list")
	assert.Error(t, err)
}

func TestCLIStdinConflictsWithArguments(t *testing.T) {
	harness := newCLIHarness(t)

	_, err := harness.run("body", "new", "--stdin", "extra")
	assert.Error(t, err)
}
