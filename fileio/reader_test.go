package fileio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadFile_CSV(t *testing.T) {
	path := writeFile(t, "orders.csv", "id_compra,fecha_creacion,total_cop\n"+
		"1,2025-10-01 12:05:00,15000\n"+
		"2, 2025-10-01 12:50:00 ,\n"+
		"9,2025-10-01 13:00:00,1\"0\n"+
		"3,2025-10-01 19:10:00,22000\n")

	rows, skipped, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, rows, 3)

	assert.Equal(t, "1", rows[0]["id_compra"])
	assert.Equal(t, "15000", rows[0]["total_cop"])
	assert.Equal(t, "2025-10-01 12:50:00", rows[1]["fecha_creacion"])
	_, hasTotal := rows[1]["total_cop"]
	assert.False(t, hasTotal, "empty cells are treated as missing")
	assert.Equal(t, "3", rows[2]["id_compra"])
}

func TestReadFile_EmptyCSV(t *testing.T) {
	rows, _, err := ReadFile(context.Background(), writeFile(t, "empty.csv", ""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadFile_JSONL(t *testing.T) {
	path := writeFile(t, "events.jsonl", `{"event_name":"app_launch_to_menu","duration_ms":1200}
not json

{"event_name":"payment_completed","duration_ms":800,"success":true}
`)

	rows, skipped, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, rows, 2)
	assert.Equal(t, "app_launch_to_menu", rows[0]["event_name"])
	assert.Equal(t, true, rows[1]["success"])
}

func TestReadFile_Missing(t *testing.T) {
	_, _, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestReader_HonoursCancellation(t *testing.T) {
	path := writeFile(t, "orders.csv", "id\n1\n2\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ReadFile(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatJSONL, DetectFormat("a/b.ndjson"))
	assert.Equal(t, FormatJSONL, DetectFormat("a/b.JSONL"))
	assert.Equal(t, FormatCSV, DetectFormat("a/b.csv"))
	assert.Equal(t, FormatCSV, DetectFormat("a/b"))
}
