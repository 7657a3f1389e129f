package bulkimport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONLEntrySourceDecodesLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entries.jsonl")
	data := []byte(
		`{"name":["c=US"],"base":["c=US"]}` + "\n" +
			`{"name":["ou=People","c=US"],"base":["c=US"],"attributes":{"ou":["People"]}}` + "\n" +
			"\n" + // blank lines are skipped
			`{"name":["uid=bjensen","ou=People","c=US"],"base":["c=US"],"attributes":{"cn":["bjensen"]}}` + "\n",
	)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	src, err := OpenJSONLEntrySource(path)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()

	e1, base1, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, n("c=US"), e1.Name)
	require.Equal(t, n("c=US"), base1)

	e2, _, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, n("ou=People", "c=US"), e2.Name)
	require.Equal(t, []string{"People"}, e2.Attributes["ou"])

	e3, _, err := src.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, n("uid=bjensen", "ou=People", "c=US"), e3.Name)

	_, _, err = src.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}
