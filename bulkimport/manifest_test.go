package bulkimport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := Manifest{
		Suffix:         "uid=bjensen,ou=People,c=US",
		TrustedIndexes: []string{".naming", "cn.equality", ".children"},
		RunFilesClean:  true,
	}

	require.NoError(t, WriteManifest(dir, m))

	got, err := ReadManifest(dir, m.Suffix)
	require.NoError(t, err)

	require.Equal(t, m.Suffix, got.Suffix)
	require.True(t, got.RunFilesClean)
	require.Equal(t, []string{".children", ".naming", "cn.equality"}, got.TrustedIndexes)
}

func TestManifestPathSanitizesSeparators(t *testing.T) {
	dir := t.TempDir()
	m := Manifest{Suffix: "c=US/special", RunFilesClean: false}
	require.NoError(t, WriteManifest(dir, m))

	_, err := ReadManifest(dir, "c=US/special")
	require.NoError(t, err)
}
