package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	values map[string][]byte
}

func (s stubSource) Load(name string) ([]byte, error) {
	v, ok := s.values[name]
	if !ok {
		return nil, fmt.Errorf("no such secret: %s", name)
	}
	return v, nil
}

func TestResolve_PrefersFileOverSecretName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key.hex")
	require.NoError(t, os.WriteFile(path, []byte("  abc123  \n"), 0o600))

	src := stubSource{values: map[string][]byte{"ignored": []byte("should-not-be-used")}}
	got, err := Resolve(src, path, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "abc123", string(got), "file contents should be trimmed")
}

func TestResolve_FallsBackToSourceWhenNoFile(t *testing.T) {
	src := stubSource{values: map[string][]byte{"root-signer": []byte("deadbeef")}}
	got, err := Resolve(src, "", "root-signer")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", string(got))
}

func TestResolve_NeitherFileNorSecretIsError(t *testing.T) {
	_, err := Resolve(stubSource{}, "", "")
	assert.Error(t, err, "neither a file nor a secret name configured should fail")
}

func TestFileSource_Load_MissingFileIsError(t *testing.T) {
	_, err := (FileSource{}).Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
