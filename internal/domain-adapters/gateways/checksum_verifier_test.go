package gateways

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codeql.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestChecksumVerifier_CalculateChecksum(t *testing.T) {
	verifier := NewChecksumVerifier()
	path := writeWorkflow(t, "")

	sum, err := verifier.CalculateChecksum(path)
	require.NoError(t, err)
	// sha256 of the empty string
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", sum)

	again, err := verifier.CalculateChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, sum, again)

	_, err = verifier.CalculateChecksum(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestChecksumVerifier_VerifyFile(t *testing.T) {
	verifier := NewChecksumVerifier()
	path := writeWorkflow(t, "name: CodeQL\n")
	sum, err := verifier.CalculateChecksum(path)
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bare sum", sum + "\n", ""},
		{"sha256sum format", sum + "  codeql.yml\n", ""},
		{"upper case", strings.ToUpper(sum), ""},
		{"mismatch", strings.Repeat("0", 64), "checksum mismatch"},
		{"empty", "\n", "is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sumPath := path + ChecksumSuffix
			require.NoError(t, os.WriteFile(sumPath, []byte(tt.content), 0600))

			err := verifier.VerifyFile(path, sumPath)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestChecksumVerifier_MissingSumFile(t *testing.T) {
	verifier := NewChecksumVerifier()
	path := writeWorkflow(t, "name: CodeQL\n")

	err := verifier.VerifyFile(path, path+ChecksumSuffix)
	assert.ErrorContains(t, err, "failed to read checksum file")
}
