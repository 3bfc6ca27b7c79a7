package gpg

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowContent = "name: CodeQL\non:\n  push:\n    branches: [main]\n"

// signedFixture writes a public key, a workflow file and its detached signature
func signedFixture(t *testing.T, armored bool) (keyPath, filePath, sigPath string) {
	t.Helper()
	dir := t.TempDir()

	entity, err := openpgp.NewEntity("CI Maintainer", "", "ci@example.com", nil)
	require.NoError(t, err)

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	keyPath = filepath.Join(dir, "maintainers.asc")
	filePath = filepath.Join(dir, "codeql.yml")
	sigPath = filePath + ".asc"
	require.NoError(t, os.WriteFile(keyPath, pub.Bytes(), 0600))
	require.NoError(t, os.WriteFile(filePath, []byte(workflowContent), 0600))

	var sig bytes.Buffer
	if armored {
		require.NoError(t, openpgp.ArmoredDetachSign(&sig, entity, strings.NewReader(workflowContent), nil))
	} else {
		require.NoError(t, openpgp.DetachSign(&sig, entity, strings.NewReader(workflowContent), nil))
	}
	require.NoError(t, os.WriteFile(sigPath, sig.Bytes(), 0600))
	return keyPath, filePath, sigPath
}

func TestVerifier_VerifyFile_Armored(t *testing.T) {
	keyPath, filePath, sigPath := signedFixture(t, true)

	v, err := NewVerifierFromFile(keyPath)
	require.NoError(t, err)
	assert.Equal(t, 1, v.GetKeyringSize())
	assert.NoError(t, v.VerifyFile(filePath, sigPath))
}

func TestVerifier_VerifyFile_Binary(t *testing.T) {
	keyPath, filePath, sigPath := signedFixture(t, false)

	v, err := NewVerifierFromFile(keyPath)
	require.NoError(t, err)
	assert.NoError(t, v.VerifyFile(filePath, sigPath))
}

func TestVerifier_VerifyFile_Tampered(t *testing.T) {
	keyPath, filePath, sigPath := signedFixture(t, true)
	require.NoError(t, os.WriteFile(filePath, []byte(workflowContent+"  pull_request:\n"), 0600))

	v, err := NewVerifierFromFile(keyPath)
	require.NoError(t, err)
	err = v.VerifyFile(filePath, sigPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature verification failed")
}

func TestVerifier_VerifyFile_UnknownSigner(t *testing.T) {
	_, filePath, sigPath := signedFixture(t, true)
	otherKey, _, _ := signedFixture(t, true)

	v, err := NewVerifierFromFile(otherKey)
	require.NoError(t, err)
	assert.Error(t, v.VerifyFile(filePath, sigPath))
}

func TestVerifier_VerifyFile_MissingSignature(t *testing.T) {
	keyPath, filePath, _ := signedFixture(t, true)

	v, err := NewVerifierFromFile(keyPath)
	require.NoError(t, err)
	err = v.VerifyFile(filePath, filePath+".sig")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open signature file")
}

func TestVerifier_EmptyKeyring(t *testing.T) {
	v := NewVerifier()
	err := v.VerifyFile("a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no keys imported")
}

func TestVerifier_ImportKeyFromFile_Errors(t *testing.T) {
	v := NewVerifier()

	err := v.ImportKeyFromFile("/nonexistent/key.asc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open key file")

	garbage := filepath.Join(t.TempDir(), "garbage.asc")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0600))
	err = v.ImportKeyFromFile(garbage)
	require.Error(t, err)
	assert.Equal(t, 0, v.GetKeyringSize())
}
