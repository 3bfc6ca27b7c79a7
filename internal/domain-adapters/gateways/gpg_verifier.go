package gateways

import (
	"fmt"

	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
	"github.com/ochairo/scanmatrix/internal/external-adapters/gpg"
)

// gpgVerifier wraps the external GPG adapter to implement the domain gateway interface
type gpgVerifier struct {
	verifier *gpg.Verifier
}

// NewGPGVerifier creates a signature verifier trusting the keys in keyringPath
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewGPGVerifier(keyringPath string) (*gpgVerifier, error) {
	v, err := gpg.NewVerifierFromFile(keyringPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load keyring %s: %w", keyringPath, err)
	}
	return &gpgVerifier{verifier: v}, nil
}

// VerifyFile verifies a detached signature from a local file
func (g *gpgVerifier) VerifyFile(filePath, sigPath string) error {
	if err := g.verifier.VerifyFile(filePath, sigPath); err != nil {
		return fmt.Errorf("workflow signature verification failed: %w", err)
	}
	return nil
}

// GetKeyringSize returns the number of keys loaded
func (g *gpgVerifier) GetKeyringSize() int {
	return g.verifier.GetKeyringSize()
}

var _ gateways.SignatureVerifier = (*gpgVerifier)(nil)
