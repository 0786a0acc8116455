// Package secrets loads the ROOT signing key and CHILD wallet key
// material. A Source abstracts where the raw key bytes come from so a
// managed secret store can be wired in later without touching callers.
//
// Grounded on original_source/relayer/src/aws_secret_manager.rs's
// file-vs-managed-store split (get_ethereum_keys_aws /
// get_concordium_keys_aws); this relayer carries only the file-backed
// Source since no secret-manager SDK is part of the dependency pack —
// see DESIGN.md for why that source was not wired.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source resolves a named secret to its raw bytes.
type Source interface {
	Load(name string) ([]byte, error)
}

// FileSource reads a hex-encoded private key from a file on disk.
type FileSource struct{}

// Load reads the file at name and returns its trimmed contents; it does
// not hex-decode them.
func (FileSource) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read secret file %s: %w", name, err)
	}
	return []byte(strings.TrimSpace(string(data))), nil
}

// Resolve loads key material from file if set, otherwise from the named
// entry in source, matching the CHILD_WALLET_FILE/CHILD_WALLET_SECRET and
// ROOT_SIGNER_KEY/ROOT_SIGNER_SECRET configuration pairs.
func Resolve(source Source, file, secretName string) ([]byte, error) {
	if file != "" {
		return FileSource{}.Load(file)
	}
	if secretName == "" {
		return nil, fmt.Errorf("no file or secret name configured")
	}
	return source.Load(secretName)
}
