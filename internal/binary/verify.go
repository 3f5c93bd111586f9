package binary

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // ProtonMail's maintained fork
)

// DigestPolicy controls what happens when a lockfile entry declares no
// expected digest for the running platform. The choice is explicit
// configuration, never a hidden default.
type DigestPolicy int

const (
	// DigestRequired refuses to install artifacts without a declared
	// digest. This is the default.
	DigestRequired DigestPolicy = iota
	// DigestPermissive installs undigested artifacts but reports them as
	// unverified in the entry's result.
	DigestPermissive
)

// String returns the string representation of the policy.
func (p DigestPolicy) String() string {
	switch p {
	case DigestRequired:
		return "required"
	case DigestPermissive:
		return "permissive"
	default:
		return "unknown"
	}
}

// Verifier checks downloaded artifacts against expected sha256 digests
// and, when configured, detached GPG signatures.
type Verifier struct {
	policy     DigestPolicy
	keyringDir string
}

// NewVerifier creates a verifier. keyringDir may be empty when no tool
// uses signature verification.
func NewVerifier(policy DigestPolicy, keyringDir string) *Verifier {
	return &Verifier{policy: policy, keyringDir: keyringDir}
}

// Policy returns the verifier's digest policy.
func (v *Verifier) Policy() DigestPolicy {
	return v.policy
}

// VerifyDigest hashes the file at path and compares it to the expected
// hex digest. It returns the actual digest in all cases so callers can
// record it. A mismatch is ErrDigestMismatch; an empty expected digest is
// ErrNoDigestConfigured under the required policy and a silent pass-through
// (actual digest only) under the permissive one.
func (v *Verifier) VerifyDigest(path, expected string) (string, error) {
	actual, err := HashFile(path)
	if err != nil {
		return "", fmt.Errorf("compute digest: %w", err)
	}

	if expected == "" {
		if v.policy == DigestRequired {
			return actual, ErrNoDigestConfigured
		}
		return actual, nil
	}

	if !strings.EqualFold(actual, expected) {
		return actual, fmt.Errorf("%w: expected %s, got %s", ErrDigestMismatch, expected, actual)
	}

	return actual, nil
}

// HasKeyring reports whether a keyring file exists for the tool.
func (v *Verifier) HasKeyring(tool string) bool {
	if v.keyringDir == "" {
		return false
	}
	_, err := os.Stat(v.keyringPath(tool))
	return err == nil
}

// VerifySignature checks a detached GPG signature over the artifact using
// the tool's keyring, trying the armored form first and falling back to
// binary signatures.
func (v *Verifier) VerifySignature(artifactPath, signaturePath, tool string) error {
	keyring, err := v.loadKeyring(tool)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	artifact, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer artifact.Close()

	sig, err := os.Open(signaturePath)
	if err != nil {
		return fmt.Errorf("open signature: %w", err)
	}
	defer sig.Close()

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, artifact, sig, nil)
	if err != nil {
		artifact.Seek(0, io.SeekStart)
		sig.Seek(0, io.SeekStart)
		_, err = openpgp.CheckDetachedSignature(keyring, artifact, sig, nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	return nil
}

func (v *Verifier) keyringPath(tool string) string {
	return filepath.Join(v.keyringDir, tool+".asc")
}

// loadKeyring reads a tool's public keyring, accepting armored or binary
// form.
func (v *Verifier) loadKeyring(tool string) (openpgp.EntityList, error) {
	file, err := os.Open(v.keyringPath(tool))
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer file.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(file)
	if err != nil {
		file.Seek(0, io.SeekStart)
		keyring, err = openpgp.ReadKeyRing(file)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}

// HashFile computes the sha256 digest of a file as lowercase hex.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
