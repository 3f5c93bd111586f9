package binary

import "errors"

// Error taxonomy for the install pipeline. Every failure surfaced in an
// InstallResult wraps exactly one of these sentinels so callers can
// classify outcomes with errors.Is.
var (
	// ErrUnsupportedPlatform indicates no name mapping exists for the
	// running platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrMalformedTemplate indicates a source template with unknown
	// placeholders or one that does not expand to a valid URL.
	ErrMalformedTemplate = errors.New("malformed template")

	// ErrFetchExhausted indicates the download failed after all retry
	// attempts were spent on transient errors.
	ErrFetchExhausted = errors.New("download retries exhausted")

	// ErrNotFound indicates the server returned 404 for the artifact.
	ErrNotFound = errors.New("artifact not found")

	// ErrForbidden indicates the server denied access to the artifact.
	ErrForbidden = errors.New("artifact access forbidden")

	// ErrDigestMismatch indicates the downloaded bytes do not match the
	// lockfile's expected digest.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrNoDigestConfigured indicates the lockfile declares no digest for
	// this platform and the digest policy requires one.
	ErrNoDigestConfigured = errors.New("no digest configured")

	// ErrSignatureInvalid indicates a declared GPG signature failed to
	// verify against the tool's keyring.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrExtractionFailed indicates the archive could not be unpacked or
	// the wanted executable was not found inside it.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrConflictingInstallTarget indicates two lockfile entries resolve
	// to the same final executable path.
	ErrConflictingInstallTarget = errors.New("conflicting install target")

	// ErrCacheCorruption indicates an on-disk cache entry whose recorded
	// digest no longer matches its file contents.
	ErrCacheCorruption = errors.New("cache entry corrupted")
)
