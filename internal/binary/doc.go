// Package binary implements the core install pipeline: resolving a pinned
// tool entry to a concrete download URL, fetching the artifact into a
// content-addressed cache, verifying its integrity, and placing the
// executable at a stable path.
//
// # Pipeline
//
// For each lockfile entry the pipeline runs
//
//	resolve → cache lookup → fetch (on miss) → verify → commit → install
//
// Entries are independent: a failure in one never aborts another, and every
// entry produces exactly one InstallResult.
//
// # Integrity
//
// Downloads are verified against the lockfile's sha256 digest before
// anything becomes visible in the cache or the bin directory. A mismatch is
// fatal for that entry and the temporary file is deleted. Entries may
// additionally declare a detached GPG signature, verified against a
// per-tool keyring.
//
// # Concurrency
//
// A fixed pool of workers processes entries in parallel. The cache is the
// only shared mutable state; per-key leases guarantee that exactly one
// worker performs the fetch+verify+commit sequence for a given artifact
// while the rest wait and re-read the committed entry. Installation is
// atomic per final path (extract/copy into a staging sibling, then rename),
// so concurrent readers of the bin directory never observe a partial
// executable.
//
// # Architecture
//
//   - Manager: orchestrates the pipeline across all entries
//   - Resolver: template expansion and platform name mapping
//   - Cache: content-addressed artifact store with per-key leases
//   - Downloader: HTTP streaming with retry and backoff
//   - Verifier: sha256 digest and optional GPG signature checks
//   - Extractor/Installer: archive extraction and atomic placement
package binary
