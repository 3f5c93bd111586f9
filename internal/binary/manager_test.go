package binary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"toolpin/internal/manifest"
	"toolpin/internal/platform"
	"toolpin/internal/testutil"
)

// artifactServer serves canned artifacts by URL path and counts requests.
type artifactServer struct {
	*httptest.Server
	mu       sync.Mutex
	files    map[string][]byte
	requests int64
}

func newArtifactServer(t *testing.T) *artifactServer {
	t.Helper()
	s := &artifactServer{files: map[string][]byte{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requests, 1)
		s.mu.Lock()
		body, ok := s.files[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *artifactServer) serve(path string, body []byte) {
	s.mu.Lock()
	s.files[path] = body
	s.mu.Unlock()
}

func (s *artifactServer) requestCount() int64 {
	return atomic.LoadInt64(&s.requests)
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.RootDir == "" {
		cfg.RootDir = t.TempDir()
	}
	if cfg.Platform == nil {
		cfg.Platform = linuxAMD64()
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = &instantSleeper{}
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func fileSpec(name, version, url string, digest string) *manifest.ToolSpec {
	spec := &manifest.ToolSpec{
		Name:     name,
		Version:  version,
		Template: url,
		Kind:     manifest.KindFile,
	}
	if digest != "" {
		spec.Digests = manifest.DigestSet{manifest.AnyPlatform: digest}
	}
	return spec
}

func TestManagerInstallsBareFile(t *testing.T) {
	server := newArtifactServer(t)
	body := []byte("jq binary for linux-amd64")
	server.serve("/jq-1.7.1/jq-linux-amd64", body)

	m := newTestManager(t, Config{})
	spec := fileSpec("jq", "1.7.1", server.URL+"/jq-{version}/jq-{os}-{arch}", sha256Hex(body))

	results := m.Run(context.Background(), []*manifest.ToolSpec{spec})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	res := results[0]
	if res.Err != nil {
		t.Fatalf("install failed: %v", res.Err)
	}
	if res.CacheHit {
		t.Error("first install must not be a cache hit")
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}

	got, err := os.ReadFile(res.FinalPath)
	if err != nil || string(got) != string(body) {
		t.Fatalf("installed contents = %q, %v", got, err)
	}
	info, err := os.Stat(res.FinalPath)
	if err != nil || info.Mode().Perm()&0111 == 0 {
		t.Errorf("installed file not executable: %v, %v", info, err)
	}
}

func TestManagerInstallsFromArchive(t *testing.T) {
	server := newArtifactServer(t)
	payload := []byte("rg executable payload")
	archive := testutil.MakeTarGz(t, map[string][]byte{
		"ripgrep-14.1.0/rg":        payload,
		"ripgrep-14.1.0/README.md": []byte("docs"),
	})
	server.serve("/rg-14.1.0-linux-amd64.tar.gz", archive)

	m := newTestManager(t, Config{})
	spec := &manifest.ToolSpec{
		Name:      "ripgrep",
		Version:   "14.1.0",
		Template:  server.URL + "/rg-{version}-{os}-{arch}.tar.gz",
		Kind:      manifest.KindArchive,
		Binary:    "rg",
		InstallAs: "rg",
		Digests:   manifest.DigestSet{"linux-amd64": sha256Hex(archive)},
	}

	results := m.Run(context.Background(), []*manifest.ToolSpec{spec})
	if results[0].Err != nil {
		t.Fatalf("install failed: %v", results[0].Err)
	}
	if filepath.Base(results[0].FinalPath) != "rg" {
		t.Errorf("installed as %q, want rg", filepath.Base(results[0].FinalPath))
	}
	got, err := os.ReadFile(results[0].FinalPath)
	if err != nil || string(got) != string(payload) {
		t.Errorf("installed contents = %q, %v", got, err)
	}
}

func TestManagerSecondRunIsIdempotent(t *testing.T) {
	server := newArtifactServer(t)
	body := []byte("jq binary")
	server.serve("/jq-linux-amd64", body)

	m := newTestManager(t, Config{})
	spec := fileSpec("jq", "1.7.1", server.URL+"/jq-{os}-{arch}", sha256Hex(body))

	first := m.Run(context.Background(), []*manifest.ToolSpec{spec})
	if first[0].Err != nil {
		t.Fatalf("first run failed: %v", first[0].Err)
	}
	fetched := server.requestCount()
	if fetched == 0 {
		t.Fatal("first run should have hit the network")
	}

	second := m.Run(context.Background(), []*manifest.ToolSpec{spec})
	if second[0].Err != nil {
		t.Fatalf("second run failed: %v", second[0].Err)
	}
	if !second[0].CacheHit {
		t.Error("second run should report a cache hit")
	}
	if server.requestCount() != fetched {
		t.Errorf("second run performed %d extra requests, want 0", server.requestCount()-fetched)
	}
	if second[0].FinalPath != first[0].FinalPath {
		t.Errorf("final path changed between runs: %q vs %q", second[0].FinalPath, first[0].FinalPath)
	}
}

func TestManagerDigestMismatchInstallsNothing(t *testing.T) {
	server := newArtifactServer(t)
	server.serve("/jq-linux-amd64", []byte("tampered bytes"))

	m := newTestManager(t, Config{})
	spec := fileSpec("jq", "1.7.1", server.URL+"/jq-{os}-{arch}", sha256Hex([]byte("expected bytes")))

	results := m.Run(context.Background(), []*manifest.ToolSpec{spec})
	if !errors.Is(results[0].Err, ErrDigestMismatch) {
		t.Fatalf("error = %v, want ErrDigestMismatch", results[0].Err)
	}
	if _, err := os.Stat(filepath.Join(m.BinDir(), "jq")); !os.IsNotExist(err) {
		t.Error("no file may be installed on digest mismatch")
	}

	// The failed artifact must not be cached either: a retry re-fetches.
	before := server.requestCount()
	m.Run(context.Background(), []*manifest.ToolSpec{spec})
	if server.requestCount() == before {
		t.Error("retry after mismatch should re-fetch, not reuse a cached artifact")
	}
}

func TestManagerMissingDigestPolicies(t *testing.T) {
	server := newArtifactServer(t)
	body := []byte("undigested tool")
	server.serve("/tool-linux-amd64", body)

	t.Run("required refuses", func(t *testing.T) {
		m := newTestManager(t, Config{DigestPolicy: DigestRequired})
		spec := fileSpec("tool", "1.0.0", server.URL+"/tool-{os}-{arch}", "")

		results := m.Run(context.Background(), []*manifest.ToolSpec{spec})
		if !errors.Is(results[0].Err, ErrNoDigestConfigured) {
			t.Fatalf("error = %v, want ErrNoDigestConfigured", results[0].Err)
		}
		if _, err := os.Stat(filepath.Join(m.BinDir(), "tool")); !os.IsNotExist(err) {
			t.Error("required policy must not install undigested artifacts")
		}
	})

	t.Run("permissive installs with warning", func(t *testing.T) {
		m := newTestManager(t, Config{DigestPolicy: DigestPermissive})
		spec := fileSpec("tool", "1.0.0", server.URL+"/tool-{os}-{arch}", "")

		results := m.Run(context.Background(), []*manifest.ToolSpec{spec})
		if results[0].Err != nil {
			t.Fatalf("install failed: %v", results[0].Err)
		}
		if len(results[0].Warnings) == 0 {
			t.Error("permissive install must carry an unverified warning")
		}
		if _, err := os.Stat(results[0].FinalPath); err != nil {
			t.Errorf("tool not installed: %v", err)
		}
	})
}

func TestManagerRequiredPolicyRejectsCachedUnverified(t *testing.T) {
	server := newArtifactServer(t)
	body := []byte("undigested tool")
	server.serve("/tool-linux-amd64", body)

	root := t.TempDir()
	spec := fileSpec("tool", "1.0.0", server.URL+"/tool-{os}-{arch}", "")

	permissive := newTestManager(t, Config{RootDir: root, DigestPolicy: DigestPermissive})
	first := permissive.Run(context.Background(), []*manifest.ToolSpec{spec})
	if first[0].Err != nil {
		t.Fatalf("permissive run failed: %v", first[0].Err)
	}

	// A later run under the required policy sees the cached, installed
	// artifact, but the missing digest still has to fail the entry.
	before := server.requestCount()
	required := newTestManager(t, Config{RootDir: root, DigestPolicy: DigestRequired})
	second := required.Run(context.Background(), []*manifest.ToolSpec{spec})
	if !errors.Is(second[0].Err, ErrNoDigestConfigured) {
		t.Fatalf("error = %v, want ErrNoDigestConfigured", second[0].Err)
	}
	if second[0].FinalPath != "" {
		t.Errorf("required policy reported a final path for an unverified entry: %q", second[0].FinalPath)
	}
	if server.requestCount() != before {
		t.Errorf("refusing an undigested entry must not touch the network")
	}
}

func TestManagerConflictingInstallTargets(t *testing.T) {
	server := newArtifactServer(t)
	body := []byte("tool bytes")
	server.serve("/a-linux-amd64", body)
	server.serve("/b-linux-amd64", body)

	m := newTestManager(t, Config{})
	a := fileSpec("tool-a", "1.0.0", server.URL+"/a-{os}-{arch}", sha256Hex(body))
	a.InstallAs = "tool"
	b := fileSpec("tool-b", "1.0.0", server.URL+"/b-{os}-{arch}", sha256Hex(body))
	b.InstallAs = "tool"

	results := m.Run(context.Background(), []*manifest.ToolSpec{a, b})
	if results[0].Err != nil {
		t.Errorf("first claimant should install: %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrConflictingInstallTarget) {
		t.Errorf("error = %v, want ErrConflictingInstallTarget", results[1].Err)
	}
}

func TestManagerIsolatesFailures(t *testing.T) {
	server := newArtifactServer(t)
	body := []byte("good tool")
	server.serve("/good-linux-amd64", body)

	m := newTestManager(t, Config{})
	good := fileSpec("good", "1.0.0", server.URL+"/good-{os}-{arch}", sha256Hex(body))
	missing := fileSpec("missing", "1.0.0", server.URL+"/absent-{os}-{arch}", sha256Hex(body))
	malformed := fileSpec("broken", "1.0.0", server.URL+"/{nope}", "")

	results := m.Run(context.Background(), []*manifest.ToolSpec{good, missing, malformed})

	if results[0].Err != nil {
		t.Errorf("good tool failed: %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrNotFound) {
		t.Errorf("missing tool error = %v, want ErrNotFound", results[1].Err)
	}
	if !errors.Is(results[2].Err, ErrMalformedTemplate) {
		t.Errorf("broken tool error = %v, want ErrMalformedTemplate", results[2].Err)
	}
}

func TestManagerUnsupportedPlatformNoNetwork(t *testing.T) {
	server := newArtifactServer(t)

	m := newTestManager(t, Config{Platform: &platform.Info{OS: "plan9", Arch: "amd64"}})
	spec := fileSpec("jq", "1.7.1", server.URL+"/jq-{os}-{arch}", "abc")

	results := m.Run(context.Background(), []*manifest.ToolSpec{spec})
	if !errors.Is(results[0].Err, ErrUnsupportedPlatform) {
		t.Fatalf("error = %v, want ErrUnsupportedPlatform", results[0].Err)
	}
	if server.requestCount() != 0 {
		t.Errorf("unsupported platform must not touch the network, saw %d requests", server.requestCount())
	}
}

func TestManagerRecoversFromCacheCorruption(t *testing.T) {
	server := newArtifactServer(t)
	body := []byte("pristine artifact")
	server.serve("/tool-linux-amd64", body)

	root := t.TempDir()
	m := newTestManager(t, Config{RootDir: root})
	spec := fileSpec("tool", "1.0.0", server.URL+"/tool-{os}-{arch}", sha256Hex(body))

	first := m.Run(context.Background(), []*manifest.ToolSpec{spec})
	if first[0].Err != nil {
		t.Fatalf("first run failed: %v", first[0].Err)
	}

	// Corrupt the cached artifact and delete the installed file so the
	// next run must go through the cache again.
	key := Key("tool", "1.0.0", server.URL+"/tool-linux-amd64")
	entry, err := m.cache.Lookup(key)
	if err != nil || entry == nil {
		t.Fatalf("cached entry missing: %v, %v", entry, err)
	}
	if err := os.WriteFile(entry.ArtifactPath(), []byte("bit rot"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(first[0].FinalPath); err != nil {
		t.Fatal(err)
	}

	before := server.requestCount()
	second := m.Run(context.Background(), []*manifest.ToolSpec{spec})
	if second[0].Err != nil {
		t.Fatalf("recovery run failed: %v", second[0].Err)
	}
	if len(second[0].Warnings) == 0 {
		t.Error("corruption recovery must surface a warning")
	}
	if server.requestCount() == before {
		t.Error("corrupt entry should have been re-fetched")
	}
	got, err := os.ReadFile(second[0].FinalPath)
	if err != nil || string(got) != string(body) {
		t.Errorf("recovered contents = %q, %v", got, err)
	}
}

func TestManagerRefetchesOnLockfileDigestChange(t *testing.T) {
	server := newArtifactServer(t)
	oldBody := []byte("version one bytes")
	server.serve("/tool-linux-amd64", oldBody)

	m := newTestManager(t, Config{})
	spec := fileSpec("tool", "1.0.0", server.URL+"/tool-{os}-{arch}", sha256Hex(oldBody))

	if res := m.Run(context.Background(), []*manifest.ToolSpec{spec}); res[0].Err != nil {
		t.Fatalf("first run failed: %v", res[0].Err)
	}

	// Same URL and version, new expected digest: the vendor re-published
	// the artifact and the lockfile was updated to match.
	newBody := []byte("version one bytes, republished")
	server.serve("/tool-linux-amd64", newBody)
	updated := fileSpec("tool", "1.0.0", server.URL+"/tool-{os}-{arch}", sha256Hex(newBody))
	if err := os.Remove(filepath.Join(m.BinDir(), "tool")); err != nil {
		t.Fatal(err)
	}

	results := m.Run(context.Background(), []*manifest.ToolSpec{updated})
	if results[0].Err != nil {
		t.Fatalf("refetch run failed: %v", results[0].Err)
	}
	got, err := os.ReadFile(results[0].FinalPath)
	if err != nil || string(got) != string(newBody) {
		t.Errorf("installed contents = %q, %v; want republished bytes", got, err)
	}
}

func TestManagerParallelInstall(t *testing.T) {
	server := newArtifactServer(t)

	var specs []*manifest.ToolSpec
	for _, name := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		body := []byte("payload for " + name)
		server.serve("/"+name+"-linux-amd64", body)
		specs = append(specs, fileSpec(name, "1.0.0", server.URL+"/"+name+"-{os}-{arch}", sha256Hex(body)))
	}

	m := newTestManager(t, Config{Jobs: 3})
	results := m.Run(context.Background(), specs)

	if len(results) != len(specs) {
		t.Fatalf("got %d results, want %d", len(results), len(specs))
	}
	for i, res := range results {
		if res.Err != nil {
			t.Errorf("%s failed: %v", specs[i].Name, res.Err)
			continue
		}
		if res.Tool != specs[i].Name {
			t.Errorf("results out of order: index %d is %q, want %q", i, res.Tool, specs[i].Name)
		}
		if _, err := os.Stat(res.FinalPath); err != nil {
			t.Errorf("%s not installed: %v", res.Tool, err)
		}
	}
}

func TestManagerSharedCacheKeySingleFetch(t *testing.T) {
	server := newArtifactServer(t)
	body := []byte("shared artifact")
	server.serve("/tool-linux-amd64", body)

	m := newTestManager(t, Config{Jobs: 4})

	// Identical entries under different install names share one cache
	// slot; the lease guarantees a single fetch.
	var specs []*manifest.ToolSpec
	for _, alias := range []string{"tool-one", "tool-two", "tool-three"} {
		spec := fileSpec("tool", "1.0.0", server.URL+"/tool-{os}-{arch}", sha256Hex(body))
		spec.InstallAs = alias
		specs = append(specs, spec)
	}

	results := m.Run(context.Background(), specs)
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("%s failed: %v", res.Tool, res.Err)
		}
	}
	if got := server.requestCount(); got != 1 {
		t.Errorf("server saw %d fetches, want 1", got)
	}
}

func TestManagerDeclaredSignatureWithoutKeyring(t *testing.T) {
	server := newArtifactServer(t)
	body := []byte("signed tool")
	server.serve("/tool-linux-amd64", body)
	server.serve("/tool-linux-amd64.asc", []byte("sig"))

	m := newTestManager(t, Config{})
	spec := fileSpec("tool", "1.0.0", server.URL+"/tool-{os}-{arch}", sha256Hex(body))
	spec.Signature = server.URL + "/tool-{os}-{arch}.asc"

	results := m.Run(context.Background(), []*manifest.ToolSpec{spec})
	if !errors.Is(results[0].Err, ErrSignatureInvalid) {
		t.Fatalf("error = %v, want ErrSignatureInvalid", results[0].Err)
	}
	if _, err := os.Stat(filepath.Join(m.BinDir(), "tool")); !os.IsNotExist(err) {
		t.Error("unverifiable signature must block the install")
	}
}
