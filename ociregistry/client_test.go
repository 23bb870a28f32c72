package ociregistry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

// fakeRegistry is a minimal in-memory stand-in for the OCI Distribution API,
// enough to exercise Client's push/pull round trip without a live registry.
type fakeRegistry struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	manifests map[string][]byte
	repos     map[string]struct{}
}

func newFakeRegistry() *httptest.Server {
	reg := &fakeRegistry{
		blobs:     make(map[string][]byte),
		manifests: make(map[string][]byte),
		repos:     make(map[string]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/_catalog", reg.handleCatalog)
	mux.HandleFunc("/", reg.handleRepoPath)
	return httptest.NewServer(mux)
}

func (r *fakeRegistry) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repos := make([]string, 0, len(r.repos))
	for name := range r.repos {
		repos = append(repos, name)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"repositories": repos})
}

func (r *fakeRegistry) handleRepoPath(w http.ResponseWriter, req *http.Request) {
	// Path shapes: /v2/{repo}/blobs/uploads/?digest=... , /v2/{repo}/blobs/{digest},
	// /v2/{repo}/manifests/{ref}
	path := req.URL.Path
	rest := strings.TrimPrefix(path, "/v2/")
	switch {
	case strings.Contains(rest, "/blobs/uploads/"):
		repo := strings.SplitN(rest, "/blobs/uploads/", 2)[0]
		r.handleBlobUpload(w, req, repo)
	case strings.Contains(rest, "/blobs/"):
		parts := strings.SplitN(rest, "/blobs/", 2)
		r.handleBlob(w, req, parts[0], parts[1])
	case strings.Contains(rest, "/manifests/"):
		parts := strings.SplitN(rest, "/manifests/", 2)
		r.handleManifest(w, req, parts[0], parts[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (r *fakeRegistry) handleBlobUpload(w http.ResponseWriter, req *http.Request, repo string) {
	dgst := req.URL.Query().Get("digest")
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.repos[repo] = struct{}{}
	r.blobs[repo+"|"+dgst] = body
	r.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (r *fakeRegistry) handleBlob(w http.ResponseWriter, req *http.Request, repo, dgst string) {
	r.mu.Lock()
	content, ok := r.blobs[repo+"|"+dgst]
	r.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if req.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = w.Write(content)
}

func (r *fakeRegistry) handleManifest(w http.ResponseWriter, req *http.Request, repo, ref string) {
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		dgst := digest.FromBytes(body)
		r.mu.Lock()
		r.repos[repo] = struct{}{}
		r.manifests[repo+"|"+ref] = body
		r.mu.Unlock()
		w.Header().Set("Docker-Content-Digest", dgst.String())
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		r.mu.Lock()
		content, ok := r.manifests[repo+"|"+ref]
		r.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(content)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestPushPullArtifactRoundTrip(t *testing.T) {
	server := newFakeRegistry()
	defer server.Close()

	client := New(server.URL)
	ctx := context.Background()

	content := []byte("metadata:\n  id: test-seq\n")
	dgst, err := client.PushArtifact(ctx, "workflows/test-seq", "v1", "workflow.yaml", content, MediaTypeWorkflowArtifact, "")
	require.NoError(t, err)
	require.Equal(t, digest.FromBytes(content).String(), dgst.String())

	files, err := client.PullArtifact(ctx, "workflows/test-seq", "v1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "workflow.yaml", files[0].Name)
	require.Equal(t, content, files[0].Content)
	require.Equal(t, digest.FromBytes(content).String(), files[0].Digest.String())
}

func TestListRepositoriesReturnsEveryRepository(t *testing.T) {
	server := newFakeRegistry()
	defer server.Close()
	client := New(server.URL)
	ctx := context.Background()

	_, err := client.PushArtifact(ctx, "workflows/a", "v1", "a.yaml", []byte("a"), MediaTypeWorkflowArtifact, "")
	require.NoError(t, err)
	_, err = client.PushArtifact(ctx, "workflows/b", "v1", "b.yaml", []byte("b"), MediaTypeWorkflowArtifact, "")
	require.NoError(t, err)
	_, err = client.PushArtifact(ctx, "agents/echo", "v1", "card.json", []byte(`{"name":"echo"}`), MediaTypeAgentCard, "")
	require.NoError(t, err)

	repos, err := client.ListRepositories(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"workflows/a", "workflows/b", "agents/echo"}, repos)
}

func TestUploadBlobIdempotentUnderDigest(t *testing.T) {
	server := newFakeRegistry()
	defer server.Close()
	client := New(server.URL)
	ctx := context.Background()

	content := []byte("same content")
	d1, err := client.UploadBlob(ctx, "workflows/idem", content)
	require.NoError(t, err)
	d2, err := client.UploadBlob(ctx, "workflows/idem", content)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestPullArtifactNotFound(t *testing.T) {
	server := newFakeRegistry()
	defer server.Close()
	client := New(server.URL)

	_, err := client.PullArtifact(context.Background(), "workflows/missing", "v1")
	require.Error(t, err)
}
