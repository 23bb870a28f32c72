// Package ociregistry implements the Registry Client: enough of
// the OCI Distribution HTTP API to push and pull single-file artifacts and
// enumerate repositories. It intentionally does not implement chunked blob
// upload, manifest lists, or auth — the registry is assumed to sit on a
// trusted network.
package ociregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/a2aflow/a2aflow/a2aerrors"
	"github.com/a2aflow/a2aflow/telemetry"
)

const (
	// MediaTypeWorkflowArtifact is the media type used for workflow YAML
	// artifacts stored under workflows/<id>.
	MediaTypeWorkflowArtifact = "application/yaml"
	// MediaTypeAgentCard is the media type used for agent descriptor JSON
	// artifacts stored under agents/<name>.
	MediaTypeAgentCard = "application/json"

	titleAnnotation = "org.opencontainers.image.title"
)

type (
	// Client speaks the OCI Distribution HTTP API against a single registry
	// base URL (for example "http://localhost:5000").
	Client struct {
		baseURL string
		http    *http.Client
		obs     *observability
	}

	// Option configures a Client.
	Option func(*Client)

	// File is one named, content-addressed layer pulled from or pushed to
	// an artifact manifest.
	File struct {
		Name    string
		Content []byte
		Digest  digest.Digest
	}

	catalogResponse struct {
		Repositories []string `json:"repositories"`
	}
)

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger used for structured operation logs.
func WithLogger(l telemetry.Logger) Option {
	return func(cl *Client) { cl.obs.logger = l }
}

// WithMetrics sets the metrics recorder used for operation instrumentation.
func WithMetrics(m telemetry.Metrics) Option {
	return func(cl *Client) { cl.obs.metrics = m }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t telemetry.Tracer) Option {
	return func(cl *Client) { cl.obs.tracer = t }
}

// New constructs a Client against the given registry base URL (no trailing
// slash required).
func New(baseURL string, opts ...Option) *Client {
	cl := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		obs:     newObservability(nil, nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	return cl
}

// ListRepositories lists every repository known to the registry catalog.
// A non-2xx response is tolerated as an empty list; only a
// connect-level failure is surfaced as a NetworkError.
func (c *Client) ListRepositories(ctx context.Context) ([]string, error) {
	start := time.Now()
	ctx, span := c.obs.startSpan(ctx, opListRepositories)
	var outcome outcome
	var opErr error
	var repos []string
	defer func() {
		c.obs.finish(ctx, span, operationEvent{op: opListRepositories, duration: time.Since(start), outcome: outcome, err: opErr, count: len(repos)})
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v2/_catalog"), nil)
	if err != nil {
		outcome, opErr = outcomeError, err
		return nil, opErr
	}
	resp, err := c.http.Do(req)
	if err != nil {
		outcome = outcomeError
		opErr = &a2aerrors.NetworkError{Op: "list repositories", Err: err}
		return nil, opErr
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = outcomeSuccess
		return nil, nil
	}

	var decoded catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		outcome = outcomeSuccess
		return nil, nil
	}
	repos = decoded.Repositories
	outcome = outcomeSuccess
	return repos, nil
}

// BlobExists reports whether a blob with the given digest is already
// present in repo.
func (c *Client) BlobExists(ctx context.Context, repo string, dgst digest.Digest) (bool, error) {
	start := time.Now()
	ctx, span := c.obs.startSpan(ctx, opBlobExists, "repo", repo)
	var outcome outcome
	var opErr error
	var exists bool
	defer func() {
		c.obs.finish(ctx, span, operationEvent{op: opBlobExists, repo: repo, duration: time.Since(start), outcome: outcome, err: opErr})
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url("/v2/%s/blobs/%s", repo, dgst), nil)
	if err != nil {
		outcome, opErr = outcomeError, err
		return false, opErr
	}
	resp, err := c.http.Do(req)
	if err != nil {
		outcome = outcomeError
		opErr = &a2aerrors.NetworkError{Op: "blob exists", Err: err}
		return false, opErr
	}
	defer func() { _ = resp.Body.Close() }()

	exists = resp.StatusCode == http.StatusOK
	outcome = outcomeSuccess
	return exists, nil
}

// UploadBlob computes the SHA-256 digest of content and performs a
// monolithic upload to repo. It is idempotent: if the blob already exists
// the upload is skipped.
func (c *Client) UploadBlob(ctx context.Context, repo string, content []byte) (digest.Digest, error) {
	start := time.Now()
	dgst := digest.FromBytes(content)
	ctx, span := c.obs.startSpan(ctx, opUploadBlob, "repo", repo, "digest", dgst.String())
	var outcome outcome
	var opErr error
	defer func() {
		c.obs.finish(ctx, span, operationEvent{op: opUploadBlob, repo: repo, duration: time.Since(start), outcome: outcome, err: opErr})
	}()

	if exists, err := c.BlobExists(ctx, repo, dgst); err == nil && exists {
		outcome = outcomeCacheHit
		return dgst, nil
	}

	uploadURL := c.url("/v2/%s/blobs/uploads/", repo) + "?digest=" + dgst.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(content))
	if err != nil {
		outcome, opErr = outcomeError, err
		return "", opErr
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = outcomeError
		opErr = &a2aerrors.NetworkError{Op: "upload blob", Err: err}
		return "", opErr
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		body, _ := io.ReadAll(resp.Body)
		outcome = outcomeError
		opErr = &a2aerrors.IntegrityError{Expected: dgst.String(), Actual: strings.TrimSpace(string(body))}
		return "", opErr
	}
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		outcome = outcomeError
		opErr = &a2aerrors.RegistryError{Op: "upload blob", Status: resp.StatusCode, Body: string(body)}
		return "", opErr
	}

	outcome = outcomeSuccess
	return dgst, nil
}

// UploadManifest uploads manifestBytes as the manifest for repo:tag. The
// returned digest comes from the Docker-Content-Digest response header when
// present, or is recomputed locally otherwise.
func (c *Client) UploadManifest(ctx context.Context, repo, tag string, manifestBytes []byte, mediaType string) (digest.Digest, error) {
	start := time.Now()
	ctx, span := c.obs.startSpan(ctx, opUploadManifest, "repo", repo, "tag", tag)
	var outcome outcome
	var opErr error
	defer func() {
		c.obs.finish(ctx, span, operationEvent{op: opUploadManifest, repo: repo, duration: time.Since(start), outcome: outcome, err: opErr})
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url("/v2/%s/manifests/%s", repo, tag), bytes.NewReader(manifestBytes))
	if err != nil {
		outcome, opErr = outcomeError, err
		return "", opErr
	}
	req.Header.Set("Content-Type", mediaType)

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = outcomeError
		opErr = &a2aerrors.NetworkError{Op: "upload manifest", Err: err}
		return "", opErr
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		outcome = outcomeError
		opErr = &a2aerrors.RegistryError{Op: "upload manifest", Status: resp.StatusCode, Body: string(body)}
		return "", opErr
	}

	outcome = outcomeSuccess
	if header := resp.Header.Get("Docker-Content-Digest"); header != "" {
		return digest.Digest(header), nil
	}
	return digest.FromBytes(manifestBytes), nil
}

// PullArtifact retrieves the manifest for repo:tag and downloads every
// layer it references, verifying each layer's digest against its
// descriptor before returning.
func (c *Client) PullArtifact(ctx context.Context, repo, tag string) ([]File, error) {
	start := time.Now()
	ctx, span := c.obs.startSpan(ctx, opPullArtifact, "repo", repo, "tag", tag)
	var outcome outcome
	var opErr error
	var files []File
	defer func() {
		c.obs.finish(ctx, span, operationEvent{op: opPullArtifact, repo: repo, duration: time.Since(start), outcome: outcome, err: opErr, count: len(files)})
	}()

	manifest, err := c.getManifest(ctx, repo, tag)
	if err != nil {
		outcome = outcomeError
		opErr = err
		return nil, opErr
	}

	files = make([]File, 0, len(manifest.Layers))
	for i, layer := range manifest.Layers {
		content, err := c.getBlob(ctx, repo, layer.Digest)
		if err != nil {
			outcome = outcomeError
			opErr = err
			return nil, opErr
		}
		got := digest.FromBytes(content)
		if got != layer.Digest {
			outcome = outcomeError
			opErr = &a2aerrors.IntegrityError{Expected: layer.Digest.String(), Actual: got.String()}
			return nil, opErr
		}
		name := layer.Annotations[titleAnnotation]
		if name == "" {
			name = fmt.Sprintf("layer-%d-%s", i, strings.ReplaceAll(layer.Digest.String(), ":", "-"))
		}
		files = append(files, File{Name: name, Content: content, Digest: layer.Digest})
	}

	outcome = outcomeSuccess
	return files, nil
}

// PushArtifact uploads a single file as a tagged OCI artifact: the file is
// uploaded as a blob, then a manifest is constructed whose config and sole
// layer both reference that blob, and that manifest is uploaded under tag.
// It returns the digest of the uploaded file's blob.
func (c *Client) PushArtifact(ctx context.Context, repo, tag string, filename string, content []byte, mediaType string, artifactType string) (digest.Digest, error) {
	blobDigest, err := c.UploadBlob(ctx, repo, content)
	if err != nil {
		return "", err
	}

	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    blobDigest,
		Size:      int64(len(content)),
		Annotations: map[string]string{
			titleAnnotation: filename,
		},
	}

	manifest := ocispec.Manifest{
		Versioned:    ocispec.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: artifactType,
		Config:       desc,
		Layers:       []ocispec.Descriptor{desc},
	}

	manifestBytes, err := marshalDeterministic(manifest)
	if err != nil {
		return "", err
	}

	if _, err := c.UploadManifest(ctx, repo, tag, manifestBytes, ocispec.MediaTypeImageManifest); err != nil {
		return "", err
	}
	return blobDigest, nil
}

func (c *Client) getManifest(ctx context.Context, repo, tag string) (*ocispec.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v2/%s/manifests/%s", repo, tag), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", ocispec.MediaTypeImageManifest)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &a2aerrors.NetworkError{Op: "get manifest", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &a2aerrors.NotFoundError{Kind: "artifact", ID: repo + ":" + tag}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &a2aerrors.RegistryError{Op: "get manifest", Status: resp.StatusCode, Body: string(body)}
	}

	var manifest ocispec.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, &a2aerrors.RegistryError{Op: "get manifest", Status: resp.StatusCode, Body: err.Error()}
	}
	return &manifest, nil
}

func (c *Client) getBlob(ctx context.Context, repo string, dgst digest.Digest) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v2/%s/blobs/%s", repo, dgst), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &a2aerrors.NetworkError{Op: "get blob", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &a2aerrors.NotFoundError{Kind: "blob", ID: dgst.String()}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &a2aerrors.RegistryError{Op: "get blob", Status: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) url(format string, args ...any) string {
	return c.baseURL + fmt.Sprintf(format, args...)
}

// marshalDeterministic serializes v with stable key order and minimal
// whitespace so manifest digests are reproducible across processes.
// encoding/json already sorts map keys alphabetically and emits no
// incidental whitespace, so this is the single place manifest
// serialization happens.
func marshalDeterministic(v any) ([]byte, error) {
	return json.Marshal(v)
}
