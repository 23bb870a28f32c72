// Command a2aflow-demo wires a registry client, discovery, and an engine
// together and runs one workflow end to end against a stub agent, to show
// how the pieces fit without requiring a live OCI registry or a real A2A
// agent deployment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/a2aflow/a2aflow/discovery"
	"github.com/a2aflow/a2aflow/engine"
	"github.com/a2aflow/a2aflow/ociregistry"
)

// stubRegistry is a minimal in-memory stand-in for an OCI Distribution
// endpoint, just enough to host the agent card and workflow artifact this
// demo pushes and pulls.
type stubRegistry struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	manifests map[string][]byte
	repos     map[string]struct{}
}

func newStubRegistry() *httptest.Server {
	reg := &stubRegistry{
		blobs:     make(map[string][]byte),
		manifests: make(map[string][]byte),
		repos:     make(map[string]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/_catalog", reg.handleCatalog)
	mux.HandleFunc("/", reg.handleRepoPath)
	return httptest.NewServer(mux)
}

func (r *stubRegistry) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repos := make([]string, 0, len(r.repos))
	for name := range r.repos {
		repos = append(repos, name)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"repositories": repos})
}

func (r *stubRegistry) handleRepoPath(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/v2/")
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

func (r *stubRegistry) handleBlobUpload(w http.ResponseWriter, req *http.Request, repo string) {
	dgst := req.URL.Query().Get("digest")
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.repos[repo] = struct{}{}
	r.blobs[repo+"|"+dgst] = body
	r.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (r *stubRegistry) handleBlob(w http.ResponseWriter, req *http.Request, repo, dgst string) {
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

func (r *stubRegistry) handleManifest(w http.ResponseWriter, req *http.Request, repo, ref string) {
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.repos[repo] = struct{}{}
		r.manifests[repo+"|"+ref] = body
		r.mu.Unlock()
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

// newStubAgent serves a single skill, greeter.say_hello, over JSON-RPC.
func newStubAgent() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/execute", func(w http.ResponseWriter, req *http.Request) {
		var rpcReq struct {
			ID     string         `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		_ = json.NewDecoder(req.Body).Decode(&rpcReq)
		greeting := fmt.Sprintf("hello, %v", rpcReq.Params["name"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      rpcReq.ID,
			"result":  greeting,
		})
	})
	return httptest.NewServer(mux)
}

const workflowDoc = `
metadata:
  id: greet
  name: Greet
  version: "1.0"
steps:
  - id: hello
    skill: greeter.say_hello
    inputs:
      name: "{{ workflow.input.name }}"
`

func main() {
	ctx := context.Background()

	registryServer := newStubRegistry()
	defer registryServer.Close()
	agentServer := newStubAgent()
	defer agentServer.Close()

	regClient := ociregistry.New(registryServer.URL)

	card := discovery.AgentCard{
		Name:    "greeter",
		URL:     agentServer.URL,
		Version: "1.0",
		Skills:  []discovery.Skill{{ID: "greeter.say_hello"}},
	}
	cardBytes, err := json.Marshal(card)
	if err != nil {
		panic(err)
	}
	if _, err := regClient.PushArtifact(ctx, "agents/greeter", "v1", "card.json", cardBytes, ociregistry.MediaTypeAgentCard, ""); err != nil {
		panic(err)
	}
	if _, err := regClient.PushArtifact(ctx, "workflows/greet", "1.0", "workflow.yaml", []byte(workflowDoc), ociregistry.MediaTypeWorkflowArtifact, ""); err != nil {
		panic(err)
	}

	disc := discovery.New(regClient)
	eng := engine.New(disc)

	result, err := eng.Run(ctx, "greet", "1.0", map[string]any{"name": "A2AFlow"})
	if err != nil {
		panic(err)
	}
	fmt.Println("step outputs:", result.StepOutputs)
	fmt.Println("final output:", result.FinalOutput)
}
