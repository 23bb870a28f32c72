// Package discovery resolves skill ids to agent URLs and workflow ids to
// parsed workflow definitions by scanning the registry's catalog, caching
// both lookups for the lifetime of the process.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/a2aflow/a2aflow/a2aerrors"
	"github.com/a2aflow/a2aflow/ociregistry"
	"github.com/a2aflow/a2aflow/telemetry"
	"github.com/a2aflow/a2aflow/workflow"
)

const (
	agentRepoPrefix     = "agents/"
	workflowRepoPrefix  = "workflows/"
	defaultAgentCardTag = "v1"
)

// Registry is the subset of ociregistry.Client that Discovery depends on,
// narrowed to ease substituting a fake in tests.
type Registry interface {
	ListRepositories(ctx context.Context) ([]string, error)
	PullArtifact(ctx context.Context, repo, tag string) ([]ociregistry.File, error)
}

// Option configures a Discovery.
type Option func(*Discovery)

// WithLogger sets the structured logger used for lookup events.
func WithLogger(l telemetry.Logger) Option {
	return func(d *Discovery) { d.obs.logger = l }
}

// WithMetrics sets the metrics sink used for lookup counters and timers.
func WithMetrics(m telemetry.Metrics) Option {
	return func(d *Discovery) { d.obs.metrics = m }
}

// WithTracer sets the tracer used to span lookup calls.
func WithTracer(t telemetry.Tracer) Option {
	return func(d *Discovery) { d.obs.tracer = t }
}

// WithAgentCardTag overrides the tag Discovery pulls agent cards at.
// Defaults to defaultAgentCardTag ("v1") when not set.
func WithAgentCardTag(tag string) Option {
	return func(d *Discovery) { d.agentCardTag = tag }
}

// Discovery resolves skills and workflows against a registry's catalog,
// caching every resolution it makes. Caches are unbounded and never expire
// on their own — callers that republish an artifact under the same
// identifier must call ClearCache to observe the change.
type Discovery struct {
	registry     Registry
	obs          *observability
	agentCardTag string

	mu           sync.RWMutex
	skillToURL   map[string]string
	workflowDefs map[string]*workflow.WorkflowDefinition
}

// New constructs a Discovery backed by registry.
func New(registry Registry, opts ...Option) *Discovery {
	d := &Discovery{
		registry:     registry,
		obs:          newObservability(nil, nil, nil),
		agentCardTag: defaultAgentCardTag,
		skillToURL:   make(map[string]string),
		workflowDefs: make(map[string]*workflow.WorkflowDefinition),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// FindAgentForSkill returns the base URL of the first agent in the catalog
// whose AgentCard advertises skillID. Results are cached by skill id; a
// later call for the same skill never re-scans the catalog.
func (d *Discovery) FindAgentForSkill(ctx context.Context, skillID string) (string, error) {
	start := time.Now()
	ctx, span := d.obs.startSpan(ctx, opFindAgentForSkill, skillID)

	d.mu.RLock()
	if url, ok := d.skillToURL[skillID]; ok {
		d.mu.RUnlock()
		d.obs.finish(ctx, span, operationEvent{op: opFindAgentForSkill, key: skillID, duration: time.Since(start), outcome: outcomeCacheHit})
		return url, nil
	}
	d.mu.RUnlock()

	url, err := d.scanForSkill(ctx, skillID)
	if err != nil {
		d.obs.finish(ctx, span, operationEvent{op: opFindAgentForSkill, key: skillID, duration: time.Since(start), outcome: outcomeError, err: err})
		return "", err
	}

	d.mu.Lock()
	d.skillToURL[skillID] = url
	d.mu.Unlock()

	d.obs.finish(ctx, span, operationEvent{op: opFindAgentForSkill, key: skillID, duration: time.Since(start), outcome: outcomeSuccess})
	return url, nil
}

func (d *Discovery) scanForSkill(ctx context.Context, skillID string) (string, error) {
	repos, err := d.registry.ListRepositories(ctx)
	if err != nil {
		return "", &a2aerrors.NetworkError{Op: "list_repositories", Err: err}
	}
	for _, repo := range repos {
		if !strings.HasPrefix(repo, agentRepoPrefix) {
			continue
		}
		card, err := d.loadAgentCard(ctx, repo)
		if err != nil {
			continue
		}
		for _, skill := range card.Skills {
			if skill.ID == skillID {
				return card.URL, nil
			}
		}
	}
	return "", &a2aerrors.NotFoundError{Kind: "agent", ID: skillID}
}

func (d *Discovery) loadAgentCard(ctx context.Context, repo string) (*AgentCard, error) {
	files, err := d.registry.PullArtifact(ctx, repo, d.agentCardTag)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("agent card artifact %s has no files", repo)
	}
	var card AgentCard
	if err := json.Unmarshal(files[0].Content, &card); err != nil {
		return nil, fmt.Errorf("agent card %s is not valid json: %w", repo, err)
	}
	return &card, nil
}

// FindWorkflow returns the parsed, validated workflow definition published
// as workflowID at the given version. Results are cached by
// (workflowID, version); a later call for the same pair never re-fetches
// the artifact.
func (d *Discovery) FindWorkflow(ctx context.Context, workflowID, version string) (*workflow.WorkflowDefinition, error) {
	key := workflowID + "@" + version
	start := time.Now()
	ctx, span := d.obs.startSpan(ctx, opFindWorkflow, key)

	d.mu.RLock()
	if def, ok := d.workflowDefs[key]; ok {
		d.mu.RUnlock()
		d.obs.finish(ctx, span, operationEvent{op: opFindWorkflow, key: key, duration: time.Since(start), outcome: outcomeCacheHit})
		return def, nil
	}
	d.mu.RUnlock()

	def, err := d.fetchWorkflow(ctx, workflowID, version)
	if err != nil {
		d.obs.finish(ctx, span, operationEvent{op: opFindWorkflow, key: key, duration: time.Since(start), outcome: outcomeError, err: err})
		return nil, err
	}

	d.mu.Lock()
	d.workflowDefs[key] = def
	d.mu.Unlock()

	d.obs.finish(ctx, span, operationEvent{op: opFindWorkflow, key: key, duration: time.Since(start), outcome: outcomeSuccess})
	return def, nil
}

func (d *Discovery) fetchWorkflow(ctx context.Context, workflowID, version string) (*workflow.WorkflowDefinition, error) {
	repo := workflowRepoPrefix + workflowID
	files, err := d.registry.PullArtifact(ctx, repo, version)
	if err != nil {
		return nil, &a2aerrors.NotFoundError{Kind: "workflow", ID: workflowID + "@" + version}
	}
	file, ok := firstYAMLFile(files)
	if !ok {
		return nil, &a2aerrors.NotFoundError{Kind: "workflow", ID: workflowID + "@" + version}
	}
	def, err := workflow.Load(file.Content)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// firstYAMLFile returns the first file in files whose name ends in .yaml or
// .yml, for artifacts that carry more than one file alongside the workflow
// document.
func firstYAMLFile(files []ociregistry.File) (ociregistry.File, bool) {
	for _, f := range files {
		if strings.HasSuffix(f.Name, ".yaml") || strings.HasSuffix(f.Name, ".yml") {
			return f, true
		}
	}
	return ociregistry.File{}, false
}

// ClearCache drops every cached skill and workflow resolution, forcing the
// next lookup of each to re-scan the registry catalog.
func (d *Discovery) ClearCache(ctx context.Context) {
	start := time.Now()
	_, span := d.obs.startSpan(ctx, opClearCache, "")
	d.mu.Lock()
	d.skillToURL = make(map[string]string)
	d.workflowDefs = make(map[string]*workflow.WorkflowDefinition)
	d.mu.Unlock()
	d.obs.finish(ctx, span, operationEvent{op: opClearCache, duration: time.Since(start), outcome: outcomeSuccess})
}

// CacheStats reports how many entries each cache currently holds, for
// operators and tests that want to observe cache growth without reaching
// into Discovery's internals.
type CacheStats struct {
	Skills    int
	Workflows int
}

// CacheStats returns the current size of both caches.
func (d *Discovery) CacheStats() CacheStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return CacheStats{Skills: len(d.skillToURL), Workflows: len(d.workflowDefs)}
}
