package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2aflow/a2aflow/a2aerrors"
	"github.com/a2aflow/a2aflow/ociregistry"
)

type fakeRegistry struct {
	repos    []string
	pullFunc func(repo, tag string) ([]ociregistry.File, error)
	calls    int
}

func (f *fakeRegistry) ListRepositories(ctx context.Context) ([]string, error) {
	return f.repos, nil
}

func (f *fakeRegistry) PullArtifact(ctx context.Context, repo, tag string) ([]ociregistry.File, error) {
	f.calls++
	return f.pullFunc(repo, tag)
}

func echoCardFile() ociregistry.File {
	body := `{"name":"echo","url":"http://echo.internal","version":"1.0","skills":[{"id":"echo.say"}]}`
	return ociregistry.File{Name: "card.json", Content: []byte(body)}
}

func TestFindAgentForSkillMatchesAndCaches(t *testing.T) {
	reg := &fakeRegistry{
		repos: []string{"agents/echo"},
		pullFunc: func(repo, tag string) ([]ociregistry.File, error) {
			return []ociregistry.File{echoCardFile()}, nil
		},
	}
	d := New(reg)
	ctx := context.Background()

	url, err := d.FindAgentForSkill(ctx, "echo.say")
	require.NoError(t, err)
	assert.Equal(t, "http://echo.internal", url)
	assert.Equal(t, 1, reg.calls)

	url2, err := d.FindAgentForSkill(ctx, "echo.say")
	require.NoError(t, err)
	assert.Equal(t, "http://echo.internal", url2)
	assert.Equal(t, 1, reg.calls, "second lookup should be served from cache")
}

func TestFindAgentForSkillNotFound(t *testing.T) {
	reg := &fakeRegistry{
		repos: []string{"agents/echo"},
		pullFunc: func(repo, tag string) ([]ociregistry.File, error) {
			return []ociregistry.File{echoCardFile()}, nil
		},
	}
	d := New(reg)

	_, err := d.FindAgentForSkill(context.Background(), "nonexistent.skill")
	require.Error(t, err)
	assert.True(t, a2aerrors.IsNotFound(err))
}

func TestClearCacheForcesRescan(t *testing.T) {
	reg := &fakeRegistry{
		repos: []string{"agents/echo"},
		pullFunc: func(repo, tag string) ([]ociregistry.File, error) {
			return []ociregistry.File{echoCardFile()}, nil
		},
	}
	d := New(reg)
	ctx := context.Background()

	_, err := d.FindAgentForSkill(ctx, "echo.say")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.calls)

	d.ClearCache(ctx)

	_, err = d.FindAgentForSkill(ctx, "echo.say")
	require.NoError(t, err)
	assert.Equal(t, 2, reg.calls, "cache clear should force a second scan")
}

func TestCacheStatsReflectsBothCaches(t *testing.T) {
	reg := &fakeRegistry{
		repos: []string{"agents/echo"},
		pullFunc: func(repo, tag string) ([]ociregistry.File, error) {
			return []ociregistry.File{echoCardFile()}, nil
		},
	}
	d := New(reg)
	ctx := context.Background()

	assert.Equal(t, CacheStats{}, d.CacheStats())

	_, err := d.FindAgentForSkill(ctx, "echo.say")
	require.NoError(t, err)
	assert.Equal(t, CacheStats{Skills: 1, Workflows: 0}, d.CacheStats())
}

func TestFindAgentForSkillPullsAtDefaultTag(t *testing.T) {
	var gotTag string
	reg := &fakeRegistry{
		repos: []string{"agents/echo"},
		pullFunc: func(repo, tag string) ([]ociregistry.File, error) {
			gotTag = tag
			return []ociregistry.File{echoCardFile()}, nil
		},
	}
	d := New(reg)

	_, err := d.FindAgentForSkill(context.Background(), "echo.say")
	require.NoError(t, err)
	assert.Equal(t, "v1", gotTag)
}

func TestWithAgentCardTagOverridesDefault(t *testing.T) {
	var gotTag string
	reg := &fakeRegistry{
		repos: []string{"agents/echo"},
		pullFunc: func(repo, tag string) ([]ociregistry.File, error) {
			gotTag = tag
			return []ociregistry.File{echoCardFile()}, nil
		},
	}
	d := New(reg, WithAgentCardTag("staging"))

	_, err := d.FindAgentForSkill(context.Background(), "echo.say")
	require.NoError(t, err)
	assert.Equal(t, "staging", gotTag)
}

func TestFetchWorkflowSelectsFirstYAMLFile(t *testing.T) {
	doc := []byte(`
metadata:
  id: demo
  name: Demo
  version: "1.0"
steps:
  - id: a
    skill: noop
`)
	reg := &fakeRegistry{
		pullFunc: func(repo, tag string) ([]ociregistry.File, error) {
			return []ociregistry.File{
				{Name: "README.md", Content: []byte("not yaml")},
				{Name: "workflow.yaml", Content: doc},
			}, nil
		},
	}
	d := New(reg)

	def, err := d.FindWorkflow(context.Background(), "demo", "1.0")
	require.NoError(t, err)
	assert.Equal(t, "demo", def.Metadata.ID)
}

func TestFindWorkflowParsesAndCaches(t *testing.T) {
	doc := []byte(`
metadata:
  id: demo
  name: Demo
  version: "1.0"
steps:
  - id: a
    skill: noop
`)
	reg := &fakeRegistry{
		pullFunc: func(repo, tag string) ([]ociregistry.File, error) {
			return []ociregistry.File{{Name: "workflow.yaml", Content: doc}}, nil
		},
	}
	d := New(reg)
	ctx := context.Background()

	def, err := d.FindWorkflow(ctx, "demo", "1.0")
	require.NoError(t, err)
	assert.Equal(t, "demo", def.Metadata.ID)
	assert.Equal(t, 1, reg.calls)

	_, err = d.FindWorkflow(ctx, "demo", "1.0")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.calls, "second lookup should be served from cache")
}
