package gate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plangate/pkg/models"
)

func TestCache_GetPut(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(time.Minute, clock.Now)

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Put("k", &models.ValidationResult{ValidationID: "v1", Valid: true})
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", got.ValidationID)

	clock.Advance(59 * time.Second)
	_, ok = c.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "an entry exactly ttl old is expired")
	assert.Equal(t, 1, c.Len(), "Get does not evict")
}

func TestCache_PutReplacesAndRestartsTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(time.Minute, clock.Now)

	c.Put("k", &models.ValidationResult{ValidationID: "old"})
	clock.Advance(50 * time.Second)
	c.Put("k", &models.ValidationResult{ValidationID: "new"})
	clock.Advance(50 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got.ValidationID)
	assert.Equal(t, 1, c.Len())
}

func TestCache_StoresCopies(t *testing.T) {
	c := NewCache(time.Minute, nil)
	in := &models.ValidationResult{
		Errors:        []models.Finding{{Type: models.KindNodeNotFound, Component: "a"}},
		CorrectedPlan: &models.ExecutionPlan{NodesToInvoke: []models.PlanEntry{{Name: "a"}}},
	}
	c.Put("k", in)
	in.Errors[0].Component = "mutated"
	in.CorrectedPlan.NodesToInvoke[0].Name = "mutated"

	out, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "a", out.Errors[0].Component)
	assert.Equal(t, "a", out.CorrectedPlan.NodesToInvoke[0].Name)

	out.Errors[0].Component = "mutated again"
	again, _ := c.Get("k")
	assert.Equal(t, "a", again.Errors[0].Component)
}

func TestCache_SweepAndPurge(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(time.Minute, clock.Now)

	c.Put("a", &models.ValidationResult{})
	clock.Advance(30 * time.Second)
	c.Put("b", &models.ValidationResult{})
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	_, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Purge())
	assert.Zero(t, c.Len())
}

func TestCache_Concurrent(t *testing.T) {
	c := NewCache(time.Minute, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%4))
			c.Put(key, &models.ValidationResult{ValidationID: key})
			if got, ok := c.Get(key); ok {
				assert.Equal(t, key, got.ValidationID)
			}
			c.Sweep()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, c.Len())
}

func TestFingerprint(t *testing.T) {
	base := &models.ExecutionPlan{NodesToInvoke: []models.PlanEntry{{Name: "a"}}}

	assert.Equal(t, Fingerprint(nil), Fingerprint(&models.ExecutionPlan{}))
	assert.Equal(t, Fingerprint(&models.ExecutionPlan{}), Fingerprint(&models.ExecutionPlan{ToolsToUse: []models.PlanEntry{}}))
	assert.Equal(t, Fingerprint(base), Fingerprint(base.Clone()))

	different := []*models.ExecutionPlan{
		{NodesToInvoke: []models.PlanEntry{{Name: "b"}}},
		{ToolsToUse: []models.PlanEntry{{Name: "a"}}},
		{NodesToInvoke: []models.PlanEntry{{Name: "a", Metadata: map[string]any{"retry": 1}}}},
		{NodesToInvoke: []models.PlanEntry{{Name: "a"}, {Name: "a"}}},
	}
	for _, p := range different {
		assert.NotEqual(t, Fingerprint(base), Fingerprint(p))
	}
}
