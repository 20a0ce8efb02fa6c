package repair

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/embedding"
	"github.com/signetai/signet/internal/store"
	"github.com/signetai/signet/internal/types"
)

// fakeClock steps time manually so cooldown tests never sleep.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRegistry(t *testing.T, mutate func(*config.Config)) (*Registry, *store.Store, *fakeClock) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Pipeline.Autonomous.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := New(st, embedding.NewClient(nil), cfg)
	r.SetClock(clock.now)
	return r, st, clock
}

func operatorReq(action string) Request {
	return Request{Action: action, ActorType: types.ActorOperator, Reason: "cleanup"}
}

func TestRunUnknownAction(t *testing.T) {
	r, _, _ := newRegistry(t, nil)
	res, err := r.Run(context.Background(), operatorReq("defragmentEverything"))
	assert.Nil(t, res)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestCooldownBlocksSecondCall(t *testing.T) {
	r, _, clock := newRegistry(t, nil)
	ctx := context.Background()
	cooldown := time.Duration(r.cfg.Pipeline.Repair.RequeueCooldownMs) * time.Millisecond

	res, err := r.Run(ctx, operatorReq("requeueDeadJobs"))
	require.NoError(t, err)
	assert.True(t, res.Success)

	// Immediately again: denied, with the cooldown named in the message.
	clock.advance(time.Second)
	res, err = r.Run(ctx, operatorReq("requeueDeadJobs"))
	require.Error(t, err)
	assert.Equal(t, types.KindRateLimited, types.KindOf(err))
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "cooldown active")

	// Past the cooldown the action is admitted again.
	clock.advance(cooldown)
	res, err = r.Run(ctx, operatorReq("requeueDeadJobs"))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestHourlyBudgetExhausts(t *testing.T) {
	r, _, clock := newRegistry(t, func(c *config.Config) {
		c.Pipeline.Repair.RequeueCooldownMs = 0
		c.Pipeline.Repair.RequeueHourlyBudget = 2
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.Run(ctx, operatorReq("requeueDeadJobs"))
		require.NoError(t, err)
		clock.advance(time.Minute)
	}

	res, err := r.Run(ctx, operatorReq("requeueDeadJobs"))
	require.Error(t, err)
	assert.Equal(t, types.KindRateLimited, types.KindOf(err))
	assert.Contains(t, res.Message, "hourly budget")

	// A new hour window resets the count.
	clock.advance(time.Hour)
	_, err = r.Run(ctx, operatorReq("requeueDeadJobs"))
	assert.NoError(t, err)
}

func TestPolicyGate(t *testing.T) {
	ctx := context.Background()

	t.Run("frozen denies everyone", func(t *testing.T) {
		r, _, _ := newRegistry(t, func(c *config.Config) {
			c.Pipeline.Autonomous.Frozen = true
		})
		res, err := r.Run(ctx, operatorReq("requeueDeadJobs"))
		assert.Equal(t, types.KindPolicyDenied, types.KindOf(err))
		require.NotNil(t, res)
		assert.False(t, res.Success)
	})

	t.Run("disabled denies agents but not operators", func(t *testing.T) {
		r, _, clock := newRegistry(t, func(c *config.Config) {
			c.Pipeline.Autonomous.Enabled = false
		})
		_, err := r.Run(ctx, Request{Action: "requeueDeadJobs", ActorType: types.ActorAgent})
		assert.Equal(t, types.KindPolicyDenied, types.KindOf(err))

		clock.advance(time.Minute)
		res, err := r.Run(ctx, operatorReq("requeueDeadJobs"))
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("enabled admits agents", func(t *testing.T) {
		r, _, _ := newRegistry(t, nil)
		res, err := r.Run(ctx, Request{Action: "requeueDeadJobs", ActorType: types.ActorAgent, Reason: "sweep"})
		require.NoError(t, err)
		assert.True(t, res.Success)
	})
}

func TestRequeueDeadJobsRevivesAndAudits(t *testing.T) {
	r, st, _ := newRegistry(t, func(c *config.Config) {
		c.Pipeline.Worker.MaxRetries = 1
	})
	ctx := context.Background()

	res, err := st.Remember(ctx, types.RememberRequest{Content: "job that died"},
		store.RememberOptions{EnqueueExtraction: true}, types.MutationContext{ActorType: types.ActorOperator})
	require.NoError(t, err)

	job, err := st.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, st.FailJob(ctx, job.ID, res.ID, 1, "provider offline"))

	dead, err := st.CountJobs(ctx, types.JobDead)
	require.NoError(t, err)
	require.Equal(t, 1, dead)

	out, err := r.Run(ctx, operatorReq("requeueDeadJobs"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Affected)

	pending, err := st.CountJobs(ctx, types.JobPending)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	// Every admitted run leaves a synthetic audit row behind.
	event, err := st.LastSystemEvent(ctx, "repair_action")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, types.SystemMemoryID, event.MemoryID)
	assert.Contains(t, event.Metadata, "requeueDeadJobs")
	assert.Equal(t, "cleanup", event.Reason)
}

func TestCheckFtsConsistencyClean(t *testing.T) {
	r, st, _ := newRegistry(t, nil)
	ctx := context.Background()

	for _, content := range []string{"alpha row", "beta row", "gamma row"} {
		_, err := st.Remember(ctx, types.RememberRequest{Content: content},
			store.RememberOptions{}, types.MutationContext{ActorType: types.ActorOperator})
		require.NoError(t, err)
	}

	res, err := r.Run(ctx, operatorReq("checkFtsConsistency"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Affected)
	assert.Contains(t, res.Message, "consistent")
}

func TestReembedMissingDryRun(t *testing.T) {
	r, st, _ := newRegistry(t, nil)
	ctx := context.Background()

	_, err := st.Remember(ctx, types.RememberRequest{Content: "waiting for a vector"},
		store.RememberOptions{}, types.MutationContext{ActorType: types.ActorOperator})
	require.NoError(t, err)

	req := operatorReq("reembedMissingMemories")
	req.DryRun = true
	res, err := r.Run(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Affected)

	// The dry run wrote nothing, so the backlog is unchanged.
	missing, err := st.MissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, missing, 1)
}

func TestReembedMissingNoProvider(t *testing.T) {
	r, st, _ := newRegistry(t, nil)
	ctx := context.Background()

	_, err := st.Remember(ctx, types.RememberRequest{Content: "cannot embed this"},
		store.RememberOptions{}, types.MutationContext{ActorType: types.ActorOperator})
	require.NoError(t, err)

	res, err := r.Run(ctx, operatorReq("reembedMissingMemories"))
	require.Error(t, err)
	assert.Equal(t, types.KindProviderUnavailable, types.KindOf(err))
	assert.False(t, res.Success)
}

func TestLimitersAreIndependentPerAction(t *testing.T) {
	r, _, clock := newRegistry(t, nil)
	ctx := context.Background()

	_, err := r.Run(ctx, operatorReq("requeueDeadJobs"))
	require.NoError(t, err)

	// A different action is not bound by requeueDeadJobs's cooldown.
	clock.advance(time.Second)
	res, err := r.Run(ctx, operatorReq("releaseStaleLeases"))
	require.NoError(t, err)
	assert.True(t, res.Success)
}
