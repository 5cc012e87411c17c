package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/srinidhi621/knowledge-atlas/models"
)

func startRedis(t *testing.T, ctx context.Context) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rc.Terminate(context.Background()) })
	host, err := rc.Host(ctx)
	require.NoError(t, err)
	port, err := rc.MappedPort(ctx, "6379")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStreamJournalReplaysRun(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t, ctx)
	journal := NewStreamJournal(client, WithStreamPrefix("test:trace"), WithStreamTTL(time.Minute))

	sql := failing("run_sql", true, 1)
	ex := New(registryWith(t, sql), WithRepairer(&stubRepairer{}), WithJournal(journal))
	res, err := ex.Execute(ctx, Request{RunID: "run-42", Plan: planOf(models.ToolCall{ToolName: "run_sql", Arguments: map[string]interface{}{"sql": "select 1"}})})
	require.NoError(t, err)

	replay, err := journal.Replay(ctx, "run-42")
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.True(t, replay.Finished())
	assert.Equal(t, OutcomeAllSucceeded, replay.Outcome)
	require.Equal(t, 1, replay.Plan.Len())
	require.Len(t, replay.Observations, len(res.Observations))
	assert.Equal(t, 2, replay.Observations[1].AttemptCount)
	assert.Equal(t, "sql_error", replay.Observations[0].Error.Kind)

	ttl, err := client.TTL(ctx, journal.StreamKey("run-42")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	missing, err := journal.Replay(ctx, "never-ran")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStreamJournalKey(t *testing.T) {
	j := NewStreamJournal(nil)
	assert.Equal(t, "atlas:trace:abc:observations", j.StreamKey("abc"))
}
