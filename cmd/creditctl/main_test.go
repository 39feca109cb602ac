package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/customsdesk/internal/ledger"
)

type harness struct {
	ledger *ledger.Ledger
	cache  *ledger.RedisBalanceCache
	opened int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := ledger.NewRedisBalanceCache(client, "test:", time.Minute, logger)
	return &harness{
		ledger: ledger.New(ledger.NewMemoryStore(), cache, logger),
		cache:  cache,
	}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{open: func(context.Context) (*ledger.Ledger, func(), error) {
		h.opened++
		return h.ledger, func() {}, nil
	}}
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGrantAndBalance(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "grant", "--id", "u1", "--credits", "120")
	require.NoError(t, err)
	assert.Contains(t, out, "granted 120 to user:u1")
	assert.Contains(t, out, "balance 120")

	out, err = h.run(t, "grant", "--scope", "org", "--id", "o1", "--credits", "5", "--reason", "adjustment", "--ref", "ticket-9")
	require.NoError(t, err)
	assert.Contains(t, out, "org:o1")

	out, err = h.run(t, "balance", "--scope", "org", "--id", "o1")
	require.NoError(t, err)
	assert.Equal(t, "org:o1\t5\n", out)
}

func TestGrant_Rejects(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "grant", "--id", "u1", "--credits", "-5")
	assert.ErrorIs(t, err, ledger.ErrInvalidQuantity)

	_, err = h.run(t, "grant", "--scope", "team", "--id", "u1", "--credits", "5")
	assert.ErrorContains(t, err, "invalid scope")

	_, err = h.run(t, "grant", "--id", "u1", "--credits", "5", "--reason", "question_payment")
	assert.ErrorContains(t, err, "invalid reason")

	_, err = h.run(t, "grant", "--credits", "5")
	assert.Error(t, err)
	assert.Equal(t, 1, h.opened)
}

func TestHistoryPaging(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		_, err := h.run(t, "grant", "--id", "u1", "--credits", "10")
		require.NoError(t, err)
	}

	out, err := h.run(t, "history", "--id", "u1", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("top_up")))
	assert.Contains(t, out, "next: --cursor ")

	out, err = h.run(t, "history", "--id", "u1", "--cursor", "garbage!")
	assert.Error(t, err)
	assert.Empty(t, out)
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.run(t, "grant", "--id", "u1", "--credits", "40")
	require.NoError(t, err)
	h.cache.Set(ctx, ledger.UserScope("u1"), 999)

	out, err := h.run(t, "reconcile", "--fail-on-drift")
	assert.Error(t, err)
	assert.Contains(t, out, "drift\tuser:u1\tcached=999\tactual=40")

	out, err = h.run(t, "reconcile", "--fail-on-drift")
	require.NoError(t, err)
	assert.Contains(t, out, "reconciled, 0 drifted")

	v, ok := h.cache.Get(ctx, ledger.UserScope("u1"))
	require.True(t, ok)
	assert.Equal(t, int64(40), v)
}
