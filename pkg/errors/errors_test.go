package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindConfig, "config"},
		{KindAuth, "auth"},
		{KindClient, "client"},
		{KindTransient, "transient"},
		{KindNotFound, "not_found"},
		{KindNotReady, "not_ready"},
		{KindDisabled, "disabled"},
		{KindTimeout, "timeout"},
		{KindCanceled, "canceled"},
		{KindInternal, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestWrapPreservesChain(t *testing.T) {
	base := stderrors.New("connection refused")
	wrapped := Wrap(base, KindTransient, "crm request failed")

	require.NotNil(t, wrapped)
	assert.Equal(t, KindTransient, KindOf(wrapped))
	assert.True(t, stderrors.Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "[transient]")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindClient, "ignored"))
	assert.Nil(t, Wrapf(nil, KindClient, "ignored %d", 1))
}

func TestKindOfThroughFmtWrap(t *testing.T) {
	inner := New(KindNotFound, "deal not found")
	outer := fmt.Errorf("lookup: %w", inner)

	assert.Equal(t, KindNotFound, KindOf(outer))
	assert.True(t, IsNotFound(outer))
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindCanceled, KindOf(context.Canceled))
	assert.Equal(t, KindInternal, KindOf(stderrors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestRetryAfter(t *testing.T) {
	err := New(KindTransient, "rate limited").WithRetryAfter(7 * time.Second)
	assert.Equal(t, 7*time.Second, RetryAfterOf(err))

	wrapped := fmt.Errorf("call: %w", err)
	assert.Equal(t, 7*time.Second, RetryAfterOf(wrapped))

	assert.Zero(t, RetryAfterOf(stderrors.New("plain")))
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := FromContext(ctx, ctx.Err())
	assert.Equal(t, KindCanceled, KindOf(err))

	deadlineCtx, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	<-deadlineCtx.Done()
	err = FromContext(deadlineCtx, deadlineCtx.Err())
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsTransient(New(KindTransient, "x")))
	assert.True(t, IsAuth(New(KindAuth, "x")))
	assert.True(t, IsClient(New(KindClient, "x")))
	assert.True(t, IsDisabled(New(KindDisabled, "x")))
	assert.True(t, IsNotReady(New(KindNotReady, "x")))
	assert.True(t, IsConfig(New(KindConfig, "x")))
	assert.False(t, IsTransient(New(KindClient, "x")))
}
