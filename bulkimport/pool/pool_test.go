package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAllTasksRun(t *testing.T) {
	p := New(context.Background(), "test", 4, 16)

	var ran int32
	for i := 0; i < 10; i++ {
		err := p.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, p.Close())
	assert.EqualValues(t, 10, ran)
}

func TestFirstErrorCancelsPool(t *testing.T) {
	p := New(context.Background(), "test", 2, 16)

	boom := errors.New("boom")
	block := make(chan struct{})

	err1 := p.Submit(func(ctx context.Context) error {
		<-block
		return boom
	})
	require.NoError(t, err1)

	close(block)

	select {
	case <-p.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("pool context was never cancelled")
	}

	require.ErrorIs(t, p.Close(), boom)
}

func TestSubmitAfterCancelFails(t *testing.T) {
	p := New(context.Background(), "test", 1, 1)
	p.Cancel()

	err := p.Submit(func(ctx context.Context) error { return nil })
	require.Error(t, err)
	require.NoError(t, p.Close())
}
