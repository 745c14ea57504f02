package core

import (
	"context"
	"testing"
	"time"

	"github.com/jabolina/go-coap/pkg/coap"
	"github.com/stretchr/testify/require"
)

func newBareExchange() *Exchange {
	return &Exchange{result: make(chan Result, 1)}
}

func TestExchangeAwaitReturnsResult(t *testing.T) {
	ex := newBareExchange()
	ex.complete(StateDone, Result{Response: &coap.Message{Payload: []byte("ok")}})

	resp, err := ex.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), resp.Payload)
}

func TestExchangeAwaitRespectsContextDeadline(t *testing.T) {
	ex := newBareExchange()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := ex.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExchangeCompleteIsIdempotent(t *testing.T) {
	ex := newBareExchange()
	ex.complete(StateDone, Result{Response: &coap.Message{Payload: []byte("first")}})
	ex.complete(StateTimedOut, Result{Err: coap.ErrTimedOut})

	resp, err := ex.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("first"), resp.Payload, "second complete() call must be a no-op")
	require.Equal(t, StateDone, ex.State)
}

func TestExchangeIsObserve(t *testing.T) {
	ex := newBareExchange()
	require.False(t, ex.IsObserve())
	ex.notify = func(coap.Message) {}
	require.True(t, ex.IsObserve())
}

func TestExchangeDeliverNotificationIsolatesPanics(t *testing.T) {
	ex := newBareExchange()
	called := false
	ex.notify = func(coap.Message) {
		called = true
		panic("caller bug")
	}

	require.NotPanics(t, func() {
		ex.deliverNotification(coap.Message{})
	})
	require.True(t, called)
}

func TestExchangeCompleteInvokesErrorCallbackForObserve(t *testing.T) {
	ex := newBareExchange()
	var gotErr error
	ex.notify = func(coap.Message) {}
	ex.errorCB = func(err error) { gotErr = err }

	ex.complete(StateRejected, Result{Err: coap.ErrRejected})

	require.ErrorIs(t, gotErr, coap.ErrRejected)
	select {
	case <-ex.result:
		t.Fatal("observe exchange should not deliver a result on its channel")
	default:
	}
}
