package ehreceiver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	eh "github.com/Harsh-BH/Sentinel/ehreceiver"
	"github.com/Harsh-BH/Sentinel/ehreceiver/internal/mocks"
)

func newTestReceiver(t *testing.T, link *mocks.Link, retry *mocks.RetryPolicy, prefetch int) (*eh.Receiver, *mocks.Factory) {
	t.Helper()

	session := &mocks.Session{Link: link}
	factory := mocks.NewFactory(&mocks.TokenProvider{}, &mocks.CBSChannel{}, retry, func(string) (*mocks.Session, error) {
		return session, nil
	})
	t.Cleanup(factory.Shutdown)

	cfg := eh.ReceiverConfig{
		Host:             "mock.host",
		EntityPath:       "hub/consumergroups/$default/partitions/0",
		LinkName:         "test-link",
		Prefetch:         prefetch,
		OperationTimeout: time.Second,
		TokenAudience:    "amqp://mock.host/hub",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r, err := eh.Create(ctx, factory, cfg, zap.NewNop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return r, factory
}

func TestReceiver_HappyPath(t *testing.T) {
	link := &mocks.Link{}
	r, _ := newTestReceiver(t, link, &mocks.RetryPolicy{MaxAttempts: 0}, 10)

	go func() {
		time.Sleep(20 * time.Millisecond)
		link.DeliverMessage(&eh.Message{Data: []byte("hello"), MessageID: "1"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, err := r.Receive(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 1 || string(batch[0].Data) != "hello" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if got := r.LastReceivedMessage(); got == nil || got.MessageID != "1" {
		t.Fatalf("expected LastReceivedMessage to be updated, got %+v", got)
	}
}

func TestReceiver_PrefetchDrainTriggersFlow(t *testing.T) {
	link := &mocks.Link{}
	r, _ := newTestReceiver(t, link, &mocks.RetryPolicy{MaxAttempts: 0}, 5)

	time.Sleep(20 * time.Millisecond) // let the initial flow land

	for i := 0; i < 5; i++ {
		link.DeliverMessage(&eh.Message{Data: []byte("m")})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		if _, err := r.Receive(ctx, 1); err != nil {
			t.Fatalf("receive %d failed: %v", i, err)
		}
	}

	time.Sleep(20 * time.Millisecond)
	calls := link.FlowCalls()
	if len(calls) < 2 {
		t.Fatalf("expected at least an initial flow plus a post-poll flush, got %v", calls)
	}
}

func TestReceiver_TransientErrorThenRecover(t *testing.T) {
	link := &mocks.Link{}
	retry := &mocks.RetryPolicy{Delay: 10 * time.Millisecond, MaxAttempts: 3}
	r, _ := newTestReceiver(t, link, retry, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	recvDone := make(chan struct{})
	var batch []*eh.Message
	var recvErr error
	go func() {
		batch, recvErr = r.Receive(ctx, 1)
		close(recvDone)
	}()

	time.Sleep(20 * time.Millisecond)
	link.Local = eh.EndpointClosed
	link.FireError(&eh.LinkError{Cause: errors.New("amqp:connection:forced"), Transient: true})

	time.Sleep(80 * time.Millisecond)
	link.DeliverMessage(&eh.Message{Data: []byte("recovered")})

	select {
	case <-recvDone:
	case <-time.After(time.Second):
		t.Fatal("receive never completed after recovery")
	}
	if recvErr != nil {
		t.Fatalf("unexpected error: %v", recvErr)
	}
	if len(batch) != 1 || string(batch[0].Data) != "recovered" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestReceiver_NonTransientErrorFailsPending(t *testing.T) {
	link := &mocks.Link{}
	r, _ := newTestReceiver(t, link, &mocks.RetryPolicy{MaxAttempts: 0}, 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	recvDone := make(chan struct{})
	var recvErr error
	go func() {
		_, recvErr = r.Receive(ctx, 1)
		close(recvDone)
	}()

	time.Sleep(20 * time.Millisecond)
	cause := errors.New("amqp:unauthorized-access")
	link.FireError(&eh.LinkError{Cause: cause, Transient: false})

	select {
	case <-recvDone:
	case <-time.After(time.Second):
		t.Fatal("receive never completed after terminal error")
	}
	if recvErr == nil {
		t.Fatal("expected the pending receive to fail")
	}

	errCtx := r.ErrorContext()
	if errCtx.LinkState != "closed" {
		t.Fatalf("expected link state closed, got %s", errCtx.LinkState)
	}
}

func TestReceiver_OpenTimeout(t *testing.T) {
	link := &mocks.Link{ManualComplete: true} // never fires OnOpenComplete
	session := &mocks.Session{Link: link}
	factory := mocks.NewFactory(&mocks.TokenProvider{}, &mocks.CBSChannel{}, &mocks.RetryPolicy{MaxAttempts: 0}, func(string) (*mocks.Session, error) {
		return session, nil
	})
	defer factory.Shutdown()

	cfg := eh.ReceiverConfig{
		EntityPath:       "hub",
		LinkName:         "l",
		Prefetch:         5,
		OperationTimeout: 30 * time.Millisecond,
		TokenAudience:    "aud",
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := eh.Create(ctx, factory, cfg, zap.NewNop(), prometheus.NewRegistry())
	if !errors.Is(err, eh.ErrOpenTimeout) {
		t.Fatalf("expected ErrOpenTimeout, got %v", err)
	}
}

func TestReceiver_GracefulCloseWithInFlightReceive(t *testing.T) {
	link := &mocks.Link{}
	r, _ := newTestReceiver(t, link, &mocks.RetryPolicy{MaxAttempts: 0}, 5)

	recvDone := make(chan struct{})
	var recvErr error
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, recvErr = r.Receive(ctx, 1)
		close(recvDone)
	}()

	time.Sleep(20 * time.Millisecond)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	if err := r.Close(closeCtx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-recvDone:
	case <-time.After(time.Second):
		t.Fatal("pending receive never resolved after close")
	}
	if recvErr != nil {
		t.Fatalf("expected a null-batch completion on graceful close, got error: %v", recvErr)
	}

	if err := r.Close(closeCtx); err != nil {
		t.Fatalf("second Close should observe the same resolved future: %v", err)
	}
}

func TestReceiver_SetPrefetchRoundTrip(t *testing.T) {
	link := &mocks.Link{}
	r, _ := newTestReceiver(t, link, &mocks.RetryPolicy{MaxAttempts: 0}, 5)

	if got := r.GetPrefetch(); got != 5 {
		t.Fatalf("expected initial prefetch 5, got %d", got)
	}

	r.SetPrefetch(42)
	if got := r.GetPrefetch(); got != 42 {
		t.Fatalf("expected get_prefetch to reflect set_prefetch immediately, got %d", got)
	}
}

func TestReceiver_ReceiveTimesOutWithNilBatch(t *testing.T) {
	link := &mocks.Link{}
	r, _ := newTestReceiver(t, link, &mocks.RetryPolicy{MaxAttempts: 0}, 5)

	if err := r.SetReceiveTimeout(30 * time.Millisecond); err != nil {
		t.Fatalf("SetReceiveTimeout failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		start := time.Now()
		batch, err := r.Receive(ctx, 1)
		if err != nil {
			t.Fatalf("receive %d: unexpected error: %v", i, err)
		}
		if batch != nil {
			t.Fatalf("receive %d: expected a nil batch on timeout, got %+v", i, batch)
		}
		if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
			t.Fatalf("receive %d: completed before the receive timeout elapsed (%v)", i, elapsed)
		}
	}
}

func TestReceiver_ArgumentValidation(t *testing.T) {
	link := &mocks.Link{}
	r, _ := newTestReceiver(t, link, &mocks.RetryPolicy{MaxAttempts: 0}, 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := r.Receive(ctx, 0); !errors.Is(err, eh.ErrArgument) {
		t.Fatalf("expected ErrArgument for max_batch=0, got %v", err)
	}
	if _, err := r.Receive(ctx, 6); !errors.Is(err, eh.ErrArgument) {
		t.Fatalf("expected ErrArgument for max_batch>prefetch, got %v", err)
	}
	if err := r.SetReceiveTimeout(0); !errors.Is(err, eh.ErrArgument) {
		t.Fatalf("expected ErrArgument for non-positive timeout, got %v", err)
	}
}
