package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NotNil(t, svc.Client())
	err := svc.Ping(context.Background())
	assert.NoError(t, err)
}

func TestPublish(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()

	// Subscribe manually to check if message arrives
	sub := svc.Client().Subscribe(ctx, ChannelBroadcast)
	defer func() { _ = sub.Close() }()

	// Wait for subscription to be active
	time.Sleep(50 * time.Millisecond)

	payload := map[string]string{"text": "hello everyone"}
	err := svc.Publish(ctx, "chat", payload, "instance-1")
	assert.NoError(t, err)

	// Receive
	msg, err := sub.ReceiveMessage(ctx)
	assert.NoError(t, err)

	var envelope PubSubPayload
	err = json.Unmarshal([]byte(msg.Payload), &envelope)
	assert.NoError(t, err)

	assert.Equal(t, "chat", envelope.Event)
	assert.Equal(t, "instance-1", envelope.SenderID)
	assert.Empty(t, envelope.Target)

	var inner map[string]string
	require.NoError(t, json.Unmarshal(envelope.Payload, &inner))
	assert.Equal(t, "hello everyone", inner["text"])
}

func TestPublishDirect(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()

	// Subscribe manually to the direct channel
	sub := svc.Client().Subscribe(ctx, ChannelDirect)
	defer func() { _ = sub.Close() }()
	time.Sleep(50 * time.Millisecond)

	payload := map[string]string{"line": "WHITEBOARD_CLOSED:bob"}
	err := svc.PublishDirect(ctx, "alice", "push", payload, "instance-1")
	assert.NoError(t, err)

	// Receive
	msg, err := sub.ReceiveMessage(ctx)
	assert.NoError(t, err)

	var envelope PubSubPayload
	err = json.Unmarshal([]byte(msg.Payload), &envelope)
	assert.NoError(t, err)

	assert.Equal(t, "push", envelope.Event)
	assert.Equal(t, "instance-1", envelope.SenderID)
	assert.Equal(t, "alice", envelope.Target)
}

func TestSubscribe(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := &sync.WaitGroup{}

	received := make(chan PubSubPayload, 1)
	handler := func(p PubSubPayload) {
		received <- p
	}

	svc.Subscribe(ctx, ChannelBroadcast, wg, handler)

	// Wait for subscription
	time.Sleep(50 * time.Millisecond)

	// Publish from "another instance" (directly via redis client)
	payload := PubSubPayload{
		Event:    "user_online",
		SenderID: "instance-2",
	}
	bytes, _ := json.Marshal(payload)
	svc.Client().Publish(ctx, ChannelBroadcast, bytes)

	select {
	case p := <-received:
		assert.Equal(t, "user_online", p.Event)
		assert.Equal(t, "instance-2", p.SenderID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	// Cancel context to stop subscription
	cancel()
	wg.Wait()
}

func TestSetOperations(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()

	// Add
	err := svc.SetAdd(ctx, KeyOnlineUsers, "alice")
	assert.NoError(t, err)
	err = svc.SetAdd(ctx, KeyOnlineUsers, "bob")
	assert.NoError(t, err)

	// Check members
	members, err := svc.SetMembers(ctx, KeyOnlineUsers)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	// Remove
	err = svc.SetRem(ctx, KeyOnlineUsers, "alice")
	assert.NoError(t, err)

	members, err = svc.SetMembers(ctx, KeyOnlineUsers)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob"}, members)
}

func TestNilService_AllOpsNoop(t *testing.T) {
	var svc *Service
	ctx := context.Background()

	assert.Nil(t, svc.Client())
	assert.NoError(t, svc.Publish(ctx, "chat", nil, "i"))
	assert.NoError(t, svc.PublishDirect(ctx, "alice", "push", nil, "i"))
	assert.NoError(t, svc.Ping(ctx))
	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.SetAdd(ctx, "k", "m"))
	assert.NoError(t, svc.SetRem(ctx, "k", "m"))

	members, err := svc.SetMembers(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, members)

	// Subscribe must not spawn anything for a nil service.
	svc.Subscribe(ctx, ChannelBroadcast, nil, func(PubSubPayload) {
		t.Fatal("handler should never fire")
	})
}

func TestRedisFailure_Graceful(t *testing.T) {
	svc, mr := newTestService(t)

	// Kill redis
	mr.Close()

	ctx := context.Background()

	err := svc.Ping(ctx)
	assert.Error(t, err)
}

func TestSetOperations_ErrorPaths(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	key := "test-error-set"

	err := svc.SetAdd(ctx, key, "m1")
	assert.NoError(t, err)
	err = svc.SetAdd(ctx, key, "m2")
	assert.NoError(t, err)
	err = svc.SetAdd(ctx, key, "m3")
	assert.NoError(t, err)

	members, err := svc.SetMembers(ctx, key)
	assert.NoError(t, err)
	assert.Len(t, members, 3)

	err = svc.SetRem(ctx, key, "m1")
	assert.NoError(t, err)
	err = svc.SetRem(ctx, key, "m2")
	assert.NoError(t, err)

	members, err = svc.SetMembers(ctx, key)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"m3"}, members)

	// Test with closed Redis
	mr.Close()

	err = svc.SetAdd(ctx, key, "m4")
	assert.Error(t, err)

	err = svc.SetRem(ctx, key, "m3")
	assert.Error(t, err)

	_, err = svc.SetMembers(ctx, key)
	assert.Error(t, err)
}

func TestPublish_CircuitBreakerOpen(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()

	// Close Redis to trigger circuit breaker
	mr.Close()

	// Multiple failed calls
	for i := 0; i < 10; i++ {
		_ = svc.Publish(ctx, "chat", map[string]string{}, "instance-1")
	}

	// Once the breaker opens, publishes degrade to silent drops instead of
	// surfacing errors to the caller.
	err := svc.Publish(ctx, "chat", map[string]string{}, "instance-1")
	_ = err
}

func TestPublishDirect_CircuitBreakerOpen(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()

	// Close Redis to trigger circuit breaker
	mr.Close()

	// Multiple failed calls
	for i := 0; i < 10; i++ {
		_ = svc.PublishDirect(ctx, "alice", "push", map[string]string{}, "instance-1")
	}

	err := svc.PublishDirect(ctx, "alice", "push", map[string]string{}, "instance-1")
	_ = err
}
