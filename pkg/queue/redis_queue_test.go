package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msg, job := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msg.ID, job); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	got := readOne(t, q, "consumer-2")
	if got.Values["job_id"] != job.ID || got.Values["owner_key"] != job.OwnerKey || got.Values["file_name"] != job.FileName {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msg, job := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msg.ID, job); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisJobQueueHandleSuccess(t *testing.T) {
	q, ctx, msg, job := newPendingQueueMessage(t)

	var seen Job
	q.handleMessage(ctx, msg, func(_ context.Context, j Job) error {
		seen = j
		return nil
	})
	if seen.OwnerKey != "alice" || seen.FileName != "paper.pdf" || seen.Attempts != 1 {
		t.Fatalf("handler got %+v", seen)
	}

	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusDone {
		t.Fatalf("status = %s, want %s", got.Status, StatusDone)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 0 {
		t.Fatalf("stream len = %d, want 0", n)
	}
}

func TestRedisJobQueueHandleRetriesThenFails(t *testing.T) {
	q, ctx, msg, job := newPendingQueueMessage(t)
	boom := errors.New("blob missing")
	handler := func(context.Context, Job) error { return boom }

	q.handleMessage(ctx, msg, handler)
	got, _, _ := q.GetJob(ctx, job.ID)
	if got.Status != StatusQueued || got.ErrorMessage != boom.Error() || got.Attempts != 1 {
		t.Fatalf("after first attempt: %+v", got)
	}

	q.handleMessage(ctx, readOne(t, q, "consumer-1"), handler)
	got, _, _ = q.GetJob(ctx, job.ID)
	if got.Status != StatusFailed || got.Attempts != 2 {
		t.Fatalf("after last attempt: %+v", got)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 0 {
		t.Fatalf("stream len = %d, want 0", n)
	}
}

func TestRedisJobQueueEnqueueValidation(t *testing.T) {
	q, ctx, _, _ := newPendingQueueMessage(t)
	if _, err := q.Enqueue(ctx, "", "a.pdf"); err == nil {
		t.Fatalf("expected error for empty owner")
	}
	if _, err := q.Enqueue(ctx, "alice", " "); err == nil {
		t.Fatalf("expected error for empty file name")
	}
	if _, ok, err := q.GetJob(ctx, "missing"); ok || err != nil {
		t.Fatalf("get missing job: ok=%v err=%v", ok, err)
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, redis.XMessage, Job) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	ctx := context.Background()
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, "alice", "paper.pdf")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("status = %s, want %s", job.Status, StatusQueued)
	}
	return q, ctx, readOne(t, q, "consumer-1"), job
}

func readOne(t *testing.T, q *RedisJobQueue, consumer string) redis.XMessage {
	t.Helper()
	streams, err := q.client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one message, got %+v", streams)
	}
	return streams[0].Messages[0]
}
