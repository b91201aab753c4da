package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch chan []byte, wait time.Duration) []string {
	var out []string
	deadline := time.After(wait)
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-deadline:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	assert.Equal(t, 0, b.ClientCount())

	ch := b.Subscribe()
	assert.Equal(t, 1, b.ClientCount())

	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.ClientCount())
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "blocks.updated", Data: map[string]string{"date": "2024-05-01"}})

	select {
	case msg := <-ch:
		s := string(msg)
		assert.Contains(t, s, "event: blocks.updated\n")
		assert.Contains(t, s, `"date":"2024-05-01"`)
		assert.True(t, strings.HasSuffix(s, "\n\n"))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishCoalescesSameType(t *testing.T) {
	b := NewBroker(150 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 5; i++ {
		b.Notify("tasks.updated")
	}
	b.Notify("blocks.updated")

	msgs := drain(ch, 400*time.Millisecond)
	var tasks, blocks int
	for _, m := range msgs {
		switch {
		case strings.Contains(m, "event: tasks.updated"):
			tasks++
		case strings.Contains(m, "event: blocks.updated"):
			blocks++
		}
	}
	assert.Equal(t, 2, tasks, "leading plus one trailing event")
	assert.Equal(t, 1, blocks, "other types are not throttled by tasks.updated")
}

func TestPublishAfterWindowIsImmediate(t *testing.T) {
	b := NewBroker(50 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Notify("settings.updated")
	require.Len(t, drain(ch, 100*time.Millisecond), 1)

	b.Notify("settings.updated")
	select {
	case <-ch:
	case <-time.After(30 * time.Millisecond):
		t.Fatal("expected immediate delivery once the window elapsed")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	b.Notify("blocks.updated")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event: blocks.updated")
	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Nanosecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Buffer capacity is 64; extra events must not block the loop.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: i})
	}
	assert.Equal(t, 1, b.ClientCount())
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	b.Notify("tasks.updated")
	b.Notify("tasks.updated") // leaves a pending trailing timer

	b.Close()

	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	assert.Equal(t, 0, b.ClientCount())

	// Safe no-ops after close.
	b.Notify("tasks.updated")
	b.Close()
}
