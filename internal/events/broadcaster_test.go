package events

import (
	"testing"
	"time"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}

	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	event := Event{
		Type:   EventUpload,
		FileID: "file-1",
		Name:   "photo.png",
	}
	b.Publish(event)

	select {
	case received := <-ch:
		if received.Type != EventUpload {
			t.Errorf("expected type %s, got %s", EventUpload, received.Type)
		}
		if received.FileID != "file-1" {
			t.Errorf("expected file id file-1, got %s", received.FileID)
		}
		if received.Timestamp == 0 {
			t.Error("expected non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterMultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	event := Event{Type: EventRename, FileID: "file-2"}
	b.Publish(event)

	for i, ch := range []chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.FileID != "file-2" {
				t.Errorf("subscriber %d: expected file-2, got %s", i, received.FileID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill the channel buffer (64)
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: EventUpload, FileID: "overflow"})
	}

	// Should not block or panic
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			goto done
		}
	}
done:
	if count != 64 {
		t.Errorf("expected 64 buffered events, got %d", count)
	}
}

func TestMarshalEvent(t *testing.T) {
	e := Event{
		Type:      EventDelete,
		FileID:    "file-3",
		Timestamp: 1234567890,
	}
	data, err := MarshalEvent(e)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty JSON")
	}
}
