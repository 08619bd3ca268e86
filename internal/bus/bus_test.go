package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Emit(ConnUp, ConnInfo{Generation: 1})

	select {
	case evt := <-ch:
		if evt.Kind != ConnUp {
			t.Errorf("got kind %q, want %q", evt.Kind, ConnUp)
		}
		info, ok := evt.Payload.(ConnInfo)
		if !ok || info.Generation != 1 {
			t.Errorf("payload = %v", evt.Payload)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit should stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("messages.", 10)
	defer unsub()

	b.Emit(ChatsChanged, nil)
	b.Emit(MessagesAppended, nil)

	select {
	case evt := <-ch:
		if evt.Kind != MessagesAppended {
			t.Errorf("got kind %q, want %q", evt.Kind, MessagesAppended)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Emit(ChatsChanged, nil)
	b.Emit(ConnDown, nil)

	for _, want := range []string{ChatsChanged, ConnDown} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("got kind %q, want %q", evt.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	unsub()

	b.Emit(ConnUp, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("messages.", 1)
	defer unsub()

	b.Emit(MessagesAppended, "first")
	b.Emit(MessagesAppended, "second") // dropped, buffer full

	evt := <-ch
	if evt.Payload != "first" {
		t.Errorf("payload = %v, want first", evt.Payload)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected second event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
