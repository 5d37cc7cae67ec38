package camera

import "testing"

func TestObserversSubscribeAndEmit(t *testing.T) {
	t.Parallel()

	obs := newObservers()
	var got []Event
	obs.Subscribe(func(e Event) { got = append(got, e) })

	obs.emit(Event{Kind: EventFPSChanged})
	if len(got) != 1 || got[0].Kind != EventFPSChanged {
		t.Fatalf("got %v, want one EventFPSChanged", got)
	}
}

func TestObserversUnsubscribe(t *testing.T) {
	t.Parallel()

	obs := newObservers()
	var got []Event
	unsubscribe := obs.Subscribe(func(e Event) { got = append(got, e) })
	unsubscribe()

	obs.emit(Event{Kind: EventFPSChanged})
	if len(got) != 0 {
		t.Fatalf("got %v after unsubscribe, want none", got)
	}
}
