package progressbus

import (
	"testing"
	"time"

	"flyx/models"
)

func drain(t *testing.T, ch <-chan models.ProgressEvent, n int) []models.ProgressEvent {
	t.Helper()
	out := make([]models.ProgressEvent, 0, n)
	for i := 0; i < n; i++ {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d/%d", i+1, n)
		}
	}
	return out
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New()
	events, unsubscribe := b.Subscribe("job-1", 0)
	defer unsubscribe()

	b.Publish(models.ProgressEvent{RequestID: "job-1", Phase: models.PhaseConnecting, Progress: 15})
	b.Publish(models.ProgressEvent{RequestID: "job-1", Phase: models.PhaseNavigating, Progress: 30})

	got := drain(t, events, 2)
	if got[0].Phase != models.PhaseConnecting || got[1].Phase != models.PhaseNavigating {
		t.Errorf("got phases %v, %v in wrong order", got[0].Phase, got[1].Phase)
	}
}

func TestBus_SubscribeReplaysHistory(t *testing.T) {
	b := New()
	b.Publish(models.ProgressEvent{RequestID: "job-2", Phase: models.PhaseInitializing, Progress: 5})
	b.Publish(models.ProgressEvent{RequestID: "job-2", Phase: models.PhaseConnecting, Progress: 15})

	events, unsubscribe := b.Subscribe("job-2", 0)
	defer unsubscribe()

	got := drain(t, events, 2)
	if got[0].Phase != models.PhaseInitializing || got[1].Phase != models.PhaseConnecting {
		t.Errorf("replay did not preserve order: %v", got)
	}
}

func TestBus_SubscribeAfterSeqSkipsEarlierEvents(t *testing.T) {
	b := New()
	b.Publish(models.ProgressEvent{RequestID: "job-3", Phase: models.PhaseInitializing, Progress: 5})
	b.Publish(models.ProgressEvent{RequestID: "job-3", Phase: models.PhaseConnecting, Progress: 15})
	b.Publish(models.ProgressEvent{RequestID: "job-3", Phase: models.PhaseNavigating, Progress: 30})

	events, unsubscribe := b.Subscribe("job-3", 2)
	defer unsubscribe()

	got := drain(t, events, 1)
	if got[0].Phase != models.PhaseNavigating {
		t.Errorf("expected only the event after seq 2, got %v", got[0].Phase)
	}
}

func TestBus_ReconnectAfterTerminalReplaysAndCloses(t *testing.T) {
	b := New()
	b.Publish(models.ProgressEvent{RequestID: "job-4", Phase: models.PhaseComplete, Progress: 100})

	events, unsubscribe := b.Subscribe("job-4", 0)
	defer unsubscribe()

	got := drain(t, events, 1)
	if got[0].Phase != models.PhaseComplete {
		t.Fatalf("expected replayed terminal event, got %v", got[0].Phase)
	}
	if _, ok := <-events; ok {
		t.Error("channel should be closed after replaying a terminal event")
	}
}

func TestBus_FanOutToMultipleSubscribers(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe("job-5", 0)
	defer unsubA()
	c, unsubC := b.Subscribe("job-5", 0)
	defer unsubC()

	b.Publish(models.ProgressEvent{RequestID: "job-5", Phase: models.PhaseConnecting, Progress: 15})

	gotA := drain(t, a, 1)
	gotC := drain(t, c, 1)
	if gotA[0].Phase != models.PhaseConnecting || gotC[0].Phase != models.PhaseConnecting {
		t.Error("expected both subscribers to receive the published event")
	}
}

func TestBus_UnsubscribeStopsFurtherDelivery(t *testing.T) {
	b := New()
	events, unsubscribe := b.Subscribe("job-6", 0)
	unsubscribe()

	b.Publish(models.ProgressEvent{RequestID: "job-6", Phase: models.PhaseConnecting, Progress: 15})

	select {
	case _, ok := <-events:
		if ok {
			t.Error("unsubscribed channel should not receive further events")
		}
	case <-time.After(100 * time.Millisecond):
		// No delivery observed, as expected — the channel is simply never
		// closed for an unsubscribed reader, so absence of a send is success.
	}
}

func TestBus_Forget(t *testing.T) {
	b := New()
	b.Publish(models.ProgressEvent{RequestID: "job-7", Phase: models.PhaseComplete, Progress: 100})
	b.Forget("job-7")

	events, unsubscribe := b.Subscribe("job-7", 0)
	defer unsubscribe()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected no replay after Forget discarded the job's history")
		}
	case <-time.After(100 * time.Millisecond):
		// Fresh bus, nothing buffered: no event arrives. Expected.
	}
}
