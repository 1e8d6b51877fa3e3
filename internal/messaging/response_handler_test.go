package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/store"
	"github.com/brewtap/brewtap/internal/twiliosms"
)

// recordingDialogue is a Dialogue fake that records calls and can inject
// failures or delays.
type recordingDialogue struct {
	mu      sync.Mutex
	calls   []string
	metas   []*models.InboundMeta
	reply   string
	err     error
	delay   time.Duration
	inUse   map[string]bool
	overlap bool
}

func (d *recordingDialogue) HandleSMS(ctx context.Context, phone, body string, meta *models.InboundMeta) (string, error) {
	d.mu.Lock()
	if d.inUse == nil {
		d.inUse = make(map[string]bool)
	}
	if d.inUse[phone] {
		d.overlap = true
	}
	d.inUse[phone] = true
	d.calls = append(d.calls, phone+":"+body)
	d.metas = append(d.metas, meta)
	d.mu.Unlock()

	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.mu.Lock()
	d.inUse[phone] = false
	d.mu.Unlock()
	return d.reply, d.err
}

func newHandlerFixture(dialogue *recordingDialogue, st *store.InMemoryStore) (*ResponseHandler, *TwilioService, *twiliosms.MockClient) {
	mock := &twiliosms.MockClient{}
	svc := NewTwilioService(mock)
	var resolver stationResolver
	if st != nil {
		resolver = st
	}
	return NewResponseHandler(svc, dialogue, resolver), svc, mock
}

func TestResponseHandlerSendsReply(t *testing.T) {
	dialogue := &recordingDialogue{reply: "What coffee would you like?"}
	rh, svc, mock := newHandlerFixture(dialogue, nil)

	svc.safeEmitResponse(models.Response{From: "+61400000001", Body: "hi", Time: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { rh.Run(ctx); close(done) }()

	waitFor(t, func() bool { return len(mock.Sent()) == 1 })
	cancel()
	<-done

	sent := mock.Sent()
	if sent[0].To != "61400000001" || sent[0].Body != "What coffee would you like?" {
		t.Errorf("unexpected send: %+v", sent[0])
	}
	if len(dialogue.calls) != 1 || dialogue.calls[0] != "61400000001:hi" {
		t.Errorf("unexpected dialogue calls: %v", dialogue.calls)
	}
}

func TestResponseHandlerErrorBoundary(t *testing.T) {
	dialogue := &recordingDialogue{err: errors.New("store exploded")}
	rh, svc, mock := newHandlerFixture(dialogue, nil)

	svc.safeEmitResponse(models.Response{From: "+61400000001", Body: "latte", Time: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { rh.Run(ctx); close(done) }()

	waitFor(t, func() bool { return len(mock.Sent()) == 1 })
	cancel()
	<-done

	body := mock.Sent()[0].Body
	if !strings.Contains(body, "something went wrong") {
		t.Errorf("expected the generic retry message, got %q", body)
	}
	if strings.Contains(body, "exploded") {
		t.Errorf("internal error detail leaked to the customer: %q", body)
	}
}

func TestResponseHandlerSerializesPerPhone(t *testing.T) {
	dialogue := &recordingDialogue{reply: "ok", delay: 20 * time.Millisecond}
	rh, svc, mock := newHandlerFixture(dialogue, nil)

	// Two rapid-fire messages from the same phone.
	svc.safeEmitResponse(models.Response{From: "+61400000001", Body: "yes", Time: 1})
	svc.safeEmitResponse(models.Response{From: "+61400000001", Body: "yes", Time: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { rh.Run(ctx); close(done) }()

	waitFor(t, func() bool { return len(mock.Sent()) == 2 })
	cancel()
	<-done

	if dialogue.overlap {
		t.Error("two messages from the same phone processed concurrently")
	}
}

func TestResponseHandlerResolvesStationMeta(t *testing.T) {
	st := store.NewInMemoryStore()
	st.SaveStation(models.Station{ID: 2, Status: models.StationStatusActive, Capacity: 10, InboundNumber: "61480000002"})
	dialogue := &recordingDialogue{reply: "ok"}
	rh, svc, mock := newHandlerFixture(dialogue, st)

	svc.safeEmitResponse(models.Response{From: "+61400000001", To: "+61480000002", Body: "latte", Time: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { rh.Run(ctx); close(done) }()

	waitFor(t, func() bool { return len(mock.Sent()) == 1 })
	cancel()
	<-done

	if len(dialogue.metas) != 1 || dialogue.metas[0] == nil || dialogue.metas[0].StationID != 2 {
		t.Errorf("station meta not resolved: %v", dialogue.metas)
	}
}

func TestResponseHandlerDropsInvalidSender(t *testing.T) {
	dialogue := &recordingDialogue{reply: "ok"}
	rh, svc, mock := newHandlerFixture(dialogue, nil)

	svc.safeEmitResponse(models.Response{From: "???", Body: "latte", Time: 1})
	svc.safeEmitResponse(models.Response{From: "+61400000001", Body: "latte", Time: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { rh.Run(ctx); close(done) }()

	waitFor(t, func() bool { return len(mock.Sent()) == 1 })
	cancel()
	<-done

	if len(dialogue.calls) != 1 {
		t.Errorf("invalid sender should be dropped before the dialogue: %v", dialogue.calls)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
