package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/store"
)

// genericErrorReply is the only message customers see for unexpected
// processing failures. Detail stays in the logs.
const genericErrorReply = "Sorry, something went wrong on our end. Please send that again in a moment."

// Dialogue is the conversational entry point the handler routes inbound
// messages into.
type Dialogue interface {
	HandleSMS(ctx context.Context, phone, body string, meta *models.InboundMeta) (string, error)
}

// stationResolver resolves a station from the inbound number a message
// arrived on.
type stationResolver interface {
	GetStationByInboundNumber(number string) (*models.Station, error)
}

// ResponseHandler consumes the service's Responses channel and drives the
// dialogue engine. Messages from different phones process concurrently;
// messages from the same phone are serialized so two texts sent in quick
// succession cannot interleave their state transitions.
type ResponseHandler struct {
	msgService Service
	dialogue   Dialogue
	stations   stationResolver

	mu         sync.Mutex
	phoneLocks map[string]*sync.Mutex

	wg sync.WaitGroup
}

// NewResponseHandler wires a handler over the messaging service and dialogue
// engine. stations may be nil when no station-specific inbound numbers exist.
func NewResponseHandler(msgService Service, dialogue Dialogue, stations stationResolver) *ResponseHandler {
	return &ResponseHandler{
		msgService: msgService,
		dialogue:   dialogue,
		stations:   stations,
		phoneLocks: make(map[string]*sync.Mutex),
	}
}

// Run consumes responses until the channel closes or the context is
// cancelled. It blocks; callers run it in a goroutine.
func (rh *ResponseHandler) Run(ctx context.Context) {
	slog.Info("ResponseHandler started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("ResponseHandler stopping", "reason", ctx.Err())
			rh.wg.Wait()
			return
		case response, ok := <-rh.msgService.Responses():
			if !ok {
				slog.Info("ResponseHandler responses channel closed")
				rh.wg.Wait()
				return
			}
			rh.wg.Add(1)
			go func(resp models.Response) {
				defer rh.wg.Done()
				rh.processResponse(ctx, resp)
			}(response)
		}
	}
}

// processResponse handles one inbound message end to end: canonicalize,
// serialize per phone, run the dialogue, send the reply. Any error past
// validation collapses to the generic retry message.
func (rh *ResponseHandler) processResponse(ctx context.Context, response models.Response) {
	phone, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler rejected sender", "error", err, "from", response.From)
		return
	}

	lock := rh.lockFor(phone)
	lock.Lock()
	defer lock.Unlock()

	meta := rh.resolveMeta(response.To)

	reply, err := rh.dialogue.HandleSMS(ctx, phone, response.Body, meta)
	if err != nil {
		slog.Error("ResponseHandler dialogue failed", "error", err, "phone", phone)
		reply = genericErrorReply
	}
	if reply == "" {
		return
	}

	if err := rh.msgService.SendMessage(ctx, phone, reply); err != nil {
		slog.Error("ResponseHandler failed to send reply", "error", err, "phone", phone)
	}
}

// resolveMeta maps the receiving number to a station preference when that
// number is pinned to a station.
func (rh *ResponseHandler) resolveMeta(to string) *models.InboundMeta {
	if rh.stations == nil || to == "" {
		return nil
	}
	canonical, err := rh.msgService.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return nil
	}
	station, err := rh.stations.GetStationByInboundNumber(canonical)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("ResponseHandler station lookup failed", "error", err, "to", canonical)
		}
		return nil
	}
	slog.Debug("ResponseHandler resolved inbound station", "to", canonical, "station_id", station.ID)
	return &models.InboundMeta{StationID: station.ID}
}

// lockFor returns the mutex serializing one phone's messages. Entries are
// never evicted, which bounds memory at one mutex per distinct sender over
// the process lifetime; events run hours, not months, so that stays small.
// Serialization guarantees no interleaving, not arrival order: two texts in
// the same instant may swap, which only re-prompts.
func (rh *ResponseHandler) lockFor(phone string) *sync.Mutex {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	lock, ok := rh.phoneLocks[phone]
	if !ok {
		lock = &sync.Mutex{}
		rh.phoneLocks[phone] = lock
	}
	return lock
}
