package restore

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/alinzhou20/miniServer/internal/store"
	"github.com/alinzhou20/miniServer/pkg/event"
)

// Store is the query slice of the durable message store. Results must be
// ordered newest first so one forward scan per call implements the
// latest-wins collapse.
type Store interface {
	QueryMessages(ctx context.Context, f store.Filter) ([]*event.Message, error)
}

// Lookup is the identity resolver's read path, used to attach peer info to
// collapsed discuss and submit entries.
type Lookup interface {
	Lookup(ctx context.Context, participantID string) (*event.Identity, error)
}

// PeerEntry pairs a collapsed message with the current identity info of the
// peer it was exchanged with.
type PeerEntry struct {
	Info    *event.Identity `json:"info"`
	Message *event.Message  `json:"message"`
}

// Sent holds everything a participant authored: submit collapsed to one
// entry per message type, discuss to one per (message type, recipient).
type Sent struct {
	Submit  map[string]*event.Message        `json:"submit"`
	Discuss map[string]map[string]*PeerEntry `json:"discuss"`
}

// Received holds everything addressed to a participant: dispatch collapsed
// to one entry per message type, discuss to one per (message type, sender).
type Received struct {
	Dispatch map[string]*event.Message        `json:"dispatch"`
	Discuss  map[string]map[string]*PeerEntry `json:"discuss"`
}

// ParticipantView is the reconnect snapshot for one participant.
type ParticipantView struct {
	Sent     *Sent     `json:"sent"`
	Received *Received `json:"received"`
}

// TeacherView is the teacher's dashboard snapshot: across all students,
// submit messages collapsed to one entry per (message type, sender).
type TeacherView map[string]map[string]*PeerEntry

// Engine answers "what is the current state I should show" queries by
// scanning persisted messages once and keeping the newest row per collapse
// key. Store failures and unknown participants both yield empty views,
// never errors: absence of history is valid steady state.
type Engine struct {
	store    Store
	resolver Lookup
	log      zerolog.Logger
}

func NewEngine(st Store, resolver Lookup, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		resolver: resolver,
		log:      logger.With().Str("comp", "restore").Logger(),
	}
}

// ForParticipant rebuilds the sent and received snapshots for one
// participant within an activity scope ("" means all scopes).
func (e *Engine) ForParticipant(ctx context.Context, participantID, scope string) *ParticipantView {
	view := &ParticipantView{
		Sent: &Sent{
			Submit:  make(map[string]*event.Message),
			Discuss: make(map[string]map[string]*PeerEntry),
		},
		Received: &Received{
			Dispatch: make(map[string]*event.Message),
			Discuss:  make(map[string]map[string]*PeerEntry),
		},
	}

	sent, err := e.store.QueryMessages(ctx, store.Filter{FromID: participantID, ActivityScope: scope})
	if err != nil {
		e.log.Error().Err(err).Str("participant", participantID).Msg("sent query failed")
		return view
	}
	for _, msg := range sent {
		switch msg.EventType {
		case event.TypeSubmit:
			if _, ok := view.Sent.Submit[msg.MessageType]; !ok {
				view.Sent.Submit[msg.MessageType] = msg
			}
		case event.TypeDiscuss:
			if msg.ToID == nil {
				continue // whole-audience discuss has no single peer
			}
			e.keepPeer(ctx, view.Sent.Discuss, msg.MessageType, *msg.ToID, msg)
		}
	}

	// The received query includes to_id IS NULL rows so whole-audience
	// dispatches survive reconnection; submit rows in that set are skipped
	// by the event-type switch.
	received, err := e.store.QueryMessages(ctx, store.Filter{ToID: participantID, ToNull: true, ActivityScope: scope})
	if err != nil {
		e.log.Error().Err(err).Str("participant", participantID).Msg("received query failed")
		return view
	}
	for _, msg := range received {
		switch msg.EventType {
		case event.TypeDispatch:
			if _, ok := view.Received.Dispatch[msg.MessageType]; !ok {
				view.Received.Dispatch[msg.MessageType] = msg
			}
		case event.TypeDiscuss:
			if msg.FromID == nil || *msg.FromID == participantID {
				continue
			}
			e.keepPeer(ctx, view.Received.Discuss, msg.MessageType, *msg.FromID, msg)
		}
	}

	return view
}

// ForTeacher rebuilds the teacher dashboard: the latest submit per
// (message type, student) across all students.
func (e *Engine) ForTeacher(ctx context.Context, scope string) TeacherView {
	view := make(TeacherView)

	rows, err := e.store.QueryMessages(ctx, store.Filter{
		ToNull:        true,
		EventType:     event.TypeSubmit,
		ActivityScope: scope,
	})
	if err != nil {
		e.log.Error().Err(err).Msg("teacher restore query failed")
		return view
	}
	for _, msg := range rows {
		if msg.FromID == nil {
			continue
		}
		e.keepPeer(ctx, view, msg.MessageType, *msg.FromID, msg)
	}
	return view
}

// keepPeer records msg under (messageType, peer) unless a newer row was
// already kept. Rows arrive newest first, so first seen wins and the peer
// lookup runs at most once per key.
func (e *Engine) keepPeer(ctx context.Context, groups map[string]map[string]*PeerEntry, messageType, peerID string, msg *event.Message) {
	byPeer, ok := groups[messageType]
	if !ok {
		byPeer = make(map[string]*PeerEntry)
		groups[messageType] = byPeer
	}
	if _, ok := byPeer[peerID]; ok {
		return
	}
	info, err := e.resolver.Lookup(ctx, peerID)
	if err != nil || info == nil {
		info = &event.Identity{ID: peerID}
	}
	byPeer[peerID] = &PeerEntry{Info: info, Message: msg}
}
