package router

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/alinzhou20/miniServer/internal/registry"
	"github.com/alinzhou20/miniServer/internal/restore"
	"github.com/alinzhou20/miniServer/pkg/event"
)

// Store is the append/expansion slice of the durable store the router
// needs: one insert per resolved recipient, plus the participant lists that
// expand group and role targets.
type Store interface {
	AppendMessage(ctx context.Context, msg *event.Message) error
	ListByGroup(ctx context.Context, groupID int) ([]*event.Identity, error)
	ListByGroupRole(ctx context.Context, groupID, role int) ([]*event.Identity, error)
}

// Restorer answers request events.
type Restorer interface {
	ForParticipant(ctx context.Context, participantID, scope string) *restore.ParticipantView
	ForTeacher(ctx context.Context, scope string) restore.TeacherView
}

// Router validates inbound events against the sender's role, resolves the
// fan-out target set, emits to matching rooms, and forwards a durable copy
// to the message store. Live delivery and durability are independent: a
// failed append is a logged persistence gap, never a user-visible error.
type Router struct {
	registry    *registry.Registry
	store       Store
	restorer    Restorer
	rateLimiter *RateLimiter
	log         zerolog.Logger
}

func New(reg *registry.Registry, st Store, restorer Restorer, logger zerolog.Logger) *Router {
	return &Router{
		registry:    reg,
		store:       st,
		restorer:    restorer,
		rateLimiter: NewRateLimiter(),
		log:         logger.With().Str("comp", "router").Logger(),
	}
}

// canSend is the role/event permission table: students submit and discuss,
// the teacher dispatches, anyone may request.
func canSend(role, eventType string) bool {
	switch eventType {
	case event.TypeSubmit, event.TypeDiscuss:
		return role == event.RoleStudent
	case event.TypeDispatch:
		return role == event.RoleTeacher
	case event.TypeRequest:
		return role == event.RoleStudent || role == event.RoleTeacher
	default:
		return false
	}
}

// Handle processes one inbound event from a connection. Called on the hub
// loop, so two events from the same sender are emitted in arrival order.
// The acknowledgement describes emission outcome only; durability is
// asynchronous from the sender's perspective.
func (r *Router) Handle(ctx context.Context, sender registry.Conn, env *event.Envelope) {
	now := time.Now().UnixMilli()
	identity := sender.Identity()

	if err := env.Validate(); err != nil {
		r.ack(sender, false, err.Error(), nil, now)
		return
	}

	if !canSend(identity.Role, env.EventType) {
		r.log.Warn().
			Str("participant", identity.ID).
			Str("role", identity.Role).
			Str("event", env.EventType).
			Msg("forbidden event")
		r.ack(sender, false, event.ErrForbidden.Error(), nil, now)
		return
	}

	if !r.rateLimiter.Allow(identity.ID) {
		r.ack(sender, false, ErrRateLimitExceeded.Error(), nil, now)
		return
	}

	if env.EventType == event.TypeRequest {
		r.handleRequest(ctx, sender, env, now)
		return
	}

	rooms := r.registry.ResolveRooms(env.EventType, env.To)
	out := &event.Outbound{
		EventType:     env.EventType,
		MessageType:   env.MessageType,
		ActivityScope: env.ActivityScope,
		Payload:       env.Payload,
		At:            now,
	}
	if !identity.IsTeacher() {
		out.From = identity
	}
	delivered := r.registry.Emit(rooms, out)

	r.log.Debug().
		Str("event", env.EventType).
		Str("type", env.MessageType).
		Str("participant", identity.ID).
		Strs("rooms", rooms).
		Int("delivered", delivered).
		Msg("event routed")

	// The durable copy rides behind the live emission; failures degrade
	// durability silently rather than stalling classroom interaction.
	go r.record(ctx, identity, env, now)

	r.ack(sender, true, "delivered", nil, now)
}

// handleRequest answers a request directly; requests never fan out. The
// restore query may suspend on store I/O, so it runs off the hub loop and
// stalls only this requester's reply.
func (r *Router) handleRequest(ctx context.Context, sender registry.Conn, env *event.Envelope, now int64) {
	if env.MessageType != event.RequestRestore {
		r.ack(sender, false, event.ErrUnknownRequestType.Error(), nil, now)
		return
	}
	identity := sender.Identity()
	scope := env.ActivityScope
	go func() {
		var data any
		if identity.IsTeacher() {
			data = r.restorer.ForTeacher(ctx, scope)
		} else {
			data = r.restorer.ForParticipant(ctx, identity.ID, scope)
		}
		r.ack(sender, true, "", data, time.Now().UnixMilli())
	}()
}

// record expands the routed event into durable rows: one per resolved
// recipient participant id, or a single nil-recipient row for a
// whole-audience emission so durability never couples to transient room
// membership.
func (r *Router) record(ctx context.Context, sender *event.Identity, env *event.Envelope, at int64) {
	msg := event.Message{
		EventType:     env.EventType,
		MessageType:   env.MessageType,
		ActivityScope: env.ActivityScope,
		Payload:       env.Payload,
		CreatedAt:     at,
	}
	if !sender.IsTeacher() {
		fromID := sender.ID
		msg.FromID = &fromID
	}

	var recipients []string
	if env.EventType != event.TypeSubmit && !env.To.IsBroadcast() {
		var err error
		recipients, err = r.expandRecipients(ctx, env.To)
		if err != nil {
			r.log.Error().Err(err).Str("type", env.MessageType).Msg("recipient expansion failed, record dropped")
			return
		}
	}

	if len(recipients) == 0 {
		// Submit to the teacher, or a whole-audience broadcast: one row
		// with a nil recipient.
		if err := r.store.AppendMessage(ctx, &msg); err != nil {
			r.log.Error().Err(err).Str("type", env.MessageType).Msg("append failed")
		}
		return
	}

	for _, recipientID := range recipients {
		row := msg
		id := recipientID
		row.ToID = &id
		if err := r.store.AppendMessage(ctx, &row); err != nil {
			r.log.Error().Err(err).Str("type", env.MessageType).Str("to", id).Msg("append failed")
		}
	}
}

// expandRecipients mirrors room resolution precedence so the durable rows
// name exactly the participants the emission targeted.
func (r *Router) expandRecipients(ctx context.Context, target *event.Target) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	switch {
	case len(target.ParticipantIDs) > 0:
		for _, id := range target.ParticipantIDs {
			add(id)
		}
	case len(target.GroupIDs) > 0:
		for _, gid := range target.GroupIDs {
			members, err := r.store.ListByGroup(ctx, gid)
			if err != nil {
				return nil, err
			}
			for _, m := range members {
				add(m.ID)
			}
		}
	case len(target.Roles) > 0:
		for _, ref := range target.Roles {
			members, err := r.store.ListByGroupRole(ctx, ref.GroupID, ref.Role)
			if err != nil {
				return nil, err
			}
			for _, m := range members {
				add(m.ID)
			}
		}
	}
	return ids, nil
}

func (r *Router) ack(conn registry.Conn, success bool, message string, data any, at int64) {
	ack := &event.Ack{Success: success, Message: message, Data: data, At: at}
	if err := conn.Send(ack); err != nil {
		r.log.Warn().Err(err).Str("conn", conn.ID()).Msg("ack dropped")
	}
}
