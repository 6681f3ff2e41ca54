package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/alinzhou20/miniServer/internal/config"
	"github.com/alinzhou20/miniServer/pkg/event"
)

// Credential is a login attempt. Teacher logins carry username/password,
// student logins carry the roster tuple.
type Credential struct {
	Role        string `json:"role"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	StudentNo   int    `json:"studentNo,omitempty"`
	GroupID     int    `json:"groupId,omitempty"`
	RoleInGroup int    `json:"roleInGroup,omitempty"`
}

// ParticipantStore is the read/write slice of the durable store the
// resolver needs: identity creation on first login and the lookup path the
// restore engine shares.
type ParticipantStore interface {
	GetOrCreateStudent(ctx context.Context, studentNo, groupID, roleInGroup int) (*event.Identity, error)
	FindParticipant(ctx context.Context, participantID string) (*event.Identity, error)
}

// Resolver maps credentials to stable participant identities and handles
// the signed tokens the WebSocket handshake carries.
type Resolver struct {
	cfg   *config.AuthConfig
	store ParticipantStore
	log   zerolog.Logger
}

func NewResolver(cfg *config.AuthConfig, store ParticipantStore, logger zerolog.Logger) *Resolver {
	return &Resolver{
		cfg:   cfg,
		store: store,
		log:   logger.With().Str("comp", "auth").Logger(),
	}
}

// Resolve authenticates a credential and returns the participant identity.
// The teacher identity is a fixed singleton; student identities are created
// on first successful login per student number.
func (r *Resolver) Resolve(ctx context.Context, cred Credential) (*event.Identity, error) {
	switch cred.Role {
	case event.RoleTeacher:
		return r.resolveTeacher(cred)
	case event.RoleStudent:
		return r.resolveStudent(ctx, cred)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, cred.Role)
	}
}

func (r *Resolver) resolveTeacher(cred Credential) (*event.Identity, error) {
	if cred.Username == "" || cred.Password == "" {
		return nil, ErrMissingCredential
	}
	if subtle.ConstantTimeCompare([]byte(cred.Username), []byte(r.cfg.TeacherUsername)) != 1 {
		return nil, ErrBadCredential
	}
	if r.cfg.TeacherPasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(r.cfg.TeacherPasswordHash), []byte(cred.Password)); err != nil {
			return nil, ErrBadCredential
		}
	} else if subtle.ConstantTimeCompare([]byte(cred.Password), []byte(r.cfg.TeacherPassword)) != 1 {
		return nil, ErrBadCredential
	}
	return &event.Identity{ID: event.TeacherID, Role: event.RoleTeacher}, nil
}

func (r *Resolver) resolveStudent(ctx context.Context, cred Credential) (*event.Identity, error) {
	if cred.StudentNo <= 0 {
		return nil, ErrMissingCredential
	}
	identity, err := r.store.GetOrCreateStudent(ctx, cred.StudentNo, cred.GroupID, cred.RoleInGroup)
	if err != nil {
		return nil, fmt.Errorf("resolve student %d: %w", cred.StudentNo, err)
	}
	r.log.Debug().
		Str("participant", identity.ID).
		Int("student_no", identity.StudentNo).
		Int("group", identity.GroupID).
		Msg("student resolved")
	return identity, nil
}

// Lookup returns the identity behind a participant id, or nil when unknown.
func (r *Resolver) Lookup(ctx context.Context, participantID string) (*event.Identity, error) {
	if participantID == event.TeacherID {
		return &event.Identity{ID: event.TeacherID, Role: event.RoleTeacher}, nil
	}
	return r.store.FindParticipant(ctx, participantID)
}

type claims struct {
	Role        string `json:"role"`
	StudentNo   int    `json:"studentNo,omitempty"`
	GroupID     int    `json:"groupId,omitempty"`
	RoleInGroup int    `json:"roleInGroup,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs a short-lived token binding the resolved identity, to be
// presented on the WebSocket handshake.
func (r *Resolver) IssueToken(identity *event.Identity) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:        identity.Role,
		StudentNo:   identity.StudentNo,
		GroupID:     identity.GroupID,
		RoleInGroup: identity.RoleInGroup,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.cfg.TokenTTL)),
		},
	})
	return token.SignedString([]byte(r.cfg.JWTSecret))
}

// VerifyToken validates a handshake token and reconstructs the identity it
// was issued for.
func (r *Resolver) VerifyToken(tokenString string) (*event.Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return &event.Identity{
		ID:          c.Subject,
		Role:        c.Role,
		StudentNo:   c.StudentNo,
		GroupID:     c.GroupID,
		RoleInGroup: c.RoleInGroup,
	}, nil
}
