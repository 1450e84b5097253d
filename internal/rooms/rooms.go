// Package rooms provisions media rooms, tracks their participants against a
// capacity limit and issues short-lived room credentials.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the participant cap per room
const DefaultCapacity = 10

var (
	// ErrRoomAtCapacity is returned when a room has reached its participant cap
	ErrRoomAtCapacity = errors.New("room is at capacity")
	// ErrRoomNotFound is returned for operations on unknown rooms
	ErrRoomNotFound = errors.New("room not found")
	// ErrInvalidRoomToken is returned when a room credential fails verification
	ErrInvalidRoomToken = errors.New("invalid room token")
	// ErrInvalidRoomID is returned for empty or malformed room ids
	ErrInvalidRoomID = errors.New("invalid room id")
)

// Status reports whether EnsureRoom created the room or found it
type Status string

const (
	StatusCreated  Status = "created"
	StatusExisting Status = "existing"
)

// Info describes a provisioned room
type Info struct {
	ID               string    `json:"room_id"`
	Status           Status    `json:"status"`
	ParticipantCount int       `json:"participant_count"`
	Capacity         int       `json:"capacity"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store persists room membership
type Store interface {
	// Ensure creates the room if missing and reports whether it did.
	Ensure(ctx context.Context, roomID string) (created bool, createdAt time.Time, err error)
	Count(ctx context.Context, roomID string) (int, error)
	// Join adds the participant unless that would exceed capacity. Rejoining
	// with an identity already present is not counted twice.
	Join(ctx context.Context, roomID, participant string, capacity int) (int, error)
	Leave(ctx context.Context, roomID, participant string) (int, error)
	Members(ctx context.Context, roomID string) ([]string, error)
	Delete(ctx context.Context, roomID string) error
}

// Claims is the payload of a room credential
type Claims struct {
	RoomID   string `json:"room_id"`
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// Options configures a Service
type Options struct {
	Capacity    int
	TokenSecret string
	TokenTTL    time.Duration
	Issuer      string
}

// Service implements room provisioning and credentials
type Service struct {
	store    Store
	capacity int
	secret   []byte
	ttl      time.Duration
	issuer   string
	logger   logrus.FieldLogger
}

// NewService creates a room service backed by store
func NewService(store Store, opts Options, logger logrus.FieldLogger) *Service {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.Issuer == "" {
		opts.Issuer = "dialogue-rooms"
	}
	return &Service{
		store:    store,
		capacity: opts.Capacity,
		secret:   []byte(opts.TokenSecret),
		ttl:      opts.TokenTTL,
		issuer:   opts.Issuer,
		logger:   logger.WithField("component", "rooms"),
	}
}

// Capacity returns the configured participant cap
func (s *Service) Capacity() int {
	return s.capacity
}

// EnsureRoom creates the room if needed and returns its identity. Calling it
// for an existing room returns that room. A full room yields ErrRoomAtCapacity.
func (s *Service) EnsureRoom(ctx context.Context, roomID string) (Info, error) {
	if roomID == "" {
		return Info{}, ErrInvalidRoomID
	}

	created, createdAt, err := s.store.Ensure(ctx, roomID)
	if err != nil {
		return Info{}, fmt.Errorf("ensure room %s: %w", roomID, err)
	}

	count, err := s.store.Count(ctx, roomID)
	if err != nil {
		return Info{}, fmt.Errorf("count room %s: %w", roomID, err)
	}

	info := Info{
		ID:               roomID,
		Status:           StatusExisting,
		ParticipantCount: count,
		Capacity:         s.capacity,
		CreatedAt:        createdAt,
	}
	if created {
		info.Status = StatusCreated
		s.logger.WithField("room_id", roomID).Info("room created")
	}

	if count >= s.capacity {
		return info, fmt.Errorf("room %s has %d participants: %w", roomID, count, ErrRoomAtCapacity)
	}
	return info, nil
}

// IssueToken returns a signed credential for identity scoped to roomID
func (s *Service) IssueToken(ctx context.Context, roomID, identity string) (string, error) {
	if roomID == "" {
		return "", ErrInvalidRoomID
	}
	if identity == "" {
		identity = "guest-" + uuid.NewString()
	}

	// Only provisioned rooms get credentials.
	if _, _, err := s.store.Ensure(ctx, roomID); err != nil {
		return "", fmt.Errorf("ensure room %s: %w", roomID, err)
	}

	now := time.Now()
	claims := Claims{
		RoomID:   roomID,
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity,
			Audience:  jwt.ClaimStrings{roomID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyToken checks a credential and returns its claims
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoomToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.RoomID == "" {
		return nil, ErrInvalidRoomToken
	}
	return claims, nil
}

// Join admits a participant into a provisioned room
func (s *Service) Join(ctx context.Context, roomID, identity string) (int, error) {
	count, err := s.store.Join(ctx, roomID, identity, s.capacity)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{
		"room_id":      roomID,
		"identity":     identity,
		"participants": count,
	}).Debug("participant joined")
	return count, nil
}

// Leave removes a participant from a room
func (s *Service) Leave(ctx context.Context, roomID, identity string) (int, error) {
	return s.store.Leave(ctx, roomID, identity)
}

// Members lists the identities currently in the room
func (s *Service) Members(ctx context.Context, roomID string) ([]string, error) {
	return s.store.Members(ctx, roomID)
}

// EndRoom deletes the room and its membership
func (s *Service) EndRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrInvalidRoomID
	}
	if err := s.store.Delete(ctx, roomID); err != nil {
		return err
	}
	s.logger.WithField("room_id", roomID).Info("room ended")
	return nil
}
