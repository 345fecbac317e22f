// Package session persists grooming sessions, users and memberships.
// The realtime protocol never touches the database; sessions exist so
// clients can discover each other's channel name and so history
// survives restarts.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyJoined = errors.New("user already joined session")
	ErrNotJoined     = errors.New("user has not joined session")
)

// EntityStatus is a soft lifecycle marker; deleted rows stay in place.
type EntityStatus string

const (
	StatusActive   EntityStatus = "active"
	StatusDisabled EntityStatus = "disabled"
	StatusDeleted  EntityStatus = "deleted"
)

// ChannelName is the realtime channel a session's tabs subscribe to.
func ChannelName(sessionID string) string {
	return "grooming-session:" + sessionID
}

type User struct {
	ID        string       `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Status    EntityStatus `json:"status"`
	FullName  string       `json:"full_name"`
	Email     string       `gorm:"uniqueIndex" json:"email"`
}

type GroomingSession struct {
	ID                  string       `gorm:"primaryKey" json:"id"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	Status              EntityStatus `json:"status"`
	Name                string       `json:"name"`
	RealTimeChannelName string       `json:"real_time_channel_name"`

	Users []User `gorm:"many2many:grooming_session_users;" json:"users"`
}

// Store wraps the database behind the operations the HTTP layer needs.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log.Named("session")}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&User{}, &GroomingSession{})
}

func (s *Store) CreateSession(ctx context.Context, name string) (*GroomingSession, error) {
	id := uuid.New().String()
	sess := &GroomingSession{
		ID:                  id,
		Status:              StatusActive,
		Name:                name,
		RealTimeChannelName: ChannelName(id),
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, err
	}
	s.log.Info("session created", zap.String("session_id", id), zap.String("name", name))
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*GroomingSession, error) {
	var sess GroomingSession
	err := s.db.WithContext(ctx).Preload("Users").First(&sess, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]GroomingSession, error) {
	var sessions []GroomingSession
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusActive).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) JoinSession(ctx context.Context, sessionID, userID string) (*GroomingSession, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, u := range sess.Users {
		if u.ID == userID {
			return nil, ErrAlreadyJoined
		}
	}
	if err := s.db.WithContext(ctx).Model(sess).Association("Users").Append(user); err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) LeaveSession(ctx context.Context, sessionID, userID string) (*GroomingSession, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	member := false
	for _, u := range sess.Users {
		if u.ID == userID {
			member = true
		}
	}
	if !member {
		return nil, ErrNotJoined
	}
	if err := s.db.WithContext(ctx).Model(sess).Association("Users").Delete(&User{ID: userID}); err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) CreateUser(ctx context.Context, fullName, email string) (*User, error) {
	user := &User{
		ID:       uuid.New().String(),
		Status:   StatusActive,
		FullName: fullName,
		Email:    email,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Ping checks database reachability for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}
