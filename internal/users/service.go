package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"touchline/internal/provision"
)

var (
	ErrNotFound    = errors.New("user not found")
	ErrEmailExists = errors.New("email already registered")
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Enqueuer publishes the roster-provisioning job for a freshly created user.
type Enqueuer interface {
	PublishUserCreated(ctx context.Context, job provision.UserCreated) error
}

type Service struct {
	db    *pgxpool.Pool
	log   *slog.Logger
	queue Enqueuer
}

func NewService(db *pgxpool.Pool, logger *slog.Logger, queue Enqueuer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, log: logger, queue: queue}
}

func (s *Service) ByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user by email: %w", err)
	}
	return &u, nil
}

func (s *Service) ByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

// Create inserts the user and, once the row is committed, enqueues exactly one
// provisioning job. The user's team appears asynchronously.
func (s *Service) Create(ctx context.Context, email, passwordHash string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, password_hash, created_at
	`, email, passwordHash).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	job := provision.UserCreated{
		JobID:  uuid.NewString(),
		UserID: u.ID,
		Email:  u.Email,
	}
	if err := s.queue.PublishUserCreated(ctx, job); err != nil {
		// The user row is committed; losing the job here means the team never
		// appears, so fail loudly for operator replay.
		s.log.Error("user created but provisioning enqueue failed", "user_id", u.ID, "err", err)
		return nil, fmt.Errorf("enqueue provisioning for user %d: %w", u.ID, err)
	}
	s.log.Info("user created", "user_id", u.ID, "job_id", job.JobID)
	return &u, nil
}
