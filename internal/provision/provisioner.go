package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"touchline/internal/market"
)

var (
	// ErrAlreadyProvisioned means the owner already has a team; a redelivered
	// job lands here and must be acked, not retried.
	ErrAlreadyProvisioned = errors.New("team already provisioned")

	// ErrNameCollision means another owner holds the derived team name. Not
	// retryable; needs operator attention.
	ErrNameCollision = errors.New("team name collision")
)

// UserCreated is the queue payload produced once per created user.
type UserCreated struct {
	JobID  string `json:"job_id"`
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

var rosterTemplate = []struct {
	Position market.Position
	Count    int
}{
	{market.Goalkeeper, 3},
	{market.Defender, 6},
	{market.Midfielder, 6},
	{market.Attacker, 5},
}

type Provisioner struct {
	db   *pgxpool.Pool
	log  *slog.Logger
	rand *mathrand.Rand
}

func NewProvisioner(db *pgxpool.Pool, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		db:   db,
		log:  logger,
		rand: mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

// TeamNameFor derives the team name from the email local part and user id.
func TeamNameFor(email string, userID int64) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	return fmt.Sprintf("%s-%d", local, userID)
}

// Provision creates the user's team with its full starting roster in one
// transaction. A partial roster is never observable.
func (p *Provisioner) Provision(ctx context.Context, job UserCreated) (int64, error) {
	// An existing team for this owner means the job already ran to commit and
	// the queue redelivered it.
	var existingID int64
	err := p.db.QueryRow(ctx, `SELECT id FROM teams WHERE owner_id = $1`, job.UserID).Scan(&existingID)
	if err == nil {
		return existingID, ErrAlreadyProvisioned
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	teamName := TeamNameFor(job.Email, job.UserID)
	var teamID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO teams (name, budget_micros, owner_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`, teamName, market.StartingBudgetMicros, job.UserID).Scan(&teamID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Two deliveries of the same job racing each other trip the
			// owner_id constraint; only a name clash with a different owner
			// is a real collision.
			if pgErr.ConstraintName == "teams_owner_id_key" {
				return 0, ErrAlreadyProvisioned
			}
			return 0, fmt.Errorf("%w: %q", ErrNameCollision, teamName)
		}
		return 0, fmt.Errorf("insert team: %w", err)
	}

	for _, slot := range rosterTemplate {
		for i := 0; i < slot.Count; i++ {
			if _, err := tx.Exec(ctx, `
				INSERT INTO players (name, position, team_id, is_listed, price_micros)
				VALUES ($1, $2, $3, false, NULL)
			`, randomPlayerName(p.rand), slot.Position, teamID); err != nil {
				return 0, fmt.Errorf("insert player: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	p.log.Info("team provisioned", "team_id", teamID, "user_id", job.UserID, "name", teamName)
	return teamID, nil
}
