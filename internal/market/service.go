package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

type Service struct {
	db          *pgxpool.Pool
	log         *slog.Logger
	clock       clockwork.Clock
	lockTimeout time.Duration
}

func NewService(db *pgxpool.Pool, logger *slog.Logger, lockTimeout time.Duration, clock clockwork.Clock) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		db:          db,
		log:         logger,
		clock:       clock,
		lockTimeout: lockTimeout,
	}
}

func (s *Service) TeamByOwner(ctx context.Context, userID int64) (*TeamWithRoster, error) {
	var team TeamWithRoster
	err := s.db.QueryRow(ctx, `
		SELECT id, name, budget_micros, owner_id
		FROM teams
		WHERE owner_id = $1
	`, userID).Scan(&team.ID, &team.Name, &team.BudgetMicros, &team.OwnerID)
	if err == pgx.ErrNoRows {
		return nil, ErrNoTeam
	}
	if err != nil {
		return nil, fmt.Errorf("load team: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, name, position, team_id, is_listed, price_micros
		FROM players
		WHERE team_id = $1
		ORDER BY id
	`, team.ID)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p PlayerView
		if err := rows.Scan(&p.ID, &p.Name, &p.Position, &p.TeamID, &p.IsListed, &p.PriceMicros); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		team.Players = append(team.Players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roster rows: %w", err)
	}
	return &team, nil
}

// ListPlayer marks a player for sale at askMicros. The ownership check is part
// of the update statement, so a player that does not exist and a player owned
// by someone else produce the same rejection.
func (s *Service) ListPlayer(ctx context.Context, ownerUserID, playerID, askMicros int64) (*PlayerView, error) {
	if askMicros <= 0 {
		return nil, ErrInvalidPrice
	}
	var p PlayerView
	err := s.db.QueryRow(ctx, `
		UPDATE players p
		SET is_listed = true, price_micros = $3
		FROM teams t
		WHERE p.id = $2 AND p.team_id = t.id AND t.owner_id = $1
		RETURNING p.id, p.name, p.position, p.team_id, p.is_listed, p.price_micros
	`, ownerUserID, playerID, askMicros).Scan(&p.ID, &p.Name, &p.Position, &p.TeamID, &p.IsListed, &p.PriceMicros)
	if err == pgx.ErrNoRows {
		return nil, ErrListingConflict
	}
	if err != nil {
		return nil, fmt.Errorf("list player: %w", err)
	}
	s.log.Info("player listed", "player_id", p.ID, "team_id", p.TeamID, "ask_micros", askMicros)
	return &p, nil
}

func (s *Service) DelistPlayer(ctx context.Context, ownerUserID, playerID int64) (*PlayerView, error) {
	var p PlayerView
	err := s.db.QueryRow(ctx, `
		UPDATE players p
		SET is_listed = false, price_micros = NULL
		FROM teams t
		WHERE p.id = $2 AND p.team_id = t.id AND t.owner_id = $1
		RETURNING p.id, p.name, p.position, p.team_id, p.is_listed, p.price_micros
	`, ownerUserID, playerID).Scan(&p.ID, &p.Name, &p.Position, &p.TeamID, &p.IsListed, &p.PriceMicros)
	if err == pgx.ErrNoRows {
		return nil, ErrListingConflict
	}
	if err != nil {
		return nil, fmt.Errorf("delist player: %w", err)
	}
	s.log.Info("player delisted", "player_id", p.ID, "team_id", p.TeamID)
	return &p, nil
}

// ListedPlayers is the read-only transfer market search. It sees committed
// state only and takes no locks.
func (s *Service) ListedPlayers(ctx context.Context, f ListedPlayersFilter) ([]ListedPlayerView, error) {
	query := `
		SELECT p.id, p.name, p.position, p.team_id, p.is_listed, p.price_micros, t.name
		FROM players p
		JOIN teams t ON t.id = p.team_id
		WHERE p.is_listed`
	args := []any{}
	if f.PlayerName != "" {
		args = append(args, "%"+f.PlayerName+"%")
		query += fmt.Sprintf(" AND p.name ILIKE $%d", len(args))
	}
	if f.TeamName != "" {
		args = append(args, "%"+f.TeamName+"%")
		query += fmt.Sprintf(" AND t.name ILIKE $%d", len(args))
	}
	if f.Position != "" {
		args = append(args, f.Position)
		query += fmt.Sprintf(" AND p.position = $%d", len(args))
	}
	if f.MinPriceMicros != nil {
		args = append(args, *f.MinPriceMicros)
		query += fmt.Sprintf(" AND p.price_micros >= $%d", len(args))
	}
	if f.MaxPriceMicros != nil {
		args = append(args, *f.MaxPriceMicros)
		query += fmt.Sprintf(" AND p.price_micros <= $%d", len(args))
	}
	query += " ORDER BY p.id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listed players: %w", err)
	}
	defer rows.Close()

	out := []ListedPlayerView{}
	for rows.Next() {
		var lp ListedPlayerView
		if err := rows.Scan(&lp.ID, &lp.Name, &lp.Position, &lp.TeamID, &lp.IsListed, &lp.PriceMicros, &lp.TeamName); err != nil {
			return nil, fmt.Errorf("scan listed player: %w", err)
		}
		out = append(out, lp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listed player rows: %w", err)
	}
	return out, nil
}

// BuyPlayer executes a transfer: debit the buyer, credit the seller, move the
// player, clear the listing, all in one transaction.
//
// The pre-transaction read is advisory only; every rule is re-checked after the
// row locks are held because the advisory view can go stale at any moment. Both
// team rows are locked in ascending id order regardless of which side is buying
// so two transfers over the same pair of teams can never deadlock each other.
func (s *Service) BuyPlayer(ctx context.Context, buyerUserID, playerID, offerMicros int64) (*ListedPlayerView, error) {
	if offerMicros <= 0 {
		return nil, ErrInvalidPrice
	}

	var buyerTeamID int64
	err := s.db.QueryRow(ctx, `SELECT id FROM teams WHERE owner_id = $1`, buyerUserID).Scan(&buyerTeamID)
	if err == pgx.ErrNoRows {
		return nil, ErrNoTeam
	}
	if err != nil {
		return nil, fmt.Errorf("resolve buyer team: %w", err)
	}

	var advisory lockedPlayer
	err = s.db.QueryRow(ctx, `
		SELECT id, team_id, is_listed, price_micros
		FROM players
		WHERE id = $1
	`, playerID).Scan(&advisory.ID, &advisory.TeamID, &advisory.IsListed, &advisory.PriceMicros)
	if err == pgx.ErrNoRows {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve player: %w", err)
	}
	if !advisory.IsListed || advisory.PriceMicros == nil {
		return nil, ErrPlayerNotListed
	}
	if advisory.TeamID == buyerTeamID {
		return nil, ErrAlreadyOwned
	}
	sellerTeamID := advisory.TeamID

	result, err := s.withTxRetry(ctx, func(ctx context.Context) (*ListedPlayerView, error) {
		return s.buyPlayerTx(ctx, buyerTeamID, sellerTeamID, playerID, offerMicros)
	})
	if err != nil {
		if errors.Is(err, ErrNotEligible) {
			s.log.Info("transfer rejected", "player_id", playerID, "buyer_team_id", buyerTeamID, "reason", err)
		}
		return nil, err
	}
	s.log.Info("transfer complete",
		"player_id", playerID,
		"buyer_team_id", buyerTeamID,
		"seller_team_id", sellerTeamID,
		"amount_micros", offerMicros)
	return result, nil
}

const (
	maxTxAttempts     = 5
	initialRetryDelay = 75 * time.Millisecond
	maxRetryDelay     = 1200 * time.Millisecond
)

// withTxRetry runs op until it succeeds, is rejected, or fails with a
// non-retryable error. Retryable conflicts back off through the injected
// clock, doubling up to maxRetryDelay; exhaustion surfaces as ErrTxConflict.
func (s *Service) withTxRetry(ctx context.Context, op func(context.Context) (*ListedPlayerView, error)) (*ListedPlayerView, error) {
	retryDelay := initialRetryDelay
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrNotEligible) || !isRetryableTxError(err) {
			return nil, err
		}
		if attempt == maxTxAttempts-1 {
			break
		}
		s.log.Warn("tx conflict, retrying", "attempt", attempt+1, "err", err)
		if err := s.sleep(ctx, retryDelay); err != nil {
			return nil, err
		}
		if retryDelay < maxRetryDelay {
			retryDelay *= 2
		}
	}
	return nil, ErrTxConflict
}

func (s *Service) buyPlayerTx(ctx context.Context, buyerTeamID, sellerTeamID, playerID, offerMicros int64) (*ListedPlayerView, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Bounded lock wait: a unit of work that cannot acquire its locks in time
	// aborts with 55P03 and is retried from scratch.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return nil, err
	}

	firstTeamID, secondTeamID := lockOrder(buyerTeamID, sellerTeamID)
	budgets := make(map[int64]int64, 2)
	for _, teamID := range []int64{firstTeamID, secondTeamID} {
		var budget int64
		err := tx.QueryRow(ctx, `
			SELECT budget_micros FROM teams WHERE id = $1 FOR UPDATE
		`, teamID).Scan(&budget)
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("team %d vanished mid-transfer", teamID)
		}
		if err != nil {
			return nil, err
		}
		budgets[teamID] = budget
	}

	var p lockedPlayer
	err = tx.QueryRow(ctx, `
		SELECT id, team_id, is_listed, price_micros
		FROM players
		WHERE id = $1
		FOR UPDATE
	`, playerID).Scan(&p.ID, &p.TeamID, &p.IsListed, &p.PriceMicros)
	if err == pgx.ErrNoRows {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}

	// Roster sizes are counted under the locks. Every transfer touching either
	// team holds that team's row lock, so these counts cannot go stale before
	// commit.
	var buyerCount, sellerCount int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM players WHERE team_id = $1`, buyerTeamID).Scan(&buyerCount); err != nil {
		return nil, err
	}
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM players WHERE team_id = $1`, sellerTeamID).Scan(&sellerCount); err != nil {
		return nil, err
	}

	if err := validatePurchase(buyerTeamID, budgets[buyerTeamID], buyerCount, sellerTeamID, sellerCount, p, offerMicros); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE teams SET budget_micros = budget_micros - $1 WHERE id = $2
	`, offerMicros, buyerTeamID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE teams SET budget_micros = budget_micros + $1 WHERE id = $2
	`, offerMicros, sellerTeamID); err != nil {
		return nil, err
	}

	var out ListedPlayerView
	err = tx.QueryRow(ctx, `
		UPDATE players
		SET team_id = $1, is_listed = false, price_micros = NULL
		WHERE id = $2
		RETURNING id, name, position, team_id, is_listed, price_micros
	`, buyerTeamID, playerID).Scan(&out.ID, &out.Name, &out.Position, &out.TeamID, &out.IsListed, &out.PriceMicros)
	if err != nil {
		return nil, err
	}
	if err := tx.QueryRow(ctx, `SELECT name FROM teams WHERE id = $1`, buyerTeamID).Scan(&out.TeamName); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}

// isRetryableTxError covers serialization failures, deadlock detection and
// lock timeouts; everything else aborts the purchase immediately.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}
