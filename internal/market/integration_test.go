//go:build integration
// +build integration

package market_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"touchline/internal/db"
	"touchline/internal/market"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:17.7"),
		postgres.WithDatabase("touchline_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.Connect(ctx, db.Settings{URL: connStr})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, pool))

	t.Cleanup(func() {
		pool.Close()
		require.NoError(t, container.Terminate(ctx))
	})
	return pool
}

type seededTeam struct {
	UserID    int64
	TeamID    int64
	PlayerIDs []int64
}

// seedTeam inserts a user, a team and nPlayers unlisted midfielders.
func seedTeam(t *testing.T, pool *pgxpool.Pool, email string, budgetUnits int64, nPlayers int) seededTeam {
	t.Helper()
	ctx := context.Background()

	var s seededTeam
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash) VALUES ($1, 'x') RETURNING id
	`, email).Scan(&s.UserID)
	require.NoError(t, err)

	err = pool.QueryRow(ctx, `
		INSERT INTO teams (name, budget_micros, owner_id) VALUES ($1, $2, $3) RETURNING id
	`, email+"-fc", market.UnitsToMicros(budgetUnits), s.UserID).Scan(&s.TeamID)
	require.NoError(t, err)

	for i := 0; i < nPlayers; i++ {
		var playerID int64
		err = pool.QueryRow(ctx, `
			INSERT INTO players (name, position, team_id, is_listed, price_micros)
			VALUES ($1, 'Midfielder', $2, false, NULL) RETURNING id
		`, fmt.Sprintf("%s player %d", email, i), s.TeamID).Scan(&playerID)
		require.NoError(t, err)
		s.PlayerIDs = append(s.PlayerIDs, playerID)
	}
	return s
}

func teamBudget(t *testing.T, pool *pgxpool.Pool, teamID int64) int64 {
	t.Helper()
	var budget int64
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT budget_micros FROM teams WHERE id = $1`, teamID).Scan(&budget))
	return budget
}

func playerTeam(t *testing.T, pool *pgxpool.Pool, playerID int64) (int64, bool) {
	t.Helper()
	var teamID int64
	var listed bool
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT team_id, is_listed FROM players WHERE id = $1`, playerID).Scan(&teamID, &listed))
	return teamID, listed
}

func TestBuyPlayerMovesMoneyAndPlayer(t *testing.T) {
	pool := setupPool(t)
	svc := market.NewService(pool, nil, time.Second, nil)
	ctx := context.Background()

	buyer := seedTeam(t, pool, "buyer", 1_000_000, 20)
	seller := seedTeam(t, pool, "seller", 500_000, 20)

	target := seller.PlayerIDs[0]
	_, err := svc.ListPlayer(ctx, seller.UserID, target, market.UnitsToMicros(100_000))
	require.NoError(t, err)

	got, err := svc.BuyPlayer(ctx, buyer.UserID, target, market.UnitsToMicros(95_001))
	require.NoError(t, err)
	assert.Equal(t, buyer.TeamID, got.TeamID)
	assert.False(t, got.IsListed)
	assert.Nil(t, got.PriceMicros)
	assert.Equal(t, "buyer-fc", got.TeamName)

	assert.Equal(t, market.UnitsToMicros(904_999), teamBudget(t, pool, buyer.TeamID))
	assert.Equal(t, market.UnitsToMicros(595_001), teamBudget(t, pool, seller.TeamID))

	teamID, listed := playerTeam(t, pool, target)
	assert.Equal(t, buyer.TeamID, teamID)
	assert.False(t, listed)
}

func TestBuyPlayerRejectionLeavesStateUntouched(t *testing.T) {
	pool := setupPool(t)
	svc := market.NewService(pool, nil, time.Second, nil)
	ctx := context.Background()

	buyer := seedTeam(t, pool, "buyer", 1_000_000, 20)
	seller := seedTeam(t, pool, "seller", 500_000, 20)

	target := seller.PlayerIDs[0]
	_, err := svc.ListPlayer(ctx, seller.UserID, target, market.UnitsToMicros(100_000))
	require.NoError(t, err)

	_, err = svc.BuyPlayer(ctx, buyer.UserID, target, market.UnitsToMicros(94_999))
	require.ErrorIs(t, err, market.ErrBelowFloorPrice)
	require.ErrorIs(t, err, market.ErrNotEligible)

	assert.Equal(t, market.UnitsToMicros(1_000_000), teamBudget(t, pool, buyer.TeamID))
	assert.Equal(t, market.UnitsToMicros(500_000), teamBudget(t, pool, seller.TeamID))

	teamID, listed := playerTeam(t, pool, target)
	assert.Equal(t, seller.TeamID, teamID)
	assert.True(t, listed)
}

func TestBuyPlayerRosterBounds(t *testing.T) {
	pool := setupPool(t)
	svc := market.NewService(pool, nil, time.Second, nil)
	ctx := context.Background()

	t.Run("seller at minimum", func(t *testing.T) {
		buyer := seedTeam(t, pool, "floor-buyer", 1_000_000, 20)
		seller := seedTeam(t, pool, "floor-seller", 500_000, market.MinSquadSize)

		target := seller.PlayerIDs[0]
		_, err := svc.ListPlayer(ctx, seller.UserID, target, market.UnitsToMicros(1_000))
		require.NoError(t, err)

		_, err = svc.BuyPlayer(ctx, buyer.UserID, target, market.UnitsToMicros(1_000))
		assert.ErrorIs(t, err, market.ErrSellerAtFloor)
	})

	t.Run("buyer at maximum", func(t *testing.T) {
		buyer := seedTeam(t, pool, "cap-buyer", 1_000_000, market.MaxSquadSize)
		seller := seedTeam(t, pool, "cap-seller", 500_000, 20)

		target := seller.PlayerIDs[0]
		_, err := svc.ListPlayer(ctx, seller.UserID, target, market.UnitsToMicros(1_000))
		require.NoError(t, err)

		_, err = svc.BuyPlayer(ctx, buyer.UserID, target, market.UnitsToMicros(1_000))
		assert.ErrorIs(t, err, market.ErrBuyerAtCap)
	})
}

func TestConcurrentBuyersSingleSale(t *testing.T) {
	pool := setupPool(t)
	svc := market.NewService(pool, nil, 3*time.Second, nil)
	ctx := context.Background()

	seller := seedTeam(t, pool, "seller", 0, 20)
	target := seller.PlayerIDs[0]
	_, err := svc.ListPlayer(ctx, seller.UserID, target, market.UnitsToMicros(100))
	require.NoError(t, err)

	const buyers = 8
	teams := make([]seededTeam, buyers)
	for i := range teams {
		teams[i] = seedTeam(t, pool, fmt.Sprintf("buyer%d", i), 10_000, 20)
	}

	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := range teams {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.BuyPlayer(ctx, teams[i].UserID, target, market.UnitsToMicros(100))
		}(i)
	}
	wg.Wait()

	wins := 0
	var winner seededTeam
	for i, err := range errs {
		if err == nil {
			wins++
			winner = teams[i]
			continue
		}
		if !errors.Is(err, market.ErrNotEligible) && !errors.Is(err, market.ErrTxConflict) {
			t.Fatalf("buyer %d failed with unexpected error: %v", i, err)
		}
	}
	require.Equal(t, 1, wins, "exactly one buyer must win the player")

	teamID, listed := playerTeam(t, pool, target)
	assert.Equal(t, winner.TeamID, teamID)
	assert.False(t, listed)

	// The seller is credited exactly once.
	assert.Equal(t, market.UnitsToMicros(100), teamBudget(t, pool, seller.TeamID))
	assert.Equal(t, market.UnitsToMicros(9_900), teamBudget(t, pool, winner.TeamID))
	for _, team := range teams {
		if team.TeamID == winner.TeamID {
			continue
		}
		assert.Equal(t, market.UnitsToMicros(10_000), teamBudget(t, pool, team.TeamID))
	}
}

func TestOpposingTransfersDoNotDeadlock(t *testing.T) {
	pool := setupPool(t)
	svc := market.NewService(pool, nil, 3*time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alpha := seedTeam(t, pool, "alpha", 100_000, 20)
	beta := seedTeam(t, pool, "beta", 100_000, 20)

	fromAlpha := alpha.PlayerIDs[0]
	fromBeta := beta.PlayerIDs[0]
	_, err := svc.ListPlayer(ctx, alpha.UserID, fromAlpha, market.UnitsToMicros(100))
	require.NoError(t, err)
	_, err = svc.ListPlayer(ctx, beta.UserID, fromBeta, market.UnitsToMicros(100))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = svc.BuyPlayer(ctx, alpha.UserID, fromBeta, market.UnitsToMicros(100))
	}()
	go func() {
		defer wg.Done()
		_, errB = svc.BuyPlayer(ctx, beta.UserID, fromAlpha, market.UnitsToMicros(100))
	}()
	wg.Wait()

	// Both opposing purchases must complete; the ordered team locks make a
	// deadlock impossible and neither side should exhaust its retries.
	require.NoError(t, errA)
	require.NoError(t, errB)

	teamID, _ := playerTeam(t, pool, fromBeta)
	assert.Equal(t, alpha.TeamID, teamID)
	teamID, _ = playerTeam(t, pool, fromAlpha)
	assert.Equal(t, beta.TeamID, teamID)

	// Equal prices in both directions leave both budgets unchanged.
	assert.Equal(t, market.UnitsToMicros(100_000), teamBudget(t, pool, alpha.TeamID))
	assert.Equal(t, market.UnitsToMicros(100_000), teamBudget(t, pool, beta.TeamID))
}

func TestListDelistAndMarketSearch(t *testing.T) {
	pool := setupPool(t)
	svc := market.NewService(pool, nil, time.Second, nil)
	ctx := context.Background()

	owner := seedTeam(t, pool, "owner", 1_000, 18)
	other := seedTeam(t, pool, "other", 1_000, 18)

	// Only the owner can list or delist.
	_, err := svc.ListPlayer(ctx, other.UserID, owner.PlayerIDs[0], market.UnitsToMicros(50))
	assert.ErrorIs(t, err, market.ErrListingConflict)

	listed, err := svc.ListPlayer(ctx, owner.UserID, owner.PlayerIDs[0], market.UnitsToMicros(50))
	require.NoError(t, err)
	assert.True(t, listed.IsListed)
	require.NotNil(t, listed.PriceMicros)
	assert.Equal(t, market.UnitsToMicros(50), *listed.PriceMicros)

	_, err = svc.ListPlayer(ctx, owner.UserID, owner.PlayerIDs[1], market.UnitsToMicros(200))
	require.NoError(t, err)

	all, err := svc.ListedPlayers(ctx, market.ListedPlayersFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "owner-fc", all[0].TeamName)

	min := market.UnitsToMicros(100)
	expensive, err := svc.ListedPlayers(ctx, market.ListedPlayersFilter{MinPriceMicros: &min})
	require.NoError(t, err)
	require.Len(t, expensive, 1)
	assert.Equal(t, owner.PlayerIDs[1], expensive[0].ID)

	byTeam, err := svc.ListedPlayers(ctx, market.ListedPlayersFilter{TeamName: "owner"})
	require.NoError(t, err)
	assert.Len(t, byTeam, 2)

	// Seeded players are all midfielders.
	byPosition, err := svc.ListedPlayers(ctx, market.ListedPlayersFilter{Position: market.Midfielder})
	require.NoError(t, err)
	assert.Len(t, byPosition, 2)
	keepers, err := svc.ListedPlayers(ctx, market.ListedPlayersFilter{Position: market.Goalkeeper})
	require.NoError(t, err)
	assert.Empty(t, keepers)

	delisted, err := svc.DelistPlayer(ctx, owner.UserID, owner.PlayerIDs[0])
	require.NoError(t, err)
	assert.False(t, delisted.IsListed)
	assert.Nil(t, delisted.PriceMicros)

	remaining, err := svc.ListedPlayers(ctx, market.ListedPlayersFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, owner.PlayerIDs[1], remaining[0].ID)

	// Buying an unlisted player fails before any transaction starts.
	_, err = svc.BuyPlayer(ctx, other.UserID, owner.PlayerIDs[0], market.UnitsToMicros(50))
	assert.ErrorIs(t, err, market.ErrPlayerNotListed)
}
