package market

type TeamView struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	BudgetMicros int64  `json:"budget_micros"`
	OwnerID      int64  `json:"owner_id"`
}

type PlayerView struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Position    Position `json:"position"`
	TeamID      int64    `json:"team_id"`
	IsListed    bool     `json:"is_listed"`
	PriceMicros *int64   `json:"price_micros,omitempty"`
}

type ListedPlayerView struct {
	PlayerView
	TeamName string `json:"team_name"`
}

type TeamWithRoster struct {
	TeamView
	Players []PlayerView `json:"players"`
}

type ListedPlayersFilter struct {
	PlayerName     string
	TeamName       string
	Position       Position
	MinPriceMicros *int64
	MaxPriceMicros *int64
}

// lockedPlayer is the player row as re-read under FOR UPDATE.
type lockedPlayer struct {
	ID          int64
	TeamID      int64
	IsListed    bool
	PriceMicros *int64
}
