package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "touchline/internal/cli"
	"touchline/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "tl",
		Short:        "Touchline fantasy market client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newTeamCmd(&apiBase),
		newMarketCmd(&apiBase),
		newListCmd(&apiBase),
		newDelistCmd(&apiBase),
		newBuyCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	session, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, err
	}
	return session, nil
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to Touchline (registers on first use)",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			result, err := client.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken: result.AccessToken,
				Email:       result.User.Email,
				UserID:      result.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newTeamCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "team",
		Short: "Show your team, budget and roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).Team(ctx, session.AccessToken)
			if err != nil {
				return err
			}
			return renderTeam(raw)
		},
	}
}

func newMarketCmd(apiBase *string) *cobra.Command {
	var playerName, teamName, position, minPrice, maxPrice string
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Browse players listed for transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).Market(ctx, session.AccessToken, playerName, teamName, position, minPrice, maxPrice)
			if err != nil {
				return err
			}
			return renderMarket(raw)
		},
	}
	cmd.Flags().StringVar(&playerName, "player", "", "filter by player name")
	cmd.Flags().StringVar(&teamName, "team", "", "filter by team name")
	cmd.Flags().StringVar(&position, "position", "", "filter by position (Goalkeeper/Defender/Midfielder/Attacker)")
	cmd.Flags().StringVar(&minPrice, "min", "", "minimum asking price")
	cmd.Flags().StringVar(&maxPrice, "max", "", "maximum asking price")
	return cmd
}

func newListCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <player-id> <price>",
		Short: "Put one of your players on the transfer list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			playerID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid player id %q", args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).ListPlayer(ctx, session.AccessToken, playerID, args[1])
			if err != nil {
				return err
			}
			return renderPlayerResult(raw, "Player listed for transfer.")
		},
	}
}

func newDelistCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delist <player-id>",
		Short: "Withdraw one of your players from the transfer list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			playerID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid player id %q", args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).DelistPlayer(ctx, session.AccessToken, playerID)
			if err != nil {
				return err
			}
			return renderPlayerResult(raw, "Player withdrawn from the transfer list.")
		},
	}
}

func newBuyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <player-id> <offer>",
		Short: "Buy a listed player at the given offer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			playerID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid player id %q", args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).BuyPlayer(ctx, session.AccessToken, playerID, args[1])
			if err != nil {
				return err
			}
			return renderPlayerResult(raw, "Transfer complete.")
		},
	}
}
