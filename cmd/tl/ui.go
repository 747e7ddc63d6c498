package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"touchline/internal/market"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type marketPayload struct {
	Players []market.ListedPlayerView `json:"players"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(string(raw))
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderTeam(raw map[string]any) error {
	team, err := decodeInto[market.TeamWithRoster](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s ==\n", team.Name)
	fmt.Printf("Budget: %s\n", market.FormatMicros(team.BudgetMicros))
	fmt.Printf("Squad:  %d players\n", len(team.Players))

	fmt.Println()
	accent.Println("Roster")
	if len(team.Players) == 0 {
		printInfo("No players yet.")
		return nil
	}
	fmt.Printf("%-6s %-24s %-4s %-8s %12s\n", "ID", "NAME", "POS", "LISTED", "ASK")
	for _, p := range team.Players {
		listed := "no"
		ask := "-"
		if p.IsListed {
			listed = "yes"
			if p.PriceMicros != nil {
				ask = market.FormatMicros(*p.PriceMicros)
			}
		}
		fmt.Printf("%-6d %-24s %-4s %-8s %12s\n",
			p.ID,
			truncate(p.Name, 24),
			p.Position,
			listed,
			ask,
		)
	}
	fmt.Println()
	return nil
}

func renderMarket(raw map[string]any) error {
	payload, err := decodeInto[marketPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== TRANSFER MARKET ==")
	if len(payload.Players) == 0 {
		printInfo("No players listed.")
		return nil
	}
	fmt.Printf("%-6s %-24s %-4s %-24s %12s\n", "ID", "NAME", "POS", "TEAM", "ASK")
	for _, p := range payload.Players {
		ask := "-"
		if p.PriceMicros != nil {
			ask = market.FormatMicros(*p.PriceMicros)
		}
		fmt.Printf("%-6d %-24s %-4s %-24s %12s\n",
			p.ID,
			truncate(p.Name, 24),
			p.Position,
			truncate(p.TeamName, 24),
			ask,
		)
	}
	fmt.Println()
	return nil
}

func renderPlayerResult(raw map[string]any, successMessage string) error {
	player, err := decodeInto[market.ListedPlayerView](raw)
	if err != nil {
		return err
	}
	printSuccess(successMessage)
	fmt.Printf("Player:   #%d %s (%s)\n", player.ID, player.Name, player.Position)
	if player.TeamName != "" {
		fmt.Printf("Team:     %s\n", player.TeamName)
	}
	if player.PriceMicros != nil {
		fmt.Printf("Price:    %s\n", market.FormatMicros(*player.PriceMicros))
	}
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
