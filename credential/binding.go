// Package credential exchanges a stored Skland account token for short-lived
// per-binding sessions.
package credential

import (
	"fmt"
	"strings"
	"time"

	"skland-checkin-bot/skland"
)

type Game string

const (
	GameArknights Game = skland.AppArknights
	GameEndfield  Game = skland.AppEndfield
)

// AllGames lists the supported games in display order.
var AllGames = []Game{GameArknights, GameEndfield}

func (g Game) DisplayName() string {
	switch g {
	case GameArknights:
		return "明日方舟"
	case GameEndfield:
		return "终末地"
	default:
		return string(g)
	}
}

// ParseGames validates a list of game codes. An empty list means all games.
func ParseGames(names []string) ([]Game, error) {
	var games []Game
	seen := make(map[Game]bool)
	for _, n := range names {
		g := Game(strings.ToLower(strings.TrimSpace(n)))
		if g == "" {
			continue
		}
		if g != GameArknights && g != GameEndfield {
			return nil, fmt.Errorf("unknown game %q", n)
		}
		if !seen[g] {
			seen[g] = true
			games = append(games, g)
		}
	}
	if len(games) == 0 {
		return append([]Game(nil), AllGames...), nil
	}
	return games, nil
}

// Binding is one game account discovered for a token.
type Binding struct {
	Token     string `json:"-"`
	Game      Game
	AccountID string

	// GameID is the Arknights channel id; ServerID the Endfield server.
	GameID      string
	ServerID    string
	Nickname    string
	ChannelName string
}

// Key identifies the binding independent of the token.
func (b Binding) Key() string {
	return string(b.Game) + ":" + b.AccountID
}

func (b Binding) String() string {
	return fmt.Sprintf("%s(%s)", b.Key(), b.Nickname)
}

// Session is a signed-request credential scoped to one binding.
type Session struct {
	Binding   Binding
	Cred      skland.Cred
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
