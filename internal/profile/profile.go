// Package profile models the player's persistent profile: identity,
// balances, progression stats, and the version counter used for sync.
package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roach88/porta/internal/contract"
)

// XPPerLevel is the experience needed to gain one level.
const XPPerLevel = 100

// Username length bounds, counted in runes after trimming.
const (
	MinUsername = 3
	MaxUsername = 20
)

var (
	ErrUsernameTooShort  = errors.New("username must be at least 3 characters")
	ErrUsernameTooLong   = errors.New("username must be at most 20 characters")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Stats tracks progression.
type Stats struct {
	Level              int   `json:"level"`
	XP                 int64 `json:"xp"`
	XPToNextLevel      int64 `json:"xpToNextLevel"`
	ContractsCompleted int   `json:"contractsCompleted"`
	ContractsFailed    int   `json:"contractsFailed"`
	TotalEarnings      int64 `json:"totalEarnings"`
}

// Snapshot is the persisted and synced profile. Money and Tokens are never
// negative.
type Snapshot struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Money     int64  `json:"money"`
	Tokens    int64  `json:"tokens"`
	Stats     Stats  `json:"stats"`
	UpdatedAt int64  `json:"updatedAt"`
	Version   int64  `json:"version"`
}

// Defaults seeds a freshly synthesized profile.
type Defaults struct {
	Username string
	Money    int64
	Tokens   int64
}

// Default builds the minimal profile for uid. Without a configured
// username it is user_ followed by the first six characters of uid.
func Default(uid string, d Defaults) Snapshot {
	username := d.Username
	if username == "" {
		short := uid
		if len(short) > 6 {
			short = short[:6]
		}
		username = "user_" + short
	}
	return Snapshot{
		ID:       uid,
		Username: username,
		Money:    max(0, d.Money),
		Tokens:   max(0, d.Tokens),
		Stats:    Stats{Level: 1, XPToNextLevel: XPPerLevel},
	}
}

// ValidateUsername trims name and checks its length.
func ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinUsername {
		return "", ErrUsernameTooShort
	}
	if n > MaxUsername {
		return "", ErrUsernameTooLong
	}
	return name, nil
}

// WithBalances applies deltas, clamping each balance at zero.
func (p Snapshot) WithBalances(deltaMoney, deltaTokens int64) Snapshot {
	p.Money = max(0, p.Money+deltaMoney)
	p.Tokens = max(0, p.Tokens+deltaTokens)
	return p
}

// CanAfford reports whether both balances cover the cost.
func (p Snapshot) CanAfford(money, tokens int64) bool {
	return p.Money >= money && p.Tokens >= tokens
}

// Deduct subtracts a cost, or fails without change if either balance is
// short.
func (p Snapshot) Deduct(money, tokens int64) (Snapshot, error) {
	if !p.CanAfford(money, tokens) {
		return p, fmt.Errorf("%w: need %d money and %d tokens", ErrInsufficientFunds, money, tokens)
	}
	return p.WithBalances(-money, -tokens), nil
}

// Award credits a reward and its experience.
func (p Snapshot) Award(r Reward) Snapshot {
	p = p.WithBalances(r.Money, r.Tokens)
	p.Stats.TotalEarnings += r.Money
	p.Stats = p.Stats.addXP(r.XP)
	return p
}

// RecordResult counts a finished contract.
func (p Snapshot) RecordResult(won bool) Snapshot {
	if won {
		p.Stats.ContractsCompleted++
	} else {
		p.Stats.ContractsFailed++
	}
	return p
}

// WinRate is completed / (completed + failed), or 0 with no contracts.
func (p Snapshot) WinRate() float64 {
	total := p.Stats.ContractsCompleted + p.Stats.ContractsFailed
	if total == 0 {
		return 0
	}
	return float64(p.Stats.ContractsCompleted) / float64(total)
}

func (s Stats) addXP(xp int64) Stats {
	s.XP += xp
	s.Level = int(s.XP/XPPerLevel) + 1
	s.XPToNextLevel = XPPerLevel - s.XP%XPPerLevel
	return s
}

// Reward is what a won contract pays out.
type Reward struct {
	Money  int64 `json:"money"`
	Tokens int64 `json:"tokens"`
	XP     int64 `json:"xp"`
}

var baseRewards = map[contract.Difficulty]Reward{
	contract.Easy:   {Money: 100, Tokens: 5, XP: 50},
	contract.Medium: {Money: 250, Tokens: 12, XP: 150},
	contract.Hard:   {Money: 500, Tokens: 25, XP: 300},
}

// CalculateReward scales the difficulty's base reward by a speed
// multiplier between 1x (used all the time or more) and 2x (instant).
func CalculateReward(difficulty contract.Difficulty, elapsed, limit time.Duration) Reward {
	base, ok := baseRewards[difficulty]
	if !ok {
		return Reward{}
	}
	mult := 1.0
	if limit > 0 {
		mult = max(1, 2-float64(elapsed)/float64(limit))
	}
	return Reward{
		Money:  int64(float64(base.Money) * mult),
		Tokens: int64(float64(base.Tokens) * mult),
		XP:     int64(float64(base.XP) * mult),
	}
}
