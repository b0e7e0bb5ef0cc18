package tier

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is a purchasable price point, coded by its price in TRY.
type Tier string

const (
	Starter      Tier = "50"
	Professional Tier = "100"
	Elite        Tier = "200"
)

// All lists every tier in display order. The set is closed.
var All = []Tier{Starter, Professional, Elite}

var (
	ErrUnknownTier   = errors.New("invalid_tier")
	ErrInvalidConfig = errors.New("invalid_tier_config")
)

func Parse(raw string) (Tier, error) {
	candidate := Tier(strings.TrimSpace(raw))
	for _, t := range All {
		if t == candidate {
			return t, nil
		}
	}
	return "", ErrUnknownTier
}

func (t Tier) Valid() bool {
	_, err := Parse(string(t))
	return err == nil
}

func (t Tier) String() string {
	return string(t)
}

// Definition describes how a tier is sold and what it grants.
type Definition struct {
	Code     Tier   `mapstructure:"code" json:"code"`
	Label    string `mapstructure:"label" json:"label"`
	Price    int64  `mapstructure:"price" json:"price"`
	Currency string `mapstructure:"currency" json:"currency"`
	Credits  int64  `mapstructure:"credits" json:"credits"`
}

type Catalog struct {
	Tiers []Definition `mapstructure:"tiers" json:"tiers"`
}

// DefaultCatalog keeps 200 at 12 credits, the amount granted so far for that tier.
func DefaultCatalog() Catalog {
	return Catalog{Tiers: []Definition{
		{Code: Starter, Label: "Başlangıç", Price: 50, Currency: "TRY", Credits: 5},
		{Code: Professional, Label: "Profesyonel", Price: 100, Currency: "TRY", Credits: 12},
		{Code: Elite, Label: "Elite", Price: 200, Currency: "TRY", Credits: 12},
	}}
}

// Credits returns the credit grant for t. Validate guarantees every tier has one.
func (c Catalog) Credits(t Tier) (int64, error) {
	def, err := c.Lookup(t)
	if err != nil {
		return 0, err
	}
	return def.Credits, nil
}

func (c Catalog) Lookup(t Tier) (Definition, error) {
	if !t.Valid() {
		return Definition{}, ErrUnknownTier
	}
	for _, def := range c.Tiers {
		if def.Code == t {
			return def, nil
		}
	}
	return Definition{}, ErrUnknownTier
}

// Validate requires exactly one definition per tier with a positive grant.
func (c Catalog) Validate() error {
	seen := make(map[Tier]bool, len(All))
	for _, def := range c.Tiers {
		if !def.Code.Valid() {
			return fmt.Errorf("%w: unknown tier %q", ErrInvalidConfig, def.Code)
		}
		if seen[def.Code] {
			return fmt.Errorf("%w: duplicate tier %q", ErrInvalidConfig, def.Code)
		}
		if def.Credits <= 0 {
			return fmt.Errorf("%w: tier %q must grant credits", ErrInvalidConfig, def.Code)
		}
		seen[def.Code] = true
	}
	for _, t := range All {
		if !seen[t] {
			return fmt.Errorf("%w: tier %q missing", ErrInvalidConfig, t)
		}
	}
	return nil
}
