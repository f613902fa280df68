package billing

import (
	"sort"

	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
)

// Pack is a purchasable bundle of link credits.
type Pack struct {
	Credits  int    `json:"credits"`
	Price    int    `json:"price"`
	Currency string `json:"currency"`
}

// Plan is a subscription plan offered to users.
type Plan struct {
	Key                string `json:"key"`
	ID                 string `json:"id"`
	Name               string `json:"name"`
	TotalBillingCycles int    `json:"totalBillingCycles"`
}

// Catalog lists what can be bought.
type Catalog struct {
	Packs []Pack `json:"packs"`
	Plans []Plan `json:"plans"`
}

// NewCatalog builds the catalog from configuration, packs ordered by size.
func NewCatalog(cfg config.PaymentsConfig) Catalog {
	c := Catalog{Packs: []Pack{}, Plans: []Plan{}}
	for credits, price := range cfg.CreditPacks {
		c.Packs = append(c.Packs, Pack{Credits: credits, Price: price, Currency: cfg.Currency})
	}
	sort.Slice(c.Packs, func(i, j int) bool { return c.Packs[i].Credits < c.Packs[j].Credits })

	for _, p := range cfg.Plans {
		c.Plans = append(c.Plans, Plan{
			Key:                p.Key,
			ID:                 p.ID,
			Name:               p.Name,
			TotalBillingCycles: p.TotalBillingCycles,
		})
	}
	return c
}

// Pack returns the pack granting exactly credits.
func (c Catalog) Pack(credits int) (Pack, bool) {
	for _, p := range c.Packs {
		if p.Credits == credits {
			return p, true
		}
	}
	return Pack{}, false
}
