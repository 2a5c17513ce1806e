package marketplace

import (
	"fmt"
	"strings"

	"floorScope/internal/model"
)

// All builds one listener per supported marketplace.
func All(deps Deps) ([]Listener, error) {
	return Select(deps, nil)
}

// Select builds the listeners named in marketplaces; an empty selection
// builds all of them.
func Select(deps Deps, marketplaces []string) ([]Listener, error) {
	constructors := []struct {
		marketplace model.Marketplace
		build       func(Deps) (Listener, error)
	}{
		{model.MarketplaceOpenSea, func(d Deps) (Listener, error) { return NewOpenSeaListener(d) }},
		{model.MarketplaceLooksRare, func(d Deps) (Listener, error) { return NewLooksRareListener(d) }},
		{model.MarketplaceRarible, func(d Deps) (Listener, error) { return NewRaribleListener(d) }},
		{model.MarketplaceFoundation, func(d Deps) (Listener, error) { return NewFoundationListener(d) }},
		{model.MarketplaceX2Y2, func(d Deps) (Listener, error) { return NewX2Y2Listener(d) }},
	}

	wanted := make(map[model.Marketplace]bool, len(marketplaces))
	for _, name := range marketplaces {
		wanted[model.Marketplace(strings.ToLower(strings.TrimSpace(name)))] = true
	}

	listeners := make([]Listener, 0, len(constructors))
	for _, c := range constructors {
		if len(wanted) > 0 && !wanted[c.marketplace] {
			continue
		}
		delete(wanted, c.marketplace)
		listener, err := c.build(deps)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, listener)
	}
	for name := range wanted {
		return nil, fmt.Errorf("unsupported marketplace: %s", name)
	}
	return listeners, nil
}
