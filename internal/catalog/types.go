// Package catalog serves Pokémon listings and details from PokeAPI through a
// bounded, deduplicating, caching gateway.
package catalog

import (
	"encoding/json"
	"time"
)

// Summary is one entry of a catalog listing.
type Summary struct {
	// ID is parsed from URL; 0 when the URL carries no trailing numeric id
	ID       int    `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	ThumbURL string `json:"thumbUrl,omitempty"`
}

// Details is the aggregated view of one Pokémon.
type Details struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	Abilities  []string `json:"abilities"`
	Types      []string `json:"types"`
	Evolutions []string `json:"evolutions"`
	ImageURL   *string  `json:"imageUrl"`
	ThumbURL   *string  `json:"thumbUrl"`
	ArtworkURL *string  `json:"artworkUrl"`
}

// Page is a listing slice with continuation info.
type Page struct {
	Items      []Summary `json:"items"`
	HasMore    bool      `json:"hasMore"`
	NextOffset *int      `json:"nextOffset"`
}

// Image is a sprite fetched from one of the candidate locations.
type Image struct {
	Data        []byte
	ContentType string
	Source      string
}

// EvolutionNode is one link of an evolution chain.
type EvolutionNode struct {
	SpeciesName string
	Children    []*EvolutionNode
}

// UnmarshalJSON decodes the upstream chain link shape
// {"species": {"name": ...}, "evolves_to": [...]}.
func (n *EvolutionNode) UnmarshalJSON(data []byte) error {
	var raw struct {
		Species struct {
			Name string `json:"name"`
		} `json:"species"`
		EvolvesTo []*EvolutionNode `json:"evolves_to"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.SpeciesName = raw.Species.Name
	n.Children = raw.EvolvesTo
	return nil
}

// UpstreamHealth represents the current health state of the upstream client.
type UpstreamHealth struct {
	LastSuccess         time.Time     `json:"lastSuccess"`
	LastFailure         time.Time     `json:"lastFailure"`
	LastError           string        `json:"lastError,omitempty"`
	LastDuration        time.Duration `json:"lastDurationNs"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	CircuitState        string        `json:"circuitState"`
	InFlight            int           `json:"inFlight"`
	PeakInFlight        int           `json:"peakInFlight"`
	MaxConcurrency      int           `json:"maxConcurrency"`
}

// Upstream wire types

type namedResource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type listResponse struct {
	Count   int             `json:"count"`
	Results []namedResource `json:"results"`
}

type pokemonResponse struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Abilities []struct {
		Ability namedResource `json:"ability"`
	} `json:"abilities"`
	Types []struct {
		Type namedResource `json:"type"`
	} `json:"types"`
	Species namedResource `json:"species"`
	Sprites struct {
		BackDefault  *string `json:"back_default"`
		FrontDefault *string `json:"front_default"`
		Other        map[string]struct {
			FrontDefault *string `json:"front_default"`
		} `json:"other"`
	} `json:"sprites"`
}

type speciesResponse struct {
	EvolutionChain *struct {
		URL string `json:"url"`
	} `json:"evolution_chain"`
}

type evolutionChainResponse struct {
	Chain *EvolutionNode `json:"chain"`
}
