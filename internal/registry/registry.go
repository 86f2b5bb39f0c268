// Package registry holds the canonical set of tradable assets. Assets are
// identified by their external price-feed identifier (e.g. "bitcoin",
// "ethereum"). A league may narrow the global whitelist with its own fixed
// asset list; it can never widen it.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrUnknownAsset is returned when an asset is not tradable in the
	// requested scope.
	ErrUnknownAsset = errors.New("registry: asset not tradable")

	// ErrInvalidAssetID is returned for malformed asset identifiers.
	ErrInvalidAssetID = errors.New("registry: invalid asset identifier")
)

// assetIDRegex matches canonical feed identifiers: lowercase alphanumerics
// and hyphens, e.g. "bitcoin", "matic-network".
var assetIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

// Registry is the injected asset whitelist capability. Immutable after
// construction, safe for concurrent use.
type Registry struct {
	assets map[string]bool
	sorted []string
}

// New builds a registry from the global whitelist. Identifiers are
// normalized to lower case; malformed entries are rejected.
func New(assets []string) (*Registry, error) {
	if len(assets) == 0 {
		return nil, errors.New("registry: empty asset whitelist")
	}
	set := make(map[string]bool, len(assets))
	for _, a := range assets {
		id, err := Normalize(a)
		if err != nil {
			return nil, err
		}
		set[id] = true
	}
	sorted := make([]string, 0, len(set))
	for id := range set {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return &Registry{assets: set, sorted: sorted}, nil
}

// Normalize validates and canonicalizes an asset identifier.
func Normalize(asset string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(asset))
	if !assetIDRegex.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAssetID, asset)
	}
	return id, nil
}

// Assets returns the global whitelist, sorted.
func (r *Registry) Assets() []string {
	out := make([]string, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// Tradable reports whether asset is in the global whitelist.
func (r *Registry) Tradable(asset string) bool {
	return r.assets[asset]
}

// Resolve normalizes asset and checks it against the global whitelist and,
// when non-empty, the league's own list. Returns the canonical identifier.
func (r *Registry) Resolve(asset string, leagueAssets []string) (string, error) {
	id, err := Normalize(asset)
	if err != nil {
		return "", err
	}
	if !r.assets[id] {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	if len(leagueAssets) > 0 {
		found := false
		for _, a := range leagueAssets {
			if a == id {
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("%w: %s (not in league whitelist)", ErrUnknownAsset, id)
		}
	}
	return id, nil
}

// ValidateLeagueList normalizes a league's fixed asset list against the
// global whitelist. Used at the league-creation boundary.
func (r *Registry) ValidateLeagueList(assets []string) ([]string, error) {
	seen := make(map[string]bool, len(assets))
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		id, err := Normalize(a)
		if err != nil {
			return nil, err
		}
		if !r.assets[id] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
