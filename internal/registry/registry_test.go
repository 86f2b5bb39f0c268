package registry

import (
	"errors"
	"reflect"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New([]string{"bitcoin", "Ethereum", " solana ", "matic-network"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNew(t *testing.T) {
	r := newTestRegistry(t)

	want := []string{"bitcoin", "ethereum", "matic-network", "solana"}
	if got := r.Assets(); !reflect.DeepEqual(got, want) {
		t.Errorf("Assets() = %v, want %v", got, want)
	}

	if _, err := New(nil); err == nil {
		t.Error("empty whitelist accepted")
	}
	if _, err := New([]string{"bitcoin", "BAD ID"}); !errors.Is(err, ErrInvalidAssetID) {
		t.Errorf("malformed entry: got %v, want ErrInvalidAssetID", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"bitcoin", "bitcoin", false},
		{"  Bitcoin  ", "bitcoin", false},
		{"MATIC-NETWORK", "matic-network", false},
		{"avalanche-2", "avalanche-2", false},
		{"", "", true},
		{"x", "", true},
		{"has space", "", true},
		{"-leading", "", true},
		{"under_score", "", true},
	}
	for _, tc := range tests {
		got, err := Normalize(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidAssetID) {
				t.Errorf("Normalize(%q): got %v, want ErrInvalidAssetID", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Resolve(" Bitcoin ", nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != "bitcoin" {
		t.Errorf("id = %q, want bitcoin", id)
	}

	if _, err := r.Resolve("dogecoin", nil); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("outside global whitelist: got %v, want ErrUnknownAsset", err)
	}
}

func TestResolve_LeagueWhitelistNarrows(t *testing.T) {
	r := newTestRegistry(t)
	leagueAssets := []string{"bitcoin", "ethereum"}

	if _, err := r.Resolve("bitcoin", leagueAssets); err != nil {
		t.Errorf("whitelisted asset rejected: %v", err)
	}

	// Globally tradable but excluded by the league list.
	if _, err := r.Resolve("solana", leagueAssets); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("got %v, want ErrUnknownAsset", err)
	}

	// An empty league list means the full global whitelist.
	if _, err := r.Resolve("solana", nil); err != nil {
		t.Errorf("global asset rejected with empty league list: %v", err)
	}
}

func TestTradable(t *testing.T) {
	r := newTestRegistry(t)
	if !r.Tradable("bitcoin") {
		t.Error("bitcoin should be tradable")
	}
	if r.Tradable("dogecoin") {
		t.Error("dogecoin should not be tradable")
	}
}

func TestValidateLeagueList(t *testing.T) {
	r := newTestRegistry(t)

	got, err := r.ValidateLeagueList([]string{"Ethereum", "bitcoin", "ethereum"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"bitcoin", "ethereum"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := r.ValidateLeagueList([]string{"bitcoin", "dogecoin"}); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("got %v, want ErrUnknownAsset", err)
	}
	if _, err := r.ValidateLeagueList([]string{"bad id"}); !errors.Is(err, ErrInvalidAssetID) {
		t.Errorf("got %v, want ErrInvalidAssetID", err)
	}

	got, err = r.ValidateLeagueList(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("empty input: got %v, want empty", got)
	}
}
