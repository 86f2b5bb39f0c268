package standings

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JAM-Corp/CryptoFantasy/internal/model"
	"github.com/JAM-Corp/CryptoFantasy/internal/store"
)

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// stubValuer returns synthetic portfolio values from a per-user growth
// function, standing in for trade-log replay.
type stubValuer struct {
	valueFn func(userID string, asOf time.Time) decimal.Decimal
}

func (s *stubValuer) ValueAt(_ context.Context, userID, _ string, asOf time.Time) (*model.Valuation, error) {
	v := s.valueFn(userID, asOf)
	return &model.Valuation{Cash: v, TotalValue: v, AsOf: asOf}, nil
}

// linearGrowth values each user at InitialCash plus a per-day rate.
func linearGrowth(ratesPerDay map[string]float64) *stubValuer {
	return &stubValuer{valueFn: func(userID string, asOf time.Time) decimal.Decimal {
		days := decimal.NewFromFloat(asOf.Sub(testStart).Hours() / 24)
		rate := decimal.NewFromFloat(ratesPerDay[userID])
		return model.InitialCash.Add(rate.Mul(days))
	}}
}

// flatValues values every user at a constant, ignoring time.
func flatValues(values map[string]float64) *stubValuer {
	return &stubValuer{valueFn: func(userID string, _ time.Time) decimal.Decimal {
		return model.InitialCash.Add(decimal.NewFromFloat(values[userID]))
	}}
}

func dailyLeague(id string) *model.League {
	return &model.League{
		ID:        id,
		Name:      "Test League",
		Status:    model.LeagueActive,
		CreatedAt: testStart,
		Settings:  model.LeagueSettings{MatchupFrequency: model.FrequencyDaily},
	}
}

func member(id, name string) model.Member {
	return model.Member{UserID: id, Username: name}
}

func fixedNow(svc *Service, at time.Time) {
	svc.now = func() time.Time { return at }
}

func dayRound(index int) model.Round {
	start := testStart.Add(time.Duration(index) * 24 * time.Hour)
	return model.Round{Index: index, Start: start, End: start.Add(24*time.Hour - time.Second)}
}

func TestScoreMatchup_ProfitDecides(t *testing.T) {
	valuer := linearGrowth(map[string]float64{"u1": 300, "u2": 100})
	svc := NewService(store.NewMemoryStore(), valuer, nil)
	fixedNow(svc, testStart.Add(72*time.Hour))

	res, err := svc.ScoreMatchup(context.Background(), dailyLeague("l1"), dayRound(0),
		member("u1", "alice"), member("u2", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeHome {
		t.Errorf("outcome = %s, want HOME", res.Outcome)
	}
	if !res.Home.Profit.GreaterThan(res.Away.Profit) {
		t.Errorf("home profit %s should exceed away profit %s", res.Home.Profit, res.Away.Profit)
	}

	// Same pairing with sides swapped.
	res, err = svc.ScoreMatchup(context.Background(), dailyLeague("l1"), dayRound(0),
		member("u2", "bob"), member("u1", "alice"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAway {
		t.Errorf("outcome = %s, want AWAY", res.Outcome)
	}
}

func TestScoreMatchup_TiedProfitFallsBackToValue(t *testing.T) {
	// Equal profit (zero for both), different absolute value.
	valuer := flatValues(map[string]float64{"u1": 5000, "u2": 2000})
	svc := NewService(store.NewMemoryStore(), valuer, nil)
	fixedNow(svc, testStart.Add(72*time.Hour))

	res, err := svc.ScoreMatchup(context.Background(), dailyLeague("l1"), dayRound(0),
		member("u1", "alice"), member("u2", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeHome {
		t.Errorf("outcome = %s, want HOME on value tiebreak", res.Outcome)
	}
}

func TestScoreMatchup_Tie(t *testing.T) {
	valuer := flatValues(map[string]float64{"u1": 1000, "u2": 1000})
	svc := NewService(store.NewMemoryStore(), valuer, nil)
	fixedNow(svc, testStart.Add(72*time.Hour))

	res, err := svc.ScoreMatchup(context.Background(), dailyLeague("l1"), dayRound(0),
		member("u1", "alice"), member("u2", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeTie {
		t.Errorf("outcome = %s, want TIE", res.Outcome)
	}
}

func TestScoreMatchup_EpsilonAbsorbsNoise(t *testing.T) {
	// Profit and value differences at or below a basis point of a cent do
	// not decide a matchup.
	valuer := flatValues(map[string]float64{"u1": 1000.00005, "u2": 1000})
	svc := NewService(store.NewMemoryStore(), valuer, nil)
	fixedNow(svc, testStart.Add(72*time.Hour))

	res, err := svc.ScoreMatchup(context.Background(), dailyLeague("l1"), dayRound(0),
		member("u1", "alice"), member("u2", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeTie {
		t.Errorf("outcome = %s, want TIE within epsilon", res.Outcome)
	}
}

func TestScoreMatchup_InProgressRoundScoresAtNow(t *testing.T) {
	valuer := linearGrowth(map[string]float64{"u1": 100, "u2": 0})
	svc := NewService(store.NewMemoryStore(), valuer, nil)
	// Halfway through round 0.
	fixedNow(svc, testStart.Add(12*time.Hour))

	res, err := svc.ScoreMatchup(context.Background(), dailyLeague("l1"), dayRound(0),
		member("u1", "alice"), member("u2", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	want := decimal.NewFromInt(50) // half a day at 100/day
	if !res.Home.Profit.Equal(want) {
		t.Errorf("in-progress profit = %s, want %s", res.Home.Profit, want)
	}
}

func TestComputeStandings_RankedByWins(t *testing.T) {
	members := []model.Member{
		member("u1", "alice"),
		member("u2", "bob"),
		member("u3", "carol"),
		member("u4", "dave"),
	}
	valuer := linearGrowth(map[string]float64{"u1": 300, "u2": 200, "u3": 100, "u4": 0})
	svc := NewService(store.NewMemoryStore(), valuer, nil)
	after := testStart.Add(4 * 24 * time.Hour)
	fixedNow(svc, after)

	table, err := svc.ComputeStandings(context.Background(), dailyLeague("l1"), members, after)
	if err != nil {
		t.Fatal(err)
	}
	if len(table) != 4 {
		t.Fatalf("got %d rows, want 4", len(table))
	}

	wantOrder := []string{"alice", "bob", "carol", "dave"}
	wantWins := []int{3, 2, 1, 0}
	for i, row := range table {
		if row.Username != wantOrder[i] {
			t.Errorf("rank %d = %s, want %s", i, row.Username, wantOrder[i])
		}
		if row.Wins != wantWins[i] {
			t.Errorf("%s wins = %d, want %d", row.Username, row.Wins, wantWins[i])
		}
		if row.Wins+row.Losses+row.Ties != 3 {
			t.Errorf("%s played %d rounds, want 3", row.Username, row.Wins+row.Losses+row.Ties)
		}
	}

	// The top row accumulated more points-for than points-against.
	if !table[0].PointDiff().IsPositive() {
		t.Errorf("leader point diff = %s, want positive", table[0].PointDiff())
	}
}

func TestComputeStandings_UsernameBreaksFullTie(t *testing.T) {
	members := []model.Member{member("u2", "zed"), member("u1", "ann")}
	valuer := flatValues(map[string]float64{"u1": 0, "u2": 0})
	svc := NewService(store.NewMemoryStore(), valuer, nil)
	after := testStart.Add(48 * time.Hour)
	fixedNow(svc, after)

	table, err := svc.ComputeStandings(context.Background(), dailyLeague("l1"), members, after)
	if err != nil {
		t.Fatal(err)
	}
	if table[0].Username != "ann" || table[1].Username != "zed" {
		t.Errorf("tie order = [%s, %s], want [ann, zed]", table[0].Username, table[1].Username)
	}
	if table[0].Ties != 1 {
		t.Errorf("ties = %d, want 1", table[0].Ties)
	}
}

func TestComputeStandings_SkipsUnfinishedRounds(t *testing.T) {
	members := []model.Member{member("u1", "alice"), member("u2", "bob")}
	valuer := linearGrowth(map[string]float64{"u1": 100, "u2": 0})
	svc := NewService(store.NewMemoryStore(), valuer, nil)

	// Mid round 0: nothing has ended, nothing counts.
	mid := testStart.Add(12 * time.Hour)
	fixedNow(svc, mid)
	table, err := svc.ComputeStandings(context.Background(), dailyLeague("l1"), members, mid)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range table {
		if row.Wins+row.Losses+row.Ties != 0 {
			t.Errorf("%s has results before any round ended", row.Username)
		}
	}
}

func TestComputeStandings_ByesCounted(t *testing.T) {
	members := []model.Member{
		member("u1", "alice"),
		member("u2", "bob"),
		member("u3", "carol"),
	}
	valuer := linearGrowth(map[string]float64{"u1": 100, "u2": 50, "u3": 0})
	svc := NewService(store.NewMemoryStore(), valuer, nil)
	after := testStart.Add(4 * 24 * time.Hour)
	fixedNow(svc, after)

	table, err := svc.ComputeStandings(context.Background(), dailyLeague("l1"), members, after)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range table {
		if row.Byes != 1 {
			t.Errorf("%s byes = %d, want 1", row.Username, row.Byes)
		}
		if row.Wins+row.Losses+row.Ties != 2 {
			t.Errorf("%s played %d matchups, want 2", row.Username, row.Wins+row.Losses+row.Ties)
		}
	}
}

func TestComputeStandings_EmptyRoster(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), flatValues(nil), nil)
	if _, err := svc.ComputeStandings(context.Background(), dailyLeague("l1"), nil, testStart); err != ErrEmptyRoster {
		t.Errorf("got %v, want ErrEmptyRoster", err)
	}
}

func TestMaybeFinalize(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	for _, u := range []struct{ id, name string }{{"u1", "alice"}, {"u2", "bob"}} {
		if err := ms.CreateUser(ctx, &model.User{ID: u.id, Username: u.name}); err != nil {
			t.Fatal(err)
		}
	}
	league := dailyLeague("l1")
	league.OwnerID = "u1"
	league.JoinCode = "TESTCODE"
	if err := ms.CreateLeague(ctx, league); err != nil {
		t.Fatal(err)
	}
	if err := ms.AddMember(ctx, "l1", "u2"); err != nil {
		t.Fatal(err)
	}
	members, err := ms.MembersOf(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}

	valuer := linearGrowth(map[string]float64{"u1": 100, "u2": 0})
	svc := NewService(ms, valuer, nil)

	// Two members: one round, ending 24h after creation. Still running.
	fixedNow(svc, testStart.Add(12*time.Hour))
	got, err := svc.MaybeFinalize(ctx, league, members)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.LeagueActive {
		t.Fatalf("league finalized while a round was still running")
	}

	// All rounds over: the top-ranked member becomes the permanent winner.
	fixedNow(svc, testStart.Add(25*time.Hour))
	got, err = svc.MaybeFinalize(ctx, league, members)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.LeagueCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if got.WinnerID != "u1" {
		t.Errorf("winner = %s, want u1", got.WinnerID)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	// Terminal: repeated calls leave the stored result untouched.
	valuer2 := linearGrowth(map[string]float64{"u1": 0, "u2": 100})
	svc2 := NewService(ms, valuer2, nil)
	fixedNow(svc2, testStart.Add(48*time.Hour))
	again, err := svc2.MaybeFinalize(ctx, got, members)
	if err != nil {
		t.Fatal(err)
	}
	if again.WinnerID != "u1" {
		t.Errorf("winner changed after finalization: %s", again.WinnerID)
	}
}
