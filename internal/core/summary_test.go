package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expense(amount float64, category string) Transaction {
	return Transaction{Amount: amount, Type: Expense, Category: category, Description: "x", Date: "2025-01-01"}
}

func income(amount float64, category string) Transaction {
	return Transaction{Amount: amount, Type: Income, Category: category, Description: "x", Date: "2025-01-01"}
}

func TestComputeTotals_IncomeAndExpense(t *testing.T) {
	txs := []Transaction{
		income(100, "Salary"),
		expense(40, "Food"),
		expense(10, "Food"),
	}

	got := ComputeTotals(txs)

	assert.Equal(t, Totals{Income: 100, Expense: 50, Balance: 50}, got)
}

func TestComputeTotals_Empty(t *testing.T) {
	assert.Equal(t, Totals{}, ComputeTotals(nil))
	assert.Equal(t, Totals{}, ComputeTotals([]Transaction{}))
}

func TestComputeTotals_NaNPropagates(t *testing.T) {
	got := ComputeTotals([]Transaction{expense(math.NaN(), "Food"), income(10, "Salary")})

	assert.True(t, math.IsNaN(got.Expense))
	assert.True(t, math.IsNaN(got.Balance))
	assert.Equal(t, 10.0, got.Income)
}

func TestComputeTotals_BalanceIsIncomeMinusExpense(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		txs := randomTransactions(rng, rng.Intn(30))
		got := ComputeTotals(txs)
		if got.Balance != got.Income-got.Expense {
			t.Fatalf("case %d: balance %v != %v - %v", i, got.Balance, got.Income, got.Expense)
		}
		if got.Income < 0 || got.Expense < 0 {
			t.Fatalf("case %d: negative totals for non-negative amounts: %+v", i, got)
		}
	}
}

func TestComputeCategoryBreakdown_Scenarios(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name string
		txs  []Transaction
		want []CategorySlice
	}{
		{
			name: "income excluded and expenses grouped",
			txs:  []Transaction{income(100, "Salary"), expense(40, "Food"), expense(10, "Food")},
			want: []CategorySlice{{Name: "Food", Value: 50, Color: "#EF4444"}},
		},
		{
			name: "empty input",
			txs:  nil,
			want: []CategorySlice{},
		},
		{
			name: "only income",
			txs:  []Transaction{income(100, "Food"), income(5, "Salary")},
			want: []CategorySlice{},
		},
		{
			name: "unregistered category uses fallback color",
			txs:  []Transaction{expense(3, "Zzz"), expense(4.5, "Zzz")},
			want: []CategorySlice{{Name: "Zzz", Value: 7.5, Color: FallbackColor}},
		},
		{
			name: "sorted by value descending",
			txs:  []Transaction{expense(5, "Food"), expense(50, "Rent"), expense(20, "Transport")},
			want: []CategorySlice{
				{Name: "Rent", Value: 50, Color: "#6366F1"},
				{Name: "Transport", Value: 20, Color: "#F59E0B"},
				{Name: "Food", Value: 5, Color: "#EF4444"},
			},
		},
		{
			name: "ties keep first-seen order",
			txs:  []Transaction{expense(10, "Health"), expense(5, "Food"), expense(5, "Food"), expense(10, "Rent")},
			want: []CategorySlice{
				{Name: "Health", Value: 10, Color: "#10B981"},
				{Name: "Food", Value: 10, Color: "#EF4444"},
				{Name: "Rent", Value: 10, Color: "#6366F1"},
			},
		},
		{
			name: "category match is case-sensitive",
			txs:  []Transaction{expense(1, "food")},
			want: []CategorySlice{{Name: "food", Value: 1, Color: FallbackColor}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCategoryBreakdown(tt.txs, reg)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeCategoryBreakdown_NilRegistryUsesDefault(t *testing.T) {
	got := ComputeCategoryBreakdown([]Transaction{expense(1, "Rent")}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "#6366F1", got[0].Color)
}

func TestComputeCategoryBreakdown_ConservesExpenseTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		txs := randomTransactions(rng, rng.Intn(40))

		var sum float64
		for _, s := range ComputeCategoryBreakdown(txs, DefaultRegistry()) {
			sum += s.Value
		}
		assert.InDelta(t, ComputeTotals(txs).Expense, sum, 1e-6, "case %d", i)
	}
}

func TestSummaries_OrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 30; i++ {
		txs := randomTransactions(rng, 1+rng.Intn(25))
		shuffled := append([]Transaction(nil), txs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		a, b := ComputeTotals(txs), ComputeTotals(shuffled)
		assert.InDelta(t, a.Income, b.Income, 1e-6)
		assert.InDelta(t, a.Expense, b.Expense, 1e-6)

		assert.Equal(t, valuesByName(ComputeCategoryBreakdown(txs, nil)), valuesByName(ComputeCategoryBreakdown(shuffled, nil)))
	}
}

func TestSummarize(t *testing.T) {
	txs := []Transaction{income(100, "Salary"), expense(40, "Food"), expense(10, "Food")}

	got := Summarize(txs, DefaultRegistry())

	assert.Equal(t, 3, got.Count)
	assert.Equal(t, Totals{Income: 100, Expense: 50, Balance: 50}, got.Totals)
	assert.Equal(t, []CategorySlice{{Name: "Food", Value: 50, Color: "#EF4444"}}, got.Breakdown)
	// The input is left untouched.
	assert.Equal(t, Income, txs[0].Type)
}

func randomTransactions(rng *rand.Rand, n int) []Transaction {
	cats := append(DefaultRegistry().Names(), "Zzz")
	out := make([]Transaction, n)
	for i := range out {
		// Whole cents keep float sums exact enough for comparisons.
		amount := float64(1+rng.Intn(100000)) / 100
		tx := expense(amount, cats[rng.Intn(len(cats))])
		if rng.Intn(3) == 0 {
			tx.Type = Income
		}
		out[i] = tx
	}
	return out
}

func valuesByName(slices []CategorySlice) map[string]float64 {
	out := make(map[string]float64, len(slices))
	for _, s := range slices {
		out[s.Name] = math.Round(s.Value*100) / 100
	}
	return out
}
