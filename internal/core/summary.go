package core

import "sort"

// Totals summarizes a transaction collection.
type Totals struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
	Balance float64 `json:"balance"`
}

// CategorySlice is one chart entry: the summed expenses of a category.
type CategorySlice struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// Stats is everything derived from one snapshot of a user's transactions.
type Stats struct {
	Totals    Totals          `json:"totals"`
	Breakdown []CategorySlice `json:"breakdown"`
	Count     int             `json:"count"`
}

// ComputeTotals sums income and expense amounts. Order does not matter
// and nothing is rounded; a NaN amount yields NaN totals.
func ComputeTotals(txs []Transaction) Totals {
	var t Totals
	for _, tx := range txs {
		switch tx.Type {
		case Income:
			t.Income += tx.Amount
		case Expense:
			t.Expense += tx.Amount
		}
	}
	t.Balance = t.Income - t.Expense
	return t
}

// ComputeCategoryBreakdown groups expenses by category and sorts the groups
// by summed value, largest first. Income never appears. Groups with equal
// values keep the order in which their category was first seen in txs.
func ComputeCategoryBreakdown(txs []Transaction, reg *Registry) []CategorySlice {
	if reg == nil {
		reg = DefaultRegistry()
	}

	index := make(map[string]int)
	out := make([]CategorySlice, 0)
	for _, tx := range txs {
		if tx.Type != Expense {
			continue
		}
		i, ok := index[tx.Category]
		if !ok {
			i = len(out)
			index[tx.Category] = i
			out = append(out, CategorySlice{Name: tx.Category, Color: reg.ColorFor(tx.Category)})
		}
		out[i].Value += tx.Amount
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value > out[j].Value
	})
	return out
}

// Summarize derives Stats from a snapshot. It keeps no state between calls.
func Summarize(txs []Transaction, reg *Registry) Stats {
	return Stats{
		Totals:    ComputeTotals(txs),
		Breakdown: ComputeCategoryBreakdown(txs, reg),
		Count:     len(txs),
	}
}
