package classify

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxonomy_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantNames []string
		wantSubs  map[string][]string
		wantErr   bool
	}{
		{
			name:      "object keeps order",
			input:     `{"Transport":["Fuel"],"Food":["Groceries","Restaurants"],"Rent":[]}`,
			wantNames: []string{"Transport", "Food", "Rent"},
			wantSubs: map[string][]string{
				"Transport": {"Fuel"},
				"Food":      {"Groceries", "Restaurants"},
			},
		},
		{
			name:      "array of names",
			input:     `["Food","Transport"]`,
			wantNames: []string{"Food", "Transport"},
		},
		{
			name:      "duplicate and blank subcategories are dropped",
			input:     `{"Food":["Groceries","","Groceries","Restaurants"]}`,
			wantNames: []string{"Food"},
			wantSubs:  map[string][]string{"Food": {"Groceries", "Restaurants"}},
		},
		{
			name:      "null subcategories",
			input:     `{"Food":null}`,
			wantNames: []string{"Food"},
		},
		{name: "null", input: `null`, wantNames: []string{}},
		{name: "duplicate category", input: `{"Food":[],"Food":["Groceries"]}`, wantErr: true},
		{name: "empty category name", input: `{"":["x"]}`, wantErr: true},
		{name: "subcategories not a list", input: `{"Food":"Groceries"}`, wantErr: true},
		{name: "scalar", input: `"Food"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tax Taxonomy
			err := json.Unmarshal([]byte(tt.input), &tax)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNames, tax.Categories())
			for _, name := range tt.wantNames {
				assert.Equal(t, tt.wantSubs[name], tax.Subcategories(name), name)
			}
		})
	}
}

func TestTaxonomy_MarshalJSONRoundTripKeepsOrder(t *testing.T) {
	tax := mustTaxonomy(t, []string{"Zeta", "Alpha"}, map[string][]string{"Alpha": {"One"}})

	data, err := json.Marshal(tax)
	require.NoError(t, err)
	assert.Equal(t, `{"Zeta":[],"Alpha":["One"]}`, string(data))
}

func TestNewTaxonomy_IgnoresUnlistedKeys(t *testing.T) {
	tax := mustTaxonomy(t, []string{"Food"}, map[string][]string{"Food": {"Groceries"}, "Ghost": {"x"}})

	assert.Equal(t, 1, tax.Len())
	assert.Nil(t, tax.Subcategories("Ghost"))
}

func TestBatch_CloneIsIndependent(t *testing.T) {
	var b Batch
	require.NoError(t, json.Unmarshal([]byte(`{
		"transactions":[{"transaction_id":"t1","name":"Walmart","amount":45.2}],
		"categories":{"Food":["Groceries"]}
	}`), &b))

	c := b.Clone()
	b.Transactions[0].Name = "changed"
	b.Categories.subs["Food"][0] = "changed"

	assert.Equal(t, "Walmart", c.Transactions[0].Name)
	assert.True(t, decimal.RequireFromString("45.2").Equal(c.Transactions[0].Amount))
	assert.Equal(t, []string{"Groceries"}, c.Categories.Subcategories("Food"))
}

func TestValidate(t *testing.T) {
	food := mustTaxonomy(t, []string{"Food"}, nil)
	tx := Transaction{TransactionID: "t1", Name: "A", Amount: decimal.NewFromInt(1)}

	tests := []struct {
		name    string
		batch   *Batch
		wantMsg string
	}{
		{name: "nil batch", batch: nil, wantMsg: "transactions and categories are required"},
		{name: "no transactions", batch: &Batch{Categories: food}, wantMsg: "transactions and categories are required"},
		{name: "no categories", batch: &Batch{Transactions: []Transaction{tx}}, wantMsg: "transactions and categories are required"},
		{
			name:    "blank id",
			batch:   &Batch{Transactions: []Transaction{tx, {Name: "B"}}, Categories: food},
			wantMsg: "transactions[1]: transaction_id is required",
		},
		{name: "valid", batch: &Batch{Transactions: []Transaction{tx}, Categories: food}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.batch)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrValidation)
			assert.EqualError(t, err, tt.wantMsg)
		})
	}
}
