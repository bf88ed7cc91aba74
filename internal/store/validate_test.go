package store

import (
	"testing"

	"github.com/safar/retail-inventory/internal/database"
	"github.com/stretchr/testify/assert"
)

func TestValidateLines(t *testing.T) {
	tests := []struct {
		name    string
		lines   []StockLine
		wantErr error
	}{
		{
			name:    "empty",
			lines:   nil,
			wantErr: database.ErrEmptyItems,
		},
		{
			name:    "zero quantity",
			lines:   []StockLine{{ProductID: 1, Quantity: 0}},
			wantErr: database.ErrInvalidQuantity,
		},
		{
			name:    "negative quantity",
			lines:   []StockLine{{ProductID: 1, Quantity: -3}},
			wantErr: database.ErrInvalidQuantity,
		},
		{
			name:    "over cap",
			lines:   []StockLine{{ProductID: 1, Quantity: MaxItemQuantity + 1}},
			wantErr: database.ErrInvalidQuantity,
		},
		{
			name:    "at cap",
			lines:   []StockLine{{ProductID: 1, Quantity: MaxItemQuantity}},
			wantErr: nil,
		},
		{
			name: "duplicate product",
			lines: []StockLine{
				{ProductID: 1, Quantity: 2},
				{ProductID: 2, Quantity: 1},
				{ProductID: 1, Quantity: 4},
			},
			wantErr: database.ErrDuplicateProduct,
		},
		{
			name: "valid",
			lines: []StockLine{
				{ProductID: 1, Quantity: 2},
				{ProductID: 2, Quantity: 1},
			},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLines(tt.lines)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSortedLinesOrdersByProduct(t *testing.T) {
	in := []StockLine{
		{ProductID: 9, Quantity: 1},
		{ProductID: 3, Quantity: 2},
		{ProductID: 7, Quantity: 3},
	}

	out := sortedLines(in)

	assert.Equal(t, []StockLine{
		{ProductID: 3, Quantity: 2},
		{ProductID: 7, Quantity: 3},
		{ProductID: 9, Quantity: 1},
	}, out)
	// Input slice must be untouched.
	assert.Equal(t, int64(9), in[0].ProductID)
}
