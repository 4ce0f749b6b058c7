package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"whole dollars", "250", 25000, false},
		{"two decimals", "250.00", 25000, false},
		{"cents", "0.01", 1, false},
		{"one decimal", "19.5", 1950, false},
		{"trailing zero beyond 2dp", "10.250", 1025, false},
		{"three decimal places", "1.005", 0, true},
		{"zero", "0", 0, true},
		{"zero with decimals", "0.00", 0, true},
		{"negative", "-5.00", 0, true},
		{"not a number", "ten dollars", 0, true},
		{"empty", "", 0, true},
		{"scientific overflow", "1e30", 0, true},
		{"over maximum", "2000000000.00", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "250.00", FormatAmount(25000))
	assert.Equal(t, "0.01", FormatAmount(1))
	assert.Equal(t, "19.50", FormatAmount(1950))
}
