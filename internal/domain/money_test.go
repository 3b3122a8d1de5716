package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/tally/internal/domain"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "pads to twenty digits", in: "0.0025", want: "0.00250000000000000000"},
		{name: "keeps twenty digits", in: "9.99999999999999999999", want: "9.99999999999999999999"},
		{name: "truncates beyond twenty digits", in: "0.000000000000000000019", want: "0.00000000000000000001"},
		{name: "formats integers", in: "10", want: "10.00000000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, domain.FormatMoney(money(tt.in)))
		})
	}
}

func TestParseMoney(t *testing.T) {
	t.Run("should parse decimal strings exactly", func(t *testing.T) {
		d, err := domain.ParseMoney("0.00000000000000000002")

		require.NoError(t, err)
		require.Equal(t, "0.00000000000000000002", domain.FormatMoney(d))
	})

	t.Run("should reject garbage", func(t *testing.T) {
		_, err := domain.ParseMoney("ten dollars")
		require.Error(t, err)
	})
}
