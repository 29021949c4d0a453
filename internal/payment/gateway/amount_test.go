package gateway

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnitsExample(t *testing.T) {
	minor, err := ToMinorUnits(decimal.RequireFromString("29.00"), "INR")
	require.NoError(t, err)
	assert.EqualValues(t, 2900, minor)
}

func TestToMinorUnitsRoundTripsTwoDecimalPrices(t *testing.T) {
	for cents := int64(1); cents <= 100000; cents += 7 {
		major := fmt.Sprintf("%d.%02d", cents/100, cents%100)
		minor, err := ToMinorUnits(decimal.RequireFromString(major), "USD")
		if err != nil {
			t.Fatalf("convert %s: %v", major, err)
		}
		if minor != cents {
			t.Fatalf("expected %d minor units for %s, got %d", cents, major, minor)
		}
		if got := FromMinorUnits(minor, "USD").StringFixed(2); got != major {
			t.Fatalf("expected %s back, got %s", major, got)
		}
	}
}

func TestToMinorUnitsRoundsInsteadOfTruncating(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
	}{
		{amount: "19.995", currency: "INR", want: 2000},
		{amount: "19.994", currency: "INR", want: 1999},
		{amount: "0.1", currency: "USD", want: 10},
		{amount: "1500.4", currency: "JPY", want: 1500},
		{amount: "1500.5", currency: "JPY", want: 1501},
		{amount: "1.2345", currency: "KWD", want: 1235},
	}
	for _, tc := range cases {
		t.Run(tc.amount+tc.currency, func(t *testing.T) {
			got, err := ToMinorUnits(decimal.RequireFromString(tc.amount), tc.currency)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToMinorUnitsRejectsNonPositive(t *testing.T) {
	for _, amount := range []string{"0", "-1.00", "0.004"} {
		_, err := ToMinorUnits(decimal.RequireFromString(amount), "INR")
		assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount, amount)
	}
}

func TestFormatMinorUnits(t *testing.T) {
	assert.Equal(t, "29.00", FormatMinorUnits(2900, "INR"))
	assert.Equal(t, "1500", FormatMinorUnits(1500, "JPY"))
	assert.Equal(t, "1.235", FormatMinorUnits(1235, "kwd"))
}
