package settlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconplatform/internal/common/money"
	"reconplatform/internal/settlement"
)

const liableHolder = "PlatformFees"

func makeRow(t *testing.T, fields map[string]string) settlement.Row {
	t.Helper()
	if fields[settlement.ColCurrency] == "" {
		fields[settlement.ColCurrency] = "EUR"
	}
	if fields[settlement.ColTransferID] == "" {
		fields[settlement.ColTransferID] = "TRF001"
	}
	row, err := settlement.NewRow(fields, liableHolder)
	require.NoError(t, err)
	return row
}

func eur(t *testing.T, s string) money.Money {
	t.Helper()
	m, err := money.ParseMajor(s, money.EUR)
	require.NoError(t, err)
	return m
}

func TestCategorizePayment(t *testing.T) {
	tests := []struct {
		name        string
		fields      map[string]string
		wantTotal   string
		wantFee     string
		wantDetails int
	}{
		{
			name: "merchant gross amount",
			fields: map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "354.56",
			},
			wantTotal: "354.56",
			wantFee:   "0.00",
		},
		{
			name: "liable positive markup",
			fields: map[string]string{
				settlement.ColAccountHolder: liableHolder,
				settlement.ColAmount:        "5.00",
			},
			wantTotal:   "5.00",
			wantFee:     "5.00",
			wantDetails: 1,
		},
		{
			name: "liable negative cost ignored",
			fields: map[string]string{
				settlement.ColAccountHolder: liableHolder,
				settlement.ColAmount:        "-3.25",
			},
			wantTotal: "0.00",
			wantFee:   "0.00",
		},
		{
			name: "merchant fee row decomposed",
			fields: map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "-101.50",
				settlement.ColSchemeFee:     "-10.00",
				settlement.ColMarkup:        "-76.50",
				settlement.ColInterchange:   "-15.00",
			},
			wantTotal:   "0.00",
			wantFee:     "101.50",
			wantDetails: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := makeRow(t, tt.fields)
			got, err := settlement.Categorize(settlement.TxnPayment, row)
			require.NoError(t, err)
			assert.Equal(t, eur(t, tt.wantTotal), got.Total)
			assert.Equal(t, eur(t, tt.wantFee), got.Fee)
			assert.Len(t, got.FeeDetails, tt.wantDetails)
		})
	}
}

func TestCategorizePaymentFeeDetails(t *testing.T) {
	row := makeRow(t, map[string]string{
		settlement.ColAccountHolder: "Merchant1",
		settlement.ColAmount:        "-101.50",
		settlement.ColSchemeFee:     "-10.00",
		settlement.ColMarkup:        "-76.50",
		settlement.ColInterchange:   "-15.00",
	})

	got, err := settlement.Categorize(settlement.TxnPayment, row)
	require.NoError(t, err)

	require.Len(t, got.FeeDetails, 2)
	assert.Equal(t, settlement.FeeScheme, got.FeeDetails[0].Type)
	assert.Equal(t, eur(t, "86.50"), got.FeeDetails[0].Amount)
	assert.Equal(t, settlement.FeeInterchange, got.FeeDetails[1].Type)
	assert.Equal(t, eur(t, "15.00"), got.FeeDetails[1].Amount)
}

func TestCategorizeRefund(t *testing.T) {
	t.Run("variable fee on liable account", func(t *testing.T) {
		row := makeRow(t, map[string]string{
			settlement.ColAccountHolder: liableHolder,
			settlement.ColAmount:        "2.50",
			settlement.ColDescription:   "Variable Fee",
		})
		got, err := settlement.Categorize(settlement.TxnRefund, row)
		require.NoError(t, err)
		assert.Equal(t, eur(t, "2.50"), got.Total)
		assert.Equal(t, eur(t, "2.50"), got.Fee)
	})

	t.Run("remainder fee is rounding", func(t *testing.T) {
		row := makeRow(t, map[string]string{
			settlement.ColAccountHolder: liableHolder,
			settlement.ColAmount:        "0.01",
			settlement.ColDescription:   "Remainder Fee for TRF001",
		})
		got, err := settlement.Categorize(settlement.TxnRefund, row)
		require.NoError(t, err)
		assert.Equal(t, eur(t, "0.01"), got.Total)
		assert.Equal(t, eur(t, "0.01"), got.Rounding)
		assert.True(t, got.Fee.IsZero())
	})

	t.Run("unexpected positive liable amount", func(t *testing.T) {
		row := makeRow(t, map[string]string{
			settlement.ColAccountHolder: liableHolder,
			settlement.ColAmount:        "9.99",
			settlement.ColDescription:   "Something Else",
		})
		_, err := settlement.Categorize(settlement.TxnRefund, row)
		assert.True(t, settlement.IsReconciliationError(err))
	})

	t.Run("merchant principal", func(t *testing.T) {
		row := makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-25.00",
		})
		got, err := settlement.Categorize(settlement.TxnRefund, row)
		require.NoError(t, err)
		assert.Equal(t, eur(t, "-25.00"), got.Total)
	})
}

func TestCategorizeChargeback(t *testing.T) {
	t.Run("chargeback fee on merchant account", func(t *testing.T) {
		row := makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-7.50",
			settlement.ColDescription:   "Chargeback Fee",
		})
		got, err := settlement.Categorize(settlement.TxnChargeback, row)
		require.NoError(t, err)
		assert.Equal(t, eur(t, "7.50"), got.Fee)
		assert.True(t, got.Total.IsZero())
	})

	t.Run("disputed principal", func(t *testing.T) {
		row := makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-100.00",
		})
		got, err := settlement.Categorize(settlement.TxnChargeback, row)
		require.NoError(t, err)
		assert.Equal(t, eur(t, "-100.00"), got.Total)
	})

	t.Run("positive liable amount raises", func(t *testing.T) {
		row := makeRow(t, map[string]string{
			settlement.ColAccountHolder: liableHolder,
			settlement.ColAmount:        "1.00",
		})
		_, err := settlement.Categorize(settlement.TxnChargeback, row)
		assert.True(t, settlement.IsReconciliationError(err))
	})

	t.Run("negative liable cost ignored", func(t *testing.T) {
		row := makeRow(t, map[string]string{
			settlement.ColAccountHolder: liableHolder,
			settlement.ColAmount:        "-1.00",
		})
		got, err := settlement.Categorize(settlement.TxnChargeback, row)
		require.NoError(t, err)
		assert.True(t, got.Total.IsZero())
		assert.True(t, got.Fee.IsZero())
	})
}

func TestCategorizePaymentReversal(t *testing.T) {
	t.Run("negative liable amount is reversed fee", func(t *testing.T) {
		row := makeRow(t, map[string]string{
			settlement.ColAccountHolder: liableHolder,
			settlement.ColAmount:        "-5.00",
		})
		got, err := settlement.Categorize(settlement.TxnPaymentReversal, row)
		require.NoError(t, err)
		assert.Equal(t, eur(t, "-5.00"), got.Total)
		assert.Equal(t, eur(t, "-5.00"), got.Fee)
	})

	t.Run("merchant amount posts to total", func(t *testing.T) {
		row := makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-354.56",
		})
		got, err := settlement.Categorize(settlement.TxnPaymentReversal, row)
		require.NoError(t, err)
		assert.Equal(t, eur(t, "-354.56"), got.Total)
		assert.True(t, got.Fee.IsZero())
	})
}

func TestCategorizeTopUp(t *testing.T) {
	row := makeRow(t, map[string]string{
		settlement.ColAccountHolder: "Merchant1",
		settlement.ColAmount:        "500.00",
	})
	got, err := settlement.Categorize(settlement.TxnTopUp, row)
	require.NoError(t, err)
	assert.Equal(t, eur(t, "-500.00"), got.Total)
}

func TestAggregateGroup(t *testing.T) {
	t.Run("payment group sums rows", func(t *testing.T) {
		rows := []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "354.56",
			}),
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "-101.50",
				settlement.ColSchemeFee:     "-10.00",
				settlement.ColMarkup:        "-76.50",
				settlement.ColInterchange:   "-15.00",
			}),
		}

		totals, err := settlement.AggregateGroup(settlement.TxnPayment, rows)
		require.NoError(t, err)
		assert.Equal(t, eur(t, "354.56"), totals.Total)
		assert.Equal(t, eur(t, "101.50"), totals.Fee)
		assert.False(t, totals.HasSellerSplit)
		require.Len(t, totals.FeeDetails, 2)
		assert.Equal(t, settlement.FeeScheme, totals.FeeDetails[0].Type)
		assert.Equal(t, eur(t, "86.50"), totals.FeeDetails[0].Amount)
	})

	t.Run("details merged by type keep first seen order", func(t *testing.T) {
		rows := []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "-10.00",
				settlement.ColSchemeFee:     "-4.00",
				settlement.ColInterchange:   "-6.00",
			}),
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "-2.00",
				settlement.ColInterchange:   "-2.00",
			}),
		}

		totals, err := settlement.AggregateGroup(settlement.TxnPayment, rows)
		require.NoError(t, err)
		require.Len(t, totals.FeeDetails, 2)
		assert.Equal(t, settlement.FeeScheme, totals.FeeDetails[0].Type)
		assert.Equal(t, eur(t, "4.00"), totals.FeeDetails[0].Amount)
		assert.Equal(t, settlement.FeeInterchange, totals.FeeDetails[1].Type)
		assert.Equal(t, eur(t, "8.00"), totals.FeeDetails[1].Amount)
	})

	t.Run("zero sum details dropped", func(t *testing.T) {
		rows := []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: liableHolder,
				settlement.ColAmount:        "3.00",
				settlement.ColDescription:   "Variable Fee",
			}),
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: liableHolder,
				settlement.ColAmount:        "-3.00",
				settlement.ColDescription:   "Variable Fee",
			}),
		}

		totals, err := settlement.AggregateGroup(settlement.TxnRefund, rows)
		require.NoError(t, err)
		assert.Empty(t, totals.FeeDetails)
		assert.True(t, totals.Fee.IsZero())
	})

	t.Run("seller split flagged", func(t *testing.T) {
		rows := []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "10.00",
				settlement.ColDescription:   "Seller split",
			}),
		}
		totals, err := settlement.AggregateGroup(settlement.TxnPayment, rows)
		require.NoError(t, err)
		assert.True(t, totals.HasSellerSplit)
	})

	t.Run("mixed currencies rejected", func(t *testing.T) {
		rows := []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "10.00",
				settlement.ColCurrency:      "EUR",
			}),
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "10.00",
				settlement.ColCurrency:      "USD",
			}),
		}
		_, err := settlement.AggregateGroup(settlement.TxnPayment, rows)
		assert.True(t, settlement.IsReconciliationError(err))
	})

	t.Run("empty group rejected", func(t *testing.T) {
		_, err := settlement.AggregateGroup(settlement.TxnPayment, nil)
		assert.True(t, settlement.IsReconciliationError(err))
	})
}
