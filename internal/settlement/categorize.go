package settlement

import (
	"strings"

	"reconplatform/internal/common/money"
)

// FeeType tags an itemized fee detail. The set is closed: fee details carry
// exactly one of these types.
type FeeType string

const (
	FeeFlywire     FeeType = "flywire_fee"
	FeeScheme      FeeType = "scheme_fees"
	FeeInterchange FeeType = "interchange"
)

// FeeDetail is one itemized component of a transaction's fee. Details are
// metadata; the Fee field of CategorizedAmounts stays authoritative and the
// detail amounts need not sum to it exactly.
type FeeDetail struct {
	Amount money.Money `json:"amount"`
	Type   FeeType     `json:"type"`
}

// CategorizedAmounts is the classification of one report row: how much of
// its amount belongs to the gross total, the processor fee, and the rounding
// remainder, all in the row's settlement currency.
type CategorizedAmounts struct {
	Total      money.Money
	Fee        money.Money
	Rounding   money.Money
	FeeDetails []FeeDetail
}

// Row descriptions with fixed meaning in processor reports.
const (
	descVariableFee           = "Variable Fee"
	descFixedFee              = "Fixed Fee"
	descSellerSplit           = "Seller split"
	descChargebackFee         = "Chargeback Fee"
	descSecondChargebackFee   = "SecondChargeback Fee"
	descChargebackReversalFee = "ChargebackReversal Fee"
	descRemainderFeePrefix    = "Remainder Fee for"
)

func newAmounts(currency money.Currency) CategorizedAmounts {
	return CategorizedAmounts{
		Total:    money.Zero(currency),
		Fee:      money.Zero(currency),
		Rounding: money.Zero(currency),
	}
}

func (c *CategorizedAmounts) addDetail(amount money.Money, feeType FeeType) {
	if amount.IsZero() {
		return
	}
	c.FeeDetails = append(c.FeeDetails, FeeDetail{Amount: amount, Type: feeType})
}

// Categorize classifies a single report row under the given transaction
// type. Pure function: no I/O, no side effects. Payout rows are delegated
// wholesale to the payout collaborator and carry no categorization.
func Categorize(t TxnType, row Row) (CategorizedAmounts, error) {
	switch t {
	case TxnPayment:
		return categorizePayment(row)
	case TxnTopUp:
		return categorizeTopUp(row)
	case TxnRefund:
		return categorizeRefund(row)
	case TxnRefundReversal:
		return categorizeRefundReversal(row)
	case TxnChargeback:
		return categorizeChargeback(row)
	case TxnChargebackReversal:
		return categorizeChargebackReversal(row)
	case TxnPaymentReversal:
		return categorizePaymentReversal(row)
	case TxnTransfer:
		return categorizeTransfer(row)
	case TxnPayout:
		return newAmounts(row.Currency), nil
	default:
		return CategorizedAmounts{}, reconErrf(row.RowID(), "no categorizer for transaction type %q", t)
	}
}

// categorizePayment: a positive liable-holder amount is processor markup
// taken from the liable side and contributes to both total and fee; a
// negative liable-holder amount is internal processor cost and is ignored.
// Merchant-side negative amounts are interchange++ fees, decomposed into
// scheme and interchange details; anything else is gross total.
func categorizePayment(row Row) (CategorizedAmounts, error) {
	c := newAmounts(row.Currency)

	if row.Role == RoleLiable {
		if row.Amount.IsPositive() {
			c.Total = c.Total.MustAdd(row.Amount)
			c.Fee = c.Fee.MustAdd(row.Amount)
			c.addDetail(row.Amount, FeeFlywire)
		}
		return c, nil
	}

	if row.Amount.IsNegative() {
		return categorizeMerchantFee(row)
	}

	c.Total = c.Total.MustAdd(row.Amount)
	return c, nil
}

// categorizeMerchantFee handles a merchant-side fee row (negative amount,
// interchange++ pricing): the negated amount is the fee, with scheme fee +
// markup + commission summed into one scheme_fees detail and interchange in
// its own detail. Zero-valued details are omitted.
func categorizeMerchantFee(row Row) (CategorizedAmounts, error) {
	c := newAmounts(row.Currency)
	c.Fee = c.Fee.MustAdd(row.Amount.Negate())

	scheme, err := row.subAmount(ColSchemeFee)
	if err != nil {
		return CategorizedAmounts{}, wrapRecon(row.RowID(), "bad scheme fee", err)
	}
	markup, err := row.subAmount(ColMarkup)
	if err != nil {
		return CategorizedAmounts{}, wrapRecon(row.RowID(), "bad markup", err)
	}
	commission, err := row.subAmount(ColCommission)
	if err != nil {
		return CategorizedAmounts{}, wrapRecon(row.RowID(), "bad commission", err)
	}
	interchange, err := row.subAmount(ColInterchange)
	if err != nil {
		return CategorizedAmounts{}, wrapRecon(row.RowID(), "bad interchange", err)
	}

	c.addDetail(scheme.MustAdd(markup).MustAdd(commission).Negate(), FeeScheme)
	c.addDetail(interchange.Negate(), FeeInterchange)

	return c, nil
}

// categorizeTopUp: liable-holder rows follow the payment policy; merchant
// rows post the negated amount to total with zero fee, since a top-up
// reduces the available balance from the merchant's perspective.
func categorizeTopUp(row Row) (CategorizedAmounts, error) {
	c := newAmounts(row.Currency)

	if row.Role == RoleLiable {
		if row.Amount.IsPositive() {
			c.Total = c.Total.MustAdd(row.Amount)
			c.Fee = c.Fee.MustAdd(row.Amount)
			c.addDetail(row.Amount, FeeFlywire)
		}
		return c, nil
	}

	c.Total = c.Total.MustAdd(row.Amount.Negate())
	return c, nil
}

// categorizeRefund: liable-holder "Variable Fee"/"Fixed Fee" rows are fee
// refunds posted to both total and fee; "Remainder Fee for ..." rows are
// rounding corrections; any other positive liable-holder amount is a
// mis-modeled fee and raises a reconciliation error. Merchant rows are the
// refund principal and post to total.
func categorizeRefund(row Row) (CategorizedAmounts, error) {
	c := newAmounts(row.Currency)

	if row.Role == RoleLiable {
		switch {
		case row.Description() == descVariableFee || row.Description() == descFixedFee:
			c.Total = c.Total.MustAdd(row.Amount)
			c.Fee = c.Fee.MustAdd(row.Amount)
			c.addDetail(row.Amount, FeeFlywire)
		case strings.HasPrefix(row.Description(), descRemainderFeePrefix):
			c.Total = c.Total.MustAdd(row.Amount)
			c.Rounding = c.Rounding.MustAdd(row.Amount)
		case row.Amount.IsPositive():
			return CategorizedAmounts{}, reconErrf(row.RowID(),
				"unexpected positive amount %s on liable account", row.Amount.MajorString())
		}
		// Other negative liable amounts are internal processor cost.
		return c, nil
	}

	c.Total = c.Total.MustAdd(row.Amount)
	return c, nil
}

// categorizeRefundReversal mirrors the refund policy: fee descriptions and
// rounding corrections on the liable holder are recognized, any other
// positive liable-holder amount raises, merchant rows post to total.
func categorizeRefundReversal(row Row) (CategorizedAmounts, error) {
	return categorizeRefund(row)
}

// categorizeChargeback: negative liable-holder amounts are processor cost
// and are ignored; a positive liable-holder amount indicates a mis-modeled
// fee and raises. Merchant-side chargeback fee rows post the negated amount
// to fee; everything else is the disputed principal.
func categorizeChargeback(row Row) (CategorizedAmounts, error) {
	c := newAmounts(row.Currency)

	if row.Role == RoleLiable {
		if row.Amount.IsPositive() {
			return CategorizedAmounts{}, reconErrf(row.RowID(),
				"unexpected positive amount %s on liable account", row.Amount.MajorString())
		}
		return c, nil
	}

	switch row.Description() {
	case descChargebackFee, descSecondChargebackFee:
		c.Fee = c.Fee.MustAdd(row.Amount.Negate())
		c.addDetail(row.Amount.Negate(), FeeFlywire)
	default:
		c.Total = c.Total.MustAdd(row.Amount)
	}
	return c, nil
}

// categorizeChargebackReversal: liable-holder rows must match a recognized
// fee-description pattern; anything else raises, since unexpected
// liable-holder amounts here indicate a mis-modeled fee. Merchant-side
// "ChargebackReversal Fee" rows post the negated amount to fee.
func categorizeChargebackReversal(row Row) (CategorizedAmounts, error) {
	c := newAmounts(row.Currency)

	if row.Role == RoleLiable {
		switch {
		case row.Description() == descVariableFee || row.Description() == descFixedFee:
			c.Total = c.Total.MustAdd(row.Amount)
			c.Fee = c.Fee.MustAdd(row.Amount)
			c.addDetail(row.Amount, FeeFlywire)
		case strings.HasPrefix(row.Description(), descRemainderFeePrefix):
			c.Total = c.Total.MustAdd(row.Amount)
			c.Rounding = c.Rounding.MustAdd(row.Amount)
		default:
			return CategorizedAmounts{}, reconErrf(row.RowID(),
				"unrecognized liable account amount %s (%q)", row.Amount.MajorString(), row.Description())
		}
		return c, nil
	}

	if row.Description() == descChargebackReversalFee {
		c.Fee = c.Fee.MustAdd(row.Amount.Negate())
		c.addDetail(row.Amount.Negate(), FeeFlywire)
		return c, nil
	}

	c.Total = c.Total.MustAdd(row.Amount)
	return c, nil
}

// categorizePaymentReversal mirrors the payment policy with flipped signs:
// a negative liable-holder amount contributes to both total and fee, a
// positive one is ignored, and merchant rows post to total.
func categorizePaymentReversal(row Row) (CategorizedAmounts, error) {
	c := newAmounts(row.Currency)

	if row.Role == RoleLiable {
		if row.Amount.IsNegative() {
			c.Total = c.Total.MustAdd(row.Amount)
			c.Fee = c.Fee.MustAdd(row.Amount)
			c.addDetail(row.Amount, FeeFlywire)
		}
		return c, nil
	}

	c.Total = c.Total.MustAdd(row.Amount)
	return c, nil
}

// categorizeTransfer: internal transfers and adjustments are unattached
// balance movements with no fee component.
func categorizeTransfer(row Row) (CategorizedAmounts, error) {
	c := newAmounts(row.Currency)
	c.Total = c.Total.MustAdd(row.Amount)
	return c, nil
}

// GroupTotals is the aggregation of categorized amounts across all rows of
// one transaction group.
type GroupTotals struct {
	Total          money.Money
	Fee            money.Money
	Rounding       money.Money
	FeeDetails     []FeeDetail
	Currency       money.Currency
	HasSellerSplit bool
}

// AggregateGroup categorizes and sums every row of a group. All rows must
// share one settlement currency. Fee details are merged by type in
// first-seen order; details that sum to zero are dropped.
func AggregateGroup(t TxnType, rows []Row) (GroupTotals, error) {
	if len(rows) == 0 {
		return GroupTotals{}, reconErrf("", "empty transaction group")
	}

	currency := rows[0].Currency
	totals := GroupTotals{
		Total:    money.Zero(currency),
		Fee:      money.Zero(currency),
		Rounding: money.Zero(currency),
		Currency: currency,
	}

	detailSums := make(map[FeeType]money.Money)
	var detailOrder []FeeType

	for _, row := range rows {
		if row.Currency != currency {
			return GroupTotals{}, reconErrf(row.RowID(),
				"mixed currencies in group: %s vs %s", row.Currency, currency)
		}

		c, err := Categorize(t, row)
		if err != nil {
			return GroupTotals{}, err
		}

		totals.Total = totals.Total.MustAdd(c.Total)
		totals.Fee = totals.Fee.MustAdd(c.Fee)
		totals.Rounding = totals.Rounding.MustAdd(c.Rounding)

		for _, d := range c.FeeDetails {
			if _, seen := detailSums[d.Type]; !seen {
				detailOrder = append(detailOrder, d.Type)
				detailSums[d.Type] = money.Zero(currency)
			}
			detailSums[d.Type] = detailSums[d.Type].MustAdd(d.Amount)
		}

		if row.Description() == descSellerSplit {
			totals.HasSellerSplit = true
		}
	}

	for _, ft := range detailOrder {
		if sum := detailSums[ft]; !sum.IsZero() {
			totals.FeeDetails = append(totals.FeeDetails, FeeDetail{Amount: sum, Type: ft})
		}
	}

	return totals, nil
}
