package ledger

import (
	"cryptofolio-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Holding is the balance and cost basis a transaction mutates.
type Holding struct {
	Balance     decimal.Decimal
	AvgBuyPrice decimal.NullDecimal
}

// HoldingOf extracts the mutable pair from an asset.
func HoldingOf(a *domain.Asset) Holding {
	return Holding{Balance: a.Balance, AvgBuyPrice: a.AvgBuyPrice}
}

// Set writes h back into a.
func (h Holding) Set(a *domain.Asset) {
	a.Balance = h.Balance
	a.AvgBuyPrice = h.AvgBuyPrice
}

// ValidateTransaction checks the schema rules of in. It reads no state.
func ValidateTransaction(in domain.NewTransaction) error {
	if !in.Type.Valid() {
		return domain.Invalid("unknown transaction type %q", in.Type)
	}
	if in.AssetID == uuid.Nil {
		return domain.Invalid("assetId is required")
	}
	if !in.Amount.IsPositive() {
		return domain.Invalid("amount must be greater than zero")
	}
	if in.Price.Valid && in.Price.Decimal.IsNegative() {
		return domain.Invalid("price must not be negative")
	}
	if in.Type != domain.TxSwap {
		if in.ToAssetID != nil || in.ToAmount.Valid || in.ToPrice.Valid {
			return domain.Invalid("toAssetId, toAmount and toPrice are only allowed on swaps")
		}
		return nil
	}
	if in.ToAssetID == nil || *in.ToAssetID == uuid.Nil || !in.ToAmount.Valid {
		return domain.Invalid("swap requires toAssetId and toAmount")
	}
	if *in.ToAssetID == in.AssetID {
		return domain.Invalid("swap source and destination must differ")
	}
	if !in.ToAmount.Decimal.IsPositive() {
		return domain.Invalid("toAmount must be greater than zero")
	}
	if in.ToPrice.Valid && in.ToPrice.Decimal.IsNegative() {
		return domain.Invalid("toPrice must not be negative")
	}
	return nil
}

// Delta is the signed change a transaction of type t applies to its source asset.
func Delta(t domain.TxType, amount decimal.Decimal) decimal.Decimal {
	switch t {
	case domain.TxBuy, domain.TxDeposit:
		return amount
	default:
		return amount.Neg()
	}
}

// WeightedAverage folds a lot of amount at price into h's cost basis:
// (balance*avg + amount*price) / (balance + amount).
// An empty prior holding takes the lot price. A non-empty holding with unknown
// cost basis stays unknown.
func WeightedAverage(h Holding, amount, price decimal.Decimal) decimal.NullDecimal {
	total := h.Balance.Add(amount)
	if !total.IsPositive() {
		return decimal.NullDecimal{}
	}
	if !h.Balance.IsPositive() {
		return decimal.NewNullDecimal(price)
	}
	if !h.AvgBuyPrice.Valid {
		return decimal.NullDecimal{}
	}
	cost := h.Balance.Mul(h.AvgBuyPrice.Decimal).Add(amount.Mul(price))
	return decimal.NewNullDecimal(cost.Div(total))
}

// UnwindAverage removes a lot of amount at price from h's cost basis. It is the
// inverse of WeightedAverage when no sell happened in between.
func UnwindAverage(h Holding, amount, price decimal.Decimal) decimal.NullDecimal {
	remaining := h.Balance.Sub(amount)
	if !remaining.IsPositive() || !h.AvgBuyPrice.Valid {
		return decimal.NullDecimal{}
	}
	cost := h.Balance.Mul(h.AvgBuyPrice.Decimal).Sub(amount.Mul(price))
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	return decimal.NewNullDecimal(cost.Div(remaining))
}

// ApplySource applies a transaction to its source asset. A result below zero is
// rejected. Only a priced buy moves the average buy price.
func ApplySource(h Holding, t domain.TxType, amount decimal.Decimal, price decimal.NullDecimal) (Holding, error) {
	next := h.Balance.Add(Delta(t, amount))
	if next.IsNegative() {
		return h, domain.Invariant("insufficient balance: have %s, need %s", h.Balance.String(), amount.String())
	}
	out := Holding{Balance: next, AvgBuyPrice: h.AvgBuyPrice}
	if t == domain.TxBuy && price.Valid {
		out.AvgBuyPrice = WeightedAverage(h, amount, price.Decimal)
	}
	return out, nil
}

// ApplyDestination credits the receiving leg of a swap. A priced leg moves the
// destination cost basis the same way a buy does.
func ApplyDestination(h Holding, toAmount decimal.Decimal, toPrice decimal.NullDecimal) Holding {
	out := Holding{Balance: h.Balance.Add(toAmount), AvgBuyPrice: h.AvgBuyPrice}
	if toPrice.Valid {
		out.AvgBuyPrice = WeightedAverage(h, toAmount, toPrice.Decimal)
	}
	return out
}

// ReverseSource undoes ApplySource for a deleted transaction.
func ReverseSource(h Holding, t domain.TxType, amount decimal.Decimal, price decimal.NullDecimal) (Holding, error) {
	next := h.Balance.Sub(Delta(t, amount))
	if next.IsNegative() {
		return h, domain.Invariant("reversing this transaction would leave a negative balance (%s)", next.String())
	}
	out := Holding{Balance: next, AvgBuyPrice: h.AvgBuyPrice}
	if t == domain.TxBuy && price.Valid {
		out.AvgBuyPrice = UnwindAverage(h, amount, price.Decimal)
	}
	return out, nil
}

// ReverseDestination undoes ApplyDestination for a deleted swap.
func ReverseDestination(h Holding, toAmount decimal.Decimal, toPrice decimal.NullDecimal) (Holding, error) {
	next := h.Balance.Sub(toAmount)
	if next.IsNegative() {
		return h, domain.Invariant("reversing this swap would leave a negative destination balance (%s)", next.String())
	}
	out := Holding{Balance: next, AvgBuyPrice: h.AvgBuyPrice}
	if toPrice.Valid {
		out.AvgBuyPrice = UnwindAverage(h, toAmount, toPrice.Decimal)
	}
	return out, nil
}
