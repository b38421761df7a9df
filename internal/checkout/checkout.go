// Package checkout computes cart totals. It performs no I/O and keeps no
// state, so the same cart and modifiers always produce the same totals.
package checkout

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"warungpos/internal/domain"
)

var ErrInvalidInput = errors.New("invalid checkout input")

var hundred = decimal.NewFromInt(100)

// Calculate derives the transaction totals:
//
//	subtotal = Σ(unit price × qty − line discount)
//	discount = round(subtotal × discount% / 100)
//	tax      = round((subtotal − discount) × tax% / 100)
//	grand    = subtotal − discount + tax + delivery fee
//
// Amounts are whole rupiah and rounding is half away from zero to the rupiah.
// An empty cart yields all zero totals.
func Calculate(lines []domain.TransactionLine, mods domain.Modifiers) domain.Totals {
	if len(lines) == 0 {
		return domain.Totals{}
	}

	var subtotal int64
	for _, line := range lines {
		subtotal += line.SubtotalCents()
	}

	discount := percentOf(subtotal, mods.DiscountPercent)
	taxable := subtotal - discount
	tax := percentOf(taxable, mods.TaxPercent)

	return domain.Totals{
		SubtotalCents:    subtotal,
		DiscountCents:    discount,
		TaxableCents:     taxable,
		TaxCents:         tax,
		DeliveryFeeCents: mods.DeliveryFeeCents,
		GrandTotalCents:  taxable + tax + mods.DeliveryFeeCents,
	}
}

func percentOf(amount int64, percent float64) int64 {
	if amount == 0 || percent == 0 {
		return 0
	}
	value := decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(percent)).Div(hundred)
	return value.Round(0).IntPart()
}

func ValidateModifiers(mods domain.Modifiers) error {
	if mods.DiscountPercent < 0 || mods.DiscountPercent > 100 {
		return fmt.Errorf("%w: discount percent must be between 0 and 100", ErrInvalidInput)
	}
	if mods.TaxPercent < 0 || mods.TaxPercent > 100 {
		return fmt.Errorf("%w: tax percent must be between 0 and 100", ErrInvalidInput)
	}
	if mods.DeliveryFeeCents < 0 {
		return fmt.Errorf("%w: delivery fee cannot be negative", ErrInvalidInput)
	}
	return nil
}

func ValidateLines(lines []domain.TransactionLine) error {
	for _, line := range lines {
		if line.Qty < 1 {
			return fmt.Errorf("%w: qty for %s must be at least 1", ErrInvalidInput, line.ItemID)
		}
		if line.UnitPriceCents < 0 {
			return fmt.Errorf("%w: price for %s cannot be negative", ErrInvalidInput, line.ItemID)
		}
		if line.LineDiscountCents < 0 || line.LineDiscountCents > line.UnitPriceCents*int64(line.Qty) {
			return fmt.Errorf("%w: line discount for %s out of range", ErrInvalidInput, line.ItemID)
		}
	}
	return nil
}
