package providers

import (
	"log"

	"github.com/shopspring/decimal"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/models"
)

// Epsilon : écart toléré entre total déclaré et total recalculé
var Epsilon = decimal.RequireFromString("0.01")

// Recompute recalcule lineTotal et subtotal depuis les lignes ; les montants déclarés du client sont ignorés
func Recompute(items []models.LineItem, shipping, tax, discount decimal.Decimal) ([]models.LineItem, models.Amounts) {
	out := make([]models.LineItem, len(items))
	subtotal := decimal.Zero
	for i, item := range items {
		item.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		subtotal = subtotal.Add(item.LineTotal)
		out[i] = item
	}
	amounts := models.Amounts{Subtotal: subtotal, Shipping: shipping, Tax: tax, Discount: discount}
	amounts.Total = amounts.Expected()
	return out, amounts
}

func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// CheckDeclared rejette un total client qui s'écarte du recalcul
func CheckDeclared(declared, recomputed decimal.Decimal) error {
	if WithinEpsilon(declared, recomputed) {
		return nil
	}
	return apperr.Validation("total déclaré %s différent du total recalculé %s", declared.StringFixed(2), recomputed.StringFixed(2)).
		With("declared_total", declared.StringFixed(2)).
		With("recomputed_total", recomputed.StringFixed(2))
}

// Revalidate recalcule les montants d'une commande avant soumission au prestataire.
// mismatch indique que le total stocké ne correspond plus au détail.
func Revalidate(o *models.Order) (amounts models.Amounts, mismatch bool) {
	_, amounts = Recompute(o.LineItems, o.Amounts.Shipping, o.Amounts.Tax, o.Amounts.Discount)
	return amounts, !WithinEpsilon(amounts.Total, o.Amounts.Total)
}

// substituteTotal remplace le total par le recalcul et trace l'écart
func substituteTotal(provider string, o *models.Order) models.Amounts {
	amounts, mismatch := Revalidate(o)
	if mismatch {
		log.Printf("⚠️ [%s] Total commande %s incohérent (%s), remplacé par le recalcul %s",
			provider, o.OrderID, o.Amounts.Total.StringFixed(2), amounts.Total.StringFixed(2))
		return amounts
	}
	return o.Amounts
}

func ToCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
