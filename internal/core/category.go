package core

import "strings"

var categorySynonyms = map[string]Category{
	"leisure":         CategoryLeisure,
	"ocio":            CategoryLeisure,
	"salida":          CategoryLeisure,
	"salidas":         CategoryLeisure,
	"entretenimiento": CategoryLeisure,
	"diversion":       CategoryLeisure,
	"gusto":           CategoryLeisure,
	"gustos":          CategoryLeisure,
	"no obligatorio":  CategoryLeisure,

	"obligation":    CategoryObligation,
	"obligations":   CategoryObligation,
	"obligacion":    CategoryObligation,
	"obligaciones":  CategoryObligation,
	"obligatorio":   CategoryObligation,
	"fijo":          CategoryObligation,
	"fijos":         CategoryObligation,
	"ffijo":         CategoryObligation,
	"gasto fijo":    CategoryObligation,
	"gastos fijos":  CategoryObligation,
	"deuda":         CategoryObligation,
	"deudas":        CategoryObligation,
	"cuota":         CategoryObligation,
	"servicio":      CategoryObligation,
	"servicios":     CategoryObligation,
	"impuesto":      CategoryObligation,
	"impuestos":     CategoryObligation,
	"factura":       CategoryObligation,
	"obligatoria":   CategoryObligation,
	"obligatorios":  CategoryObligation,
	"obligatorias":  CategoryObligation,
	"unclear":       CategoryUnclear,
	"other":         CategoryUnclear,
	"otro":          CategoryUnclear,
	"otros":         CategoryUnclear,
	"no claro":      CategoryUnclear,
	"indefinido":    CategoryUnclear,
	"sin categoria": CategoryUnclear,
}

// NormalizeCategory maps any label (canonical, Spanish synonym, accented,
// quoted) to a canonical category. Unknown or empty labels are unclear.
func NormalizeCategory(raw string) Category {
	key := strings.Trim(NormalizeText(raw), " .,;:!?\"'`")
	if c, ok := categorySynonyms[key]; ok {
		return c
	}
	return CategoryUnclear
}

// QueryLabels returns every stored label that counts as c when filtering the
// ledger, so rows written with older Spanish labels are still found.
func QueryLabels(c Category) []string {
	switch c {
	case CategoryLeisure:
		return []string{"leisure", "salida"}
	case CategoryObligation:
		return []string{"obligation", "obligacion"}
	default:
		return []string{"unclear", "other", "otro"}
	}
}
