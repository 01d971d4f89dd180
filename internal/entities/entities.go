// Package entities extracts structured shopping attributes (brand,
// color, size, price constraints, product type) from utterances with
// rule-based patterns, validates and normalizes them, and merges
// rule-based extractions with LLM-provided ones.
package entities

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

// priceCeiling guards against absurd extracted amounts ("under 99999999").
const priceCeiling = 1_000_000

var knownBrands = map[string]string{
	"nike":     "Nike",
	"adidas":   "Adidas",
	"puma":     "Puma",
	"reebok":   "Reebok",
	"samsung":  "Samsung",
	"apple":    "Apple",
	"sony":     "Sony",
	"lg":       "LG",
	"levis":    "Levis",
	"zara":     "Zara",
	"h&m":      "H&M",
	"gucci":    "Gucci",
	"asics":    "Asics",
	"converse": "Converse",
	"vans":     "Vans",
}

var knownColors = map[string]bool{
	"red": true, "blue": true, "green": true, "black": true, "white": true,
	"gray": true, "grey": true, "yellow": true, "pink": true, "purple": true,
	"orange": true, "brown": true, "navy": true, "beige": true, "maroon": true,
	"teal": true, "silver": true, "gold": true,
}

// productCategories maps a product word to its catalog category.
var productCategories = map[string]string{
	"shoes": "footwear", "sneakers": "footwear", "runners": "footwear",
	"boots": "footwear", "sandals": "footwear", "heels": "footwear",
	"shirt": "apparel", "tshirt": "apparel", "jeans": "apparel",
	"dress": "apparel", "jacket": "apparel", "hoodie": "apparel",
	"skirt": "apparel", "shorts": "apparel", "socks": "apparel",
	"phone": "electronics", "laptop": "electronics", "tablet": "electronics",
	"headphones": "electronics", "earbuds": "electronics", "tv": "electronics",
	"watch": "accessories", "bag": "accessories", "wallet": "accessories",
	"belt": "accessories", "sunglasses": "accessories",
}

var currencySymbols = map[string]string{
	"$": "USD",
	"₹": "INR",
	"€": "EUR",
	"£": "GBP",
}

var (
	sizeRe = regexp.MustCompile(`(?i)\bsize\s+([A-Za-z0-9]+)\b`)

	// amount matches "$1,299.99", "₹500", "250".
	amount = `([$₹€£]?)\s*([0-9][0-9,]*(?:\.[0-9]+)?)`

	underRe   = regexp.MustCompile(`(?i)\b(?:under|below|less than|at most|up to|max(?:imum)?)\s+` + amount)
	overRe    = regexp.MustCompile(`(?i)\b(?:over|above|more than|at least|min(?:imum)?)\s+` + amount)
	betweenRe = regexp.MustCompile(`(?i)\bbetween\s+` + amount + `\s+and\s+` + amount)
	rangeRe   = regexp.MustCompile(`(?i)\bfrom\s+` + amount + `\s+(?:to|-)\s+` + amount)
)

// Extract pulls entities out of an utterance with rule-based patterns.
// Returns nil when nothing is found.
func Extract(query string) *model.Entities {
	lower := strings.ToLower(query)
	tokens := strings.Fields(lower)

	e := &model.Entities{}
	for _, tok := range tokens {
		clean := strings.Trim(tok, ".,!?'\"")
		if e.Brand == "" {
			if brand, ok := knownBrands[clean]; ok {
				e.Brand = brand
			}
		}
		if e.Color == "" && knownColors[clean] {
			e.Color = clean
		}
		if e.ProductType == "" {
			if cat, ok := productCategories[clean]; ok {
				e.ProductType = clean
				e.Category = cat
			}
		}
	}

	if m := sizeRe.FindStringSubmatch(query); m != nil {
		e.Size = m[1]
	}
	e.PriceRange = extractPrice(lower)

	if e.Empty() {
		return nil
	}
	return e
}

func extractPrice(lower string) *model.PriceRange {
	if m := betweenRe.FindStringSubmatch(lower); m != nil {
		return rangeFrom(m[1], m[2], m[3], m[4])
	}
	if m := rangeRe.FindStringSubmatch(lower); m != nil {
		return rangeFrom(m[1], m[2], m[3], m[4])
	}
	if m := underRe.FindStringSubmatch(lower); m != nil {
		if v, ok := parseAmount(m[2]); ok {
			return &model.PriceRange{Max: &v, Currency: currencySymbols[m[1]]}
		}
	}
	if m := overRe.FindStringSubmatch(lower); m != nil {
		if v, ok := parseAmount(m[2]); ok {
			return &model.PriceRange{Min: &v, Currency: currencySymbols[m[1]]}
		}
	}
	return nil
}

func rangeFrom(sym1, raw1, sym2, raw2 string) *model.PriceRange {
	lo, okLo := parseAmount(raw1)
	hi, okHi := parseAmount(raw2)
	if !okLo || !okHi {
		return nil
	}
	currency := currencySymbols[sym1]
	if currency == "" {
		currency = currencySymbols[sym2]
	}
	return &model.PriceRange{Min: &lo, Max: &hi, Currency: currency}
}

func parseAmount(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || v < 0 || v > priceCeiling {
		return 0, false
	}
	return v, true
}

// Validate normalizes an entity set in place and drops values that fail
// sanity checks. Returns nil when nothing survives.
func Validate(e *model.Entities) *model.Entities {
	if e == nil {
		return nil
	}

	if e.Brand != "" {
		if canonical, ok := knownBrands[strings.ToLower(e.Brand)]; ok {
			e.Brand = canonical
		} else {
			e.Brand = titleCase(e.Brand)
		}
	}
	if e.Color != "" {
		e.Color = strings.ToLower(e.Color)
		if e.Color == "grey" {
			e.Color = "gray"
		}
	}
	if e.Size != "" {
		e.Size = strings.ToUpper(e.Size)
	}
	if e.ProductType != "" {
		e.ProductType = strings.ToLower(e.ProductType)
		if e.Category == "" {
			e.Category = productCategories[e.ProductType]
		}
	}

	if pr := e.PriceRange; pr != nil {
		if pr.Min != nil && (*pr.Min < 0 || *pr.Min > priceCeiling) {
			pr.Min = nil
		}
		if pr.Max != nil && (*pr.Max < 0 || *pr.Max > priceCeiling) {
			pr.Max = nil
		}
		if pr.Min != nil && pr.Max != nil && *pr.Min > *pr.Max {
			slog.Warn("entities: inverted price range dropped", "min", *pr.Min, "max", *pr.Max)
			pr.Min, pr.Max = nil, nil
		}
		if pr.Min == nil && pr.Max == nil {
			e.PriceRange = nil
		}
	}

	if e.Empty() {
		return nil
	}
	return e
}

// Merge combines an LLM extraction with a rule-based one. The LLM wins
// on every field it filled; rules backfill the rest.
func Merge(llm, rules *model.Entities) *model.Entities {
	if llm.Empty() {
		return Validate(rules)
	}
	if rules.Empty() {
		return Validate(llm)
	}

	out := *llm
	if out.ProductType == "" {
		out.ProductType = rules.ProductType
	}
	if out.Category == "" {
		out.Category = rules.Category
	}
	if out.Brand == "" {
		out.Brand = rules.Brand
	}
	if out.Color == "" {
		out.Color = rules.Color
	}
	if out.Size == "" {
		out.Size = rules.Size
	}
	if out.PriceRange == nil {
		out.PriceRange = rules.PriceRange
	}
	return Validate(&out)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
