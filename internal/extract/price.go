package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// pricePattern finds a BRL amount in card text. The separator after the
// symbol is often a no-break space.
var pricePattern = regexp.MustCompile(`R\$[\s\x{00A0}]?[\d.,]+`)

// FindPrice returns the first currency-prefixed amount in text.
func FindPrice(text string) (string, bool) {
	match := pricePattern.FindString(text)
	return match, match != ""
}

// NormalizePrice turns a pt-BR price fragment such as "R$ 1.234,56" into
// 1234.56. It never fails: empty or unparsable input yields 0.
func NormalizePrice(raw string) float64 {
	if raw == "" {
		return 0
	}

	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' {
			b.WriteRune(r)
		}
	}

	clean := strings.Replace(b.String(), ",", ".", -1)
	price, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0
	}
	return price
}
