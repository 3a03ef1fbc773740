package offers

import (
	"math"
	"strconv"
	"strings"

	"github.com/agromarket/agro-bot/internal/apperr"
)

var (
	errPriceFormat   = apperr.New(apperr.InvalidInput, "❌ Некоректна ціна. Введіть число, наприклад: 8500")
	errPricePositive = apperr.New(apperr.InvalidInput, "❌ Ціна має бути більше 0")
)

// groupSeparators are dropped before parsing: "8 500", "8'500", "8_500".
var groupSeparators = strings.NewReplacer(
	" ", "",
	"\u00a0", "",
	"\u202f", "",
	"'", "",
	"’", "",
	"_", "",
)

// ParsePrice reads a user-typed price in UAH per tonne. When both "," and
// "." appear the comma groups thousands, otherwise a comma is the decimal
// separator.
func ParsePrice(text string) (float64, error) {
	s := groupSeparators.Replace(strings.TrimSpace(text))
	if strings.HasPrefix(s, "-") {
		return 0, errPricePositive
	}

	if strings.Contains(s, ",") && strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.ReplaceAll(s, ",", ".")
	}

	if s == "" || strings.Count(s, ".") > 1 || strings.Trim(s, "0123456789.") != "" {
		return 0, errPriceFormat
	}

	price, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errPriceFormat
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, errPricePositive
	}
	return price, nil
}
