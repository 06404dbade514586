package escrow

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Form is the parsed 8-field deal intake message. Buyer and seller fields are
// kept opaque; @handles and numeric ids are stored as-is.
type Form struct {
	Buyer         string
	Seller        string
	Title         string
	Description   string
	Amount        float64
	Delivery      time.Duration
	RefundTerms   string
	DisputeAgreed bool
}

// DefaultDeliveryWindow applies when the form's delivery field cannot be
// parsed as a duration.
const DefaultDeliveryWindow = 24 * time.Hour

var (
	ErrFormTooShort     = errors.New("escrow: form requires 8 non-empty lines")
	ErrFormBadAmount    = errors.New("escrow: invalid amount")
	ErrFormSameParties  = errors.New("escrow: buyer and seller must differ")
	ErrFormMissingParty = errors.New("escrow: buyer and seller are required")
)

// ParseForm parses the single-message escrow form: buyer, seller, title,
// description, amount, delivery window, refund terms, dispute agreement.
func ParseForm(text string) (Form, error) {
	lines := make([]string, 0, 8)
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) < 8 {
		return Form{}, ErrFormTooShort
	}

	buyer, seller := lines[0], lines[1]
	if buyer == "" || seller == "" {
		return Form{}, ErrFormMissingParty
	}
	if buyer == seller {
		return Form{}, ErrFormSameParties
	}

	amount, err := parseAmount(lines[4])
	if err != nil {
		return Form{}, err
	}

	return Form{
		Buyer:         buyer,
		Seller:        seller,
		Title:         lines[2],
		Description:   lines[3],
		Amount:        amount,
		Delivery:      parseDeliveryWindow(lines[5]),
		RefundTerms:   lines[6],
		DisputeAgreed: strings.HasPrefix(strings.ToLower(lines[7]), "y"),
	}, nil
}

func parseAmount(s string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || amount <= 0 || math.IsInf(amount, 0) || math.IsNaN(amount) {
		return 0, ErrFormBadAmount
	}
	return amount, nil
}

// parseDeliveryWindow accepts Go duration strings plus the day suffix the
// original form allowed ("2d"). Unparseable values fall back to the default.
func parseDeliveryWindow(s string) time.Duration {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasSuffix(s, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return DefaultDeliveryWindow
}

// Fee computes the platform fee for an amount at the configured percent,
// rounded to two decimals.
func Fee(amount, percent float64) float64 {
	return math.Round(amount*percent) / 100
}

// FormatMoney renders an amount the way user-facing messages show it.
func FormatMoney(amount float64) string {
	return fmt.Sprintf("₹%.2f", amount)
}
