package escrow

import (
	"errors"
	"testing"
	"time"
)

const sampleForm = `@buyer
@seller
Instagram Account Sale
Full access + original email
10,000
24h
No refunds after release
Yes`

func TestParseForm_Valid(t *testing.T) {
	form, err := ParseForm(sampleForm)
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	if form.Buyer != "@buyer" || form.Seller != "@seller" {
		t.Errorf("unexpected parties %q / %q", form.Buyer, form.Seller)
	}
	if form.Title != "Instagram Account Sale" {
		t.Errorf("unexpected title %q", form.Title)
	}
	if form.Amount != 10000 {
		t.Errorf("expected amount 10000, got %v", form.Amount)
	}
	if form.Delivery != 24*time.Hour {
		t.Errorf("expected 24h delivery, got %v", form.Delivery)
	}
	if !form.DisputeAgreed {
		t.Error("expected dispute agreement to parse as true")
	}
}

func TestParseForm_SkipsBlankLines(t *testing.T) {
	form, err := ParseForm("@b\n\n@s\n\nTitle\nDesc\n500\n2d\nNone\nno\n")
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	if form.Delivery != 48*time.Hour {
		t.Errorf("expected day suffix to parse, got %v", form.Delivery)
	}
	if form.DisputeAgreed {
		t.Error("expected dispute agreement false for 'no'")
	}
}

func TestParseForm_TooShort(t *testing.T) {
	_, err := ParseForm("@b\n@s\nTitle\n100")
	if !errors.Is(err, ErrFormTooShort) {
		t.Fatalf("expected ErrFormTooShort, got %v", err)
	}
}

func TestParseForm_BadAmount(t *testing.T) {
	for _, amount := range []string{"0", "-5", "ten thousand", "1e999"} {
		_, err := ParseForm("@b\n@s\nT\nD\n" + amount + "\n24h\nNone\nyes")
		if !errors.Is(err, ErrFormBadAmount) {
			t.Errorf("amount %q: expected ErrFormBadAmount, got %v", amount, err)
		}
	}
}

func TestParseForm_SameParties(t *testing.T) {
	_, err := ParseForm("@x\n@x\nT\nD\n100\n24h\nNone\nyes")
	if !errors.Is(err, ErrFormSameParties) {
		t.Fatalf("expected ErrFormSameParties, got %v", err)
	}
}

func TestParseDeliveryWindow_Fallback(t *testing.T) {
	if got := parseDeliveryWindow("soon"); got != DefaultDeliveryWindow {
		t.Errorf("expected fallback window, got %v", got)
	}
	if got := parseDeliveryWindow("36h"); got != 36*time.Hour {
		t.Errorf("expected 36h, got %v", got)
	}
}

func TestFee(t *testing.T) {
	if got := Fee(10000, 6); got != 600 {
		t.Errorf("expected fee 600, got %v", got)
	}
	if got := Fee(123.456, 6); got != 7.41 {
		t.Errorf("expected fee 7.41, got %v", got)
	}
}
