package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func ptr(id int64) *int64 { return &id }

func TestTransactionValidate(t *testing.T) {
	amount := decimal.RequireFromString("10.00")
	cases := []struct {
		name string
		tx   Transaction
		ok   bool
	}{
		{"deposit ok", Transaction{Description: "d", Amount: amount, Type: Deposit, ToUserID: ptr(1)}, true},
		{"deposit with from", Transaction{Description: "d", Amount: amount, Type: Deposit, ToUserID: ptr(1), FromUserID: ptr(2)}, false},
		{"deposit without to", Transaction{Description: "d", Amount: amount, Type: Deposit}, false},
		{"withdrawal ok", Transaction{Description: "w", Amount: amount, Type: Withdrawal, FromUserID: ptr(1)}, true},
		{"withdrawal with to", Transaction{Description: "w", Amount: amount, Type: Withdrawal, FromUserID: ptr(1), ToUserID: ptr(2)}, false},
		{"expense ok", Transaction{Description: "e", Amount: amount, Type: Expense, FromUserID: ptr(1), ToUserID: ptr(2)}, true},
		{"expense missing party", Transaction{Description: "e", Amount: amount, Type: Expense, ToUserID: ptr(2)}, false},
		{"zero amount", Transaction{Description: "d", Amount: decimal.Zero, Type: Deposit, ToUserID: ptr(1)}, false},
		{"empty description", Transaction{Description: "  ", Amount: amount, Type: Deposit, ToUserID: ptr(1)}, false},
		{"unknown type", Transaction{Description: "x", Amount: amount, Type: "transfer", ToUserID: ptr(1)}, false},
	}
	for _, tc := range cases {
		err := tc.tx.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestSignedAmount(t *testing.T) {
	tx := Transaction{
		Amount:     decimal.RequireFromString("15.00"),
		FromUserID: ptr(1),
		ToUserID:   ptr(2),
		Type:       Expense,
	}
	if got := tx.SignedAmount(2); !got.Equal(decimal.RequireFromString("15.00")) {
		t.Fatalf("credited user: expected 15.00, got %s", got)
	}
	if got := tx.SignedAmount(1); !got.Equal(decimal.RequireFromString("-15.00")) {
		t.Fatalf("debited user: expected -15.00, got %s", got)
	}
	if got := tx.SignedAmount(3); !got.IsZero() {
		t.Fatalf("bystander: expected 0, got %s", got)
	}
}

func TestParseSubmittedDate(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	got := ParseSubmittedDate("2024-06-01T12:30", berlin)
	want := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC) // CEST is UTC+2
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	got = ParseSubmittedDate("2024-06-01", time.UTC)
	if !got.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date-only parse failed: %s", got)
	}

	// Garbage falls back to now.
	before := time.Now().UTC().Add(-time.Minute)
	got = ParseSubmittedDate("not-a-date", time.UTC)
	if got.Before(before) {
		t.Fatalf("fallback should be recent, got %s", got)
	}
}

func TestWeekStart(t *testing.T) {
	// 2024-06-05 is a Wednesday; the week starts Monday 2024-06-03.
	wed := time.Date(2024, 6, 5, 17, 45, 0, 0, time.UTC)
	if got := WeekStart(wed); !got.Equal(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected Monday, got %s", got)
	}
	// Sunday belongs to the week that started the previous Monday.
	sun := time.Date(2024, 6, 9, 1, 0, 0, 0, time.UTC)
	if got := WeekStart(sun); !got.Equal(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected Monday, got %s", got)
	}
}
