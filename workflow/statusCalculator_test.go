package workflow

import (
	"testing"

	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCalculateStatus_Derivation(t *testing.T) {
	cases := []struct {
		name        string
		facts       OrderFacts
		wantStatus  models.OrderStatus
		wantPayment models.PaymentStatus
	}{
		{
			name:        "empty order is draft",
			facts:       OrderFacts{},
			wantStatus:  models.OrderStatusDraft,
			wantPayment: models.PaymentStatusReady,
		},
		{
			name:        "items without payment is confirmed",
			facts:       OrderFacts{HasItems: true, Total: d("100")},
			wantStatus:  models.OrderStatusConfirmed,
			wantPayment: models.PaymentStatusReady,
		},
		{
			name:        "partial payment",
			facts:       OrderFacts{HasItems: true, Total: d("100"), Paid: d("40")},
			wantStatus:  models.OrderStatusConfirmed,
			wantPayment: models.PaymentStatusPartial,
		},
		{
			name:        "full payment completes",
			facts:       OrderFacts{HasItems: true, Total: d("100"), Paid: d("100")},
			wantStatus:  models.OrderStatusCompleted,
			wantPayment: models.PaymentStatusFull,
		},
		{
			name:        "overpayment still completes",
			facts:       OrderFacts{HasItems: true, Total: d("100"), Paid: d("150")},
			wantStatus:  models.OrderStatusCompleted,
			wantPayment: models.PaymentStatusFull,
		},
		{
			name:        "discount reduces the net owed",
			facts:       OrderFacts{HasItems: true, Total: d("1000"), Discount: d("200"), Paid: d("800")},
			wantStatus:  models.OrderStatusCompleted,
			wantPayment: models.PaymentStatusFull,
		},
		{
			name:        "paid within epsilon of net is full",
			facts:       OrderFacts{HasItems: true, Total: d("100"), Paid: d("99.99")},
			wantStatus:  models.OrderStatusCompleted,
			wantPayment: models.PaymentStatusFull,
		},
		{
			name:        "paid just under epsilon is partial",
			facts:       OrderFacts{HasItems: true, Total: d("100"), Paid: d("99.98")},
			wantStatus:  models.OrderStatusConfirmed,
			wantPayment: models.PaymentStatusPartial,
		},
		{
			name:        "zero net never completes",
			facts:       OrderFacts{HasItems: true, Total: d("100"), Discount: d("100"), Paid: d("0")},
			wantStatus:  models.OrderStatusConfirmed,
			wantPayment: models.PaymentStatusReady,
		},
		{
			name:        "hold wins over completed",
			facts:       OrderFacts{HasItems: true, OnHold: true, Total: d("100"), Paid: d("100")},
			wantStatus:  models.OrderStatusHold,
			wantPayment: models.PaymentStatusFull,
		},
		{
			name:        "hold wins over draft",
			facts:       OrderFacts{OnHold: true},
			wantStatus:  models.OrderStatusHold,
			wantPayment: models.PaymentStatusReady,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payment := CalculateStatus(tc.facts)
			if status != tc.wantStatus {
				t.Fatalf("status: got %s, want %s", status, tc.wantStatus)
			}
			if payment != tc.wantPayment {
				t.Fatalf("payment status: got %s, want %s", payment, tc.wantPayment)
			}
		})
	}
}

// Same facts must always produce the same statuses; the calculation has no
// hidden inputs.
func TestCalculateStatus_Deterministic(t *testing.T) {
	facts := OrderFacts{HasItems: true, Total: d("1000"), Discount: d("200"), Paid: d("800")}

	firstStatus, firstPayment := CalculateStatus(facts)
	for i := 0; i < 1000; i++ {
		status, payment := CalculateStatus(facts)
		if status != firstStatus || payment != firstPayment {
			t.Fatalf("iteration %d: got (%s,%s), want (%s,%s)", i, status, payment, firstStatus, firstPayment)
		}
	}
}
