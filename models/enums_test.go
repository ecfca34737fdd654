package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMovementKindSignedQty(t *testing.T) {
	qty := decimal.NewFromInt(10)

	cases := []struct {
		kind MovementKind
		want decimal.Decimal
	}{
		{MovementKindIn, qty},
		{MovementKindTransferIn, qty},
		{MovementKindConsumption, qty.Neg()},
		{MovementKindWaste, qty.Neg()},
		{MovementKindTransferOut, qty.Neg()},
	}
	for _, tc := range cases {
		if got := tc.kind.SignedQty(qty); !got.Equal(tc.want) {
			t.Errorf("%s.SignedQty(10) = %s, want %s", tc.kind, got, tc.want)
		}
	}
}

func TestParseMovementKind(t *testing.T) {
	if _, err := ParseMovementKind("In"); err != nil {
		t.Fatalf("expected In to parse: %v", err)
	}
	if _, err := ParseMovementKind("Adjustment"); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestParseStockItemType(t *testing.T) {
	if _, err := ParseStockItemType("RawMaterial"); err != nil {
		t.Fatalf("expected RawMaterial to parse: %v", err)
	}
	if _, err := ParseStockItemType("Finished"); err == nil {
		t.Fatal("expected unknown item type to fail")
	}
}

func TestMovementRefTypeValid(t *testing.T) {
	for _, r := range []MovementRefType{MovementRefTypeWasteRecord, MovementRefTypeTransferRecord, MovementRefTypeProductionBatch} {
		if !r.Valid() {
			t.Errorf("expected %s to be valid", r)
		}
	}
	if MovementRefType("PurchaseOrder").Valid() {
		t.Error("expected PurchaseOrder to be invalid")
	}
}

func TestOrderStatusValid(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusDraft, OrderStatusConfirmed, OrderStatusHold, OrderStatusCompleted, OrderStatusCancelled} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if OrderStatus("Shipped").Valid() {
		t.Error("expected Shipped to be invalid")
	}
}
