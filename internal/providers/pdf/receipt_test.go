package pdf

import (
	"bytes"
	"context"
	"testing"
)

func TestGenerateReceipt(t *testing.T) {
	out, err := New().GenerateReceipt(context.Background(), ReceiptData{
		StoreName:     "Storefront",
		InvoiceNumber: "INV-20260301-1",
		OrderID:       "1",
		DatePaid:      "2026-03-01",
		Currency:      "INR",
		Items: []ReceiptItem{{
			Description: "UI kit (commercial)",
			LicenseKey:  "LIC-01HZY",
			Qty:         1,
			UnitPrice:   "29.00",
			Amount:      "29.00",
		}},
		Subtotal: "29.00",
		Total:    "29.00",
	})
	if err != nil {
		t.Fatalf("generate receipt: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Fatalf("expected a PDF document, got %q", out[:min(len(out), 8)])
	}
}

func TestGenerateReceiptRequiresOrder(t *testing.T) {
	if _, err := New().GenerateReceipt(context.Background(), ReceiptData{}); err == nil {
		t.Fatalf("expected error for missing order id")
	}
}
