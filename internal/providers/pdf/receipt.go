package pdf

import (
	"context"
	"errors"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData is the pre-formatted content of an order receipt. Amounts are
// rendered strings so the renderer stays currency agnostic.
type ReceiptData struct {
	StoreName     string
	StoreEmail    string
	InvoiceNumber string
	OrderID       string
	DatePaid      string
	PaymentID     string
	BillToEmail   string
	Currency      string

	Items []ReceiptItem

	Subtotal   string
	Discount   string
	CouponCode string
	Total      string
}

type ReceiptItem struct {
	Description string
	LicenseKey  string
	Qty         int
	UnitPrice   string
	Amount      string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) ([]byte, error) {
	if receipt.OrderID == "" {
		return nil, errors.New("receipt order id is required")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(6, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(6, receipt.StoreName, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Invoice number: "+receipt.InvoiceNumber, props.Text{Top: 0}),
			text.New("Order: "+receipt.OrderID, props.Text{Top: 4}),
			text.New("Date paid: "+receipt.DatePaid, props.Text{Top: 8}),
			text.New("Payment: "+receipt.PaymentID, props.Text{Top: 12}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(receipt.BillToEmail, props.Text{Top: 5, Align: align.Right}),
			text.New(receipt.StoreEmail, props.Text{Top: 12, Align: align.Right, Size: 8}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, receipt.Total+" "+receipt.Currency+" paid on "+receipt.DatePaid, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range receipt.Items {
		description := col.New(6).Add(text.New(item.Description, props.Text{Size: 9}))
		if item.LicenseKey != "" {
			description.Add(text.New("License: "+item.LicenseKey, props.Text{Size: 7, Top: 4}))
		}
		m.AddRow(12,
			description,
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, receipt.Subtotal, props.Text{Size: 9, Align: align.Right}),
	)
	if receipt.Discount != "" {
		label := "Discount"
		if receipt.CouponCode != "" {
			label = "Discount (" + receipt.CouponCode + ")"
		}
		m.AddRow(10,
			col.New(8),
			text.NewCol(2, label, props.Text{Size: 9}),
			text.NewCol(2, "-"+receipt.Discount, props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, receipt.Total, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
