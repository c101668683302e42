package pdf

import (
	"context"
	"errors"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/extension"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrInvalidReceipt = errors.New("invalid_receipt")

type ReceiptData struct {
	ReceiptNumber string
	IssuedOn      string
	Status        string
	StatusNote    string
	LastPaidOn    string

	SchoolName    string
	SchoolEmail   string
	ParentName    string
	ParentEmail   string
	ParentPhone   string
	ParentAddress string

	Children []string
	Items    []ReceiptItem
	Total    string

	// CheckInQR is a PNG rendered next to the header when set.
	CheckInQR []byte
}

type ReceiptItem struct {
	Description string
	Qty         int
	UnitPrice   string
	Amount      string
}

func (p *PDFProvider) GenerateReceipt(_ context.Context, receipt ReceiptData) ([]byte, error) {
	if receipt.ReceiptNumber == "" || len(receipt.Items) == 0 {
		return nil, ErrInvalidReceipt
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	if len(receipt.CheckInQR) > 0 {
		m.AddRow(40,
			text.NewCol(9, "Enrollment receipt", props.Text{
				Size:  20,
				Style: fontstyle.Bold,
				Align: align.Left,
			}),
			image.NewFromBytesCol(3, receipt.CheckInQR, extension.Png, props.Rect{
				Center:  true,
				Percent: 90,
			}),
		)
	} else {
		m.AddRow(20,
			text.NewCol(12, "Enrollment receipt", props.Text{
				Size:  20,
				Style: fontstyle.Bold,
				Align: align.Left,
			}),
		)
	}

	m.AddRow(20,
		col.New(6).Add(
			text.New("Receipt number: "+receipt.ReceiptNumber, props.Text{Top: 0}),
			text.New("Issued: "+receipt.IssuedOn, props.Text{Top: 4}),
			text.New("Status: "+receipt.Status, props.Text{Top: 8}),
			text.New(lastPaid(receipt), props.Text{Top: 12}),
		),
		col.New(6).Add(
			text.New(receipt.StatusNote, props.Text{Top: 0, Align: align.Right}),
		),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New(receipt.SchoolName, props.Text{Style: fontstyle.Bold}),
			text.New(receipt.SchoolEmail, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Parent / guardian", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.ParentName, props.Text{Top: 5}),
			text.New(receipt.ParentEmail, props.Text{Top: 9}),
			text.New(receipt.ParentPhone, props.Text{Top: 13}),
			text.New(receipt.ParentAddress, props.Text{Top: 17}),
		),
	)

	for i, child := range receipt.Children {
		m.AddRow(6,
			text.NewCol(12, fmt.Sprintf("Child %d: %s", i+1, child), props.Text{Size: 9}),
		)
	}

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9, Top: 3}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Top: 3}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Top: 3}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Top: 3}),
	)
	for _, item := range receipt.Items {
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, receipt.Total, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate receipt: %w", err)
	}
	return doc.GetBytes(), nil
}

func lastPaid(r ReceiptData) string {
	if r.LastPaidOn == "" {
		return "Last payment: none recorded"
	}
	return "Last payment: " + r.LastPaidOn
}
