package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData is the printable view of an approved payment.
type ReceiptData struct {
	ReceiptNumber string
	IssuerName    string
	IssuerEmail   string
	CustomerName  string
	CustomerEmail string
	OrderNo       string
	TierLabel     string
	Price         string
	Credits       int64
	SubmittedAt   string
	ApprovedAt    string
}

type MarotoProvider struct{}

func NewMarotoProvider() *MarotoProvider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Sayfa {current} / {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(25,
		text.NewCol(8, "Makbuz", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, receipt.IssuerName, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Makbuz no: "+receipt.ReceiptNumber, props.Text{Top: 0}),
			text.New("Sipariş no: "+receipt.OrderNo, props.Text{Top: 4}),
			text.New("Onay tarihi: "+receipt.ApprovedAt, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New(receipt.IssuerEmail, props.Text{Align: align.Right}),
		),
	)

	m.AddRow(20,
		col.New(12).Add(
			text.New("Alıcı", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.CustomerName, props.Text{Top: 5}),
			text.New(receipt.CustomerEmail, props.Text{Top: 9}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Paket", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Kredi", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Tutar", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(12,
		text.NewCol(6, receipt.TierLabel, props.Text{Size: 9}),
		text.NewCol(3, fmt.Sprintf("%d", receipt.Credits), props.Text{Size: 9, Align: align.Right}),
		text.NewCol(3, receipt.Price, props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Toplam", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, receipt.Price, props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		text.NewCol(12, "Bildirim tarihi: "+receipt.SubmittedAt, props.Text{Size: 8, Top: 4}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
