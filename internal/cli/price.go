package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/doxvl/legalization-api/internal/services"
)

type lineOutput struct {
	Service     string `json:"service"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Total       int64  `json:"total"`
	IsTBC       bool   `json:"isTBC"`
}

type priceOutput struct {
	Currency             string       `json:"currency"`
	Breakdown            []lineOutput `json:"pricingBreakdown"`
	TotalPrice           int64        `json:"totalPrice"`
	HasUnconfirmedPrices bool         `json:"hasUnconfirmedPrices"`
	UnresolvedServices   []string     `json:"unresolvedServices,omitempty"`
}

func newPriceCommand(opts *RootOptions) *cobra.Command {
	var sel services.PriceQuoteCommand
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Preview the price of a selection against the current rules",
		Example: `  pricingctl price --country SE --service apostille --service notarization --quantity 2 --scanned-copies
  pricingctl price --country AO --service embassy --return dhl-europe --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc services.PricingService) error {
				result, err := svc.Quote(cmd.Context(), sel)
				if err != nil {
					return err
				}
				return writePrice(cmd.OutOrStdout(), opts.Format, result)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&sel.Country, "country", "", "ISO country code")
	flags.StringSliceVar(&sel.Services, "service", nil, "service code (repeatable)")
	flags.IntVar(&sel.Quantity, "quantity", 1, "number of documents")
	flags.BoolVar(&sel.Expedited, "expedited", false, "express processing")
	flags.BoolVar(&sel.ScannedCopies, "scanned-copies", false, "scanned copies of the finished documents")
	flags.BoolVar(&sel.PickupService, "pickup", false, "document pickup")
	flags.StringVar(&sel.ReturnService, "return", "", "return shipping tier")
	_ = cmd.MarkFlagRequired("country")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func writePrice(w io.Writer, format string, result services.PriceResult) error {
	out := priceOutput{
		Currency:             result.Currency,
		Breakdown:            make([]lineOutput, 0, len(result.LineItems)),
		TotalPrice:           result.Total,
		HasUnconfirmedPrices: result.HasUnconfirmedPrices(),
	}
	for _, item := range result.LineItems {
		out.Breakdown = append(out.Breakdown, lineOutput{
			Service:     string(item.Code),
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       item.Total,
			IsTBC:       item.IsTBC,
		})
	}
	for _, code := range result.UnresolvedServices {
		out.UnresolvedServices = append(out.UnresolvedServices, string(code))
	}
	if format == "json" {
		return writeJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tQTY\tUNIT\tTOTAL")
	for _, line := range out.Breakdown {
		if line.IsTBC {
			fmt.Fprintf(tw, "%s\t%d\tTBC\tTBC\n", line.Description, line.Quantity)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", line.Description, line.Quantity, line.UnitPrice, line.Total)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t%d %s\n", out.TotalPrice, out.Currency)
	if err := tw.Flush(); err != nil {
		return err
	}
	if out.HasUnconfirmedPrices {
		note := "some prices are to be confirmed"
		if len(out.UnresolvedServices) > 0 {
			note += "; no rule for: " + strings.Join(out.UnresolvedServices, ", ")
		}
		fmt.Fprintln(w, note)
	}
	return nil
}
