package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/doxvl/legalization-api/internal/services"
)

// ServiceFactory opens the pricing service for one command run. The returned func releases
// whatever the service holds open.
type ServiceFactory func(ctx context.Context) (services.PricingService, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	Actor  string

	open ServiceFactory
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the pricingctl root command.
func NewRootCommand(open ServiceFactory) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "pricingctl",
		Short: "Manage legalization pricing rules",
		Long:  "Publish versioned pricing rules, list the effective rules for a country and preview prices.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "", "actor recorded on published rules")

	cmd.AddCommand(newRulesCommand(opts))
	cmd.AddCommand(newPriceCommand(opts))
	return cmd
}

func (o *RootOptions) withService(ctx context.Context, fn func(services.PricingService) error) error {
	if o.open == nil {
		return fmt.Errorf("pricing service is not configured")
	}
	svc, release, err := o.open(ctx)
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}
	return fn(svc)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
