package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/doxvl/legalization-api/internal/services"
)

// RuleFile is the YAML document accepted by `rules publish`.
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule version as written by operators.
type RuleSpec struct {
	Country        string    `yaml:"country"`
	Service        string    `yaml:"service"`
	OfficialFee    int64     `yaml:"officialFee"`
	ServiceFee     int64     `yaml:"serviceFee"`
	OfficialFeeTBC bool      `yaml:"officialFeeTBC"`
	Currency       string    `yaml:"currency"`
	ProcessingDays int       `yaml:"processingDays"`
	EffectiveFrom  time.Time `yaml:"effectiveFrom"`
}

type ruleOutput struct {
	Country        string `json:"countryCode"`
	Service        string `json:"serviceType"`
	Version        int    `json:"version"`
	OfficialFee    int64  `json:"officialFee"`
	ServiceFee     int64  `json:"serviceFee"`
	BasePrice      int64  `json:"basePrice"`
	OfficialFeeTBC bool   `json:"officialFeeTBC"`
	Currency       string `json:"currency"`
	EffectiveFrom  string `json:"effectiveFrom"`
}

func newRulesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Publish and list pricing rules",
	}
	cmd.AddCommand(newRulesPublishCommand(opts))
	cmd.AddCommand(newRulesListCommand(opts))
	return cmd
}

func newRulesPublishCommand(opts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish new rule versions from a YAML file",
		Long: `Publish every rule in the file as the next version of its country and service.
Existing versions are never modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleFile, err := readRuleFile(file)
			if err != nil {
				return err
			}
			return opts.withService(cmd.Context(), func(svc services.PricingService) error {
				published := make([]services.PricingRule, 0, len(ruleFile.Rules))
				for i, rule := range ruleFile.Rules {
					stored, err := svc.PublishRule(cmd.Context(), rule.command(opts.Actor))
					if err != nil {
						return fmt.Errorf("rule %d (%s/%s): %w", i+1, rule.Country, rule.Service, err)
					}
					published = append(published, stored)
				}
				return writeRules(cmd.OutOrStdout(), opts.Format, published)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML rule file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRulesListCommand(opts *RootOptions) *cobra.Command {
	var country string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the rules in effect for a country",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc services.PricingService) error {
				rules, err := svc.ListRules(cmd.Context(), country)
				if err != nil {
					return err
				}
				return writeRules(cmd.OutOrStdout(), opts.Format, rules)
			})
		},
	}
	cmd.Flags().StringVar(&country, "country", "", "ISO country code")
	_ = cmd.MarkFlagRequired("country")
	return cmd
}

func (r RuleSpec) command(actor string) services.PublishRuleCommand {
	return services.PublishRuleCommand{
		Country:        r.Country,
		Service:        r.Service,
		OfficialFee:    r.OfficialFee,
		ServiceFee:     r.ServiceFee,
		OfficialFeeTBC: r.OfficialFeeTBC,
		Currency:       r.Currency,
		ProcessingDays: r.ProcessingDays,
		EffectiveFrom:  r.EffectiveFrom,
		ActorID:        actor,
	}
}

func readRuleFile(path string) (RuleFile, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return RuleFile{}, fmt.Errorf("read rule file: %w", err)
	}
	return parseRuleFile(data)
}

func parseRuleFile(data []byte) (RuleFile, error) {
	var ruleFile RuleFile
	if err := yaml.Unmarshal(data, &ruleFile); err != nil {
		return RuleFile{}, fmt.Errorf("parse rule file: %w", err)
	}
	if len(ruleFile.Rules) == 0 {
		return RuleFile{}, errors.New("rule file contains no rules")
	}
	for i, rule := range ruleFile.Rules {
		if strings.TrimSpace(rule.Country) == "" || strings.TrimSpace(rule.Service) == "" {
			return RuleFile{}, fmt.Errorf("rule %d: country and service are required", i+1)
		}
	}
	return ruleFile, nil
}

func writeRules(w io.Writer, format string, rules []services.PricingRule) error {
	out := make([]ruleOutput, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleOutput{
			Country:        string(rule.Country),
			Service:        string(rule.Service),
			Version:        rule.Version,
			OfficialFee:    rule.OfficialFee,
			ServiceFee:     rule.ServiceFee,
			BasePrice:      rule.BasePrice(),
			OfficialFeeTBC: rule.OfficialFeeTBC,
			Currency:       rule.Currency,
			EffectiveFrom:  rule.EffectiveFrom.UTC().Format(time.RFC3339),
		})
	}
	if format == "json" {
		return writeJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNTRY\tSERVICE\tVERSION\tOFFICIAL\tSERVICE FEE\tBASE\tEFFECTIVE FROM")
	for _, rule := range out {
		official := fmt.Sprintf("%d", rule.OfficialFee)
		if rule.OfficialFeeTBC {
			official = "TBC"
		}
		fmt.Fprintf(tw, "%s\t%s\tv%d\t%s\t%d\t%d %s\t%s\n",
			rule.Country, rule.Service, rule.Version, official, rule.ServiceFee, rule.BasePrice, rule.Currency, rule.EffectiveFrom)
	}
	return tw.Flush()
}
