package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/nurpe/wasteops-pricing/internal/pricing"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quotectl",
		Short: "Inspect pricing rule sets and compute quotes offline",
		Long: `quotectl loads a pricing rule file (a JSON array of rule set versions)
and runs it through the quotation engine.

Examples:
  quotectl validate deploy/pricing-rules.json
  quotectl quote --rules deploy/pricing-rules.json --category glass --quantity 5 --address "12 Colombo Road"`,
		SilenceUsage: true,
	}
	root.AddCommand(newValidateCmd())
	root.AddCommand(newQuoteCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rules-file>",
		Short: "Validate a rule file and list its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := readRuleFile(args[0])
			if err != nil {
				return err
			}
			if _, err := pricing.NewRuleTable(decimal.Zero, sets...); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tEFFECTIVE FROM\tEFFECTIVE UNTIL\tCATEGORIES\tZONES")
			for _, set := range sets {
				until := "-"
				if set.EffectiveUntil != nil {
					until = set.EffectiveUntil.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n",
					set.Version,
					set.EffectiveFrom.UTC().Format(time.RFC3339),
					until,
					len(set.Categories),
					len(set.ZoneSurcharges),
				)
			}
			return w.Flush()
		},
	}
}

type quoteOptions struct {
	rules     string
	category  string
	quantity  float64
	community string
	address   string
	urgent    bool
	at        string
	fallback  string
	asJSON    bool
	verbose   bool
}

func newQuoteCmd() *cobra.Command {
	opts := &quoteOptions{}
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute a quote against a rule file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuote(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.rules, "rules", "", "rule file [REQUIRED]")
	cmd.Flags().StringVarP(&opts.category, "category", "c", "", "waste category [REQUIRED]")
	cmd.Flags().Float64VarP(&opts.quantity, "quantity", "q", 0, "quantity in category units")
	cmd.Flags().StringVar(&opts.community, "community", "", "community type")
	cmd.Flags().StringVarP(&opts.address, "address", "a", "", "collection address")
	cmd.Flags().BoolVarP(&opts.urgent, "urgent", "u", false, "urgent service")
	cmd.Flags().StringVar(&opts.at, "at", "", "pricing time, RFC3339 (default now)")
	cmd.Flags().StringVar(&opts.fallback, "fallback-rate", "50", "rate for categories missing from the rule set")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the breakdown as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log engine warnings to stderr")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func runQuote(out, errOut io.Writer, opts *quoteOptions) error {
	sets, err := readRuleFile(opts.rules)
	if err != nil {
		return err
	}
	fallback, err := decimal.NewFromString(opts.fallback)
	if err != nil {
		return fmt.Errorf("invalid --fallback-rate: %w", err)
	}
	at := time.Now()
	if opts.at != "" {
		if at, err = time.Parse(time.RFC3339, opts.at); err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}

	table, err := pricing.NewRuleTable(fallback, sets...)
	if err != nil {
		return err
	}
	log := zerolog.Nop()
	if opts.verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: errOut}).With().Timestamp().Logger()
	}

	quote, err := pricing.NewQuoteComputer(table, log).Compute(pricing.QuoteRequest{
		Category:      opts.category,
		Quantity:      opts.quantity,
		CommunityType: opts.community,
		Address:       opts.address,
		Urgent:        opts.urgent,
	}, at)
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(quote)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "rule set\tv%d\n", quote.RuleSetVersion)
	fmt.Fprintf(w, "unit rate\t%s", quote.UnitRate.String())
	if quote.FallbackApplied {
		fmt.Fprint(w, " (fallback)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "base\t%s\n", quote.BaseAmount.String())
	if quote.ZoneKeyword != "" {
		fmt.Fprintf(w, "zone %s\t+%s\n", quote.ZoneKeyword, quote.ZoneSurcharge.String())
	}
	if !quote.DistanceAdjustment.IsZero() {
		fmt.Fprintf(w, "distance\t+%s\n", quote.DistanceAdjustment.String())
	}
	if !quote.UrgencyAdjustment.IsZero() {
		fmt.Fprintf(w, "urgency\t+%s\n", quote.UrgencyAdjustment.String())
	}
	fmt.Fprintf(w, "total\t%s\n", quote.FinalAmount.StringFixed(pricing.MinorUnitPlaces))
	return w.Flush()
}

func readRuleFile(path string) ([]*pricing.RuleSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return pricing.LoadRuleSets(file)
}
