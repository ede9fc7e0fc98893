package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/insfound/internal/admission"
)

// newClassifyCmd creates the 'classify' subcommand. It runs the admission
// guard against each argument using the configured deny list.
func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <url>...",
		Short: "Reports whether URLs would be admitted for analysis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			guard := admission.New(admission.Config{DenyDomains: cfg.Admission.DenyDomains})
			out := cmd.OutOrStdout()
			for _, raw := range args {
				decision := guard.Classify(raw)
				if decision.Accepted {
					fmt.Fprintf(out, "accept\t%s\t%s\n", raw, decision.CanonicalURL)
					continue
				}
				fmt.Fprintf(out, "reject\t%s\t%s\n", raw, decision.Message())
			}
			return nil
		},
	}
}
