package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bucket"
)

type assignFlags struct {
	json bool
}

type assignRow struct {
	ProfileID  string            `json:"profileId"`
	Assignment bucket.Assignment `json:"assignment"`
	Variant    bucket.Variant    `json:"variant"`
}

func newAssignCmd(global *globalFlags) *cobra.Command {
	flags := &assignFlags{}
	cmd := &cobra.Command{
		Use:   "assign <experience-id> <profile-id>...",
		Short: "Show which variant profiles are assigned to",
		Long: `Compute the stable variant assignment of each profile for a configured
experience. The result matches what the pipeline serves for the same ids.

Examples:
  experience assign -c experience.yaml exp-hero anon-1 anon-2
  experience assign --json exp-hero user-42`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(global)
			if err != nil {
				return err
			}
			exp, ok := s.Experience(args[0])
			if !ok {
				return fmt.Errorf("experience %q is not configured", args[0])
			}

			rows := make([]assignRow, 0, len(args)-1)
			for _, id := range args[1:] {
				a := bucket.Resolve(exp, id)
				rows = append(rows, assignRow{ProfileID: id, Assignment: a, Variant: exp.Variant(a)})
			}

			out := cmd.OutOrStdout()
			if flags.json {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROFILE\tIN EXPERIENCE\tVARIANT\tCONTENT\tDRAW")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%t\t%d\t%s\t%.6f\n",
					r.ProfileID, r.Assignment.InExperience, r.Assignment.VariantIndex, r.Variant.ID, r.Assignment.Draw)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print JSON instead of a table")
	return cmd
}
