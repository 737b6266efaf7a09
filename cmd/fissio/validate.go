package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leofalp/fissio/patterns/pipeline"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check pipeline files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				g, err := pipeline.LoadFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s\n", path)
					var verr *pipeline.ValidationError
					if errors.As(err, &verr) {
						for _, problem := range verr.Problems {
							fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", problem)
						}
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "  - %v\n", err)
					}
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s (%s: %d nodes, %d edges)\n", path, g.ID, len(g.Nodes), len(g.Edges))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) invalid", failed, len(args))
			}
			return nil
		},
	}
}
