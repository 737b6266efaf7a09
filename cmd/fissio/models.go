package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leofalp/fissio/providers/ai/ollama"
)

func newModelsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the configured and discovered models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.close(cmd.Context()) }()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODEL\tLOCAL\tDEFAULT")
			defaultID := a.client.DefaultModel()
			for _, m := range a.client.Models() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", m.ID, m.Name, m.Model, ollama.IsLocal(m), mark(m.ID == defaultID))
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(newUnloadCmd(flags))
	return cmd
}

func newUnloadCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unload <model-id>",
		Short: "Evict a local Ollama model from memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			cfg.Ollama.Discover = true
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.close(cmd.Context()) }()

			for _, m := range a.client.Models() {
				if m.ID != args[0] {
					continue
				}
				if !ollama.IsLocal(m) {
					return fmt.Errorf("model %q is not served by a local Ollama", m.ID)
				}
				if err := a.ollama.Unload(cmd.Context(), m.Model); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unloaded %s\n", m.ID)
				return nil
			}
			return errors.New("unknown model " + args[0])
		},
	}
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}
