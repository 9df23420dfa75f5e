// File: cmd/modules.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgrantlabs/mgrant-e2e/internal/config"
	"github.com/mgrantlabs/mgrant-e2e/internal/modules"
)

// newModulesCmd creates the `modules` command, which lists the compiled-in
// test modules and their manifest metadata.
func newModulesCmd(st *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the registered test modules and their manifest settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			registry := modules.DefaultRegistry()

			m, err := config.LoadManifest(st.cfg.Suite.Manifest, st.cfg.Suite.DefaultModuleTimeout)
			if err != nil {
				// Without a manifest the registry is still worth printing.
				fmt.Fprintf(out, "Registered modules (no manifest: %v):\n", err)
				for _, name := range registry.Names() {
					fmt.Fprintf(out, "  %s\n", name)
				}
				return nil
			}

			fmt.Fprintf(out, "Registered modules (manifest %s):\n", st.cfg.Suite.Manifest)
			for _, name := range registry.Names() {
				desc, planned := m.Descriptors[name]
				if !planned {
					fmt.Fprintf(out, "  %-20s (not in test_precedence)\n", name)
					continue
				}
				fmt.Fprintf(out, "  %-20s budget %-8s checks %d", name, desc.Timeout, len(desc.Checks))
				if desc.Required {
					fmt.Fprint(out, "  [required]")
				}
				fmt.Fprintln(out)
				if desc.Description != "" {
					fmt.Fprintf(out, "      %s\n", desc.Description)
				}
				if len(desc.Dependencies) > 0 {
					fmt.Fprintf(out, "      depends on: %v\n", desc.Dependencies)
				}
			}

			if len(m.Profiles) > 0 {
				fmt.Fprintln(out, "\nProfiles:")
				for profile, order := range m.Profiles {
					fmt.Fprintf(out, "  %-12s %v\n", profile, order)
				}
			}
			return nil
		},
	}
}
