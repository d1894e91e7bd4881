package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the registered scenarios and their params",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		reg, err := loadRegistry(cmd)
		if err != nil {
			return err
		}
		descs := reg.List()
		out := cmd.OutOrStdout()

		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(descs)
		}

		for _, d := range descs {
			fmt.Fprintf(out, "%s", d.Name)
			if d.Title != "" {
				fmt.Fprintf(out, " - %s", d.Title)
			}
			if d.Source != "" {
				fmt.Fprintf(out, " (%s)", d.Source)
			}
			fmt.Fprintln(out)
			if d.Description != "" {
				fmt.Fprintf(out, "    %s\n", d.Description)
			}

			names := make([]string, 0, len(d.Params))
			for name := range d.Params {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				p := d.Params[name]
				line := fmt.Sprintf("    --%s %s", name, p.Type)
				if p.Default != nil {
					line += fmt.Sprintf(" (default %v)", p.Default)
				}
				if p.Description != "" {
					line += "  " + p.Description
				}
				fmt.Fprintln(out, strings.TrimRight(line, " "))
			}
		}
		return nil
	},
}

func init() {
	scenariosCmd.Flags().Bool("json", false, "Print descriptors as JSON")
}
