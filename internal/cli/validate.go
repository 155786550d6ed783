package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petrijr/gridci/internal/workflowfile"
)

func validateCmd() *cobra.Command {
	var showMatrix bool

	c := &cobra.Command{
		Use:   "validate WORKFLOW_FILE...",
		Short: "Validate workflow files and show the expanded job matrix",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				if err := validateFile(path, showMatrix); err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
					failed++
					continue
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d workflow file(s) invalid", failed, len(args))
			}
			return nil
		},
	}

	c.Flags().BoolVar(&showMatrix, "matrix", false, "print the expanded matrix entries")
	return c
}

func validateFile(path string, showMatrix bool) error {
	file, err := workflowfile.Load(path)
	if err != nil {
		return err
	}
	def, err := file.Workflow()
	if err != nil {
		return err
	}

	entries, err := def.Matrix.Entries()
	if err != nil {
		return err
	}

	fmt.Printf("%s: ok (workflow %q, %d trigger(s), %d step(s), %d job(s))\n",
		path, def.Name, len(def.On), len(def.Steps), len(entries))

	if showMatrix {
		for _, entry := range entries {
			fmt.Printf("  - %s\n", entry.Key())
		}
	}
	return nil
}
