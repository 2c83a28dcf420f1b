package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/apibus/internal/trace"
	"github.com/spf13/cobra"
)

func newJSONCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "json FILE",
		Short: "Convert a trace file to a JSON array",
		Long: `json renders every entry with its message type's JSON converter.
Types unknown to the built-in message set are written as placeholder
objects naming the message id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := trace.LoadFile(args[0])
			if err != nil {
				return err
			}
			reg, err := localRegistry()
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				fp, err := os.Create(output)
				if err != nil {
					return err
				}
				defer fp.Close()
				w = fp
			}
			if err := trace.SaveJSON(w, localize(f, reg).Ring(), reg); err != nil {
				return err
			}
			_, err = fmt.Fprintln(w)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write JSON to this path instead of stdout")
	return cmd
}
