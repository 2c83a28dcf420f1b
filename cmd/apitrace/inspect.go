package main

import (
	"fmt"

	"github.com/danmuck/apibus/internal/trace"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var showTable bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print a trace file's header and one line per entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := trace.LoadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "file:    %s\n", args[0])
			fmt.Fprintf(out, "endian:  %s\n", f.Header.Endian)
			fmt.Fprintf(out, "wrapped: %t\n", f.Header.Wrapped)
			fmt.Fprintf(out, "entries: %d\n", f.Header.Count)
			fmt.Fprintf(out, "table:   %d messages, %d bytes\n", len(f.Table), f.Header.TableSize)

			if showTable {
				for _, e := range f.Table {
					fmt.Fprintf(out, "  %5d %s\n", e.ID, e.Key)
				}
			}

			names := f.Names()
			for i, msg := range f.Entries {
				id, err := wire.PeekID(msg)
				if err != nil {
					fmt.Fprintf(out, "[%d] malformed: %v\n", i, err)
					continue
				}
				name := names[id]
				if name == "" {
					name = "?"
				}
				fmt.Fprintf(out, "[%d] id=%d %s len=%d\n", i, id, name, len(msg))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showTable, "table", false, "also list the message table")
	return cmd
}
