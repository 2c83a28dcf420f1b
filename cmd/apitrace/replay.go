package main

import (
	"context"
	"fmt"
	"io"

	"github.com/danmuck/apibus/internal/dispatch"
	"github.com/danmuck/apibus/internal/memclnt"
	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/trace"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/spf13/cobra"
)

// printSender shows replies instead of delivering them.
type printSender struct {
	reg *registry.Registry
	w   io.Writer
}

func (p printSender) Send(_ context.Context, clientIndex uint32, b *wire.Buffer) error {
	id, err := b.ID()
	if err != nil {
		return err
	}
	d, _ := p.reg.Entry(id)
	fmt.Fprintf(p.w, "reply %s to client %d\n", d.Name, clientIndex)
	if d.Print != nil {
		d.Print(b.Bytes(), p.w)
	}
	return nil
}

func newReplayCmd() *cobra.Command {
	var printRequests bool
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Re-dispatch the requests of a trace file and print the replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := trace.LoadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			reg := registry.New()
			d := dispatch.New(reg, nil, nil, dispatch.WithPrintWriter(out))
			d.SetPrint(printRequests)
			svc := memclnt.NewService(reg, printSender{reg: reg, w: out},
				memclnt.WithProgram("apitrace", version),
				memclnt.WithMissingClient(d.IncMissingClients),
			)
			if err := memclnt.Register(reg, svc); err != nil {
				return err
			}

			stats, err := d.ReplayTrace(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "replayed %d of %d messages (%d skipped)\n", stats.Replayed, stats.Total, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printRequests, "print", false, "print each request before it is handled")
	return cmd
}
