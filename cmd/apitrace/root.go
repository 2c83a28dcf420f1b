package main

import (
	"github.com/danmuck/apibus/internal/logging"
	"github.com/danmuck/apibus/internal/memclnt"
	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/trace"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:   "apitrace",
		Short: "Inspect, export and replay binary API trace files",
		Long: `apitrace reads the binary trace files written by apibusd (trace save
or the post-mortem dump) and shows, converts or re-dispatches their
messages against the built-in message set.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime(logging.WithLevel(flags.logLevel))
		},
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level: trace|debug|info|warn|error|off")

	root.AddCommand(newInspectCmd())
	root.AddCommand(newJSONCmd())
	root.AddCommand(newReplayCmd())
	return root
}

// localRegistry knows the built-in message set, without handlers.
func localRegistry() (*registry.Registry, error) {
	reg := registry.New()
	if err := memclnt.Register(reg, nil); err != nil {
		return nil, err
	}
	return reg, nil
}

// localize rewrites the file's message ids into reg's id space. Entries
// whose type reg does not know keep their recorded id.
func localize(f *trace.File, reg *registry.Registry) *trace.File {
	remap := reg.Remap(f.Table)
	out := &trace.File{Header: f.Header, Entries: make([][]byte, 0, len(f.Entries))}
	for _, raw := range f.Entries {
		msg := make([]byte, len(raw))
		copy(msg, raw)
		if id, err := wire.PeekID(msg); err == nil {
			if local, ok := remap[id]; ok {
				_ = wire.SetID(msg, local)
			}
		}
		out.Entries = append(out.Entries, msg)
	}
	return out
}
