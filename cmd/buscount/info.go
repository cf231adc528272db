package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"

	"github.com/scbio/buscount/bustools"
	"github.com/scbio/buscount/executil"
	"github.com/scbio/buscount/kallisto"
	"github.com/scbio/buscount/technology"
)

func newCmdInfo() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "info",
		Short: "Show resolved tool binaries and supported technologies",
	}
	kallistoPath := cmd.Flags.String("kallisto", "", "Path to the kallisto binary. By default $PATH is searched.")
	bustoolsPath := cmd.Flags.String("bustools", "", "Path to the bustools binary. By default $PATH is searched.")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		return runInfo(env, *kallistoPath, *bustoolsPath)
	})
	return cmd
}

func runInfo(env *cmdline.Env, kallistoPath, bustoolsPath string) error {
	ctx := vcontext.Background()
	runner := executil.New(nil)

	for _, tool := range []struct {
		name       string
		path       string
		minVersion string
	}{
		{"kallisto", kallistoPath, kallisto.MinVersion},
		{"bustools", bustoolsPath, bustools.MinVersion},
	} {
		path, version := "not found", ""
		switch tool.name {
		case "kallisto":
			if t, err := kallisto.New(tool.path, runner); err == nil {
				path = t.Path
				if version, err = t.Version(ctx); err != nil {
					version = fmt.Sprintf("unknown (%v)", err)
				}
			}
		case "bustools":
			if t, err := bustools.New(tool.path, runner); err == nil {
				path = t.Path
				if version, err = t.Version(ctx); err != nil {
					version = fmt.Sprintf("unknown (%v)", err)
				}
			}
		}
		fmt.Fprintf(env.Stdout, "%s: %s", tool.name, path)
		if version != "" {
			fmt.Fprintf(env.Stdout, " (version %s, %s or later required)", version, tool.minVersion)
		}
		fmt.Fprintln(env.Stdout)
	}

	fmt.Fprintln(env.Stdout, "\nSupported technologies:")
	w := tabwriter.NewWriter(env.Stdout, 0, 4, 2, ' ', 0)
	for _, tech := range technology.All() {
		fmt.Fprintf(w, "  %s\t%s\n", tech.Name, tech.Description)
	}
	return w.Flush()
}
