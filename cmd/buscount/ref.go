package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"

	"github.com/scbio/buscount/executil"
	"github.com/scbio/buscount/kallisto"
	"github.com/scbio/buscount/reference"
)

type refFlags struct {
	download     string
	index        string
	t2g          string
	cdnaT2C      string
	intronT2C    string
	out          string
	tempDir      string
	kmer         int
	overwrite    bool
	kallistoPath string
}

func newCmdRef() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "ref",
		Short: "Download a prebuilt reference or build a kallisto index",
		Long: `Download a prebuilt reference (-d) or build a kallisto index from a
transcriptome FASTA given as the argument.`,
		ArgsName: "[fasta]",
	}
	flags := refFlags{}
	cmd.Flags.StringVar(&flags.download, "d", "", fmt.Sprintf("Download a prebuilt reference instead of building one. One of: %s.", strings.Join(reference.Names(), ", ")))
	cmd.Flags.StringVar(&flags.index, "i", "", "Path to write the kallisto index to")
	cmd.Flags.StringVar(&flags.t2g, "g", "", "Path to write the transcript-to-gene mapping to (prebuilt references)")
	cmd.Flags.StringVar(&flags.cdnaT2C, "c1", "", "Path to write the cDNA capture list to (velocity references)")
	cmd.Flags.StringVar(&flags.intronT2C, "c2", "", "Path to write the intron capture list to (velocity references)")
	cmd.Flags.StringVar(&flags.out, "o", ".", "Directory for reference files without an explicit destination")
	cmd.Flags.StringVar(&flags.tempDir, "tmp", "tmp", "Path to the temporary directory")
	cmd.Flags.IntVar(&flags.kmer, "k", 0, "k-mer size of the index. 0 uses the kallisto default.")
	cmd.Flags.BoolVar(&flags.overwrite, "overwrite", false, "Replace reference files that already exist")
	cmd.Flags.StringVar(&flags.kallistoPath, "kallisto", "", "Path to the kallisto binary. By default $PATH is searched.")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		return runRef(argv, flags)
	})
	return cmd
}

func runRef(argv []string, flags refFlags) error {
	ctx := vcontext.Background()
	if flags.download != "" {
		if len(argv) != 0 {
			return fmt.Errorf("a fasta argument and -d are mutually exclusive")
		}
		ref, err := reference.Get(flags.download)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(flags.tempDir, 0777); err != nil {
			return err
		}
		return ref.Download(ctx, flags.out, flags.tempDir, map[string]string{
			"i":  flags.index,
			"g":  flags.t2g,
			"c1": flags.cdnaT2C,
			"c2": flags.intronT2C,
		}, flags.overwrite)
	}

	if len(argv) != 1 {
		return fmt.Errorf("ref takes one fasta argument, but got %v", argv)
	}
	if flags.index == "" {
		return fmt.Errorf("an index output path is required (-i)")
	}
	if _, err := os.Stat(flags.index); err == nil && !flags.overwrite {
		return fmt.Errorf("%s already exists (use -overwrite to replace)", flags.index)
	}
	kallistoTool, err := kallisto.New(flags.kallistoPath, executil.New(nil))
	if err != nil {
		return err
	}
	indexPath, err := kallistoTool.Index(ctx, argv[0], flags.index, flags.kmer)
	if err != nil {
		return err
	}
	log.Printf("Wrote index %s", indexPath)
	return nil
}
