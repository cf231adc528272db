package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"

	"github.com/scbio/buscount/bustools"
	"github.com/scbio/buscount/count"
	"github.com/scbio/buscount/executil"
	"github.com/scbio/buscount/kallisto"
	"github.com/scbio/buscount/stats"
	"github.com/scbio/buscount/technology"
)

type countFlags struct {
	index           string
	t2g             string
	tech            string
	out             string
	whitelist       string
	batch           string
	tcc             bool
	mm              bool
	filter          string
	filterThreshold int
	workflow        string
	kite            bool
	fb              bool
	threads         int
	memory          string
	tempDir         string
	keepTemp        bool
	overwrite       bool
	cellranger      bool
	strand          string
	paired          bool
	fragmentLength  int
	fragmentSD      int
	umiGene         bool
	em              bool
	noInspect       bool
	dryRun          bool
	nucleus         bool
	cdnaT2C         string
	intronT2C       string
	cellIDs         string
	kallistoPath    string
	bustoolsPath    string
	whitelistDir    string
}

func newCmdCount() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "count",
		Short:    "Generate a count matrix from sequencing reads",
		ArgsName: "fastqs...",
	}
	flags := countFlags{}
	cmd.Flags.StringVar(&flags.index, "i", "", "Path to the kallisto index. A comma-separated list triggers the split-index path.")
	cmd.Flags.StringVar(&flags.t2g, "g", "", "Path to the transcript-to-gene mapping")
	cmd.Flags.StringVar(&flags.tech, "x", "", "Single-cell technology used (see `buscount info` for the list)")
	cmd.Flags.StringVar(&flags.out, "o", ".", "Path to the output directory")
	cmd.Flags.StringVar(&flags.whitelist, "w", "", `Path to a barcode whitelist. By default, the technology's packaged
whitelist is used, or one is generated with bustools whitelist.`)
	cmd.Flags.StringVar(&flags.batch, "batch", "", "Path to a batch definition file instead of fastq arguments")
	cmd.Flags.BoolVar(&flags.tcc, "tcc", false, "Count per transcript-compatibility class instead of per gene")
	cmd.Flags.BoolVar(&flags.mm, "mm", false, "Include reads that pseudoalign to multiple genes")
	cmd.Flags.StringVar(&flags.filter, "filter", "", `Produce a filtered matrix in addition to the unfiltered one.
The only supported filter is "bustools".`)
	cmd.Flags.IntVar(&flags.filterThreshold, "filter-threshold", 0, "Barcode count threshold of the filter whitelist. 0 lets bustools pick one.")
	cmd.Flags.StringVar(&flags.workflow, "workflow", "standard", "One of standard, velocity, smartseq, smartseq3")
	cmd.Flags.BoolVar(&flags.kite, "kite", false, "Name matrix columns as features instead of genes")
	cmd.Flags.BoolVar(&flags.fb, "fb", false, "Project feature-barcoding reads onto cell barcodes")
	cmd.Flags.IntVar(&flags.threads, "t", 8, "Number of threads")
	cmd.Flags.StringVar(&flags.memory, "m", "4G", "Maximum memory for bustools sort")
	cmd.Flags.StringVar(&flags.tempDir, "tmp", "tmp", "Path to the temporary directory")
	cmd.Flags.BoolVar(&flags.keepTemp, "keep-tmp", false, "Do not delete the temporary directory when done")
	cmd.Flags.BoolVar(&flags.overwrite, "overwrite", false, "Re-run the alignment even when its outputs already exist")
	cmd.Flags.BoolVar(&flags.cellranger, "cellranger", false, "Also convert the matrix to cellranger format")
	cmd.Flags.StringVar(&flags.strand, "strand", "", "Strandedness: unstranded, forward or reverse")
	cmd.Flags.BoolVar(&flags.paired, "paired", false, "Reads are paired-end")
	cmd.Flags.IntVar(&flags.fragmentLength, "fragment-l", 0, "Mean fragment length for single-end quantification")
	cmd.Flags.IntVar(&flags.fragmentSD, "fragment-s", 0, "Fragment length standard deviation for single-end quantification")
	cmd.Flags.BoolVar(&flags.umiGene, "umi-gene", false, "Deduplicate UMIs per gene")
	cmd.Flags.BoolVar(&flags.em, "em", false, "Estimate gene abundances with the EM algorithm")
	cmd.Flags.BoolVar(&flags.noInspect, "no-inspect", false, "Skip generation of inspect.json")
	cmd.Flags.BoolVar(&flags.dryRun, "dry-run", false, "Print the commands instead of running them")
	cmd.Flags.BoolVar(&flags.nucleus, "nucleus", false, "Single-nucleus run: also write the summed spliced+unspliced matrix (velocity workflow)")
	cmd.Flags.StringVar(&flags.cdnaT2C, "c1", "", "Path to the cDNA transcripts-to-capture list (velocity workflow)")
	cmd.Flags.StringVar(&flags.intronT2C, "c2", "", "Path to the intron transcripts-to-capture list (velocity workflow)")
	cmd.Flags.StringVar(&flags.cellIDs, "cell-ids", "", "Path to a file with one cell ID per line (smartseq workflow)")
	cmd.Flags.StringVar(&flags.kallistoPath, "kallisto", "", "Path to the kallisto binary. By default $PATH is searched.")
	cmd.Flags.StringVar(&flags.bustoolsPath, "bustools", "", "Path to the bustools binary. By default $PATH is searched.")
	cmd.Flags.StringVar(&flags.whitelistDir, "whitelist-dir", "", "Directory holding the packaged barcode whitelists")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		return runCount(env, argv, flags)
	})
	return cmd
}

func runCount(env *cmdline.Env, argv []string, flags countFlags) error {
	ctx := vcontext.Background()
	if flags.index == "" {
		return fmt.Errorf("an index is required (-i)")
	}
	if flags.t2g == "" {
		return fmt.Errorf("a transcript-to-gene mapping is required (-g)")
	}
	if flags.batch != "" && len(argv) > 0 {
		return fmt.Errorf("fastq arguments and --batch are mutually exclusive")
	}
	if flags.filter != "" && flags.filter != string(count.FilterBustools) {
		return fmt.Errorf("unknown filter %q", flags.filter)
	}
	techName := flags.tech
	if flags.workflow == "smartseq3" && techName == "" {
		techName = "SMARTSEQ3"
	}
	tech, err := technology.Get(techName)
	if err != nil {
		return err
	}
	strand, err := kallisto.ParseStrand(flags.strand)
	if err != nil {
		return err
	}

	st := stats.New(os.Args)
	var runner executil.Runner
	if flags.dryRun {
		runner = executil.NewDry(env.Stdout)
	} else {
		runner = executil.New(st.Observe)
	}
	kallistoTool, err := kallisto.New(flags.kallistoPath, runner)
	if err != nil {
		return err
	}
	bustoolsTool, err := bustools.New(flags.bustoolsPath, runner)
	if err != nil {
		return err
	}
	if !flags.dryRun {
		version, err := kallistoTool.CheckVersion(ctx)
		if err != nil {
			return err
		}
		st.SetVersion("kallisto", version)
		if version, err = bustoolsTool.CheckVersion(ctx); err != nil {
			return err
		}
		st.SetVersion("bustools", version)
	}

	p := &count.Pipeline{
		Kallisto:     kallistoTool,
		Bustools:     bustoolsTool,
		Stats:        st,
		WhitelistDir: flags.whitelistDir,
		TempDir:      flags.tempDir,
		DryRun:       flags.dryRun,
	}
	opts := count.Opts{
		Technology:      tech,
		IndexPaths:      strings.Split(flags.index, ","),
		T2GPath:         flags.t2g,
		OutDir:          flags.out,
		Fastqs:          argv,
		BatchPath:       flags.batch,
		WhitelistPath:   flags.whitelist,
		TCC:             flags.tcc,
		MultiMapping:    flags.mm,
		Filter:          count.Filter(flags.filter),
		FilterThreshold: flags.filterThreshold,
		Kite:            flags.kite,
		FeatureBarcode:  flags.fb,
		Threads:         flags.threads,
		Memory:          flags.memory,
		Overwrite:       flags.overwrite,
		Cellranger:      flags.cellranger,
		Inspect:         !flags.noInspect,
		FragmentLength:  flags.fragmentLength,
		FragmentSD:      flags.fragmentSD,
		Paired:          flags.paired,
		Strand:          strand,
		UMIGene:         flags.umiGene,
		EM:              flags.em,
		CDNAT2CPath:     flags.cdnaT2C,
		IntronT2CPath:   flags.intronT2C,
		Nucleus:         flags.nucleus,
	}

	switch flags.workflow {
	case "standard":
		_, err = p.Count(ctx, opts)
	case "velocity":
		if flags.cdnaT2C == "" || flags.intronT2C == "" {
			return fmt.Errorf("the velocity workflow requires both capture lists (-c1, -c2)")
		}
		_, err = p.Velocity(ctx, opts)
	case "smartseq":
		var smartseqOpts count.SmartseqOpts
		if smartseqOpts, err = buildSmartseqOpts(argv, flags); err != nil {
			return err
		}
		_, err = p.Smartseq(ctx, smartseqOpts)
	case "smartseq3":
		_, err = p.Smartseq3(ctx, opts)
	default:
		return fmt.Errorf("unknown workflow %q", flags.workflow)
	}
	if err != nil {
		return err
	}
	if !flags.keepTemp && !flags.dryRun {
		if err := os.RemoveAll(flags.tempDir); err != nil {
			log.Error.Printf("Removing temporary directory: %v", err)
		}
	}
	log.Printf("Done")
	return nil
}

func buildSmartseqOpts(argv []string, flags countFlags) (count.SmartseqOpts, error) {
	if len(argv) == 0 || len(argv)%2 != 0 {
		return count.SmartseqOpts{}, fmt.Errorf("the smartseq workflow takes an even number of fastq arguments, one pair per cell")
	}
	opts := count.SmartseqOpts{
		IndexPaths: strings.Split(flags.index, ","),
		T2GPath:    flags.t2g,
		OutDir:     flags.out,
		Threads:    flags.threads,
		Overwrite:  flags.overwrite,
	}
	for i := 0; i < len(argv); i += 2 {
		opts.FastqPairs = append(opts.FastqPairs, [2]string{argv[i], argv[i+1]})
	}
	if flags.cellIDs != "" {
		data, err := ioutil.ReadFile(flags.cellIDs)
		if err != nil {
			return count.SmartseqOpts{}, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				opts.CellIDs = append(opts.CellIDs, line)
			}
		}
	}
	return opts, nil
}
