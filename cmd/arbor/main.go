package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dd0wney/cluso-arbor/pkg/arbor"
	"github.com/dd0wney/cluso-arbor/pkg/config"
	"github.com/dd0wney/cluso-arbor/pkg/export"
	"github.com/dd0wney/cluso-arbor/pkg/logging"
	"github.com/dd0wney/cluso-arbor/pkg/metrics"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		runInfo(args)
	case "fields":
		runFields(args)
	case "export":
		runExport(args)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	usage := `arbor - merger tree catalog reader and converter

Usage:
  arbor <command> [options] <catalog>

Available Commands:
  info        Show format, tree count and cosmological parameters
  fields      List the fields of a catalog with units and aliases
  export      Convert a catalog, or part of it, to the native layout
  help        Show this help message

Common Flags:
  -config FILE        YAML settings file
  -metrics-out FILE   Write collected metrics in text format on exit

Examples:
  arbor info tree_0_0_0.dat
  arbor fields -config arbor.yaml forests.bin
  arbor export -o out/arbor.arb -fields mass,position_x locations.dat
`
	fmt.Print(usage)
}

// session holds what every command loads before it runs.
type session struct {
	cfg        *config.Config
	logger     logging.Logger
	metrics    *metrics.Registry
	metricsOut string
}

func commonFlags(fs *flag.FlagSet) (configFile, metricsOut *string) {
	configFile = fs.String("config", "", "YAML settings file")
	metricsOut = fs.String("metrics-out", "", "Write collected metrics to this file")
	return
}

func newSession(configFile, metricsOut string) *session {
	s := &session{
		metrics:    metrics.NewRegistry(),
		metricsOut: metricsOut,
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		s.fatalf("Failed to load config: %v", err)
	}
	s.cfg = cfg
	s.logger = cfg.Logger()
	return s
}

func (s *session) load(fs *flag.FlagSet) *arbor.Arbor {
	if fs.NArg() != 1 {
		s.fatalf("%s expects exactly one catalog path", fs.Name())
	}
	a, err := arbor.Load(fs.Arg(0), s.cfg.ArborOptions(s.logger, s.metrics))
	if err != nil {
		s.fatalf("Failed to load %s: %v", fs.Arg(0), err)
	}
	return a
}

// close writes the metrics file, if one was asked for.
func (s *session) close() {
	if s.metricsOut == "" {
		return
	}
	if err := prometheus.WriteToTextfile(s.metricsOut, s.metrics.GetPrometheusRegistry()); err != nil {
		log.Printf("Failed to write metrics: %v", err)
	}
}

// fatalf writes the metrics collected so far, then exits. log.Fatalf skips
// deferred calls.
func (s *session) fatalf(format string, args ...any) {
	s.close()
	log.Fatalf(format, args...)
}

func runInfo(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	configFile, metricsOut := commonFlags(fs)
	countNodes := fs.Bool("nodes", false, "Read every tree to count nodes")
	fs.Parse(args)

	s := newSession(*configFile, *metricsOut)
	defer s.close()
	a := s.load(fs)

	p := a.Parameters()
	fmt.Printf("Catalog:        %s\n", a.Path())
	fmt.Printf("Format:         %s\n", a.Format())
	fmt.Printf("Trees:          %d\n", a.Size())
	fmt.Printf("Data files:     %d\n", len(a.DataFiles()))
	fmt.Printf("Hubble:         %g\n", p.HubbleConstant)
	fmt.Printf("Omega_matter:   %g\n", p.OmegaMatter)
	fmt.Printf("Omega_lambda:   %g\n", p.OmegaLambda)
	fmt.Printf("Box size:       %g %s\n", p.BoxSize, p.BoxSizeUnits)

	if *countNodes {
		sizes, err := a.TreeSizes(a.RootNodes())
		if err != nil {
			s.fatalf("Failed to read tree sizes: %v", err)
		}
		total := 0
		for _, n := range sizes {
			total += n
		}
		fmt.Printf("Nodes:          %d\n", total)
	}
}

func runFields(args []string) {
	fs := flag.NewFlagSet("fields", flag.ExitOnError)
	configFile, metricsOut := commonFlags(fs)
	fs.Parse(args)

	s := newSession(*configFile, *metricsOut)
	defer s.close()
	a := s.load(fs)

	fi := a.FieldInfo()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tTYPE\tUNITS\tALIASES\tDESCRIPTION")
	for _, name := range fi.FieldList() {
		e, _ := fi.Get(name)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, e.DType, e.Units, strings.Join(e.Aliases, ","), e.Description)
	}
	w.Flush()
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configFile, metricsOut := commonFlags(fs)
	output := fs.String("o", "", "Output directory, or header file ending in .arb")
	fieldList := fs.String("fields", "all", "Comma-separated fields to write")
	threshold := fs.Int("threshold", 0, "Nodes per data file (overrides config)")
	fs.Parse(args)

	s := newSession(*configFile, *metricsOut)
	defer s.close()
	a := s.load(fs)

	path := *output
	if path == "" {
		path = filepath.Join(a.Dir(), "arbor")
	}
	opts, err := s.cfg.ExportOptions(path, s.logger, s.metrics)
	if err != nil {
		s.fatalf("Invalid export settings: %v", err)
	}
	if *threshold > 0 {
		opts.GroupThreshold = *threshold
	}
	opts.Fields = splitFields(*fieldList)

	header, err := export.Export(a, opts)
	if err != nil {
		s.fatalf("Export failed: %v", err)
	}
	fmt.Println(header)
}

func splitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
