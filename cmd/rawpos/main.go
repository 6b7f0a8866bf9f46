// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	m "github.com/mkhts/rawpos"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func main() {

	// Parse command line arguments
	args, err := parseArgs()
	if err != nil {
		m.PrintE(err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Run the main application
	if err := runApplication(ctx, args); err != nil {
		m.PrintE(err)
		os.Exit(1)
	}
}

// Main application processing
func runApplication(ctx context.Context, args cmdOpt) error {

	// Load input files
	meas, nav, err := loadInputFiles(args)
	if err != nil {
		return fmt.Errorf("failed to load input files: %w", err)
	}
	meas = filterMeasurements(meas, args)
	if len(meas) == 0 {
		return fmt.Errorf("no GPS raw measurements in %s", args.logFn)
	}

	if m.DBG_ >= 2 {
		m.PrintA("--- nav data (%s)---\n", filepath.Base(args.navFn))
		fmt.Fprintln(m.DbgOut, nav)
	}

	// Ephemeris source and metrics
	reg := prometheus.NewRegistry()
	metrics, err := m.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	var src m.EphemerisSource = nav
	if !args.noCache {
		src = m.NewCachedSource(nav, &args.cacheOpt, metrics)
	}

	// Prepare output file
	pos, err := prepareOutput(args)
	if err != nil {
		return fmt.Errorf("failed to prepare output: %w", err)
	}
	defer closeOutput(pos)

	// Process epochs
	pl := m.NewPipeline(src, setPipelineOpt(&args), metrics)
	results, runErr := pl.Run(ctx, meas)

	// Print header and results
	if !args.noPosHeader {
		printPosHeader(pos, os.Args[0], args.logFn, args.navFn, results)
	}
	printResults(args, results, pos)

	if args.stats {
		if err := dumpStats(m.DbgOut, reg); err != nil {
			return fmt.Errorf("failed to gather metrics: %w", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("processing stopped: %w", runErr)
	}
	return nil
}

// Load input files
func loadInputFiles(args cmdOpt) ([]m.RawMeasurement, *m.Nav, error) {

	meas, err := readGnssLog(args.logFn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read raw measurement log: %w", err)
	}

	nav, err := readNav(args.navFn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read navigation file: %w", err)
	}

	return meas, nav, nil
}

// Keep measurements within the -ts and -te range
func filterMeasurements(meas []m.RawMeasurement, args cmdOpt) []m.RawMeasurement {
	out := meas[:0:0]
	for _, r := range meas {
		t := r.GpsTime()
		// Skip epochs before processing start time
		if t.Before(args.ts, true) {
			continue
		}
		// Stop after processing end time
		if t.After(args.te, true) {
			break
		}
		out = append(out, r)
	}
	return out
}

// Prepare output file
func prepareOutput(args cmdOpt) (io.WriteCloser, error) {

	// Use stdout if no output file is specified
	if len(args.posFn) == 0 {
		return &nopCloser{os.Stdout}, nil
	}

	// Create output file
	posf, err := os.Create(args.posFn)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return posf, nil
}

// Close output file
func closeOutput(pos io.WriteCloser) {
	if pos != nil {
		pos.Close()
	}
}

// Print the solution of every epoch in epoch order
func printResults(args cmdOpt, results []m.EpochResult, pos io.Writer) {
	for _, r := range results {
		// Skip epochs that are not divisible by the specified time interval
		if args.ti > 0 && !r.Time.Divisible(args.ti) {
			continue
		}
		if r.Err != nil {
			m.PrintB(r.Time, "Error processing epoch %d: %s\n", r.Epoch, r.Err.Error())
			continue
		}
		if r.Sol == nil {
			continue // Not processed
		}
		printPos(r.Sol, pos)
	}
}

// nopCloser - WriteCloser that ignores close operations
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Structure to hold command line argument information
type cmdOpt struct {
	logFn        string
	navFn        string
	posFn        string
	cfgFn        string
	ts, te       time.Time
	ti           int
	noPosHeader  bool
	exSats       m.SatVar
	cnMask       float64
	maxPrSec     float64
	weighted     bool
	earthRotCorr bool
	maxDop       float64
	maxIter      int
	convThres    float64
	workers      int
	noCache      bool
	cacheOpt     m.CacheOpt
	stats        bool
}

// Parse command line arguments
func parseArgs() (a cmdOpt, err error) {
	flag.Usage = func() {
		m.PrintA(`
[Usage]
	%s [Options] gnss_log.txt nav_file.rnx

[Options]
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	pOpt := m.NewPsrOpt()
	sOpt := m.NewSppOpt()
	lOpt := m.NewLsOpt()
	a.cacheOpt = *m.NewCacheOpt()
	flag.StringVar(&a.cfgFn, "c", "", "YAML configuration file. Options given on the command line override its values.")
	var ts_, te_ m.TimeStr
	flag.TextVar(&ts_, "ts", m.NewTimeStr(time.Time{}), "Start epoch specification. Enclose in quotes like -ts \"2023/01/01 00:00:00\"")
	flag.TextVar(&te_, "te", m.NewTimeStr(time.Now().UTC()), "End epoch specification. Enclose in quotes like -te \"2023/01/02 00:00:00\". This epoch is also included.")
	flag.IntVar(&a.ti, "ti", 0, "Output interval. An epoch is output when its second value is divisible by the specified value. Integer only. Omit or set to 0 to output all epochs.")
	flag.StringVar(&a.posFn, "o", "", "Output pos file path. If not specified, output to stdout.")
	flag.BoolVar(&a.noPosHeader, "nh", false, "Do not output header section of pos file.")
	flag.Var(&a.exSats, "ex", "List of satellites to exclude. Comma-separated satellite names without spaces like G02,G14.")
	flag.Float64Var(&a.cnMask, "cn", pOpt.CnMask, "Signal strength mask [dB-Hz]. Set to 0 for no mask.")
	flag.Float64Var(&a.maxPrSec, "maxpr", pOpt.MaxPrSec, "Pseudoranges at or above this value [s] are discarded.")
	flag.BoolVar(&a.weighted, "w", sOpt.Weighted, "Weight pseudoranges by their reported uncertainty.")
	flag.BoolVar(&a.earthRotCorr, "er", sOpt.EarthRotCorr, "Correct satellite positions for the earth rotation during signal flight.")
	flag.Float64Var(&a.maxDop, "d", sOpt.MaxDop, "Reject solutions whose GDOP exceeds this value. Set to 0 to accept any GDOP.")
	flag.IntVar(&a.maxIter, "it", lOpt.MaxIter, "Maximum number of least squares iterations.")
	flag.Float64Var(&a.convThres, "conv", lOpt.ConvThres, "Least squares convergence threshold of the position update [m].")
	flag.IntVar(&a.workers, "j", 0, "Number of epochs processed in parallel. 0 uses all CPUs.")
	flag.BoolVar(&a.noCache, "nc", false, "Do not memoize ephemeris lookups.")
	flag.BoolVar(&a.stats, "stats", false, "Print processing counters to stderr when finished.")
	var dbg int
	flag.IntVar(&dbg, "x", 0, "Debug information display. Specify level value. 0(OFF), 1(display), 2(detailed display), 3(more detailed), 4(most detailed)")
	flag.Parse()
	if flag.NArg() != 2 {
		return a, fmt.Errorf("too less or many arguments")
	}
	a.logFn = flag.Arg(0)
	a.navFn = flag.Arg(1)
	a.ts = time.Time(ts_)
	a.te = time.Time(te_)
	m.DBG_ = dbg

	// Configuration file
	if a.cfgFn != "" {
		cfg, err := loadConfig(a.cfgFn)
		if err != nil {
			return a, fmt.Errorf("failed to load configuration: %w", err)
		}
		set := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		cfg.apply(&a, set)
	}
	err = a.check()
	return
}

func setPipelineOpt(args *cmdOpt) *m.PipelineOpt {
	opt := m.NewPipelineOpt()
	opt.Workers = args.workers
	opt.Psr.CnMask = args.cnMask
	opt.Psr.MaxPrSec = args.maxPrSec
	opt.Spp.ExSats = args.exSats
	opt.Spp.Weighted = args.weighted
	opt.Spp.EarthRotCorr = args.earthRotCorr
	opt.Spp.MaxDop = args.maxDop
	opt.Spp.Ls.MaxIter = args.maxIter
	opt.Spp.Ls.ConvThres = args.convThres
	return opt
}

// Read raw measurement log
func readGnssLog(fn string) ([]m.RawMeasurement, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	meas, bad, err := m.ReadGnssLog(f)
	if err != nil {
		return nil, err
	}
	for _, e := range bad {
		m.PrintD(1, "%s: %s\n", filepath.Base(fn), e.Error())
	}
	return meas, nil
}

// Read navigation file
func readNav(fn string) (*m.Nav, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	nav, err := m.ReadNav(f)
	if err != nil {
		return nil, err
	}
	return nav, nil
}

// Print pos file header
func printPosHeader(pos io.Writer, cmd string, logFn, navFn string, results []m.EpochResult) {
	fmt.Fprintf(pos, "%% program   : %s\n", filepath.Base(cmd))
	fmt.Fprintf(pos, "%% inp file  : %s\n", logFn)
	fmt.Fprintf(pos, "%% inp file  : %s\n", navFn)
	if len(results) > 0 {
		fmt.Fprintf(pos, "%% obs start : %s\n", timeStr(results[0].Time))
		fmt.Fprintf(pos, "%% obs end   : %s\n", timeStr(results[len(results)-1].Time))
	}
	fmt.Fprintf(pos, "%%  GPST                 latitude(deg) longitude(deg)  height(m)   Q  ns      clk_bias(s)     resnorm(m)       gdop       pdop       hdop       vdop\n")
}

// Return epoch date and time as string
func timeStr(t m.GTime) string {
	return fmt.Sprintf("%s(UTC) (week%d %7.1fs)(GPST)", t.ToTime().UTC().Format("2006/01/02 15:04:05.000"), t.Week, t.Sec)
}

// Output POS file
func printPos(sol *m.ReceiverSolution, pos io.Writer) {
	rcvt := m.GTime{
		Week: sol.Time.Week,
		Sec:  math.Round(sol.Time.Sec*1000) / 1000, // Round time to milliseconds
	}
	rcvtStr := rcvt.ToTime().UTC().Format("2006/01/02 15:04:05.000")
	Q := 5 // Single
	fmt.Fprintf(pos, "%s %13.9f %14.9f %10.4f %3d %3d %16.9f %14.4f %10.3f %10.3f %10.3f %10.3f\n",
		rcvtStr, sol.LLH.Lat, sol.LLH.Lon, sol.LLH.Hei, Q, sol.NumSats, sol.ClkBiasSec(), sol.ResNorm,
		sol.Dop["gdop"], sol.Dop["pdop"], sol.Dop["hdop"], sol.Dop["vdop"])
}

// Print gathered counters, one line per series
func dumpStats(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "--- stats ---\n")
	for _, mf := range mfs {
		for _, mt := range mf.GetMetric() {
			name := mf.GetName() + labelStr(mt.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				fmt.Fprintf(w, "%-60s %12.0f\n", name, mt.GetCounter().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := mt.GetHistogram()
				mean := 0.0
				if h.GetSampleCount() > 0 {
					mean = h.GetSampleSum() / float64(h.GetSampleCount())
				}
				fmt.Fprintf(w, "%-60s %12d (mean %.2f)\n", name+"_count", h.GetSampleCount(), mean)
			}
		}
	}
	return nil
}

func labelStr(lps []*dto.LabelPair) string {
	if len(lps) == 0 {
		return ""
	}
	s := make([]string, len(lps))
	for i, lp := range lps {
		s[i] = fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
	}
	sort.Strings(s)
	return "{" + strings.Join(s, ",") + "}"
}
