// Command authcore-perfcheck compares two `go test -bench` outputs and fails
// when a tracked benchmark regresses past a threshold.
//
//	go test -run=^$ -bench=. -count=6 . > new.txt
//	authcore-perfcheck -baseline old.txt -candidate new.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const defaultThreshold = 0.30

const defaultTracked = "BenchmarkValidateJWTOnly:ns/op+allocs/op," +
	"BenchmarkValidateStrict:ns/op+allocs/op," +
	"BenchmarkRefresh:ns/op," +
	"BenchmarkRender:ns/op"

// samples maps benchmark name to unit to every observed value.
type samples map[string]map[string][]float64

type tracked map[string][]string

type row struct {
	Benchmark string
	Unit      string
	Baseline  float64
	Candidate float64
	Delta     float64
}

func main() {
	var (
		baselinePath  string
		candidatePath string
		trackList     string
		threshold     float64
	)
	flag.StringVar(&baselinePath, "baseline", "", "path to baseline benchmark output")
	flag.StringVar(&candidatePath, "candidate", "", "path to candidate benchmark output")
	flag.StringVar(&trackList, "track", defaultTracked, "comma separated Benchmark:unit+unit list")
	flag.Float64Var(&threshold, "threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	flag.Parse()

	if baselinePath == "" || candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}
	track, err := parseTracked(trackList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-track: %v\n", err)
		os.Exit(2)
	}

	baseline, err := parseFile(baselinePath, track)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := parseFile(candidatePath, track)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse candidate: %v\n", err)
		os.Exit(1)
	}

	rows, failures := compare(baseline, candidate, track, threshold)
	fmt.Println("benchmark unit baseline candidate delta")
	for _, r := range rows {
		fmt.Printf("%s %s %.3f %.3f %+0.2f%%\n", r.Benchmark, r.Unit, r.Baseline, r.Candidate, r.Delta*100)
	}
	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "performance regression threshold exceeded:")
		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", f)
		}
		os.Exit(1)
	}
}

func parseTracked(list string) (tracked, error) {
	out := tracked{}
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, units, ok := strings.Cut(item, ":")
		if !ok || name == "" || units == "" {
			return nil, fmt.Errorf("bad entry %q", item)
		}
		out[name] = append(out[name], strings.Split(units, "+")...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no benchmarks tracked")
	}
	return out, nil
}

// compare returns rows in a stable order and a failure per regression or
// missing sample.
func compare(baseline, candidate samples, track tracked, threshold float64) ([]row, []string) {
	names := make([]string, 0, len(track))
	for name := range track {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		rows     []row
		failures []string
	)
	for _, name := range names {
		for _, unit := range track[name] {
			base, cand := baseline[name][unit], candidate[name][unit]
			if len(base) == 0 || len(cand) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", name, unit))
				continue
			}
			bm, cm := median(base), median(cand)
			if bm <= 0 {
				if cm > 0 {
					failures = append(failures, fmt.Sprintf("%s %s rose from zero to %.3f", name, unit, cm))
				}
				rows = append(rows, row{Benchmark: name, Unit: unit, Baseline: bm, Candidate: cm})
				continue
			}
			delta := (cm - bm) / bm
			rows = append(rows, row{Benchmark: name, Unit: unit, Baseline: bm, Candidate: cm, Delta: delta})
			if delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", name, unit, delta*100, threshold*100))
			}
		}
	}
	return rows, failures
}

func parseFile(path string, track tracked) (samples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f, track)
}

func parse(r io.Reader, track tracked) (samples, error) {
	out := samples{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := normalizeName(fields[0])
		if _, ok := track[name]; !ok {
			continue
		}
		if out[name] == nil {
			out[name] = map[string][]float64{}
		}
		// fields[1] is the iteration count; value/unit pairs follow.
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			out[name][fields[i+1]] = append(out[name][fields[i+1]], v)
		}
	}
	return out, scanner.Err()
}

// normalizeName strips the -GOMAXPROCS suffix.
func normalizeName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
