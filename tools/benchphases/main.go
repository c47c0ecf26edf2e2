// Command benchphases times each phase of turning textual IR into
// executable code — parse, finalize, instruction selection, encode,
// and the JIT's add_module as a whole — the same breakdown
// bench_jit_phases.c printed, adapted to this module's pipeline.
//
// Unlike the original tool, internal/amd64's (and arm64's/riscv64's)
// ISel lowers an unresolved ValGlobal operand to a zero placeholder
// instead of requiring a pre-resolved address, so there is no separate
// "resolve symbols" phase to measure here: resolution happens inside
// add_module, not before ISel.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/pprof/profile"

	"github.com/krystophny/liric/internal/arena"
	"github.com/krystophny/liric/internal/codegen"
	"github.com/krystophny/liric/internal/finalize"
	"github.com/krystophny/liric/internal/ir"
	"github.com/krystophny/liric/internal/jit"
	"github.com/krystophny/liric/internal/parser"

	_ "github.com/krystophny/liric/internal/amd64"
	_ "github.com/krystophny/liric/internal/arm64"
	_ "github.com/krystophny/liric/internal/riscv64"
)

type loadLibs []string

func (l *loadLibs) String() string { return fmt.Sprint([]string(*l)) }
func (l *loadLibs) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func hostTargetName() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "riscv64":
		return "riscv64"
	default:
		return runtime.GOARCH
	}
}

func main() {
	iters := flag.Int("iters", 1, "number of iterations to average over")
	out := flag.String("profile", "", "write a pprof profile.pb.gz of phase costs to this path")
	var libs loadLibs
	flag.Var(&libs, "load-lib", "dynamic library to load before compiling (repeatable)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: benchphases [--iters N] [--load-lib LIB] [--profile FILE] file.ll")
		os.Exit(1)
	}
	src, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}

	target, ok := codegen.DefaultRegistry.Lookup(hostTargetName())
	if !ok {
		fmt.Fprintf(os.Stderr, "no registered target for host architecture %q\n", runtime.GOARCH)
		os.Exit(1)
	}

	var tParse, tFinalize, tISel, tEncode, tAddModule time.Duration
	var funcs, globals, insts int

	for i := 0; i < *iters; i++ {
		a := arena.Create(0)

		p0 := time.Now()
		m, err := parser.Parse(string(src), a)
		tParse += time.Since(p0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
			a.Release()
			os.Exit(1)
		}

		f0 := time.Now()
		for _, fn := range m.Functions() {
			if fn.IsDecl {
				continue
			}
			finalize.Func(fn)
		}
		tFinalize += time.Since(f0)

		if i == 0 {
			globals = len(m.Globals())
			for _, fn := range m.Functions() {
				if fn.IsDecl {
					continue
				}
				funcs++
				for range fn.LinearInsts() {
					insts++
				}
			}
		}

		for _, fn := range m.Functions() {
			if fn.IsDecl {
				continue
			}
			i0 := time.Now()
			mfunc, err := target.ISel(fn, m)
			tISel += time.Since(i0)
			if err != nil {
				fmt.Fprintf(os.Stderr, "isel %s: %v\n", fn.Name, err)
				a.Release()
				os.Exit(1)
			}
			e0 := time.Now()
			if _, err := target.Encode(mfunc); err != nil {
				fmt.Fprintf(os.Stderr, "encode %s: %v\n", fn.Name, err)
				a.Release()
				os.Exit(1)
			}
			tEncode += time.Since(e0)
		}

		j, err := jit.Create()
		if err != nil {
			fmt.Fprintf(os.Stderr, "jit create: %v\n", err)
			a.Release()
			os.Exit(1)
		}
		for _, lib := range libs {
			if err := j.LoadLibrary(lib); err != nil {
				fmt.Fprintf(os.Stderr, "load-lib %s: %v\n", lib, err)
				os.Exit(1)
			}
		}
		am0 := time.Now()
		if err := j.AddModule(m); err != nil {
			fmt.Fprintf(os.Stderr, "add_module: %v\n", err)
		} else {
			tAddModule += time.Since(am0)
		}
		j.Close()
		a.Release()
	}

	n := float64(*iters)
	fmt.Printf("file:          %s\n", flag.Arg(0))
	fmt.Printf("ll_bytes:      %d\n", len(src))
	fmt.Printf("functions:     %d\n", funcs)
	fmt.Printf("globals:       %d\n", globals)
	fmt.Printf("ir_insts:      %d\n", insts)
	fmt.Printf("iters:         %d\n", *iters)
	fmt.Println("\n--- Average per iteration ---")
	fmt.Printf("parse:          %v\n", time.Duration(float64(tParse)/n))
	fmt.Printf("finalize:       %v\n", time.Duration(float64(tFinalize)/n))
	fmt.Printf("isel:           %v\n", time.Duration(float64(tISel)/n))
	fmt.Printf("encode:         %v\n", time.Duration(float64(tEncode)/n))
	fmt.Printf("add_module:     %v\n", time.Duration(float64(tAddModule)/n))

	if *out != "" {
		if err := writeProfile(*out, *iters, tParse, tFinalize, tISel, tEncode, tAddModule); err != nil {
			fmt.Fprintf(os.Stderr, "write profile: %v\n", err)
			os.Exit(1)
		}
	}
}

// writeProfile emits a pprof profile.pb.gz with one sample per phase,
// so phase cost can be inspected with `pprof -top` the way the
// benchmark's own printf table can't sort or diff across runs.
func writeProfile(path string, iters int, parse, fin, isel, encode, addModule time.Duration) error {
	phases := []struct {
		name string
		dur  time.Duration
	}{
		{"parse", parse},
		{"finalize", fin},
		{"isel", isel},
		{"encode", encode},
		{"add_module", addModule},
	}

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "phase", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "phase", Unit: "count"},
		Period:     1,
		TimeNanos:  time.Now().UnixNano(),
	}

	for i, ph := range phases {
		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: ph.name}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn, Line: 1}}}
		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(iters), ph.dur.Nanoseconds()},
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return prof.Write(f)
}
