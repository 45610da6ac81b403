// Command heapmap runs a small allocation workload against the collector and
// renders the resulting heap block map and memory statistics. It exists to
// eyeball fragmentation and collection behavior under different
// configurations.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"unsafe"

	"github.com/mattn/go-colorable"

	"github.com/tinygc/gcext/config"
	"github.com/tinygc/gcext/gc"
	"github.com/tinygc/gcext/internal/task"
)

func main() {
	configPath := flag.String("config", "", "YAML collector configuration")
	objects := flag.Int("objects", 512, "number of objects to allocate")
	survivors := flag.Int("survivors", 64, "number of objects to keep alive")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "heapmap:", err)
			os.Exit(1)
		}
	}
	if err := gc.Init(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "heapmap:", err)
		os.Exit(1)
	}

	var out io.Writer = colorable.NewColorableStdout()
	if *noColor {
		out = colorable.NewNonColorable(os.Stdout)
	}

	run(out, cfg, *objects, *survivors)
}

// run allocates a mixed workload: pointer-free pooled objects, a foreign
// type with a mark function that chains objects together, and one task with
// live stack slots, then collects and renders the heap.
func run(out io.Writer, cfg config.Config, objects, survivors int) {
	ctx := gc.MainContext()

	// A foreign pair type: two object references traced by a custom mark
	// function.
	pair, err := gc.RegisterForeignType("Pair", "heapmap", gc.TypeAny,
		func(mctx *gc.Context, obj gc.Object) uintptr {
			var n uintptr
			refs := (*[2]gc.Object)(unsafe.Pointer(obj))
			for _, ref := range refs {
				if ref != gc.NoObject && mctx.EnqueueObject(ref) {
					n++
				}
			}
			return n
		}, nil, true, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "heapmap:", err)
		os.Exit(1)
	}

	t := task.New(uintptr(cfg.StackSize))
	gc.AddTask(t)

	var prev gc.Object
	for i := 0; i < objects; i++ {
		if i%8 == 0 {
			// Chain a pair to the previous one; the chain head lives on the
			// task stack, so the whole chain survives via the mark function.
			p := gc.AllocateTyped(ctx, 2*unsafe.Sizeof(gc.NoObject), pair)
			(*[2]gc.Object)(unsafe.Pointer(p))[0] = prev
			prev = p
			continue
		}
		obj := gc.AllocateTyped(ctx, uintptr(16+i%224), gc.TypeOpaque)
		if i < survivors {
			gc.AddRoot(obj)
		}
	}
	t.Push(uintptr(prev))

	gc.Collect(true)

	var dump bytes.Buffer
	if err := gc.DumpHeap(&dump); err != nil {
		fmt.Fprintln(os.Stderr, "heapmap:", err)
		os.Exit(1)
	}
	colorize(out, dump.String())

	var stats gc.MemStats
	gc.ReadMemStats(&stats)
	fmt.Fprintln(out, stats.String())
}

// colorize renders a heap dump with one color per block state.
func colorize(w io.Writer, dump string) {
	const (
		reset = "\x1b[0m"
		green = "\x1b[32m"
		red   = "\x1b[31m"
		dim   = "\x1b[2m"
	)
	for _, r := range dump {
		switch r {
		case '*':
			fmt.Fprint(w, green+string(r)+reset)
		case '#':
			fmt.Fprint(w, red+string(r)+reset)
		case '-':
			fmt.Fprint(w, string(r))
		case '\n':
			fmt.Fprintln(w)
		default:
			fmt.Fprint(w, dim+string(r)+reset)
		}
	}
}
