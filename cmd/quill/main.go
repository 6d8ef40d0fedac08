// Quill CLI - loads images and runs a start message.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/quillvm/quill/manifest"
	"github.com/quillvm/quill/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	entry := flag.String("m", "", "Entry point as 'Class.selector' (overrides quill.toml)")
	saveImage := flag.String("save-image", "", "Write an image of the loaded classes to this path and exit ('-' uses the quill.toml output path)")
	disasm := flag.String("disasm", "", "Print the bytecode of a loaded class and exit")
	icStats := flag.Bool("ic-stats", false, "Print inline cache statistics after the run")
	gcStats := flag.Bool("gc-stats", false, "Print heap statistics after the run")
	noManifest := flag.Bool("no-manifest", false, "Skip quill.toml discovery")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: quill [options] [images...]\n\n")
		fmt.Fprintf(os.Stderr, "Loads the given image files and sends the entry message.\n")
		fmt.Fprintf(os.Stderr, "Without arguments, images and entry come from quill.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  quill                          # Run per quill.toml\n")
		fmt.Fprintf(os.Stderr, "  quill app.image -m App.start   # Load app.image, run App.start\n")
		fmt.Fprintf(os.Stderr, "  quill app.image -disasm App    # Show App's bytecode\n")
		fmt.Fprintf(os.Stderr, "  quill app.image -save-image out.image\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	images := flag.Args()
	entryPoint := *entry
	outputPath := *saveImage

	// Fill in whatever the command line left unspecified from the
	// nearest quill.toml.
	if !*noManifest {
		m, err := manifest.FindAndLoad(".")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if m != nil {
			if len(images) == 0 {
				images = m.ImagePaths()
			}
			if entryPoint == "" {
				entryPoint = m.Run.Entry
			}
			if *saveImage == "-" {
				outputPath = m.OutputPath()
			}
			if *verbose {
				fmt.Printf("Using manifest %s\n", m.Dir)
			}
		}
	}

	if outputPath == "-" {
		fmt.Fprintln(os.Stderr, "Error: -save-image - requires a quill.toml with an [image] output")
		os.Exit(1)
	}

	machine := vm.NewVM()

	for _, path := range images {
		if err := machine.LoadImageFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", path, err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("Loaded %s\n", path)
		}
	}

	if *disasm != "" {
		if err := disassembleClass(machine, *disasm); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if outputPath != "" {
		if err := machine.SaveImageFile(outputPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", outputPath, err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("Wrote %s\n", outputPath)
		}
		os.Exit(0)
	}

	if entryPoint == "" {
		flag.Usage()
		os.Exit(2)
	}

	className, selector, err := splitEntry(entryPoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	result, err := machine.RunEntry(className, selector)
	code := 0
	var rerr *vm.RunError
	switch {
	case errors.As(err, &rerr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", rerr)
		code = 1
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = 1
	case result.IsSmallInt():
		// A SmallInt answer from the entry method becomes the exit code.
		code = int(result.SmallInt())
	}

	if *icStats {
		printICStats(machine)
	}
	if *gcStats {
		printHeapStats(machine)
	}
	os.Exit(code)
}

// splitEntry parses "Class.selector". A bare selector runs on Object.
func splitEntry(entry string) (className, selector string, err error) {
	if !strings.Contains(entry, ".") {
		return "Object", entry, nil
	}
	parts := strings.SplitN(entry, ".", 2)
	if parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed entry point %q, want 'Class.selector'", entry)
	}
	return parts[0], parts[1], nil
}

// disassembleClass prints the bytecode of every compiled method of the
// named class, instance side then class side.
func disassembleClass(machine *vm.VM, name string) error {
	class := machine.Classes.Lookup(name)
	if class == nil {
		return fmt.Errorf("class %q not found", name)
	}
	printSide(machine, class)
	if class.Meta() != nil {
		printSide(machine, class.Meta())
	}
	return nil
}

func printSide(machine *vm.VM, class *vm.Class) {
	sels := class.Selectors()
	sort.Slice(sels, func(i, j int) bool {
		return machine.Selectors.Name(sels[i]) < machine.Selectors.Name(sels[j])
	})
	for _, sel := range sels {
		cm, ok := class.LocalMethod(sel).(*vm.CompiledMethod)
		if !ok {
			continue
		}
		fmt.Printf("%s>>%s\n", class.Name, machine.Selectors.Name(sel))
		fmt.Print(cm.Disassemble())
		for i, blk := range cm.Blocks {
			fmt.Printf("  block %d:\n", i)
			fmt.Print(indent(blk.Disassemble()))
		}
		fmt.Println()
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n") + "\n"
}

func printICStats(machine *vm.VM) {
	stats := vm.CollectICStats(machine.Classes)
	fmt.Fprintf(os.Stderr, "inline caches: %d sites (%d mono, %d poly, %d mega, %d empty)\n",
		stats.TotalCallSites, stats.Monomorphic, stats.Polymorphic, stats.Megamorphic, stats.Empty)
	fmt.Fprintf(os.Stderr, "  hits %d, misses %d, hit rate %.1f%%\n",
		stats.TotalHits, stats.TotalMisses, stats.HitRate)
}

func printHeapStats(machine *vm.VM) {
	stats := machine.Heap.Stats()
	fmt.Fprintf(os.Stderr, "heap: %d live, %d collections, %d swept, %d freed\n",
		stats.Live, stats.Collections, stats.TotalSwept, stats.TotalFreed)
}
