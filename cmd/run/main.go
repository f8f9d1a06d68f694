package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-exec/blob"
	"github.com/wippyai/wasm-exec/engine"
	"github.com/wippyai/wasm-exec/runtime"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to wasm module file")
		funcName    = flag.String("func", "", "Entry point to call")
		strArg      = flag.String("arg", "", "Argument bytes as a string")
		hexArg      = flag.String("arg-hex", "", "Argument bytes as hex")
		backend     = flag.String("backend", "compiler", "Backend variant: interpreter or compiler")
		initPages   = flag.Uint("initial-pages", 0, "Required initial memory pages (0 = any)")
		maxPages    = flag.Uint("max-pages", 0, "Memory growth ceiling in pages (0 = default)")
		poolCap     = flag.Int("pool", 0, "Instance pool capacity per module (0 = default)")
		maxEntries  = flag.Int("max-entries", 0, "Cache key ceiling (0 = default)")
		list        = flag.Bool("list", false, "List exported functions and exit")
		showVersion = flag.Bool("module-version", false, "Print the module's version document and exit")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> -func name [-arg string | -arg-hex bytes]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -module-version")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	cfg := runtime.Config{
		Backend: engine.Variant(*backend),
		Memory: engine.MemoryConfig{
			InitialPages: uint32(*initPages),
			MaxPages:     uint32(*maxPages),
		},
		PoolCapacity: *poolCap,
		MaxEntries:   *maxEntries,
	}
	if *verbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()
		cfg.Logger = log
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*wasmFile, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *funcName, *strArg, *hexArg, cfg, *list, *showVersion); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile, funcName, strArg, hexArg string, cfg runtime.Config, listOnly, showVersion bool) error {
	ctx := context.Background()

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	b := blob.New(data)

	fmt.Printf("Module: %s\n", wasmFile)
	fmt.Printf("Size: %d bytes\n", len(data))
	fmt.Printf("Hash: %s\n", b.Hash)

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	exports, err := rt.Exports(ctx, b)
	if err != nil {
		return fmt.Errorf("load module: %w", err)
	}
	fmt.Printf("\nExported functions:\n")
	for _, name := range exports {
		fmt.Printf("  %s\n", name)
	}

	if listOnly {
		return nil
	}

	if showVersion {
		info, err := rt.Version(ctx, b)
		if err != nil {
			return fmt.Errorf("resolve version: %w", err)
		}
		fmt.Printf("\nVersion: %s\n", info)
		for _, api := range info.APIs {
			fmt.Printf("  implements %s\n", api)
		}
		return nil
	}

	if funcName == "" {
		fmt.Printf("\nNo function specified. Use -func to call an entry point.\n")
		return nil
	}

	args, err := callArgs(strArg, hexArg)
	if err != nil {
		return err
	}

	fmt.Printf("\nCalling %s(%d bytes)...\n", funcName, len(args))
	result, err := rt.Call(ctx, b, funcName, args)
	if err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}

	fmt.Printf("Result: %d bytes\n", len(result))
	if len(result) > 0 {
		if printable(result) {
			fmt.Printf("%s\n", result)
		} else {
			fmt.Printf("%s\n", hex.EncodeToString(result))
		}
	}
	return nil
}

func callArgs(strArg, hexArg string) ([]byte, error) {
	if strArg != "" && hexArg != "" {
		return nil, fmt.Errorf("use -arg or -arg-hex, not both")
	}
	if hexArg != "" {
		args, err := hex.DecodeString(hexArg)
		if err != nil {
			return nil, fmt.Errorf("decode -arg-hex: %w", err)
		}
		return args, nil
	}
	return []byte(strArg), nil
}

func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 && c != '\n' && c != '\t' {
			return false
		}
		if c > 0x7E {
			return false
		}
	}
	return true
}
