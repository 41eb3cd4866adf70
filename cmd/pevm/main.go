// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command pevm is the cobra-based run/dump CLI for the PE32 emulator,
// adapted from the teacher's cmd/pedumper.go cobra skeleton into a tree
// that drives the vm package instead of only printing parsed JSON.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	peparser "github.com/m3m0r7/pevm"
	"github.com/m3m0r7/pevm/vm"
	"github.com/m3m0r7/pevm/winapi/advapi32"
	"github.com/m3m0r7/pevm/winapi/kernel32"
	"github.com/m3m0r7/pevm/winapi/ntdll"
	"github.com/m3m0r7/pevm/winapi/oleaut32"
	"github.com/m3m0r7/pevm/winapi/shlwapi"
	"github.com/m3m0r7/pevm/winapi/user32"
	"github.com/m3m0r7/pevm/winapi/winhttp"
	"github.com/m3m0r7/pevm/winapi/wininet"
	"github.com/m3m0r7/pevm/winapi/ws2_32"
)

var (
	exportName  string
	settingsPth string
	permissive  bool
	hexArgs     []string

	wantImports bool
	wantExports bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pevm",
		Short: "A PE32/x86 user-space emulator",
		Long:  "Loads a 32-bit Windows PE image, binds it against a host stub environment, and runs it.",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("You are using version 0.1.0")
		},
	}

	runCmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Load a PE32 image and run one of its exports",
		Args:  cobra.ExactArgs(1),
		RunE:  runImage,
	}
	runCmd.Flags().StringVar(&exportName, "export", "", "name of the export to call")
	runCmd.Flags().StringVar(&settingsPth, "settings", "", "path to a YAML settings file (defaults to the built-in defaults)")
	runCmd.Flags().BoolVar(&permissive, "permissive", false, "run even if some imports could not be resolved")
	runCmd.Flags().StringArrayVar(&hexArgs, "arg", nil, "hex-encoded 32-bit argument, right-to-left stdcall order (repeatable)")
	_ = runCmd.MarkFlagRequired("export")

	dumpCmd := &cobra.Command{
		Use:   "dump <image>",
		Short: "Dump a PE32 image's headers, imports and exports",
		Args:  cobra.ExactArgs(1),
		RunE:  dumpImage,
	}
	dumpCmd.Flags().BoolVar(&wantImports, "imports", false, "dump the import table")
	dumpCmd.Flags().BoolVar(&wantExports, "exports", false, "dump the export table")

	rootCmd.AddCommand(versionCmd, runCmd, dumpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*vm.Config, error) {
	if settingsPth != "" {
		return vm.LoadConfig(settingsPth)
	}
	return vm.LoadDefaultConfig()
}

func registerHostModules(machine *vm.VM, cfg *vm.Config) {
	machine.RegisterModule("kernel32", kernel32.New())
	machine.RegisterModule("advapi32", advapi32.New(cfg.Properties))
	machine.RegisterModule("oleaut32", oleaut32.New())
	machine.RegisterModule("user32", user32.New(cfg))
	machine.RegisterModule("shlwapi", shlwapi.New(cfg))
	machine.RegisterModule("wininet", wininet.New(cfg))
	machine.RegisterModule("winhttp", winhttp.New(cfg))
	machine.RegisterModule("ws2_32", ws2_32.New(cfg))
	machine.RegisterModule("ntdll", ntdll.New())
}

func parseArgs(hexArgs []string) ([]uint32, error) {
	args := make([]uint32, 0, len(hexArgs))
	for _, a := range hexArgs {
		a = strings.TrimPrefix(a, "0x")
		v, err := strconv.ParseUint(a, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid --arg %q: %w", a, err)
		}
		args = append(args, uint32(v))
	}
	return args, nil
}

func findExportRVA(file *peparser.File, name string) (uint32, bool) {
	for _, fn := range file.Export.Functions {
		if fn.Name == name {
			return fn.FunctionRVA, true
		}
	}
	return 0, false
}

func runImage(cmd *cobra.Command, args []string) error {
	imagePath := args[0]

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}
	file, err := peparser.NewBytes(data, &peparser.Options{})
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer file.Close()
	if err := file.Parse(); err != nil {
		return fmt.Errorf("parsing image: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	machine := vm.New(cfg)
	registerHostModules(machine, cfg)

	if err := machine.Load(file); err != nil {
		return fmt.Errorf("loading image into vm: %w", err)
	}
	if missing := machine.MissingImports(); len(missing) > 0 && !permissive {
		return fmt.Errorf("unresolved imports: %s (pass --permissive to run anyway)", strings.Join(missing, ", "))
	}

	rva, ok := findExportRVA(file, exportName)
	if !ok {
		return fmt.Errorf("export %q not found", exportName)
	}
	entry := machine.CPU().Mem.Base() + rva

	callArgs, err := parseArgs(hexArgs)
	if err != nil {
		return err
	}

	result, err := machine.Run(entry, callArgs)
	if err != nil {
		return fmt.Errorf("running %s: %w", exportName, err)
	}
	fmt.Printf("%s returned 0x%08x\n", exportName, result)
	return nil
}

func dumpImage(cmd *cobra.Command, args []string) error {
	imagePath := args[0]

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}
	file, err := peparser.NewBytes(data, &peparser.Options{})
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer file.Close()
	if err := file.Parse(); err != nil {
		return fmt.Errorf("parsing image: %w", err)
	}

	if wantImports {
		fmt.Println("IMPORTS")
		for _, imp := range file.Imports {
			fmt.Printf("  %s\n", imp.Name)
			for _, fn := range imp.Functions {
				if fn.ByOrdinal {
					fmt.Printf("    ordinal #%d\n", fn.Ordinal)
				} else {
					fmt.Printf("    %s\n", fn.Name)
				}
			}
		}
	}

	if wantExports {
		fmt.Println("EXPORTS")
		for _, fn := range file.Export.Functions {
			fmt.Printf("  0x%08x  %s\n", fn.FunctionRVA, fn.Name)
		}
	}

	if !wantImports && !wantExports {
		fmt.Printf("image base: 0x%08x\n", file.NtHeader.OptionalHeader.(peparser.ImageOptionalHeader32).ImageBase)
		fmt.Printf("entry point rva: 0x%08x\n", file.NtHeader.OptionalHeader.(peparser.ImageOptionalHeader32).AddressOfEntryPoint)
		fmt.Printf("sections: %d\n", len(file.Sections))
		fmt.Printf("imports: %d dlls, %d exports\n", len(file.Imports), len(file.Export.Functions))
	}

	return nil
}
