// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package main

import (
	"flag"
	"io"
	"log"
	"os"

	"golang.org/x/text/language"

	"github.com/ezrec/regvm/config"
	"github.com/ezrec/regvm/cpu"
	"github.com/ezrec/regvm/emulator"
	"github.com/ezrec/regvm/translate"
)

func main() {
	var compile string
	var binary string
	var save string
	var output string
	var config_file string
	var ticks int
	var verbose bool
	var lang string

	flag.StringVar(&compile, "c", "", ".vasm file to assemble")
	flag.StringVar(&binary, "b", "", "Executable image to load")
	flag.StringVar(&save, "s", "", "Save executable image, do not execute")
	flag.StringVar(&output, "o", "-", "Print output")
	flag.StringVar(&config_file, "config", "", "TOML run configuration")
	flag.IntVar(&ticks, "t", 0, "Tick budget (overrides configuration)")
	flag.BoolVar(&verbose, "v", false, "Verbose mode")
	flag.StringVar(&lang, "lang", "", "Message language (BCP 47 tag), overriding the system locale")

	flag.Parse()

	if flag.NArg() != 0 {
		log.Fatalf("%v: Unknown arguments: %v", os.Args[0], flag.Args())
	}

	if len(lang) != 0 {
		tag, err := language.Parse(lang)
		if err != nil {
			log.Fatalf("%v: -lang %v: %v", os.Args[0], lang, err)
		}
		translate.SetLanguage(tag)
	}

	if (len(compile) == 0) == (len(binary) == 0) {
		log.Fatalf("%v: Exactly one of -c or -b is required", os.Args[0])
	}

	cfg := config.Default()
	if len(config_file) != 0 {
		var err error
		cfg, err = config.Load(config_file)
		if err != nil {
			log.Fatal(err)
		}
	}
	if ticks > 0 {
		cfg.Ticks = ticks
	}

	emu := emulator.NewEmulator()
	emu.Verbose = verbose
	cfg.Apply(emu)

	prog := &cpu.Program{}

	// Compile a new instruction stream.
	if len(compile) != 0 {
		inf, err := os.Open(compile)
		if err != nil {
			log.Fatalf("%v: %v", compile, err)
		}
		defer inf.Close()

		asm := &cpu.Assembler{Verbose: emu.Verbose}
		for name, value := range emu.Defines() {
			asm.Predefine(name, value)
		}
		prog, err = asm.Parse(inf)
		if err != nil {
			log.Fatalf("%v: %v", compile, err)
		}
	}

	// Load an existing image.
	if len(binary) != 0 {
		inf, err := os.Open(binary)
		if err != nil {
			log.Fatalf("%v: %v", binary, err)
		}
		defer inf.Close()

		words, err := cpu.ReadImage(inf)
		if err != nil {
			log.Fatalf("%v: %v", binary, err)
		}
		prog = cpu.Disassemble(words)
	}

	if len(save) != 0 {
		ouf, err := os.Create(save)
		if err != nil {
			log.Fatalf("%v: %v", save, err)
		}
		defer ouf.Close()

		err = cpu.WriteImage(ouf, prog.Binary())
		if err != nil {
			log.Fatalf("%v: %v", save, err)
		}
		return
	}

	var ouf io.Writer
	if output == "-" {
		ouf = os.Stdout
	} else {
		f, err := os.Create(output)
		if err != nil {
			log.Fatalf("%v: %v", output, err)
		}
		defer f.Close()
		ouf = f
	}

	emu.Program = prog
	emu.Output = ouf

	err := emu.Reset()
	if err != nil {
		log.Fatal(err)
	}

	err = emu.Run()
	if err != nil {
		if emu.Verbose {
			log.Print(emu.Cpu.String())
		}
		log.Fatal(err)
	}
}
