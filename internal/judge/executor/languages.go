package executor

import (
	"fmt"

	"ojeval/internal/judge/model"
	pkgerrors "ojeval/pkg/errors"

	"github.com/google/shlex"
)

// LanguageSpec describes how a language is compiled and run in the sandbox.
// Compile and Run are shell-like command lines split with shlex.
type LanguageSpec struct {
	SourceFile string `yaml:"sourceFile"`
	Artifact   string `yaml:"artifact"`
	Compile    string `yaml:"compile"`
	Run        string `yaml:"run"`
	Judge0ID   int    `yaml:"judge0Id"`
	// ExtraMemoryMB is added to the problem limit for runtimes with a fixed overhead.
	ExtraMemoryMB int `yaml:"extraMemoryMB"`
}

// Compiled reports whether the language has a separate compile step.
func (s LanguageSpec) Compiled() bool {
	return s.Compile != ""
}

func (s LanguageSpec) CompileArgs() ([]string, error) {
	return splitCommand(s.Compile)
}

func (s LanguageSpec) RunArgs() ([]string, error) {
	return splitCommand(s.Run)
}

func splitCommand(line string) ([]string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}

// Catalog maps languages to their specs.
type Catalog map[model.Language]LanguageSpec

// DefaultCatalog returns the built-in toolchain commands.
func DefaultCatalog() Catalog {
	return Catalog{
		model.LanguageC: {
			SourceFile: "main.c",
			Artifact:   "main",
			Compile:    "/usr/bin/gcc -O2 -std=c11 -o main main.c -lm",
			Run:        "./main",
			Judge0ID:   50,
		},
		model.LanguageCPP: {
			SourceFile: "main.cpp",
			Artifact:   "main",
			Compile:    "/usr/bin/g++ -O2 -std=c++17 -o main main.cpp",
			Run:        "./main",
			Judge0ID:   54,
		},
		model.LanguageJava: {
			SourceFile:    "Main.java",
			Artifact:      "Main.class",
			Compile:       "/usr/bin/javac -encoding UTF-8 Main.java",
			Run:           "/usr/bin/java -Xss64m -cp . Main",
			Judge0ID:      62,
			ExtraMemoryMB: 128,
		},
		model.LanguagePython: {
			SourceFile: "main.py",
			Run:        "/usr/bin/python3 main.py",
			Judge0ID:   71,
		},
		model.LanguageJavaScript: {
			SourceFile:    "main.js",
			Run:           "/usr/bin/node main.js",
			Judge0ID:      63,
			ExtraMemoryMB: 64,
		},
	}
}

// Merge returns a catalog where entries from override replace defaults.
func (c Catalog) Merge(override map[string]LanguageSpec) (Catalog, error) {
	out := make(Catalog, len(c))
	for k, v := range c {
		out[k] = v
	}
	for name, spec := range override {
		lang, err := model.ParseLanguage(name)
		if err != nil {
			return nil, err
		}
		if spec.Run == "" || spec.SourceFile == "" {
			return nil, pkgerrors.ValidationError("executor.languages."+name, "sourceFile and run are required")
		}
		out[lang] = spec
	}
	return out, nil
}

// Lookup returns the spec for lang.
func (c Catalog) Lookup(lang model.Language) (LanguageSpec, error) {
	spec, ok := c[lang]
	if !ok {
		return LanguageSpec{}, pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not configured", lang)
	}
	return spec, nil
}
