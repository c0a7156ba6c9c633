package client

import (
	"testing"

	"github.com/cuemby/icecream/pkg/job"
	"github.com/stretchr/testify/assert"
)

func TestClassifyArguments(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		local      []string
		remote     []string
		rest       []string
		input      string
		output     string
		forceLocal bool
	}{
		{
			name:   "plain compile",
			args:   []string{"-O2", "-Wall", "-c", "main.c", "-o", "main.o"},
			remote: []string{"-c"},
			rest:   []string{"-O2", "-Wall"},
			input:  "main.c",
			output: "main.o",
		},
		{
			name:   "attached output",
			args:   []string{"-c", "lib.cpp", "-olib.o"},
			remote: []string{"-c"},
			input:  "lib.cpp",
			output: "lib.o",
		},
		{
			name:   "default output",
			args:   []string{"-c", "src/util.c"},
			remote: []string{"-c"},
			input:  "src/util.c",
			output: "util.o",
		},
		{
			name:   "assembly output",
			args:   []string{"-S", "-c", "a.c"},
			remote: []string{"-S"},
			input:  "a.c",
			output: "a.s",
		},
		{
			name:   "dependency flags stay local",
			args:   []string{"-MD", "-MF", "main.d", "-MT", "main.o", "-c", "main.c"},
			local:  []string{"-MD", "-MF", "main.d", "-MT", "main.o"},
			remote: []string{"-c"},
			input:  "main.c",
			output: "main.o",
		},
		{
			name:   "assembler flags without output",
			args:   []string{"-Wa,--noexecstack", "-c", "a.c"},
			remote: []string{"-Wa,--noexecstack", "-c"},
			input:  "a.c",
			output: "a.o",
		},
		{
			name:   "include path arguments",
			args:   []string{"-I", "include", "-DNDEBUG", "-c", "a.c"},
			remote: []string{"-c"},
			rest:   []string{"-I", "include", "-DNDEBUG"},
			input:  "a.c",
			output: "a.o",
		},
		{
			name:       "preprocess only",
			args:       []string{"-E", "a.c"},
			local:      []string{"-E"},
			input:      "a.c",
			output:     "a.o",
			forceLocal: true,
		},
		{
			name:       "make dependencies only",
			args:       []string{"-M", "-c", "a.c"},
			local:      []string{"-M"},
			remote:     []string{"-c"},
			input:      "a.c",
			output:     "a.o",
			forceLocal: true,
		},
		{
			name:       "assembler listing",
			args:       []string{"-Wa,-al=a.lst", "-c", "a.c"},
			local:      []string{"-Wa,-al=a.lst"},
			remote:     []string{"-c"},
			input:      "a.c",
			output:     "a.o",
			forceLocal: true,
		},
		{
			name:       "profiling",
			args:       []string{"-fprofile-arcs", "-ftest-coverage", "-c", "a.c"},
			local:      []string{"-fprofile-arcs", "-ftest-coverage"},
			remote:     []string{"-c"},
			input:      "a.c",
			output:     "a.o",
			forceLocal: true,
		},
		{
			name:       "explicit language",
			args:       []string{"-x", "c++", "-c", "a.c"},
			local:      []string{"-x", "c++"},
			remote:     []string{"-c"},
			input:      "a.c",
			output:     "a.o",
			forceLocal: true,
		},
		{
			name:       "link step",
			args:       []string{"main.o", "util.o", "-o", "app"},
			rest:       []string{"main.o", "util.o"},
			output:     "app",
			forceLocal: true,
		},
		{
			name:       "output to stdout",
			args:       []string{"-c", "a.c", "-o", "-"},
			remote:     []string{"-c"},
			input:      "a.c",
			output:     "-",
			forceLocal: true,
		},
		{
			name:       "two inputs",
			args:       []string{"-c", "a.c", "b.c"},
			remote:     []string{"-c"},
			rest:       []string{"b.c"},
			input:      "a.c",
			output:     "a.o",
			forceLocal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ClassifyArguments(tt.args)
			assert.Equal(t, tt.local, a.Local, "local")
			assert.Equal(t, tt.remote, a.Remote, "remote")
			assert.Equal(t, tt.rest, a.Rest, "rest")
			assert.Equal(t, tt.input, a.InputFile)
			assert.Equal(t, tt.output, a.OutputFile)
			assert.Equal(t, tt.forceLocal, a.ForceLocal, a.Reason)
		})
	}
}

func TestClassifyArgumentsLanguage(t *testing.T) {
	assert.Equal(t, job.LanguageCXX, ClassifyArguments([]string{"-c", "x.cc"}).Language)
	assert.Equal(t, job.LanguageObjC, ClassifyArguments([]string{"-c", "x.m"}).Language)

	j := ClassifyArguments([]string{"-c", "x.c"}).Job("/usr/bin/g++")
	assert.Equal(t, job.LanguageCXX, j.Language)
	assert.Equal(t, "/usr/bin/g++", j.Compiler)
	assert.Equal(t, "x.c", j.InputFile)
	assert.Equal(t, []string{"-c"}, j.RemoteFlags)
}

func TestForceLocalKeepsFirstReason(t *testing.T) {
	a := ClassifyArguments([]string{"-E", "-fprofile-arcs", "a.c"})
	assert.True(t, a.ForceLocal)
	assert.Equal(t, "preprocessing only", a.Reason)
}
