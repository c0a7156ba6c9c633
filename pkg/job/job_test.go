package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLanguageForFile(t *testing.T) {
	tests := []struct {
		file  string
		lang  Language
		known bool
	}{
		{"main.c", LanguageC, true},
		{"main.cpp", LanguageCXX, true},
		{"main.cc", LanguageCXX, true},
		{"main.C", LanguageCXX, true},
		{"view.m", LanguageObjC, true},
		{"notes.txt", LanguageC, false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			lang, known := LanguageForFile(tt.file)
			assert.Equal(t, tt.lang, lang)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestAllFlagsOrder(t *testing.T) {
	j := &Job{
		LocalFlags:  []string{"-MD"},
		RemoteFlags: []string{"-O2", "-c"},
		RestFlags:   []string{"main.c"},
	}
	assert.Equal(t, []string{"-MD", "-O2", "-c", "main.c"}, j.AllFlags())
}

func TestCompilerName(t *testing.T) {
	t.Setenv(CCEnv, "")
	t.Setenv(CXXEnv, "")
	assert.Equal(t, "gcc", (&Job{Language: LanguageC}).CompilerName())
	assert.Equal(t, "g++", (&Job{Language: LanguageCXX}).CompilerName())
	assert.Equal(t, "clang", (&Job{Compiler: "clang"}).CompilerName())

	t.Setenv(CCEnv, "/opt/cc")
	t.Setenv(CXXEnv, "/opt/cxx")
	assert.Equal(t, "/opt/cc", (&Job{Language: LanguageObjC}).CompilerName())
	assert.Equal(t, "/opt/cxx", (&Job{Language: LanguageCXX}).CompilerName())
	assert.Equal(t, "clang", (&Job{Compiler: "clang", Language: LanguageCXX}).CompilerName())
}

func TestIsCXXCompiler(t *testing.T) {
	assert.True(t, IsCXXCompiler("/usr/bin/g++"))
	assert.True(t, IsCXXCompiler("clang++"))
	assert.False(t, IsCXXCompiler("gcc"))
	assert.False(t, IsCXXCompiler("cc"))
}

func TestPreprocessedType(t *testing.T) {
	assert.Equal(t, "cpp-output", LanguageC.PreprocessedType())
	assert.Equal(t, "c++-cpp-output", LanguageCXX.PreprocessedType())
	assert.Equal(t, ".ii", LanguageCXX.PreprocessedExt())
}
