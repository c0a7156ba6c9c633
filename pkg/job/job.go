package job

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Language is the source language of a compile job
type Language uint32

const (
	LanguageC Language = iota
	LanguageCXX
	LanguageObjC
	LanguageCustom
)

func (l Language) String() string {
	switch l {
	case LanguageC:
		return "C"
	case LanguageCXX:
		return "C++"
	case LanguageObjC:
		return "ObjC"
	case LanguageCustom:
		return "custom"
	default:
		return fmt.Sprintf("language(%d)", uint32(l))
	}
}

// PreprocessedType is the gcc -x value for already preprocessed input
func (l Language) PreprocessedType() string {
	switch l {
	case LanguageCXX:
		return "c++-cpp-output"
	case LanguageObjC:
		return "objective-c-cpp-output"
	default:
		return "cpp-output"
	}
}

// PreprocessedExt is the file suffix gcc expects for preprocessed input
func (l Language) PreprocessedExt() string {
	switch l {
	case LanguageCXX:
		return ".ii"
	case LanguageObjC:
		return ".mi"
	default:
		return ".i"
	}
}

// LanguageForFile guesses the language from a source file suffix
func LanguageForFile(name string) (Language, bool) {
	switch filepath.Ext(name) {
	case ".c", ".i":
		return LanguageC, true
	case ".cc", ".cpp", ".cxx", ".c++", ".C", ".ii":
		return LanguageCXX, true
	case ".m", ".mi":
		return LanguageObjC, true
	default:
		return LanguageC, false
	}
}

// Job describes one compiler invocation.
//
// Only the id, language, remote and rest flags and the environment version
// travel over the wire; the remaining fields stay on the machine that
// created the job.
type Job struct {
	ID                 uint32
	Language           Language
	EnvironmentVersion string

	LocalFlags  []string
	RemoteFlags []string
	RestFlags   []string

	Compiler   string
	InputFile  string
	OutputFile string

	// Args is the untouched compiler command line, used for local fallback
	Args []string
}

// AllFlags returns local, remote and rest flags in that order
func (j *Job) AllFlags() []string {
	all := make([]string, 0, len(j.LocalFlags)+len(j.RemoteFlags)+len(j.RestFlags))
	all = append(all, j.LocalFlags...)
	all = append(all, j.RemoteFlags...)
	all = append(all, j.RestFlags...)
	return all
}

// Environment variables naming the compilers used when a job does not
// carry one, as on the compile node.
const (
	CCEnv  = "ICECC_CC"
	CXXEnv = "ICECC_CXX"
)

// CompilerName returns the compiler binary to run for this job. Explicit
// compilers win, then ICECC_CC or ICECC_CXX; otherwise the language picks
// gcc or g++.
func (j *Job) CompilerName() string {
	if j.Compiler != "" {
		return j.Compiler
	}
	if j.Language == LanguageCXX {
		if cxx := os.Getenv(CXXEnv); cxx != "" {
			return cxx
		}
		return "g++"
	}
	if cc := os.Getenv(CCEnv); cc != "" {
		return cc
	}
	return "gcc"
}

// IsCXXCompiler reports whether a compiler name drives C++
func IsCXXCompiler(name string) bool {
	base := filepath.Base(name)
	return strings.Contains(base, "++") || strings.HasSuffix(base, "cxx")
}
