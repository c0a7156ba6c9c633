package client

import (
	"path/filepath"
	"strings"

	"github.com/cuemby/icecream/pkg/job"
)

// Arguments is a compiler command line split by where each argument can
// be applied.
type Arguments struct {
	// Local arguments only make sense on this machine (preprocessor and
	// dependency output)
	Local []string

	// Remote arguments are safe on the compile node
	Remote []string

	// Rest is everything else, passed on both sides
	Rest []string

	InputFile  string
	OutputFile string
	Language   job.Language

	// ForceLocal is set when the command cannot be distributed; Reason
	// says why
	ForceLocal bool
	Reason     string
}

func (a *Arguments) local(reason string) {
	if !a.ForceLocal {
		a.ForceLocal = true
		a.Reason = reason
	}
}

// ClassifyArguments splits the arguments of a compiler invocation, without
// the compiler itself.
func ClassifyArguments(args []string) Arguments {
	var a Arguments
	seenC, seenS := false, false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if !strings.HasPrefix(arg, "-") || arg == "-" {
			lang, ok := job.LanguageForFile(arg)
			switch {
			case ok && a.InputFile == "":
				a.InputFile = arg
				a.Language = lang
			case ok:
				a.local("multiple input files")
				a.Rest = append(a.Rest, arg)
			default:
				a.Rest = append(a.Rest, arg)
			}
			continue
		}

		switch {
		case arg == "-E":
			a.local("preprocessing only")
			a.Local = append(a.Local, arg)
		case arg == "-MD" || arg == "-MMD" || arg == "-MG" || arg == "-MP":
			a.Local = append(a.Local, arg)
		case arg == "-MF" || arg == "-MT" || arg == "-MQ":
			a.Local = append(a.Local, arg)
			if i+1 < len(args) {
				i++
				a.Local = append(a.Local, args[i])
			}
		case strings.HasPrefix(arg, "-M"):
			a.local(arg + " implies -E")
			a.Local = append(a.Local, arg)
		case strings.HasPrefix(arg, "-Wa,"):
			if strings.Contains(arg, "=") {
				a.local("assembler listing output")
				a.Local = append(a.Local, arg)
			} else {
				a.Remote = append(a.Remote, arg)
			}
		case arg == "-S":
			seenS = true
		case arg == "-fprofile-arcs" || arg == "-ftest-coverage":
			a.local("profiling output")
			a.Local = append(a.Local, arg)
		case arg == "-x":
			a.local("explicit -x language")
			a.Local = append(a.Local, arg)
			if i+1 < len(args) {
				i++
				a.Local = append(a.Local, args[i])
			}
		case arg == "-c":
			seenC = true
		case strings.HasPrefix(arg, "-o"):
			if a.OutputFile != "" {
				a.local("multiple output files")
			}
			if arg == "-o" {
				if i+1 >= len(args) {
					a.local("missing output file")
					continue
				}
				i++
				a.OutputFile = args[i]
			} else {
				a.OutputFile = arg[2:]
			}
		default:
			a.Rest = append(a.Rest, arg)
		}
	}

	switch {
	case !seenC && !seenS:
		a.local("not a compile-only invocation")
	case seenS:
		a.Remote = append(a.Remote, "-S")
	default:
		a.Remote = append(a.Remote, "-c")
	}

	if a.OutputFile == "-" {
		a.local("output to stdout")
	}
	if a.InputFile == "" {
		a.local("no input file")
	}

	if a.OutputFile == "" && a.InputFile != "" {
		ext := ".o"
		if seenS {
			ext = ".s"
		}
		base := filepath.Base(a.InputFile)
		a.OutputFile = strings.TrimSuffix(base, filepath.Ext(base)) + ext
	}
	return a
}

// Job builds the compile job for compiler with these arguments
func (a Arguments) Job(compiler string) *job.Job {
	lang := a.Language
	if job.IsCXXCompiler(compiler) && lang == job.LanguageC {
		lang = job.LanguageCXX
	}
	return &job.Job{
		Language:    lang,
		LocalFlags:  a.Local,
		RemoteFlags: a.Remote,
		RestFlags:   a.Rest,
		Compiler:    compiler,
		InputFile:   a.InputFile,
		OutputFile:  a.OutputFile,
	}
}
