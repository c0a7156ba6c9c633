package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cuemby/icecream/pkg/client"
	"github.com/cuemby/icecream/pkg/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// EnvFileEnv names an optional file of ICECC_* settings loaded before the
// environment is read
const EnvFileEnv = "ICECC_ENV_FILE"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "icecc: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "icecc compiler [compiler args...]",
	Short: "icecc - distribute a compiler invocation over icecream",
	Long: `icecc runs one compiler invocation on an idle machine of the icecream
network, falling back to the local compiler whenever that is not possible.

Call it as "icecc gcc -c main.c" or install it as a symlink named after the
compiler (gcc, g++, cc, c++, clang, clang++) earlier on PATH.

Environment:
  ICECC_VERSION    toolchain environment to request from the scheduler
  ICECC_DEBUG      log level (info, debug, trace, warnings)
  ICECC_ENV_FILE   file with KEY=VALUE lines loaded first`,
	Version:            Version,
	DisableFlagParsing: true,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE:               runWrapper,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"icecc version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

// compilerArgv returns the compiler command line. Invoked through a
// compiler-named symlink, the program name is the compiler.
func compilerArgv(program string, args []string) []string {
	name := filepath.Base(program)
	if name != "icecc" {
		return append([]string{name}, args...)
	}
	return args
}

func runWrapper(cmd *cobra.Command, args []string) error {
	argv := compilerArgv(os.Args[0], args)
	if filepath.Base(os.Args[0]) == "icecc" && len(args) > 0 {
		switch args[0] {
		case "-h", "--help":
			return cmd.Help()
		case "-v", "--version":
			fmt.Fprint(cmd.OutOrStdout(), cmd.VersionTemplate())
			return nil
		}
	}
	if len(argv) == 0 {
		return cmd.Help()
	}

	if envFile := os.Getenv(EnvFileEnv); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	log.Init(log.Config{Level: log.ResolveLevel("", log.ErrorLevel)})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code, err := client.New().Build(ctx, argv)
	if err != nil {
		logger := log.WithComponent("icecc")
		logger.Error().Err(err).Strs("argv", argv).Msg("Compilation failed")
	}
	cancel()
	os.Exit(code)
	return nil
}
