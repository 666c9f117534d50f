package app

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/koteev-m/news-bot-sub003/internal/cli"
	"github.com/koteev-m/news-bot-sub003/internal/config"
)

func runPolicy(args []string) int {
	fs := flag.NewFlagSet("policy", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	policyPath := fs.String("policy", "", "Routing policy YAML (default: POLICY_PATH or built-in policy)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, _, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	policy, err := loadPipelineConfig(cfg, *policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid policy: %v\n", err)
		return 1
	}

	out, err := config.MarshalPolicy(policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render policy: %v\n", err)
		return 1
	}
	if _, err := os.Stdout.Write(out); err != nil {
		return 1
	}
	return 0
}
