// cmd/scraperotor/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/valpere/scraperotor/internal/config"
	"github.com/valpere/scraperotor/internal/errors"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches a command and returns the process exit code
func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return exitFailure
	}

	command := args[0]

	switch command {
	case "serve":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Error: config file required\n")
			fmt.Fprintf(os.Stderr, "Usage: scraperotor serve <config.yaml>\n")
			return exitFailure
		}
		return serve(args[1])

	case "validate":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Error: config file required\n")
			fmt.Fprintf(os.Stderr, "Usage: scraperotor validate <config.yaml>\n")
			return exitFailure
		}
		return validateConfig(args[1])

	case "template":
		template, err := generateTemplate()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFailure
		}
		fmt.Print(template)
		return exitOK

	case "version", "--version", "-v":
		printVersion()
		return exitOK

	case "help", "--help", "-h":
		printUsage()
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		printUsage()
		return exitFailure
	}
}

// serve runs the service until SIGINT or SIGTERM
func serve(configFile string) int {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		printConfigError(err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	if err := a.run(ctx, configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// validateConfig loads the file and reports every problem it finds
func validateConfig(configFile string) int {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		printConfigError(err)
		return exitConfig
	}

	fmt.Printf("✓ Configuration file '%s' is valid\n", configFile)
	fmt.Printf("  proxies: %d, quotas: %d, strategy: %s\n", len(cfg.Proxies), len(cfg.Quotas), cfg.Pool.Strategy)
	fmt.Printf("  browser: %s, inference: %s, archive: %s\n", cfg.Browser.Backend, cfg.Inference.Backend, cfg.Archive.Driver)
	return exitOK
}

func printConfigError(err error) {
	var verr *errors.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration (%d problems)\n", len(verr.Fields))
		for _, f := range verr.Fields {
			fmt.Fprintf(os.Stderr, "  - %s\n", f.String())
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// generateTemplate renders the default configuration as YAML
func generateTemplate() (string, error) {
	yamlData, err := yaml.Marshal(config.Default())
	if err != nil {
		return "", fmt.Errorf("failed to marshal template to YAML: %w", err)
	}
	return string(yamlData), nil
}

// printUsage displays help information
func printUsage() {
	fmt.Println("scraperotor - Proxy rotation pool and scraping task orchestrator")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  scraperotor serve <config.yaml>      Run the management API, health monitor and orchestrator")
	fmt.Println("  scraperotor validate <config.yaml>   Validate configuration file")
	fmt.Println("  scraperotor template                 Print the default configuration")
	fmt.Println("  scraperotor version                  Show version information")
	fmt.Println("  scraperotor help                     Show this help message")
}

// printVersion displays version information
func printVersion() {
	fmt.Printf("scraperotor %s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
	fmt.Printf("Git commit: %s\n", gitCommit)
}
