package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aichan/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("aichan doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Discord:")
	checkSecret("Token", cfg.Discord.Token)

	fmt.Println()
	if len(cfg.Channels) == 0 {
		fmt.Println("  Channels: (none configured)")
	}
	for _, ch := range cfg.Channels {
		fmt.Printf("  Channel %s:\n", ch.ChannelID)

		promptPath := config.ExpandHome(ch.PromptPath)
		fmt.Printf("    %-12s %s", "Prompt:", promptPath)
		if _, err := os.Stat(promptPath); err != nil {
			fmt.Println(" (NOT FOUND)")
		} else {
			fmt.Println(" (OK)")
		}

		checkSecret("LLM key", ch.LLM.APIKey)
		model := ch.LLM.Model
		if model == "" {
			model = "(not configured)"
		}
		fmt.Printf("    %-12s %s\n", "Model:", model)
		fmt.Printf("    %-12s history=%d delay=%s images=%v\n", "Pipeline:",
			ch.HistorySize(), ch.MinResponseDelay(), ch.Images.Enabled)
	}

	fmt.Println()
	fmt.Println("  OCR:")
	if cfg.OCR.Enabled {
		fmt.Printf("    %-12s enabled\n", "Status:")
		checkSecret("API token", cfg.OCR.GoogleAPIToken)
	} else {
		fmt.Printf("    %-12s disabled\n", "Status:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, value string) {
	if len(value) >= 8 {
		masked := value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
		fmt.Printf("    %-12s %s\n", name+":", masked)
	} else if value != "" {
		fmt.Printf("    %-12s (set)\n", name+":")
	} else {
		fmt.Printf("    %-12s (not configured)\n", name+":")
	}
}
