package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/vitos/crypto_ut_bot/internal/config"
)

// Interactive launcher: asks which strategy and market to run, then execs
// the bot with the matching flags.
func main() {
	reader := bufio.NewReader(os.Stdin)

	path := prompt(reader, "Config path", "config/config.yaml")
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var names []string
	for name, sc := range cfg.Strategies {
		if sc.Enabled {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		fmt.Println("No enabled strategies in config")
		os.Exit(1)
	}

	fmt.Println("Enabled strategies:")
	for _, name := range names {
		sc := cfg.Strategies[name]
		fmt.Printf("  %s (markets %v, size %.2f USD)\n", name, sc.Markets(), sc.PositionSizeUSD)
	}

	strategy := prompt(reader, "Strategy (empty = all)", "")
	market := prompt(reader, "Market id override (empty = from config)", "")
	dry := prompt(reader, "Dry run? [y/N]", "n")

	args := []string{"--config", path}
	if strategy != "" {
		args = append(args, "--strategy", strategy)
	}
	if market != "" {
		if _, err := strconv.Atoi(market); err != nil {
			fmt.Printf("Invalid market id %q\n", market)
			os.Exit(1)
		}
		args = append(args, "--market", market)
	}
	if strings.EqualFold(dry, "y") || strings.EqualFold(dry, "yes") {
		args = append(args, "--dry-run")
	}

	fmt.Printf("Starting bot %s\n", strings.Join(args, " "))
	cmd := exec.Command("./bot", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Run(); err != nil {
		fmt.Printf("Bot exited: %v\n", err)
		os.Exit(1)
	}
}

func prompt(reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}
