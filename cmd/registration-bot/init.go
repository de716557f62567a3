// ABOUTME: Interactive setup for the registration bot
// ABOUTME: Prompts for the Matrix account and admin API settings and writes a YAML config

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/registration-bot/internal/config"
)

// initAnswers are the values gathered by runInit.
type initAnswers struct {
	Server       string
	Username     string
	Password     string
	APIBaseURL   string
	APIToken     string
	AllowedUsers []string
	Prefix       string
	RecoveryKey  string
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("registration-bot init", flag.ContinueOnError)
	configFlag := fs.String("config", "", "path of the config file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := config.ResolvePath(*configFlag)
	reader := bufio.NewReader(os.Stdin)

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		if strings.ToLower(prompt(reader, "Overwrite? [y/N]", "")) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	var a initAnswers
	a.Server = prompt(reader, "Matrix homeserver URL [https://matrix.example.org]", "https://matrix.example.org")
	a.Username = prompt(reader, "Bot username", "")
	a.Password = promptSecret(reader, "Bot password")
	a.APIBaseURL = prompt(reader, "Admin API URL [same as homeserver]", "")
	a.APIToken = promptSecret(reader, "Admin API token (empty = log in as the bot)")
	if users := prompt(reader, "Allowed users, comma separated (e.g. @admin:example.org)", ""); users != "" {
		for _, u := range strings.Split(users, ",") {
			if u = strings.TrimSpace(u); u != "" {
				a.AllowedUsers = append(a.AllowedUsers, u)
			}
		}
	}
	a.Prefix = prompt(reader, "Command prefix (optional, e.g. '!reg')", "")
	a.RecoveryKey = promptSecret(reader, "Matrix recovery key (optional, for E2EE)")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Printf("    1. Run: registration-bot --config %s\n", configPath)
	fmt.Println()
	return nil
}

func prompt(reader *bufio.Reader, label, fallback string) string {
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Print(label + ": ")
	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fallback
	}
	return answer
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(reader *bufio.Reader, label string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(reader, label, "")
	}
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Print(label + ": ")
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(secret))
}

func renderConfig(a initAnswers) string {
	var sb strings.Builder
	sb.WriteString("# registration-bot configuration\n# Generated by registration-bot init\n\n")

	sb.WriteString("bot:\n")
	fmt.Fprintf(&sb, "  server: %q\n", a.Server)
	fmt.Fprintf(&sb, "  username: %q\n", a.Username)
	fmt.Fprintf(&sb, "  password: %q\n", a.Password)
	if a.Prefix != "" {
		fmt.Fprintf(&sb, "  command_prefix: %q\n", a.Prefix)
	}
	if a.RecoveryKey != "" {
		fmt.Fprintf(&sb, "  recovery_key: %q\n", a.RecoveryKey)
	}
	sb.WriteString("  # Users (or regex patterns) allowed to run restricted commands\n")
	if len(a.AllowedUsers) == 0 {
		sb.WriteString("  allowed_users: []\n")
	} else {
		sb.WriteString("  allowed_users:\n")
		for _, u := range a.AllowedUsers {
			fmt.Fprintf(&sb, "    - %q\n", u)
		}
	}

	sb.WriteString("\napi:\n")
	if a.APIBaseURL != "" {
		fmt.Fprintf(&sb, "  base_url: %q\n", a.APIBaseURL)
	}
	if a.APIToken != "" {
		fmt.Fprintf(&sb, "  token: %q\n", a.APIToken)
	}
	sb.WriteString("  timeout: \"10s\"\n  expiry_days: 7\n")

	sb.WriteString("\nlogging:\n  level: \"info\"\n  format: \"text\"\n")
	return sb.String()
}
