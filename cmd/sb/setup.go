package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

func newSetupCmd() *cobra.Command {
	var (
		configPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactively create a config file",
		Long:  "Walks through the required Switchboard settings and writes them to a YAML config file. API tokens are read without echo.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, configPath, force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to write the config file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runSetup(cmd *cobra.Command, configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("setup: %s already exists (use --force to overwrite)", configPath)
	}

	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())

	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := in.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return def, nil
		}
		return line, nil
	}
	// Tokens are read without echo when stdin is a terminal. Piped input
	// falls back to a plain line read so the command stays scriptable.
	secret := func(label string) (string, error) {
		fmt.Fprintf(out, "%s: ", label)
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(out)
			return string(b), err
		}
		line, err := in.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	var cfg config.Config
	var err error

	if cfg.Chat.Platform, err = prompt("Chat platform (slack/discord)", "slack"); err != nil {
		return err
	}
	if cfg.Chat.BotToken, err = secret("Bot token"); err != nil {
		return err
	}
	if cfg.Chat.Platform == "slack" {
		if cfg.Chat.AppToken, err = secret("App token (xapp-...)"); err != nil {
			return err
		}
	}
	if cfg.Chat.AlertChannel, err = prompt("Alert channel ID", ""); err != nil {
		return err
	}
	if cfg.Chat.LeadsChannel, err = prompt("Leads channel ID", ""); err != nil {
		return err
	}
	if cfg.Helpdesk.Subdomain, err = prompt("Zendesk subdomain", ""); err != nil {
		return err
	}
	if cfg.Helpdesk.Email, err = prompt("Zendesk email", ""); err != nil {
		return err
	}
	if cfg.Helpdesk.APIToken, err = secret("Zendesk API token"); err != nil {
		return err
	}
	if cfg.Knowledge.Email, err = prompt("Guru email", cfg.Helpdesk.Email); err != nil {
		return err
	}
	if cfg.Knowledge.APIToken, err = secret("Guru API token"); err != nil {
		return err
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("setup: marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("setup: write %s: %w", configPath, err)
	}

	fmt.Fprintf(out, "\nWrote %s\n", configPath)
	fmt.Fprintln(out, "Review monitor and dashboard settings in the file, then run: sb run")
	return nil
}
