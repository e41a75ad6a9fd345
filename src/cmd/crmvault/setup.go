package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/crmvault/crmvault/src/internal/config"
	"github.com/crmvault/crmvault/src/internal/database"
	"github.com/crmvault/crmvault/src/internal/services"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the first portal account interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup()
		},
	}
}

func runSetup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	if err := database.MigrateDB(db, cfg); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	fmt.Println("CRM Vault Setup")
	fmt.Println("===============")
	fmt.Println()

	clients := services.NewClientService(db)
	if existing, err := clients.List(); err == nil && len(existing) > 0 {
		fmt.Printf("Note: %d account(s) already exist; this will add another.\n\n", len(existing))
	}

	reader := bufio.NewReader(os.Stdin)

	companyName, err := prompt(reader, "Company name")
	if err != nil {
		return err
	}
	email, err := prompt(reader, "Email address")
	if err != nil {
		return err
	}

	password, err := promptPassword("Password")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	client, err := clients.Register(companyName, email, password)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	fmt.Printf("\nAccount created: %s (%s)\n", client.CompanyName, client.Email)
	fmt.Println("Start the server with: crmvault serve")
	return nil
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Printf("%s: ", label)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(input)
	if value == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return value, nil
}

func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
