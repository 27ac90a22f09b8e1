package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/dnephew1/resumos/pkg/resumos/bot"
	"github.com/dnephew1/resumos/pkg/resumos/summarizer"
)

// newSetupCmd creates the `resumos setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes config.yaml.
The API key is stored in the OS keyring and never written to the file.

Examples:
  resumos setup
  resumos setup --output ./configs/config.yaml`,
		RunE: runSetup,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "where to write the configuration")
	return cmd
}

// setupAnswers holds the wizard's inputs before they are applied.
type setupAnswers struct {
	Model       string
	BaseURL     string
	APIKey      string
	GateMode    string
	MinMembers  string
	Retention   string
	EmptyNotice string
}

func runSetup(cmd *cobra.Command, _ []string) error {
	output, _ := cmd.Flags().GetString("output")

	cfg := bot.DefaultConfig()
	answers := setupAnswers{
		Model:      cfg.API.Model,
		GateMode:   string(cfg.Gate.Mode),
		MinMembers: strconv.Itoa(cfg.Gate.MinMembers),
		Retention:  cfg.Summary.Retention.String(),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Model").
				Description("Chat model used for summaries.").
				Value(&answers.Model),
			huh.NewInput().
				Title("API base URL").
				Description("Leave empty for api.openai.com.").
				Value(&answers.BaseURL),
			huh.NewInput().
				Title("API key").
				Description("Stored in the OS keyring. Leave empty to use OPENAI_API_KEY.").
				EchoMode(huh.EchoModePassword).
				Value(&answers.APIKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which groups may use #resumo?").
				Options(
					huh.NewOption("Large groups only (more than N members)", string(summarizer.GateMinMembers)),
					huh.NewOption("Every group", string(summarizer.GateGroups)),
				).
				Value(&answers.GateMode),
			huh.NewInput().
				Title("Minimum group size").
				Validate(validatePositiveInt).
				Value(&answers.MinMembers),
			huh.NewInput().
				Title("Delete summaries after").
				Description("Go duration, e.g. 5m.").
				Validate(validateDuration).
				Value(&answers.Retention),
			huh.NewInput().
				Title("Reply when there is nothing to summarize").
				Description("Leave empty to stay silent.").
				Value(&answers.EmptyNotice),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	if err := applySetupAnswers(cfg, answers); err != nil {
		return err
	}

	if answers.APIKey != "" {
		if err := bot.StoreAPIKey(answers.APIKey); err != nil {
			fmt.Printf("[!] Could not store the API key in the keyring: %v\n", err)
			fmt.Println("    Export OPENAI_API_KEY instead.")
		} else {
			fmt.Println("API key stored in the OS keyring.")
		}
	}

	if err := bot.SaveConfigToFile(cfg, output); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", output)
	fmt.Println("Run 'resumos serve' and scan the QR code with WhatsApp > Linked devices.")
	return nil
}

// applySetupAnswers copies validated wizard answers into cfg.
func applySetupAnswers(cfg *bot.Config, a setupAnswers) error {
	if m := strings.TrimSpace(a.Model); m != "" {
		cfg.API.Model = m
	}
	cfg.API.BaseURL = strings.TrimSpace(a.BaseURL)
	cfg.Gate.Mode = summarizer.GateMode(a.GateMode)

	n, err := strconv.Atoi(strings.TrimSpace(a.MinMembers))
	if err != nil {
		return fmt.Errorf("minimum group size: %w", err)
	}
	cfg.Gate.MinMembers = n

	if cfg.Summary.Retention, err = parseDuration(a.Retention); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	cfg.Summary.EmptyNotice = strings.TrimSpace(a.EmptyNotice)

	return cfg.Validate()
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return errors.New("enter a positive number")
	}
	return nil
}

func validateDuration(s string) error {
	_, err := parseDuration(s)
	return err
}
