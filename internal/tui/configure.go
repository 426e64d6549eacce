package tui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/gkirna/scribeflow/internal/config"
	"github.com/gkirna/scribeflow/internal/language"
)

// ConfigureResult holds the configuration result from the TUI
type ConfigureResult struct {
	Config    *config.Config
	Cancelled bool
}

// ConfigSection represents a configuration section
type ConfigSection string

const (
	SectionTranscription ConfigSection = "transcription"
	SectionPersistence   ConfigSection = "persistence"
	SectionEnrichment    ConfigSection = "enrichment"
	SectionKeywords      ConfigSection = "keywords"
	SectionNotifications ConfigSection = "notifications"
	SectionAdvanced      ConfigSection = "advanced"
	SectionSaveExit      ConfigSection = "save_exit"
	SectionDiscardExit   ConfigSection = "discard_exit"
)

// Run starts the configuration menu on a copy of existing. The caller saves
// the result.
func Run(existing *config.Config) (*ConfigureResult, error) {
	cfg := config.DefaultConfig()
	if existing != nil {
		c := *existing
		c.Providers = make(map[string]config.ProviderConfig, len(existing.Providers))
		for k, v := range existing.Providers {
			c.Providers[k] = v
		}
		c.Keywords = append([]string(nil), existing.Keywords...)
		cfg = &c
	}

	for {
		clearScreen()
		fmt.Println(Logo())
		fmt.Println()

		section, err := selectSection(cfg)
		if err != nil {
			return &ConfigureResult{Cancelled: true}, nil
		}

		switch section {
		case SectionSaveExit:
			if err := cfg.Validate(); err != nil {
				fmt.Println(Default.Error.Render(err.Error()))
				continue
			}
			confirmed, err := showSummary(cfg)
			if err != nil {
				return &ConfigureResult{Cancelled: true}, nil
			}
			if confirmed {
				return &ConfigureResult{Config: cfg}, nil
			}

		case SectionDiscardExit:
			return &ConfigureResult{Cancelled: true}, nil

		case SectionTranscription:
			_ = editTranscription(cfg)

		case SectionPersistence:
			_ = editPersistence(cfg)

		case SectionEnrichment:
			_ = editEnrichment(cfg)

		case SectionKeywords:
			if keywords, err := inputKeywords(cfg.Keywords); err == nil {
				cfg.Keywords = keywords
			}

		case SectionNotifications:
			_ = editNotifications(cfg)

		case SectionAdvanced:
			_ = editAdvanced(cfg)
		}
	}
}

func selectSection(cfg *config.Config) (ConfigSection, error) {
	options := []huh.Option[ConfigSection]{
		huh.NewOption(fmt.Sprintf("Transcription (%s, %s)", cfg.Transcription.Provider, language.Label(cfg.Transcription.Language)), SectionTranscription),
		huh.NewOption(fmt.Sprintf("Persistence (%s)", cfg.Persistence.Store), SectionPersistence),
		huh.NewOption(fmt.Sprintf("Enrichment (%s)", onOff(cfg.IsEnrichmentEnabled())), SectionEnrichment),
		huh.NewOption(fmt.Sprintf("Keywords (%d)", len(cfg.Keywords)), SectionKeywords),
		huh.NewOption(fmt.Sprintf("Notifications (%s)", onOff(cfg.Notifications.Enabled)), SectionNotifications),
		huh.NewOption("Advanced Settings", SectionAdvanced),
		huh.NewOption("Save & Exit", SectionSaveExit),
		huh.NewOption("Discard & Exit", SectionDiscardExit),
	}

	var selected ConfigSection
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[ConfigSection]().
				Title("Configuration Menu").
				Description("↑/↓ navigate • enter select • esc cancel").
				Options(options...).
				Value(&selected),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return "", err
	}
	return selected, nil
}

func showSummary(cfg *config.Config) (bool, error) {
	fmt.Println()
	fmt.Println(Default.Header.Render("Configuration Summary"))
	for _, line := range summaryLines(cfg) {
		fmt.Println("  " + line)
	}
	fmt.Println()

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this configuration?").
				Affirmative("Save").
				Negative("Cancel").
				Value(&confirmed),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return false, err
	}
	return confirmed, nil
}

func summaryLines(cfg *config.Config) []string {
	label := Default.Label.Render
	lines := []string{
		fmt.Sprintf("%s %s (language %s, diarize %s)", label("Transcription:"), cfg.Transcription.Provider, cfg.Transcription.Language, onOff(cfg.Transcription.Diarize)),
		fmt.Sprintf("%s %s, batch %d, retries %d", label("Persistence:"), cfg.Persistence.Store, cfg.Persistence.BatchSize, cfg.Persistence.MaxRetries),
	}
	if cfg.Persistence.Store == "mongo" {
		m := cfg.Persistence.Mongo
		lines = append(lines, fmt.Sprintf("%s %s/%s.%s", label("MongoDB:"), redactURI(m.URI), m.Database, m.Collection))
	}
	if cfg.Persistence.CachePath != "" {
		lines = append(lines, fmt.Sprintf("%s %s", label("Fallback cache:"), cfg.Persistence.CachePath))
	}
	if cfg.IsEnrichmentEnabled() {
		lines = append(lines, fmt.Sprintf("%s %s (%s)", label("Enrichment:"), cfg.Enrichment.Provider, cfg.Enrichment.Model))
	} else {
		lines = append(lines, fmt.Sprintf("%s disabled", label("Enrichment:")))
	}
	if len(cfg.Keywords) > 0 {
		lines = append(lines, fmt.Sprintf("%s %s", label("Keywords:"), strings.Join(cfg.Keywords, ", ")))
	}
	if cfg.Events.Kafka.Enabled {
		lines = append(lines, fmt.Sprintf("%s %s", label("Kafka:"), strings.Join(cfg.Events.Kafka.Brokers, ",")))
	}
	if cfg.HTTP.Enabled {
		lines = append(lines, fmt.Sprintf("%s %s", label("HTTP:"), cfg.HTTP.Addr))
	}
	lines = append(lines, fmt.Sprintf("%s %s", label("Notifications:"), onOff(cfg.Notifications.Enabled)))
	for _, name := range configuredProviders(cfg) {
		lines = append(lines, fmt.Sprintf("%s %s", label("API key "+name+":"), maskAPIKey(cfg.Providers[name].APIKey)))
	}
	return lines
}

// clearScreen clears the terminal screen
func clearScreen() {
	output := termenv.NewOutput(os.Stdout)
	output.ClearScreen()
}

func getTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Title = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	t.Focused.Description = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Focused.Base = lipgloss.NewStyle().BorderForeground(ColorPrimary)
	t.Focused.SelectedOption = lipgloss.NewStyle().Foreground(ColorSecondary)
	t.Focused.UnselectedOption = lipgloss.NewStyle().Foreground(ColorText)

	t.Blurred.Title = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Blurred.Description = lipgloss.NewStyle().Foreground(ColorSubtle)

	return t
}
