package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"gopkg.in/yaml.v3"

	"github.com/germanamz/proposer/pkg/settings"
)

func runSettings(args []string) error {
	sub := "show"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	var g globalFlags
	fs := newFlagSet("settings "+sub, "settings [show|edit|path] [flags]", &g)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(g, os.Stderr)
	if err != nil {
		return err
	}

	switch sub {
	case "show":
		raw, err := a.settings.Raw()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(raw)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	case "path":
		fmt.Println(a.settings.Path())
		return nil
	case "edit":
		return editSettings(a.settings)
	default:
		return fmt.Errorf("unknown settings command %q", sub)
	}
}

// settingsForm holds the editable settings as form strings.
type settingsForm struct {
	MaxSends     string
	MinDelay     string
	MaxDelay     string
	TargetURL    string
	TargetHint   string
	RemoteURL    string
	Headless     bool
	TemplateTerm string
	ModalWait    string
	Screenshots  bool
	WebhookURL   string
	NotifyFormat string
	OTLPEndpoint string
}

func newSettingsForm(s settings.Settings) settingsForm {
	return settingsForm{
		MaxSends:     strconv.Itoa(s.MaxSends),
		MinDelay:     strconv.FormatFloat(s.MinDelaySeconds, 'g', -1, 64),
		MaxDelay:     strconv.FormatFloat(s.MaxDelaySeconds, 'g', -1, 64),
		TargetURL:    s.TargetURL,
		TargetHint:   s.TargetHint,
		RemoteURL:    s.Browser.RemoteURL,
		Headless:     s.Browser.Headless,
		TemplateTerm: s.Browser.TemplateTerm,
		ModalWait:    s.Browser.ModalWait,
		Screenshots:  s.Browser.ScreenshotOnError,
		WebhookURL:   s.Notify.WebhookURL,
		NotifyFormat: s.Notify.Format,
		OTLPEndpoint: s.Telemetry.OTLPEndpoint,
	}
}

// apply writes the form values into s. Fields are assumed validated by the
// form; parse failures are still reported.
func (f settingsForm) apply(s *settings.Settings) error {
	n, err := strconv.Atoi(strings.TrimSpace(f.MaxSends))
	if err != nil {
		return fmt.Errorf("max sends: %w", err)
	}
	minD, err := strconv.ParseFloat(strings.TrimSpace(f.MinDelay), 64)
	if err != nil {
		return fmt.Errorf("min delay: %w", err)
	}
	maxD, err := strconv.ParseFloat(strings.TrimSpace(f.MaxDelay), 64)
	if err != nil {
		return fmt.Errorf("max delay: %w", err)
	}

	s.MaxSends = n
	s.MinDelaySeconds = minD
	s.MaxDelaySeconds = maxD
	s.TargetURL = strings.TrimSpace(f.TargetURL)
	s.TargetHint = strings.TrimSpace(f.TargetHint)
	s.Browser.RemoteURL = strings.TrimSpace(f.RemoteURL)
	s.Browser.Headless = f.Headless
	s.Browser.TemplateTerm = strings.TrimSpace(f.TemplateTerm)
	s.Browser.ModalWait = strings.TrimSpace(f.ModalWait)
	s.Browser.ScreenshotOnError = f.Screenshots
	s.Notify.WebhookURL = strings.TrimSpace(f.WebhookURL)
	s.Notify.Format = f.NotifyFormat
	s.Telemetry.OTLPEndpoint = strings.TrimSpace(f.OTLPEndpoint)

	return nil
}

func validatePositiveInt(v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive whole number")
	}
	return nil
}

func validateSeconds(v string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return fmt.Errorf("must be a non-negative number of seconds")
	}
	return nil
}

func validateOptionalDuration(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if d, err := time.ParseDuration(v); err != nil || d <= 0 {
		return fmt.Errorf("must be a duration such as 20s")
	}
	return nil
}

// settingsGroups builds the form pages for f.
func settingsGroups(f *settingsForm) []*huh.Group {
	return []*huh.Group{
		huh.NewGroup(
			huh.NewInput().Title("Max sends per run").Value(&f.MaxSends).Validate(validatePositiveInt),
			huh.NewInput().Title("Min delay (seconds)").Value(&f.MinDelay).Validate(validateSeconds),
			huh.NewInput().Title("Max delay (seconds)").Value(&f.MaxDelay).Validate(validateSeconds),
		).Title("Pacing"),
		huh.NewGroup(
			huh.NewInput().Title("Target URL").Description("Optional page loaded before sending").Value(&f.TargetURL),
			huh.NewInput().Title("Target tab hint").Description("Substring of the platform tab URL").Value(&f.TargetHint),
			huh.NewInput().Title("Remote Chrome URL").Description("DevTools endpoint, e.g. http://127.0.0.1:9222; empty launches Chrome").Value(&f.RemoteURL),
			huh.NewConfirm().Title("Headless").Value(&f.Headless),
			huh.NewInput().Title("Template term").Value(&f.TemplateTerm),
			huh.NewInput().Title("Modal wait").Value(&f.ModalWait).Validate(validateOptionalDuration),
			huh.NewConfirm().Title("Screenshot on error").Value(&f.Screenshots),
		).Title("Browser"),
		huh.NewGroup(
			huh.NewInput().Title("Webhook URL").Description("Use ${VAR} to keep secrets in .env").Value(&f.WebhookURL),
			huh.NewSelect[string]().Title("Webhook format").
				Options(huh.NewOption("JSON", "json"), huh.NewOption("Slack", "slack")).
				Value(&f.NotifyFormat),
			huh.NewInput().Title("OTLP endpoint").Description("host:port for metrics and traces; empty disables").Value(&f.OTLPEndpoint),
		).Title("Notifications & telemetry"),
	}
}

// editSettings runs the settings form and saves the result. Validation
// errors return the user to the form.
func editSettings(st *settings.Store) error {
	raw, err := st.Raw()
	if err != nil {
		return err
	}
	f := newSettingsForm(raw)
	if f.NotifyFormat == "" {
		f.NotifyFormat = "json"
	}

	for {
		if err := huh.NewForm(settingsGroups(&f)...).Run(); err != nil {
			return err
		}

		var applyErr error
		_, err := st.Update(func(s *settings.Settings) { applyErr = f.apply(s) })
		if applyErr != nil {
			err = applyErr
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Validation error: %v\nReturning to the form.\n", err)
			continue
		}

		break
	}

	fmt.Printf("Settings saved to %s\n", st.Path())
	return nil
}
