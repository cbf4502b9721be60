package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/germanamz/proposer/pkg/settings"
)

const starterTemplate = `Hi, thanks for taking a look at our program.

We'd love to partner with you. Our commission terms are attached; reply here with any questions.`

func runInit(args []string) error {
	var g globalFlags
	fs := newFlagSet("init", "init [flags]", &g)
	defaults := fs.Bool("defaults", false, "write default settings without prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(g, os.Stderr)
	if err != nil {
		return err
	}

	if _, err := os.Stat(a.settings.Path()); os.IsNotExist(err) {
		s := settings.Default()
		if !*defaults && isTerminal(os.Stdin) {
			f := newSettingsForm(s)
			if err := huh.NewForm(settingsGroups(&f)...).Run(); err != nil {
				return err
			}
			if err := f.apply(&s); err != nil {
				return err
			}
		}
		if err := a.settings.Save(s); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", a.settings.Path())
	}

	if len(a.templates.List()) == 0 {
		t, err := a.templates.Add("Starter", starterTemplate, true)
		if err != nil {
			return err
		}
		fmt.Printf("Added template #%d %s\n", t.ID, t.Name)
	}

	fmt.Printf("Initialized %s\n", a.dir.Root())
	return nil
}
