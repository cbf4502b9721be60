package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/term"

	"github.com/germanamz/proposer/pkg/templates"
)

const (
	defaultWidth  = 80
	nameColumn    = 24
	previewMargin = 10
)

const templatesUsage = "templates [list|show|add|edit|delete|activate] [flags] [id]"

func runTemplates(args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	var g globalFlags
	fs := newFlagSet("templates "+sub, templatesUsage, &g)
	name := fs.String("name", "", "template name (add, edit)")
	bodyFile := fs.String("body-file", "", "read the body from a file instead of the editor (add, edit)")
	activate := fs.Bool("activate", false, "make the new template active (add)")
	raw := fs.Bool("raw", false, "print the body without markdown rendering (show)")
	yes := fs.Bool("yes", false, "skip confirmations (edit, delete)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(g, os.Stderr)
	if err != nil {
		return err
	}
	store := a.templates

	switch sub {
	case "list":
		fmt.Print(formatTemplateList(store.List(), terminalWidth()))
		return nil

	case "show":
		t, err := templateArg(store, fs.Arg(0))
		if err != nil {
			return err
		}
		fmt.Printf("#%d %s%s\n\n", t.ID, t.Name, activeSuffix(t))
		if *raw || !isTerminal(os.Stdout) {
			fmt.Println(t.Body)
			return nil
		}
		fmt.Println(renderPreview(t.Body, terminalWidth()))
		return nil

	case "add":
		body, err := readBodyFile(*bodyFile)
		if err != nil {
			return err
		}
		n := *name
		if *bodyFile == "" {
			if n == "" {
				n = fmt.Sprintf("Template %d", store.NextID())
			}
			n, body, err = templateForm(n, "")
			if err != nil {
				return err
			}
		}
		t, err := store.Add(n, body, *activate)
		if err != nil {
			return err
		}
		fmt.Printf("Added template #%d %s%s\n", t.ID, t.Name, activeSuffix(t))
		return nil

	case "edit":
		t, err := templateArg(store, fs.Arg(0))
		if err != nil {
			return err
		}
		return editTemplate(store, t, *name, *bodyFile, *yes)

	case "delete":
		t, err := templateArg(store, fs.Arg(0))
		if err != nil {
			return err
		}
		if !*yes {
			ok, err := confirm(fmt.Sprintf("Delete template #%d %q?", t.ID, t.Name), "")
			if err != nil || !ok {
				return err
			}
		}
		if err := store.Delete(t.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted template #%d\n", t.ID)
		return nil

	case "activate":
		t, err := templateArg(store, fs.Arg(0))
		if err != nil {
			return err
		}
		if err := store.Activate(t.ID); err != nil {
			return err
		}
		fmt.Printf("Template #%d %s is now active\n", t.ID, t.Name)
		return nil

	default:
		return fmt.Errorf("unknown templates command %q", sub)
	}
}

func editTemplate(store *templates.Store, t templates.Template, name, bodyFile string, yes bool) error {
	newName, newBody := t.Name, t.Body
	if name != "" {
		newName = name
	}

	if bodyFile != "" {
		body, err := readBodyFile(bodyFile)
		if err != nil {
			return err
		}
		newBody = body
	} else if name == "" {
		var err error
		newName, newBody, err = templateForm(newName, newBody)
		if err != nil {
			return err
		}
	}

	if newName == t.Name && newBody == t.Body {
		fmt.Println("No changes.")
		return nil
	}

	if !yes && newBody != t.Body {
		ok, err := confirm("Save these changes?", bodyDiff(t.Body, newBody))
		if err != nil || !ok {
			return err
		}
	}

	updated, err := store.Update(t.ID, &newName, &newBody)
	if err != nil {
		return err
	}
	fmt.Printf("Updated template #%d %s\n", updated.ID, updated.Name)
	return nil
}

// templateForm prompts for a name and body.
func templateForm(name, body string) (string, string, error) {
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Name").Value(&name),
		huh.NewText().Title("Message").
			Description("Typed into the proposal comment box").
			Lines(10).
			Value(&body).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("message must not be empty")
				}
				return nil
			}),
	)).Run()
	return name, body, err
}

func confirm(title, description string) (bool, error) {
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

func templateArg(store *templates.Store, arg string) (templates.Template, error) {
	if arg == "" {
		return templates.Template{}, errors.New("template ID required")
	}
	id, err := strconv.Atoi(arg)
	if err != nil {
		return templates.Template{}, fmt.Errorf("invalid template ID %q", arg)
	}
	return store.Get(id)
}

func readBodyFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied path
	if err != nil {
		return "", err
	}
	body := strings.TrimSpace(string(data))
	if body == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return body, nil
}

func activeSuffix(t templates.Template) string {
	if t.IsActive {
		return " (active)"
	}
	return ""
}

// formatTemplateList renders one line per template: an active marker, the
// ID, the name, and a one-line preview of the body, fitted to width.
func formatTemplateList(list []templates.Template, width int) string {
	if len(list) == 0 {
		return "No templates. Add one with: proposer templates add\n"
	}

	var b strings.Builder
	for _, t := range list {
		mark := " "
		if t.IsActive {
			mark = "*"
		}
		prefix := fmt.Sprintf("%s %3d  %s  ", mark, t.ID,
			runewidth.FillRight(runewidth.Truncate(t.Name, nameColumn, "…"), nameColumn))

		room := max(width-runewidth.StringWidth(prefix), previewMargin)
		b.WriteString(prefix)
		b.WriteString(runewidth.Truncate(oneLine(t.Body), room, "…"))
		b.WriteString("\n")
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// bodyDiff returns a unified diff of a template body edit.
func bodyDiff(before, after string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(ensureNewline(before)),
		B:        difflib.SplitLines(ensureNewline(after)),
		FromFile: "before",
		ToFile:   "after",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return diff
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// renderPreview renders the body as markdown for the terminal. Rendering
// failures fall back to the plain body.
func renderPreview(body string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return body
	}
	out, err := r.Render(body)
	if err != nil {
		return body
	}
	return strings.TrimRight(out, "\n")
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd())) //nolint:gosec // fd is a small non-negative int
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}
