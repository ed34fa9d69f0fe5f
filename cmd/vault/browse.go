// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/DataDog/go-secure-vault/container"
)

// previewLimit caps the bytes shown in file previews.
const previewLimit = 4096

func cmdBrowse() *cli.Command {
	return &cli.Command{
		Name:  "browse",
		Usage: "Browse the container interactively",
		Flags: commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, pw, err := unlock(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			m := newBrowser(sess, pw)
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}

// -----------------------------------------------------------------------------

type browseMode int

const (
	modeList browseMode = iota
	modePreview
	modeMkdir
	modeRename
	modeConfirmDelete
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Padding(0, 1).Reverse(true)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	dimStyle      = lipgloss.NewStyle().Faint(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
)

type browser struct {
	sess     *container.Session
	password string

	// breadcrumb of directory ids; the last entry is the current directory
	trail  []uint64
	rows   []container.Node
	cursor int

	mode    browseMode
	input   textinput.Model
	preview string
	status  string
}

func newBrowser(sess *container.Session, password string) *browser {
	b := &browser{
		sess:     sess,
		password: password,
		trail:    []uint64{sess.RootID()},
		input:    textinput.New(),
	}
	b.reload()
	return b
}

func (b *browser) currentDir() uint64 {
	return b.trail[len(b.trail)-1]
}

func (b *browser) reload() {
	b.rows = b.sess.ChildrenOf(b.currentDir())
	if b.cursor >= len(b.rows) {
		b.cursor = len(b.rows) - 1
	}
	if b.cursor < 0 {
		b.cursor = 0
	}
}

func (b *browser) selected() (container.Node, bool) {
	if len(b.rows) == 0 {
		return container.Node{}, false
	}
	return b.rows[b.cursor], true
}

// persist saves the metadata after a mutation, reporting failures in the
// status line.
func (b *browser) persist() {
	if err := b.sess.SaveMetadata(b.password); err != nil {
		b.status = errorStyle.Render(err.Error())
	}
}

func (b *browser) Init() tea.Cmd {
	return nil
}

func (b *browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return b, nil
	}

	switch b.mode {
	case modeMkdir, modeRename:
		return b.updateInput(keyMsg)
	case modeConfirmDelete:
		return b.updateConfirm(keyMsg)
	case modePreview:
		b.mode = modeList
		b.preview = ""
		return b, nil
	default:
	}

	return b.updateList(keyMsg)
}

func (b *browser) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	b.status = ""

	switch msg.String() {
	case "q", "ctrl+c":
		return b, tea.Quit

	case "up", "k":
		if b.cursor > 0 {
			b.cursor--
		}

	case "down", "j":
		if b.cursor < len(b.rows)-1 {
			b.cursor++
		}

	case "enter", "right", "l":
		n, ok := b.selected()
		if !ok {
			break
		}
		if n.Type == container.NodeTypeDir {
			b.trail = append(b.trail, n.ID)
			b.cursor = 0
			b.reload()
			break
		}
		b.loadPreview(n)

	case "backspace", "left", "h":
		if len(b.trail) > 1 {
			b.trail = b.trail[:len(b.trail)-1]
			b.cursor = 0
			b.reload()
		}

	case "n":
		b.mode = modeMkdir
		b.input.Placeholder = "directory name"
		b.input.SetValue("")
		b.input.Focus()

	case "r":
		if _, ok := b.selected(); ok {
			b.mode = modeRename
			b.input.Placeholder = "new name"
			b.input.SetValue("")
			b.input.Focus()
		}

	case "d":
		if _, ok := b.selected(); ok {
			b.mode = modeConfirmDelete
		}
	}

	return b, nil
}

func (b *browser) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		b.mode = modeList
		return b, nil

	case "enter":
		name := strings.TrimSpace(b.input.Value())
		mode := b.mode
		b.mode = modeList
		if name == "" {
			return b, nil
		}

		var err error
		switch mode {
		case modeMkdir:
			_, err = b.sess.Mkdir(b.currentDir(), name)
		case modeRename:
			if n, ok := b.selected(); ok {
				err = b.sess.Rename(n.ID, name)
			}
		default:
		}
		if err != nil {
			b.status = errorStyle.Render(err.Error())
			return b, nil
		}

		b.persist()
		b.reload()
		return b, nil
	}

	var cmd tea.Cmd
	b.input, cmd = b.input.Update(msg)
	return b, cmd
}

func (b *browser) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	b.mode = modeList
	if msg.String() != "y" {
		return b, nil
	}

	if n, ok := b.selected(); ok {
		if err := b.sess.RemoveSubtree(n.ID); err != nil {
			b.status = errorStyle.Render(err.Error())
			return b, nil
		}
		b.persist()
		b.reload()
	}
	return b, nil
}

// loadPreview decrypts the head of the selected file and renders it as text
// or as a hex dump.
func (b *browser) loadPreview(n container.Node) {
	raw, err := b.sess.ReadFileBytes(n.ID)
	if err != nil {
		b.status = errorStyle.Render(err.Error())
		return
	}
	if len(raw) > previewLimit {
		raw = raw[:previewLimit]
	}

	if isMostlyText(raw) {
		b.preview = string(raw)
	} else {
		b.preview = hex.Dump(raw)
	}
	b.mode = modePreview
}

func (b *browser) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("vault: %s (dir %d)", b.sess.Path(), b.currentDir())))
	sb.WriteString("\n\n")

	switch b.mode {
	case modePreview:
		sb.WriteString(b.preview)
		sb.WriteString("\n\n")
		sb.WriteString(dimStyle.Render("any key to go back"))

	case modeMkdir:
		sb.WriteString("New directory\n")
		sb.WriteString(b.input.View())
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render("enter to create, esc to cancel"))

	case modeRename:
		sb.WriteString("Rename\n")
		sb.WriteString(b.input.View())
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render("enter to rename, esc to cancel"))

	case modeConfirmDelete:
		if n, ok := b.selected(); ok {
			sb.WriteString(fmt.Sprintf("Delete %q and everything under it? (y/N)", n.Name))
		}

	default:
		if len(b.rows) == 0 {
			sb.WriteString(dimStyle.Render("(empty directory)"))
			sb.WriteString("\n")
		}
		lines := lo.Map(b.rows, func(n container.Node, i int) string {
			marker := "  "
			if i == b.cursor {
				marker = "> "
			}
			kind := "FILE"
			if n.Type == container.NodeTypeDir {
				kind = "DIR "
			}
			line := fmt.Sprintf("%s%s  %-30s  id=%d  size=%d", marker, kind, n.Name, n.ID, n.Size)
			if i == b.cursor {
				return selectedStyle.Render(line)
			}
			return line
		})
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n\n")
		sb.WriteString(dimStyle.Render("enter: open  n: mkdir  r: rename  d: delete  q: quit"))
	}

	if b.status != "" {
		sb.WriteString("\n")
		sb.WriteString(b.status)
	}

	return sb.String()
}
