package ui

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/unimatch/internal/chat"
)

const (
	attachImages = iota
	attachVoice
)

// AttachModel picks files from disk and sends them into the parent conversation.
type AttachModel struct {
	parent       ConversationModel
	imagesInput  textinput.Model
	voiceInput   textinput.Model
	focusIndex   int
	windowWidth  int
	windowHeight int
	err          error
}

func NewAttachModel(parent ConversationModel) AttachModel {
	imagesInput := textinput.New()
	imagesInput.Placeholder = "Image paths, comma separated (e.g. ~/Pictures/us.jpg, ./coffee.png)"
	imagesInput.Focus()
	imagesInput.CharLimit = 1000
	imagesInput.Width = 60

	voiceInput := textinput.New()
	voiceInput.Placeholder = "Voice note path (e.g. ./hello.webm)"
	voiceInput.CharLimit = 500
	voiceInput.Width = 60

	return AttachModel{
		parent:      parent,
		imagesInput: imagesInput,
		voiceInput:  voiceInput,
		focusIndex:  attachImages,
	}
}

func (m AttachModel) Init() tea.Cmd {
	return textinput.Blink
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func splitPaths(s string) []string {
	var paths []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, expandHome(p))
		}
	}
	return paths
}

// readUpload loads a file, typing it by extension. Unknown extensions are sniffed later.
func readUpload(path string) (chat.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.Upload{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	return chat.Upload{Name: filepath.Base(path), ContentType: contentType, Data: data}, nil
}

// checkPaths reports the first path that cannot be read as a regular file.
func checkPaths(paths []string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("cannot open %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", p)
		}
	}
	return nil
}

func sendImagesCmd(s *chat.Session, paths []string) tea.Cmd {
	return func() tea.Msg {
		uploads := make([]chat.Upload, 0, len(paths))
		for _, p := range paths {
			u, err := readUpload(p)
			if err != nil {
				return actionDoneMsg{action: actionAttach, err: err}
			}
			uploads = append(uploads, u)
		}
		return actionDoneMsg{action: actionAttach, err: s.SendImages(context.Background(), uploads)}
	}
}

func sendVoiceCmd(s *chat.Session, path string) tea.Cmd {
	return func() tea.Msg {
		u, err := readUpload(path)
		if err != nil {
			return actionDoneMsg{action: actionAttach, err: err}
		}
		return actionDoneMsg{action: actionAttach, err: s.SendVoice(context.Background(), u)}
	}
}

func (m AttachModel) back(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	model, resizeCmd := resize(m.parent, m.windowWidth, m.windowHeight)
	return model, tea.Batch(cmd, resizeCmd)
}

func (m AttachModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.imagesInput.Width = msg.Width - 20
		m.voiceInput.Width = msg.Width - 20
		return m, nil

	case viewUpdatedMsg, actionDoneMsg:
		// The conversation keeps running underneath.
		model, cmd := m.parent.Update(msg)
		if parent, ok := model.(ConversationModel); ok {
			m.parent = parent
			return m, cmd
		}
		return model, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Sequence(m.parent.disposeCmd(), tea.Quit)

		case "esc":
			return m.back(nil)

		case "tab", "shift+tab":
			if msg.String() == "tab" {
				m.focusIndex = (m.focusIndex + 1) % 2
			} else {
				m.focusIndex = (m.focusIndex - 1 + 2) % 2
			}

			if m.focusIndex == attachImages {
				m.imagesInput.Focus()
				m.voiceInput.Blur()
			} else {
				m.imagesInput.Blur()
				m.voiceInput.Focus()
			}
			return m, nil

		case "enter":
			m.err = nil
			if m.focusIndex == attachImages {
				paths := splitPaths(m.imagesInput.Value())
				if len(paths) == 0 {
					return m, nil
				}
				if err := checkPaths(paths); err != nil {
					m.err = err
					return m, nil
				}
				m.parent.sending = true
				return m.back(tea.Batch(m.parent.spinner.Tick, sendImagesCmd(m.parent.session, paths)))
			}

			path := expandHome(strings.TrimSpace(m.voiceInput.Value()))
			if path == "" {
				return m, nil
			}
			if err := checkPaths([]string{path}); err != nil {
				m.err = err
				return m, nil
			}
			m.parent.sending = true
			return m.back(tea.Batch(m.parent.spinner.Tick, sendVoiceCmd(m.parent.session, path)))
		}
	}

	var cmd tea.Cmd
	if m.focusIndex == attachImages {
		m.imagesInput, cmd = m.imagesInput.Update(msg)
	} else {
		m.voiceInput, cmd = m.voiceInput.Update(msg)
	}
	return m, cmd
}

func (m AttachModel) View() string {
	style := lipgloss.NewStyle().
		Padding(1, 2).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("5"))

	title := titleStyle.Render(fmt.Sprintf("Send to %s", m.parent.displayName()))

	imagesLabel := "Photos:"
	if m.focusIndex == attachImages {
		imagesLabel = "> " + imagesLabel
	} else {
		imagesLabel = "  " + imagesLabel
	}

	voiceLabel := "Voice note:"
	if m.focusIndex == attachVoice {
		voiceLabel = "> " + voiceLabel
	} else {
		voiceLabel = "  " + voiceLabel
	}

	content := title + "\n\n"
	content += style.Render(
		imagesLabel + "\n" +
			m.imagesInput.View() + "\n\n" +
			voiceLabel + "\n" +
			m.voiceInput.View(),
	)

	if m.err != nil {
		content += "\n\n" + errorStyle.Render("Error: "+m.err.Error())
	}

	content += "\n\n" + helpStyle.Render("tab: switch field • enter: send • esc: back")

	return content
}
