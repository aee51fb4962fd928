package ui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/unimatch/internal/auth"
	"github.com/saravenpi/unimatch/internal/models"
)

const (
	menuMatches = "💬 Matches"
	menuSignOut = "🚪 Sign out"
)

type menuItem struct {
	title string
	desc  string
}

func (i menuItem) FilterValue() string { return i.title }
func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }

type actorResolvedMsg struct {
	actor models.Actor
	name  string
	err   error
}

type signedOutMsg struct {
	err error
}

type MenuModel struct {
	env          *Env
	list         list.Model
	actor        models.Actor
	err          error
	signedOut    bool
	windowWidth  int
	windowHeight int
}

func newDelegate() list.DefaultDelegate {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))
	return delegate
}

// NewMenuModel creates the main menu with Matches and Sign out options.
func NewMenuModel(env *Env) MenuModel {
	items := []list.Item{
		menuItem{title: menuMatches, desc: "Chat with your matches"},
		menuItem{title: menuSignOut, desc: "Go offline and leave"},
	}

	l := list.New(items, newDelegate(), 80, 14)
	l.Title = "Unimatch"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	return MenuModel{
		env:          env,
		list:         l,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m MenuModel) Init() tea.Cmd {
	return m.resolveActorCmd()
}

func (m MenuModel) resolveActorCmd() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		actor, err := m.env.Guard.Require(ctx)
		if err != nil {
			return actorResolvedMsg{err: err}
		}
		return actorResolvedMsg{actor: actor, name: m.env.Names.Name(ctx, actor.ID)}
	}
}

func (m MenuModel) signOutCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.env.Options.OfflineTimeout)
		defer cancel()
		return signedOutMsg{err: m.env.Guard.SignOut(ctx, m.env.Store)}
	}
}

func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case actorResolvedMsg:
		m.actor, m.err = msg.actor, msg.err
		if msg.err == nil {
			m.list.Title = fmt.Sprintf("Unimatch - signed in as %s", msg.name)
		}
		return m, nil

	case signedOutMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.signedOut = true
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

		if msg.String() == "enter" {
			selectedItem, ok := m.list.SelectedItem().(menuItem)
			if !ok {
				return m, nil
			}

			switch selectedItem.title {
			case menuMatches:
				if m.err != nil {
					return m, nil
				}
				matchesModel := NewMatchesModel(m.env)
				model, cmd := resize(matchesModel, m.windowWidth, m.windowHeight)
				return model, tea.Batch(model.Init(), cmd)
			case menuSignOut:
				return m, m.signOutCmd()
			}
		}

		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m MenuModel) View() string {
	if m.signedOut {
		return statusStyle.Render("You have been signed out.") + "\n"
	}

	s := m.list.View() + "\n"
	switch {
	case errors.Is(m.err, auth.ErrSignedOut):
		s += errorStyle.Render("Not signed in. Set actor.id in ~/.unimatch/config.yml.") + "\n"
	case errors.Is(m.err, auth.ErrUnverified):
		s += errorStyle.Render("Verify your email before chatting.") + "\n"
	case m.err != nil:
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
	}
	s += helpStyle.Render("↑↓/jk: navigate • enter: select • q: quit")
	return s
}
