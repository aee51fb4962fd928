package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/unimatch/internal/models"
)

type matchItem struct {
	conversation models.Conversation
	otherID      string
	name         string
}

type matchesFetchedMsg struct {
	actor   models.Actor
	matches []matchItem
	err     error
}

func (i matchItem) Title() string {
	return i.name
}

func (i matchItem) Description() string {
	return fmt.Sprintf("matched %s", formatTimeAgo(i.conversation.CreatedAt, time.Now()))
}

func (i matchItem) FilterValue() string {
	return i.name
}

func formatTimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	duration := now.Sub(t)

	if duration < time.Minute {
		return "just now"
	}
	if duration < 2*time.Minute {
		return "1 min ago"
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 2*time.Hour {
		return "1h ago"
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	if duration < 48*time.Hour {
		return "yesterday"
	}
	if duration < 7*24*time.Hour {
		return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
	}
	return t.Format("Jan 2")
}

type MatchesModel struct {
	env          *Env
	actor        models.Actor
	matches      []matchItem
	list         list.Model
	loading      bool
	err          error
	spinner      spinner.Model
	windowWidth  int
	windowHeight int
}

func NewMatchesModel(env *Env) MatchesModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	l := list.New([]list.Item{}, newDelegate(), 80, 20)
	l.Title = "Matches"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	return MatchesModel{
		env:          env,
		list:         l,
		loading:      true,
		spinner:      s,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m MatchesModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchMatchesCmd())
}

func (m MatchesModel) fetchMatchesCmd() tea.Cmd {
	env := m.env
	return func() tea.Msg {
		ctx := context.Background()
		actor, err := env.Guard.Require(ctx)
		if err != nil {
			return matchesFetchedMsg{err: err}
		}

		conversations, err := env.Store.ListConversations(ctx, actor.ID)
		if err != nil {
			return matchesFetchedMsg{err: fmt.Errorf("failed to load matches: %w", err)}
		}

		items := make([]matchItem, 0, len(conversations))
		for _, c := range conversations {
			otherID, ok := c.Other(actor.ID)
			if !ok {
				continue
			}
			items = append(items, matchItem{
				conversation: c,
				otherID:      otherID,
				name:         env.Names.Name(ctx, otherID),
			})
		}
		return matchesFetchedMsg{actor: actor, matches: items}
	}
}

func (m MatchesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case matchesFetchedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}

		m.err = nil
		m.actor = msg.actor
		m.matches = msg.matches
		items := make([]list.Item, len(m.matches))
		for i, match := range m.matches {
			items[i] = match
		}
		m.list.SetItems(items)
		m.list.Title = fmt.Sprintf("Matches - %d total", len(m.matches))
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if m.list.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		}

		if msg.String() == "q" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			menuModel := NewMenuModel(m.env)
			model, cmd := resize(menuModel, m.windowWidth, m.windowHeight)
			return model, tea.Batch(model.Init(), cmd)
		}

		if msg.String() == "r" && !m.loading {
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.fetchMatchesCmd())
		}

		if msg.String() == "enter" && len(m.matches) > 0 && !m.loading {
			if item, ok := m.list.SelectedItem().(matchItem); ok {
				conversationModel := NewConversationModel(m.env, m.actor, item.conversation.ID, item.name)
				model, cmd := resize(conversationModel, m.windowWidth, m.windowHeight)
				return model, tea.Batch(model.Init(), cmd)
			}
		}

		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m MatchesModel) View() string {
	if m.loading {
		return fmt.Sprintf("\n  %s Loading matches...\n", m.spinner.View())
	}

	if m.err != nil {
		s := titleStyle.Render("Matches") + "\n\n"
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
		s += helpStyle.Render("r: retry • esc: back • q: quit")
		return s
	}

	if len(m.matches) == 0 {
		s := titleStyle.Render("Matches") + "\n\n"
		s += normalStyle.Render("  No matches yet. Keep swiping!") + "\n"
		s += "\n" + helpStyle.Render("r: refresh • esc: back • q: quit")
		return s
	}

	s := m.list.View() + "\n"
	s += helpStyle.Render("↑↓/jk: navigate • enter: open • /: search • r: refresh • esc: back • q: quit")

	return s
}
