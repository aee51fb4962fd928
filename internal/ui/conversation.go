package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/saravenpi/unimatch/internal/chat"
	"github.com/saravenpi/unimatch/internal/models"
)

var reactionChoices = []string{"❤️", "😂", "👍", "😮", "😢"}

const (
	actionSend        = "send"
	actionReact       = "react"
	actionDelete      = "delete"
	actionDeleteBatch = "delete_selected"
	actionUnmatch     = "unmatch"
	actionBlock       = "block"
	actionAttach      = "attach"
)

const (
	headerHeight      = 4
	composerHeight    = 5
	footerHeight      = 3
	minViewportHeight = 3
	defaultWidth      = 80
)

type sessionEnteredMsg struct {
	session *chat.Session
	err     error
}

type viewUpdatedMsg struct {
	view chat.View
	ok   bool
}

type actionDoneMsg struct {
	action string
	err    error
}

type confirmKind int

const (
	confirmNone confirmKind = iota
	confirmDelete
	confirmDeleteSelected
	confirmUnmatch
	confirmBlock
)

type ConversationModel struct {
	env            *Env
	actor          models.Actor
	conversationID string
	title          string
	session        *chat.Session
	view           chat.View
	viewport       viewport.Model
	textarea       textarea.Model
	spinner        spinner.Model
	loading        bool
	sending        bool
	composing      bool
	cursor         int
	confirm        confirmKind
	confirmID      string
	err            string
	denied         bool
	windowWidth    int
	windowHeight   int
}

func NewConversationModel(env *Env, actor models.Actor, conversationID, title string) ConversationModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	vp := viewport.New(defaultWidth, 20)

	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.CharLimit = 1000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetKeys("alt+enter")

	return ConversationModel{
		env:            env,
		actor:          actor,
		conversationID: conversationID,
		title:          title,
		viewport:       vp,
		textarea:       ta,
		spinner:        s,
		loading:        true,
		cursor:         -1,
		windowWidth:    80,
		windowHeight:   30,
	}
}

func (m ConversationModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.enterCmd())
}

func (m ConversationModel) enterCmd() tea.Cmd {
	env, actor, id := m.env, m.actor, m.conversationID
	return func() tea.Msg {
		s, err := chat.Enter(context.Background(), env.chatDeps(), actor, id)
		return sessionEnteredMsg{session: s, err: err}
	}
}

func waitForView(s *chat.Session) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-s.Updates()
		return viewUpdatedMsg{view: v, ok: ok}
	}
}

func (m ConversationModel) actionCmd(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn(context.Background())}
	}
}

func (m ConversationModel) disposeCmd() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		if s != nil {
			s.Dispose()
		}
		return nil
	}
}

func (m ConversationModel) backToMatches() (tea.Model, tea.Cmd) {
	matchesModel := NewMatchesModel(m.env)
	model, cmd := resize(matchesModel, m.windowWidth, m.windowHeight)
	return model, tea.Batch(m.disposeCmd(), model.Init(), cmd)
}

func (m ConversationModel) rows() []chat.Row {
	var rows []chat.Row
	for _, it := range m.view.Items {
		if r, ok := it.(chat.Row); ok {
			rows = append(rows, r)
		}
	}
	return rows
}

func (m ConversationModel) currentRow() (chat.Row, bool) {
	rows := m.rows()
	if m.cursor < 0 || m.cursor >= len(rows) {
		return chat.Row{}, false
	}
	return rows[m.cursor], true
}

// refresh pulls the session's current view after a synchronous transition.
func (m *ConversationModel) refresh(err error) {
	if err != nil {
		m.err = chat.Describe(err)
	} else {
		m.err = ""
	}
	if m.session != nil {
		m.setView(m.session.View())
	}
}

func (m *ConversationModel) setView(v chat.View) {
	if v.Version < m.view.Version && m.view.ConversationID != "" {
		return
	}
	before := len(m.rows())
	following := m.cursor < 0 || m.cursor >= before-1
	m.view = v
	m.loading = !v.Loaded
	// A rename seen live makes the matches list fetch the name again.
	if v.Other.Name != "" && v.Other.Name != m.title && m.session != nil {
		m.env.Names.Forget(m.session.OtherID())
		m.title = v.Other.Name
	}

	after := len(m.rows())
	switch {
	case after == 0:
		m.cursor = -1
	case following || m.cursor >= after:
		m.cursor = after - 1
	}
	m.updateViewportContent()
}

func (m *ConversationModel) layout() {
	m.viewport.Width = m.windowWidth - 4
	height := m.windowHeight - headerHeight - footerHeight
	if m.composing {
		height -= composerHeight
		m.textarea.SetWidth(m.windowWidth - 4)
	}
	if height < minViewportHeight {
		height = minViewportHeight
	}
	m.viewport.Height = height
}

func (m ConversationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.layout()
		m.updateViewportContent()
		return m, nil

	case sessionEnteredMsg:
		if msg.err != nil {
			m.loading = false
			m.denied = errors.Is(msg.err, chat.ErrAccessDenied)
			m.err = chat.Describe(msg.err)
			m.env.Log.Error().Err(msg.err).Str("conversation", m.conversationID).Msg("failed to open conversation")
			return m, nil
		}
		m.session = msg.session
		m.setView(m.session.View())
		return m, waitForView(m.session)

	case viewUpdatedMsg:
		if !msg.ok {
			return m, nil
		}
		m.setView(msg.view)
		return m, waitForView(m.session)

	case actionDoneMsg:
		return m.handleActionDone(msg)

	case spinner.TickMsg:
		if m.loading || m.sending {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m ConversationModel) handleActionDone(msg actionDoneMsg) (tea.Model, tea.Cmd) {
	if msg.action == actionSend || msg.action == actionAttach {
		m.sending = false
	}
	if msg.err != nil {
		m.refresh(msg.err)
		return m, nil
	}

	switch msg.action {
	case actionUnmatch, actionBlock:
		return m.backToMatches()
	case actionSend:
		m.textarea.Reset()
	}
	m.refresh(nil)
	return m, nil
}

func (m ConversationModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Sequence(m.disposeCmd(), tea.Quit)
	}

	if m.session == nil {
		if msg.String() == "esc" || msg.String() == "q" {
			return m.backToMatches()
		}
		return m, nil
	}

	if m.confirm != confirmNone {
		return m.handleConfirm(msg)
	}

	if m.composing {
		return m.handleComposerKey(msg)
	}

	if m.sending {
		return m, nil
	}

	s := m.session
	row, hasRow := m.currentRow()

	switch msg.String() {
	case "esc":
		if s.Escape() {
			m.refresh(nil)
			return m, nil
		}
		return m.backToMatches()

	case "q":
		return m, tea.Sequence(m.disposeCmd(), tea.Quit)

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.updateViewportContent()
		}
		return m, nil

	case "down", "j":
		if m.cursor < len(m.rows())-1 {
			m.cursor++
			m.updateViewportContent()
		}
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "enter", "i", "n":
		if _, selecting := m.view.State.Mode.(chat.Selecting); selecting {
			return m, nil
		}
		m.composing = true
		m.layout()
		m.updateViewportContent()
		m.textarea.Focus()
		return m, textarea.Blink

	case "r":
		if hasRow {
			m.refresh(s.Reply(row.ID))
			if m.err == "" {
				m.composing = true
				m.layout()
				m.updateViewportContent()
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
		return m, nil

	case "s", " ":
		if !hasRow {
			return m, nil
		}
		if _, selecting := m.view.State.Mode.(chat.Selecting); selecting {
			m.refresh(s.ToggleSelect(row.ID))
		} else {
			m.refresh(s.Select(row.ID))
		}
		return m, nil

	case "m":
		if !hasRow {
			return m, nil
		}
		if m.view.State.Menu == row.ID {
			m.refresh(s.CloseMenu())
		} else {
			m.refresh(s.OpenMenu(row.ID))
		}
		return m, nil

	case "1", "2", "3", "4", "5":
		if !hasRow {
			return m, nil
		}
		emoji := reactionChoices[msg.String()[0]-'1']
		id := row.ID
		return m, m.actionCmd(actionReact, func(ctx context.Context) error {
			return s.ToggleReaction(ctx, id, emoji)
		})

	case "d":
		if sel, selecting := m.view.State.Mode.(chat.Selecting); selecting {
			if len(sel.IDs) > 0 {
				m.confirm = confirmDeleteSelected
			}
			return m, nil
		}
		if hasRow && row.Mine && row.Kind != chat.RowDeleted && !row.Pending {
			m.confirm = confirmDelete
			m.confirmID = row.ID
		}
		return m, nil

	case "a":
		attachModel := NewAttachModel(m)
		model, cmd := resize(attachModel, m.windowWidth, m.windowHeight)
		return model, tea.Batch(model.Init(), cmd)

	case "u":
		m.confirm = confirmUnmatch
		return m, nil

	case "b":
		m.confirm = confirmBlock
		return m, nil
	}

	return m, nil
}

func (m ConversationModel) handleConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	kind, id := m.confirm, m.confirmID
	m.confirm, m.confirmID = confirmNone, ""
	if msg.String() != "y" && msg.String() != "Y" {
		return m, nil
	}

	s := m.session
	switch kind {
	case confirmDelete:
		return m, m.actionCmd(actionDelete, func(ctx context.Context) error {
			return s.DeleteMessage(ctx, id)
		})
	case confirmDeleteSelected:
		return m, m.actionCmd(actionDeleteBatch, s.DeleteSelected)
	case confirmUnmatch:
		return m, m.actionCmd(actionUnmatch, s.Unmatch)
	case confirmBlock:
		return m, m.actionCmd(actionBlock, s.Block)
	}
	return m, nil
}

func (m ConversationModel) handleComposerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.composing = false
		m.textarea.Blur()
		m.session.StopTyping()
		m.layout()
		m.updateViewportContent()
		return m, nil

	case "enter", "ctrl+s":
		body := strings.TrimSpace(m.textarea.Value())
		if body == "" || m.sending {
			return m, nil
		}
		m.sending = true
		s := m.session
		return m, tea.Batch(m.spinner.Tick, m.actionCmd(actionSend, func(ctx context.Context) error {
			return s.SendText(ctx, body)
		}))
	}

	before := m.textarea.Value()
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	if m.textarea.Value() != before {
		m.session.Typing()
	}
	return m, cmd
}

func (m *ConversationModel) updateViewportContent() {
	if len(m.view.Items) == 0 {
		m.viewport.SetContent("")
		return
	}

	wrapWidth := m.viewport.Width
	if wrapWidth <= 0 {
		wrapWidth = defaultWidth
	}

	selection, selecting := m.view.State.Mode.(chat.Selecting)

	var content strings.Builder
	lines := 0
	cursorLine := -1
	rowIndex := 0
	write := func(s string) {
		content.WriteString(s + "\n")
		lines += lipgloss.Height(s)
	}

	for _, item := range m.view.Items {
		switch it := item.(type) {
		case chat.DateMarker:
			write(lipgloss.NewStyle().Width(wrapWidth).Align(lipgloss.Center).Render(dateMarkerStyle.Render("── " + it.Label + " ──")))

		case chat.Row:
			if rowIndex == m.cursor {
				cursorLine = lines
			}
			block := renderRow(it, rowRender{
				width:    wrapWidth,
				cursor:   rowIndex == m.cursor,
				selected: selecting && selection.Has(it.ID),
				checkbox: selecting,
				menu:     m.view.State.Menu == it.ID,
			})
			write(block)
			rowIndex++
		}
	}

	m.viewport.SetContent(content.String())
	if cursorLine >= 0 {
		switch {
		case cursorLine < m.viewport.YOffset:
			m.viewport.SetYOffset(cursorLine)
		case cursorLine >= m.viewport.YOffset+m.viewport.Height:
			m.viewport.SetYOffset(cursorLine - m.viewport.Height + 2)
		}
	}
}

type rowRender struct {
	width    int
	cursor   bool
	selected bool
	checkbox bool
	menu     bool
}

func renderRow(r chat.Row, opts rowRender) string {
	var lines []string

	header := r.SenderName
	switch {
	case r.Pending:
		header += " • sending…"
	case r.CreatedAt != nil:
		header += " • " + r.CreatedAt.Local().Format("3:04 PM")
	}
	if r.Mine && !r.Pending {
		if r.Read {
			header += " ✓✓"
		} else {
			header += " ✓"
		}
	}
	lines = append(lines, messageHeaderStyle.Render(header))

	if r.Reply != nil {
		lines = append(lines, replyPreviewStyle.Render(fmt.Sprintf("%s: %s", r.Reply.SenderName, r.Reply.Text)))
	}

	bodyStyle := messageFromOtherStyle
	if r.Mine {
		bodyStyle = messageFromMeStyle
	}
	switch r.Kind {
	case chat.RowText:
		lines = append(lines, bodyStyle.Render(wordwrap.String(r.Text, opts.width-10)))
	case chat.RowImage:
		lines = append(lines, bodyStyle.Render("📷 Photo "+r.URL))
	case chat.RowVoice:
		lines = append(lines, bodyStyle.Render("🎤 Voice message "+r.URL))
	default:
		lines = append(lines, placeholderStyle.Render(r.Text))
	}

	if len(r.Reactions) > 0 {
		var parts []string
		for _, g := range r.Reactions {
			part := fmt.Sprintf("%s %d", g.Emoji, g.Count)
			if g.Mine {
				part = "[" + part + "]"
			}
			parts = append(parts, part)
		}
		lines = append(lines, messageHeaderStyle.Render(strings.Join(parts, "  ")))
	}

	if opts.menu {
		lines = append(lines, menuStyle.Render("r: reply • 1-5: react "+strings.Join(reactionChoices, " ")+" • d: delete • m: close"))
	}

	block := strings.Join(lines, "\n")
	if r.Mine {
		block = lipgloss.NewStyle().Width(opts.width - 4).Align(lipgloss.Right).Render(block)
	}

	gutter := "  "
	if opts.cursor {
		gutter = cursorStyle.Render("› ")
	}
	if opts.checkbox {
		if opts.selected {
			gutter += cursorStyle.Render("[x] ")
		} else {
			gutter += "[ ] "
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, gutter, block)
}

func presenceLine(p models.Profile, now time.Time) string {
	switch {
	case p.Typing:
		return statusStyle.Render("typing…")
	case p.Online:
		return onlineStyle.Render("🟢 Online")
	case p.LastSeen != nil:
		return offlineStyle.Render("⚪ Offline · last seen " + formatTimeAgo(*p.LastSeen, now))
	}
	return offlineStyle.Render("⚪ Offline")
}

func (m ConversationModel) modeBar() string {
	switch mode := m.view.State.Mode.(type) {
	case chat.Replying:
		name := m.view.Other.DisplayName()
		if mode.Target.SenderID == m.actor.ID {
			name = "yourself"
		}
		return modeBarStyle.Render(fmt.Sprintf("↪ Replying to %s: %s", name, mode.Target.Text))
	case chat.Selecting:
		return modeBarStyle.Render(fmt.Sprintf("%d selected", len(mode.IDs)))
	}
	return ""
}

func (m ConversationModel) confirmPrompt() string {
	switch m.confirm {
	case confirmDelete:
		return "Delete this message? (y/n)"
	case confirmDeleteSelected:
		if sel, ok := m.view.State.Mode.(chat.Selecting); ok {
			return fmt.Sprintf("Delete %d selected message(s)? (y/n)", len(sel.IDs))
		}
	case confirmUnmatch:
		return fmt.Sprintf("Unmatch %s? This deletes the conversation. (y/n)", m.displayName())
	case confirmBlock:
		return fmt.Sprintf("Block %s? This also deletes the conversation. (y/n)", m.displayName())
	}
	return ""
}

func (m ConversationModel) displayName() string {
	if m.view.Other.Name != "" {
		return m.view.Other.Name
	}
	return m.title
}

func (m ConversationModel) View() string {
	if m.session == nil && m.loading {
		return fmt.Sprintf("\n  %s Opening conversation...\n", m.spinner.View())
	}

	s := titleStyle.Render(fmt.Sprintf("💬 %s", m.displayName())) + "\n"
	if m.session == nil {
		s += "\n" + errorStyle.Render(m.err) + "\n\n"
		if m.denied {
			s += helpStyle.Render("This match may have ended.") + "\n"
		}
		return s + helpStyle.Render("esc: back • q: quit")
	}
	s += presenceLine(m.view.Other, time.Now()) + "\n\n"

	switch {
	case m.loading:
		s += fmt.Sprintf("  %s Loading messages...\n", m.spinner.View())
	case len(m.view.Items) == 0:
		s += normalStyle.Render("  No messages yet. Say hi!") + "\n"
	default:
		s += m.viewport.View() + "\n"
	}

	if m.view.WatchErr != nil {
		s += errorStyle.Render("Live updates stopped: "+chat.Describe(m.view.WatchErr)) + "\n"
	}
	if bar := m.modeBar(); bar != "" {
		s += bar + "\n"
	}
	if m.err != "" {
		s += errorStyle.Render(m.err) + "\n"
	}

	if prompt := m.confirmPrompt(); prompt != "" {
		return s + "\n" + inputStyle.Render(prompt)
	}

	if m.composing {
		s += "\n" + inputStyle.Render("Message:") + "\n"
		s += m.textarea.View() + "\n"
		if m.sending {
			s += fmt.Sprintf("%s Sending...", m.spinner.View())
		} else {
			s += helpStyle.Render("enter: send • alt+enter: new line • esc: close")
		}
		return s
	}

	var help string
	switch m.view.State.Mode.(type) {
	case chat.Selecting:
		help = "↑↓/jk: move • s/space: toggle • d: delete selected • esc: cancel"
	default:
		help = "↑↓/jk: move • n: write • r: reply • s: select • m: menu • 1-5: react • d: delete • a: attach • u: unmatch • b: block • esc: back"
	}
	return s + "\n" + helpStyle.Render(help)
}
