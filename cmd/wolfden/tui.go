package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"wolfden/internal/den"
)

const (
	logRingSize   = 50
	eventBuffer   = 64
	responseLines = 12
)

type responsePanel struct {
	visible bool
	title   string
	body    string
	meta    string
	failed  bool
}

type model struct {
	ctx    context.Context
	pub    *den.Publisher
	events <-chan den.Event

	view       den.View
	haveView   bool
	now        time.Time
	statusLine string
	logs       []string
	inflight   bool
	dreaming   bool
	checking   bool
	response   responsePanel

	width  int
	height int

	input    textinput.Model
	feed     viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	theme uiTheme
}

type eventMsg struct {
	event den.Event
}

type eventsClosedMsg struct{}

type clockMsg time.Time

type taskDoneMsg struct {
	outcome den.TaskOutcome
	err     error
}

type dreamDoneMsg struct {
	outcome den.DreamOutcome
	err     error
}

type statusCheckDoneMsg struct {
	entry den.Entry
	err   error
}

func newModel(ctx context.Context, pub *den.Publisher, events <-chan den.Event) model {
	input := textinput.New()
	input.Prompt = "🐺 "
	input.CharLimit = 4000
	input.Placeholder = "Give Romulus a task and press Enter"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#f4a259"))

	feed := viewport.New(0, 0)
	feed.MouseWheelEnabled = true
	feed.MouseWheelDelta = 4

	return model{
		ctx:        ctx,
		pub:        pub,
		events:     events,
		now:        time.Now(),
		statusLine: "connecting...",
		logs:       []string{},
		input:      input,
		feed:       feed,
		spinner:    sp,
		theme:      newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		waitEvent(m.events),
		tickEvery(time.Second),
	)
}

func tickEvery(interval time.Duration) tea.Cmd {
	if interval <= 0 {
		interval = time.Second
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

func waitEvent(ch <-chan den.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: ev}
	}
}

func (m model) submitCmd(task string) tea.Cmd {
	ctx, pub := m.ctx, m.pub
	return func() tea.Msg {
		outcome, err := pub.SubmitTask(ctx, task)
		return taskDoneMsg{outcome: outcome, err: err}
	}
}

func (m model) dreamCmd() tea.Cmd {
	ctx, pub := m.ctx, m.pub
	return func() tea.Msg {
		outcome, err := pub.TriggerDreamCycle(ctx)
		return dreamDoneMsg{outcome: outcome, err: err}
	}
}

func (m model) statusCheckCmd() tea.Cmd {
	ctx, pub := m.ctx, m.pub
	return func() tea.Msg {
		entry, err := pub.CheckStatus(ctx)
		return statusCheckDoneMsg{entry: entry, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case eventMsg:
		switch ev := msg.event.(type) {
		case den.ViewEvent:
			m.applyView(ev.View)
		case den.FeedAppendEvent:
			m.appendLog(ev.Entry.Text)
		}
		m.renderPanes()
		cmds = append(cmds, waitEvent(m.events))
	case eventsClosedMsg:
		m.events = nil
		m.statusLine = "publisher stopped"
	case clockMsg:
		m.now = time.Time(msg)
		m.renderPanes()
		cmds = append(cmds, tickEvery(time.Second))
	case taskDoneMsg:
		m.inflight = false
		if errors.Is(msg.err, den.ErrEmptyTask) {
			break
		}
		if msg.err != nil {
			m.logError(msg.err)
			m.showResponse("Task", "Error: "+msg.err.Error(), "", true)
			break
		}
		body := nullCoalesce(strings.TrimSpace(msg.outcome.Response), "No response.")
		m.showResponse("Task: "+compactSingleLine(msg.outcome.Task, 60), body, msg.outcome.Meta(), !msg.outcome.Success)
		m.statusLine = "task complete"
	case dreamDoneMsg:
		m.dreaming = false
		if msg.outcome.Skipped {
			m.statusLine = "dream cycle already running"
			break
		}
		if msg.err != nil {
			m.logError(msg.err)
			m.showResponse("Dream cycle", "Dream failed: "+msg.err.Error(), "", true)
			break
		}
		body := nullCoalesce(strings.TrimSpace(msg.outcome.Summary), "Dream cycle complete.")
		m.showResponse("Dream cycle", body, msg.outcome.Meta(), false)
		m.statusLine = "dream cycle complete"
	case statusCheckDoneMsg:
		m.checking = false
		switch {
		case errors.Is(msg.err, den.ErrRateLimited):
			m.statusLine = "status check: slow down"
		case msg.err != nil:
			m.logError(msg.err)
		default:
			m.statusLine = msg.entry.Text
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.feed, cmd = m.feed.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			if m.inflight {
				return m, tea.Batch(cmds...)
			}
			task := strings.TrimSpace(m.input.Value())
			if task == "" {
				return m, tea.Batch(cmds...)
			}
			m.input.SetValue("")
			m.inflight = true
			m.statusLine = "working..."
			m.showResponse("Task: "+compactSingleLine(task, 60), "Thinking...", "", false)
			cmds = append(cmds, m.submitCmd(task))
			return m, tea.Batch(cmds...)
		case "ctrl+d":
			if m.dreaming || m.view.Dreaming {
				return m, tea.Batch(cmds...)
			}
			m.dreaming = true
			m.statusLine = "dreaming..."
			m.showResponse("Dream cycle", "Entering dream cycle...", "", false)
			cmds = append(cmds, m.dreamCmd())
			return m, tea.Batch(cmds...)
		case "ctrl+r":
			if m.checking {
				return m, tea.Batch(cmds...)
			}
			m.checking = true
			cmds = append(cmds, m.statusCheckCmd())
			return m, tea.Batch(cmds...)
		case "esc":
			m.response = responsePanel{}
			m.renderPanes()
			return m, tea.Batch(cmds...)
		case "pgup", "ctrl+b":
			m.feed.LineUp(8)
			return m, tea.Batch(cmds...)
		case "pgdown", "ctrl+f":
			m.feed.LineDown(8)
			return m, tea.Batch(cmds...)
		case "home":
			m.feed.GotoTop()
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *model) applyView(view den.View) {
	first := !m.haveView
	wasConnected := m.view.Connected
	m.view = view
	m.haveView = true
	if first || wasConnected != view.Connected {
		if view.Connected {
			m.statusLine = "connected"
		} else {
			m.statusLine = "offline: agent unreachable"
		}
		m.appendLog(m.statusLine)
	}
}

func (m *model) showResponse(title, body, meta string, failed bool) {
	m.response = responsePanel{visible: true, title: title, body: body, meta: meta, failed: failed}
	m.renderPanes()
}

func (m model) View() string {
	header := m.renderHeader()
	content := m.renderContent()
	input := m.renderInput()
	footer := m.renderFooter()
	return m.theme.root.Render(lipgloss.JoinVertical(lipgloss.Left, header, content, input, footer))
}

func (m *model) renderHeader() string {
	name, version := agentHeader(m.view.Snapshot.Status)
	connection := m.theme.offline.Render("● Offline")
	if m.view.Connected {
		connection = m.theme.online.Render("● Connected")
	}
	badge := m.theme.badge[m.view.State].Render(stateBadge(m.view.State))
	segments := []string{
		m.theme.title.Render("Wolf Den · " + name),
		m.theme.helpText.Render(" " + version + "  "),
		badge,
		"  " + connection,
		m.theme.helpText.Render("  uptime " + formatUptime(m.uptime())),
	}
	joined := lipgloss.JoinHorizontal(lipgloss.Left, segments...)
	return m.theme.header.Width(maxInt(20, m.width-4)).Render(joined)
}

func (m *model) uptime() time.Duration {
	snap := m.view.Snapshot
	return snap.Uptime(m.now)
}

func (m *model) renderContent() string {
	contentHeight := maxInt(8, m.height-10)
	contentWidth := maxInt(40, m.width-4)
	leftWidth, rightWidth := paneWidths(contentWidth)

	left := m.theme.panel.Width(leftWidth).Height(contentHeight).Render(
		m.theme.panelTitle.Render("Activity") + "\n" + m.feed.View(),
	)
	right := m.theme.panel.Width(rightWidth).Height(contentHeight).Render(
		m.theme.panelTitle.Render("Den") + "\n" + m.renderSidebar(rightWidth-4),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func paneWidths(contentWidth int) (int, int) {
	leftWidth := int(float64(contentWidth) * 0.6)
	rightWidth := contentWidth - leftWidth - 1
	if rightWidth < 32 {
		rightWidth = 32
		leftWidth = contentWidth - rightWidth - 1
	}
	return leftWidth, rightWidth
}

func (m *model) renderSidebar(width int) string {
	var b strings.Builder
	if m.response.visible {
		b.WriteString(m.renderResponse(width))
		b.WriteString("\n\n")
	}

	status := m.view.Snapshot.Status
	if status == nil {
		b.WriteString(m.theme.helpText.Render("Waiting for the agent's first status report..."))
		return b.String()
	}
	stat := func(key, value string) {
		b.WriteString(m.theme.statKey.Render(key) + " " + m.theme.statValue.Render(value) + "\n")
	}
	stat("Trust     ", den.Percent(status.TrustScore))
	stat("Fitness   ", den.Percent(status.CompositeFitness))
	stat("Success 7d", den.Percent(status.SuccessRate7d))
	stat("Tasks     ", fmt.Sprintf("%d", status.TotalTasks))
	stat("Rules     ", fmt.Sprintf("%d", status.RulesLearned))
	stat("Model     ", nullCoalesce(status.Model, "unknown"))
	stat("Platform  ", nullCoalesce(status.Platform.Descriptor(), "unknown"))

	level := campfireLevel(status.CompositeFitness)
	b.WriteString("\n" + m.theme.campfire[level].Render("🔥 campfire "+level) + "\n")

	b.WriteString("\n" + m.theme.panelTitle.Render("Trophies") + "\n")
	for _, t := range trophies(status) {
		if t.earned {
			b.WriteString(m.theme.trophyEarned.Render("🏆 "+t.label) + "\n")
		} else {
			b.WriteString(m.theme.trophyLocked.Render("·  "+t.label) + "\n")
		}
	}

	b.WriteString("\n" + m.theme.panelTitle.Render("Bookshelf") + "\n")
	b.WriteString(m.theme.statKey.Render(bookshelf(status.RulesLearned)) + "\n")

	b.WriteString("\n" + m.theme.panelTitle.Render("Dream cloud") + "\n")
	b.WriteString(m.theme.helpText.Render(dreamCloud(m.view.Snapshot.DreamReports)))
	return b.String()
}

func (m *model) renderResponse(width int) string {
	titleStyle := m.theme.panelTitle
	if m.response.failed {
		titleStyle = m.theme.errorStatus
	}
	body := m.response.body
	if m.renderer != nil && !m.response.failed {
		if rendered, err := m.renderer.Render(body); err == nil {
			body = strings.TrimSpace(rendered)
		}
	}
	lines := strings.Split(body, "\n")
	if len(lines) > responseLines {
		lines = append(lines[:responseLines], fmt.Sprintf("[... %d lines hidden]", len(lines)-responseLines))
	}
	out := titleStyle.Render(truncate(m.response.title, maxInt(10, width))) + "\n" + strings.Join(lines, "\n")
	if m.response.meta != "" {
		out += "\n" + m.theme.helpText.Render(m.response.meta)
	}
	return out
}

func (m *model) renderFeed() string {
	if len(m.view.Feed) == 0 {
		if !m.haveView {
			return "Listening for the den..."
		}
		return "No activity yet. Give Romulus a task to get started."
	}
	width := maxInt(24, m.feed.Width-2)
	var b strings.Builder
	for _, entry := range m.view.Feed {
		style, ok := m.theme.feedKind[entry.Kind]
		if !ok {
			style = m.theme.helpText
		}
		age := entry.Age(m.now)
		line := style.Render(compactSingleLine(entry.Text, width-len(age)-2))
		if age != "" {
			line += "  " + m.theme.helpText.Render(age)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *model) renderInput() string {
	contentWidth := maxInt(40, m.width-4)
	inputView := m.input.View()
	switch {
	case m.inflight:
		inputView = m.spinner.View() + " working... " + inputView
	case m.dreaming:
		inputView = m.spinner.View() + " dreaming... " + inputView
	}
	return m.theme.inputPanel.Width(contentWidth).Render(inputView)
}

func (m *model) renderFooter() string {
	contentWidth := maxInt(40, m.width-4)
	statusStyle := m.theme.status
	lower := strings.ToLower(m.statusLine)
	if strings.Contains(lower, "failed") || strings.Contains(lower, "error") || strings.Contains(lower, "offline") {
		statusStyle = m.theme.errorStatus
	}
	line := statusStyle.Render(compactSingleLine(m.statusLine, 180))
	if len(m.logs) > 0 {
		line += m.theme.helpText.Render("  ·  " + compactSingleLine(m.logs[len(m.logs)-1], 120))
	}
	hints := m.theme.helpText.Render("Keys: Enter task · Ctrl+D dream · Ctrl+R status check · PgUp/PgDn scroll · Esc close response · Ctrl+C quit")
	return m.theme.footer.Width(contentWidth).Render(line + "\n" + hints)
}

func (m *model) renderPanes() {
	prevOffset := m.feed.YOffset
	contentHeight := maxInt(8, m.height-10)
	contentWidth := maxInt(40, m.width-4)
	leftWidth, _ := paneWidths(contentWidth)

	m.feed.Width = maxInt(20, leftWidth-4)
	m.feed.Height = maxInt(5, contentHeight-3)
	m.feed.SetContent(m.renderFeed())
	m.feed.SetYOffset(prevOffset)
}

func (m *model) resize() {
	contentWidth := maxInt(40, m.width-4)
	m.input.Width = maxInt(20, contentWidth-6)
	_, rightWidth := paneWidths(contentWidth)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(maxInt(20, rightWidth-6)),
	)
	if err == nil {
		m.renderer = renderer
	}
}

func (m *model) appendLog(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	m.logs = append(m.logs, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), compactSingleLine(trimmed, 220)))
	if len(m.logs) > logRingSize {
		m.logs = m.logs[len(m.logs)-logRingSize:]
	}
}

func (m *model) logError(err error) {
	if err == nil {
		return
	}
	m.appendLog("error: " + err.Error())
	m.statusLine = "error: " + compactSingleLine(err.Error(), 160)
}
