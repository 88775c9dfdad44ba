// Package tui provides a Bubble Tea viewer for learntrace session reports.
package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/learntrace/internal/event"
	"github.com/fakeyudi/learntrace/internal/report"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("25")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("25")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	timeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	barStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	goodStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))

	kindStyles = map[event.Kind]lipgloss.Style{
		event.KindSlideViewed:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		event.KindInteraction:    lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true),
		event.KindKnowledgeCheck: lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true),
		event.KindPacing:         lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Bold(true),
		event.KindConfusion:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		event.KindContextSwitch:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
	kindBadges = map[event.Kind]string{
		event.KindSlideViewed:    "SLIDE",
		event.KindInteraction:    "INTERACT",
		event.KindKnowledgeCheck: "QUIZ",
		event.KindPacing:         "PACE",
		event.KindConfusion:      "CONFUSED",
		event.KindContextSwitch:  "AWAY",
	}
)

// ── Tabs ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabTimeline
	tabSlides
	tabQuizzes
	tabSignals
	tabFocus
	tabCount
)

var tabNames = [tabCount]string{"Summary", "Timeline", "Slides", "Quizzes", "Signals", "Focus"}

// ReportMsg replaces the report being shown, keeping the active tab.
type ReportMsg struct {
	Report *report.Report
}

// Model is the root Bubble Tea model for the viewer.
type Model struct {
	report    *report.Report
	dwell     []report.SlideDwell
	filename  string
	updates   <-chan *report.Report
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	// Slides tab selection
	slideCursor    int
	expandedSlides map[string]bool
}

// New creates a viewer for r. If updates is non-nil, every report received
// on it replaces the one shown.
func New(r *report.Report, filename string, updates <-chan *report.Report) Model {
	return Model{
		report:         r,
		dwell:          r.Dwell(),
		filename:       filepath.Base(filename),
		updates:        updates,
		expandedSlides: make(map[string]bool),
	}
}

func (m Model) Init() tea.Cmd { return m.waitForReport() }

func (m Model) waitForReport() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	ch := m.updates
	return func() tea.Msg {
		r, ok := <-ch
		if !ok {
			return nil
		}
		return ReportMsg{Report: r}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4", "5", "6":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabTimeline {
				m.sortAsc = !m.sortAsc
				m.refresh(tabTimeline)
				m.viewports[tabTimeline].GotoTop()
			}
		case "up", "k":
			if m.activeTab == tabSlides && m.slideCursor > 0 {
				m.slideCursor--
				m.refresh(tabSlides)
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabSlides && m.slideCursor < len(m.dwell)-1 {
				m.slideCursor++
				m.refresh(tabSlides)
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabSlides && len(m.dwell) > 0 {
				id := m.dwell[m.slideCursor].SlideID
				if m.expandedSlides[id] {
					delete(m.expandedSlides, id)
				} else {
					m.expandedSlides[id] = true
				}
				m.refresh(tabSlides)
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil

	case ReportMsg:
		m.report = msg.Report
		m.dwell = msg.Report.Dwell()
		if m.slideCursor >= len(m.dwell) {
			m.slideCursor = max(len(m.dwell)-1, 0)
		}
		if m.ready {
			for i := tabID(0); i < tabCount; i++ {
				m.refresh(i)
			}
		}
		return m, m.waitForReport()
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  learntrace  " + m.filename)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	hint := "  ←/→ tab  ↑/↓ scroll  1-6 jump  q quit"
	switch m.activeTab {
	case tabTimeline:
		dir := "newest first"
		if m.sortAsc {
			dir = "oldest first"
		}
		hint += "  s sort (" + dir + ")"
	case tabSlides:
		hint += "  enter visits"
	}
	if m.updates != nil {
		hint += "  (following)"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := max(m.width-lipgloss.Width(hint)-len(pct)-2, 1)
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, m.viewports[m.activeTab].View(), statusBar)
}

func (m *Model) initViewports() {
	// title, tab row and status bar take one row each
	vpHeight := max(m.height-3, 1)
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) refresh(t tabID) {
	m.viewports[t].SetContent(m.renderTab(t))
}

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabTimeline:
		return m.renderTimeline()
	case tabSlides:
		return m.renderSlides()
	case tabQuizzes:
		return m.renderQuizzes()
	case tabSignals:
		return m.renderSignals()
	case tabFocus:
		return m.renderFocus()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func none() string {
	return dimStyle.Render("  (none)") + "\n"
}

func row(sb *strings.Builder, label, value string) {
	sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
}

func eventLine(e event.Event) string {
	ts := timeStyle.Render(e.Timestamp().Format("15:04:05"))
	badge := kindStyles[e.Kind()].Render(fmt.Sprintf("  %-9s", kindBadges[e.Kind()]))
	return ts + badge + "  " + report.Describe(e) + "\n"
}

func (m *Model) renderSummary() string {
	s := m.report.Session
	var sb strings.Builder
	sb.WriteString(heading("Session"))
	row(&sb, "Session:", s.ID)
	row(&sb, "Learner:", s.UserID)
	if s.Author != "" {
		row(&sb, "Author:", s.Author)
	}
	row(&sb, "Started:", s.StartTime.Format("2006-01-02 15:04:05 MST"))
	if s.EndTime != nil {
		row(&sb, "Ended:", s.EndTime.Format("2006-01-02 15:04:05 MST"))
	}
	row(&sb, "Duration:", s.Duration)

	sb.WriteString(heading(fmt.Sprintf("Events (%d)", len(m.report.Events))))
	for _, k := range event.Kinds {
		row(&sb, kindBadges[k]+":", fmt.Sprintf("%d", m.report.Counts[k]))
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder
	dir := "newest first"
	if m.sortAsc {
		dir = "oldest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%s)", dir)))

	events := append([]event.Event(nil), m.report.Events...)
	if len(events) == 0 {
		sb.WriteString(dimStyle.Render("  (no events in this session)") + "\n")
		return sb.String()
	}
	sort.SliceStable(events, func(i, j int) bool {
		if m.sortAsc {
			return events[i].Timestamp().Before(events[j].Timestamp())
		}
		return events[i].Timestamp().After(events[j].Timestamp())
	})
	for _, e := range events {
		sb.WriteString(eventLine(e) + "\n")
	}
	return sb.String()
}

func (m *Model) renderSlides() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Slides (%d)", len(m.dwell))))
	if len(m.dwell) == 0 {
		sb.WriteString(none())
		return sb.String()
	}
	longest := m.dwell[0].Seconds
	const barWidth = 30
	for i, d := range m.dwell {
		toggle := "  ▶ "
		if m.expandedSlides[d.SlideID] {
			toggle = "  ▼ "
		}
		n := 0
		if longest > 0 {
			n = int(d.Seconds / longest * barWidth)
		}
		line := fmt.Sprintf("%s%-20s %6.1fs  %2d visit(s)  %s",
			dimStyle.Render(toggle), d.SlideID, d.Seconds, d.Visits, barStyle.Render(strings.Repeat("█", n)))
		if i == m.slideCursor {
			line = selectedRowStyle.Width(max(m.width-2, 1)).Render(line)
		}
		sb.WriteString(line + "\n")
		if m.expandedSlides[d.SlideID] {
			for _, e := range m.report.OfKind(event.KindSlideViewed) {
				if e.Properties().(event.SlideViewed).SlideID == d.SlideID {
					sb.WriteString("      " + eventLine(e))
				}
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (m *Model) renderQuizzes() string {
	var sb strings.Builder
	checks := m.report.OfKind(event.KindKnowledgeCheck)
	sb.WriteString(heading(fmt.Sprintf("Knowledge checks (%d)", len(checks))))
	if len(checks) == 0 {
		sb.WriteString(none())
	}
	for _, e := range checks {
		sb.WriteString(eventLine(e) + "\n")
	}

	sb.WriteString(heading(fmt.Sprintf("Results posted (%d)", len(m.report.Quizzes))))
	if len(m.report.Quizzes) == 0 {
		sb.WriteString(none())
	}
	for _, q := range m.report.Quizzes {
		verdict := badStyle.Render("FAIL")
		if q.Passed {
			verdict = goodStyle.Render("PASS")
		}
		fmt.Fprintf(&sb, "  %s  %s  %s on %s\n\n", timeStyle.Render(q.At.Format("15:04:05")), verdict, q.QuizID, q.SlideID)
	}
	return sb.String()
}

func (m *Model) renderSignals() string {
	var sb strings.Builder
	for _, k := range []event.Kind{event.KindConfusion, event.KindContextSwitch, event.KindPacing, event.KindInteraction} {
		events := m.report.OfKind(k)
		sb.WriteString(heading(fmt.Sprintf("%s (%d)", k, len(events))))
		if len(events) == 0 {
			sb.WriteString(none())
		}
		for _, e := range events {
			sb.WriteString(eventLine(e) + "\n")
		}
	}
	return sb.String()
}

func (m *Model) renderFocus() string {
	var sb strings.Builder
	f := m.report.Focus
	sb.WriteString(heading("Focus"))
	if f.Samples == 0 {
		sb.WriteString(none())
		return sb.String()
	}
	row(&sb, "Samples:", fmt.Sprintf("%d", f.Samples))
	row(&sb, "Focused:", fmt.Sprintf("%.0f%%", f.FocusedRatio*100))
	row(&sb, "Mean score:", fmt.Sprintf("%.2f", f.MeanScore))

	sb.WriteString(heading("Samples"))
	const barWidth = 40
	for _, s := range m.report.Samples {
		style := badStyle
		if s.IsFocused {
			style = goodStyle
		}
		bar := style.Render(strings.Repeat("▇", int(s.FocusScore*barWidth)))
		fmt.Fprintf(&sb, "  %s  %.2f  %s\n", timeStyle.Render(s.At.Format("15:04:05")), s.FocusScore, bar)
	}
	return sb.String()
}

// Run starts the viewer for r and blocks until the user quits.
func Run(r *report.Report, filename string, updates <-chan *report.Report) error {
	p := tea.NewProgram(New(r, filename, updates), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
