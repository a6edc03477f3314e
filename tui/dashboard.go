// Package tui is a terminal dashboard for the daemon. It reads providers and
// run history from the store and controls the daemon through the command
// queue the scheduler polls.
package tui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"auction_scraper/models"
	"auction_scraper/storage"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	refreshEvery = 30 * time.Second
	tailEvery    = 2 * time.Second
	logBuffer    = 200
	recentRuns   = 10
)

type providerRow struct {
	provider models.Provider
	lastRun  *models.ScrapeLog
	auctions int
	active   int
}

type dataMsg struct {
	rows       []providerRow
	runs       []models.ScrapeLog
	mediaQueue int
	err        error
}

type tailMsg struct {
	lines []string
}

type sentMsg struct {
	text string
	err  error
}

type tickMsg time.Time
type tailTickMsg time.Time

type Model struct {
	store   storage.Store
	logPath string

	width, height int
	rows          []providerRow
	runs          []models.ScrapeLog
	mediaQueue    int
	selected      int
	logLines      []string
	logViewport   int

	notification string
	notifyUntil  time.Time
	err          error
}

func New(store storage.Store, logPath string) Model {
	return Model{store: store, logPath: logPath, logViewport: 12}
}

// Run blocks until the user quits.
func Run(store storage.Store, logPath string) error {
	_, err := tea.NewProgram(New(store, logPath), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tailLog(), tickCmd(), tailTickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func tailTickCmd() tea.Cmd {
	return tea.Tick(tailEvery, func(t time.Time) tea.Msg { return tailTickMsg(t) })
}

func (m Model) refresh() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx := context.Background()
		providers, err := store.ListProviders(ctx, false)
		if err != nil {
			return dataMsg{err: err}
		}

		var msg dataMsg
		for _, p := range providers {
			row := providerRow{provider: p}
			if logs, err := store.ListScrapeLogs(ctx, p.ID, recentRuns); err == nil {
				if len(logs) > 0 {
					last := logs[0]
					row.lastRun = &last
				}
				msg.runs = append(msg.runs, logs...)
			}
			if auctions, err := store.ListAuctions(ctx, p.ID); err == nil {
				row.auctions = len(auctions)
				for _, a := range auctions {
					if a.Status == models.AuctionStatusActive {
						row.active++
					}
				}
			}
			msg.rows = append(msg.rows, row)
		}
		sortRuns(msg.runs)
		if len(msg.runs) > recentRuns {
			msg.runs = msg.runs[:recentRuns]
		}
		if pending, err := store.GetPendingImages(ctx, 1000); err == nil {
			msg.mediaQueue = len(pending)
		}
		return msg
	}
}

// sortRuns orders newest first; lists are short so insertion sort is enough.
func sortRuns(runs []models.ScrapeLog) {
	for i := 1; i < len(runs); i++ {
		for j := i; j > 0 && runs[j].StartedAt.After(runs[j-1].StartedAt); j-- {
			runs[j], runs[j-1] = runs[j-1], runs[j]
		}
	}
}

func (m Model) tailLog() tea.Cmd {
	path := m.logPath
	return func() tea.Msg {
		return tailMsg{lines: readLastLines(path, logBuffer)}
	}
}

func (m Model) send(cmd models.CommandType, params models.CommandParams, text string) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		err := store.EnqueueCommand(context.Background(), cmd, params)
		return sentMsg{text: text, err: err}
	}
}

func (m Model) selectedProvider() *models.Provider {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return nil
	}
	return &m.rows[m.selected].provider
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if v := msg.Height - 24; v > 5 {
			m.logViewport = v
		}

	case dataMsg:
		m.err = msg.err
		if msg.err == nil {
			m.rows = msg.rows
			m.runs = msg.runs
			m.mediaQueue = msg.mediaQueue
			if m.selected >= len(m.rows) {
				m.selected = len(m.rows) - 1
			}
			if m.selected < 0 {
				m.selected = 0
			}
		}

	case tailMsg:
		m.logLines = msg.lines

	case sentMsg:
		if msg.err != nil {
			m.notify("Command failed: " + msg.err.Error())
		} else {
			m.notify(msg.text)
		}

	case tickMsg:
		return m, tea.Batch(m.refresh(), tickCmd())

	case tailTickMsg:
		return m, tea.Batch(m.tailLog(), tailTickCmd())
	}
	return m, nil
}

func (m *Model) notify(text string) {
	m.notification = text
	m.notifyUntil = time.Now().Add(3 * time.Second)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k", "left", "h":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j", "right", "l":
		if m.selected < len(m.rows)-1 {
			m.selected++
		}
	case "r":
		m.notify("Refreshed")
		return m, tea.Batch(m.refresh(), m.tailLog())
	case "s", "n":
		p := m.selectedProvider()
		if p == nil {
			return m, nil
		}
		params := models.CommandParams{ProviderID: p.ID.String(), DryRun: msg.String() == "n"}
		text := "Scrape queued for " + p.Name
		if params.DryRun {
			text = "Dry run queued for " + p.Name
		}
		return m, m.send(models.CmdScrapeProvider, params, text)
	case "a":
		return m, m.send(models.CmdScrapeDue, models.CommandParams{}, "Due providers queued")
	case "p":
		return m, m.send(models.CmdPause, models.CommandParams{}, "Pause sent")
	case "u":
		return m, m.send(models.CmdResume, models.CommandParams{}, "Resume sent")
	case "m":
		return m, m.send(models.CmdRunMedia, models.CommandParams{}, "Media worker triggered")
	case "g":
		return m, m.send(models.CmdRunGeocode, models.CommandParams{}, "Geocode worker triggered")
	case "c":
		return m, m.send(models.CmdCloseExpired, models.CommandParams{}, "Status sweep triggered")
	}
	return m, nil
}

func (m Model) View() string {
	sections := []string{
		title.Render("Storage Auctions"),
		m.renderStatCards(),
		"",
		m.renderProviders(),
		"",
		title.Render("Recent Runs"),
		m.renderRuns(),
		"",
		m.renderLogTail(),
		m.renderStatusBar(),
	}
	if m.err != nil {
		sections = append([]string{statusError.Render("Error: " + m.err.Error())}, sections...)
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderStatCards() string {
	var auctions, active int
	for _, r := range m.rows {
		auctions += r.auctions
		active += r.active
	}
	cards := []string{
		statCard("Providers", fmt.Sprintf("%d", len(m.rows))),
		statCard("Auctions", fmt.Sprintf("%d", auctions)),
		statCard("Active", fmt.Sprintf("%d", active)),
		statCard("Image Q", fmt.Sprintf("%d", m.mediaQueue)),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func statCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		statValue.Render(value),
		statLabel.Render(label),
	)
	return cardBorder.Width(16).Render(content)
}

func (m Model) renderProviders() string {
	if len(m.rows) == 0 {
		return muted.Render("No providers. Add one with -add-provider.")
	}

	var cards []string
	for i, r := range m.rows {
		style := providerCard
		if i == m.selected {
			style = providerCardSelected
		}
		cards = append(cards, style.Width(26).Render(providerContent(r)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func providerContent(r providerRow) string {
	status := "○ never run"
	statusStyle := statusPending
	if r.lastRun != nil {
		statusStyle, status = runStatus(r.lastRun.Status)
	}
	if !r.provider.IsActive {
		status = "⏸ inactive"
		statusStyle = muted
	}

	lastRun := "never"
	if r.provider.LastScrapedAt != nil {
		lastRun = relativeTime(*r.provider.LastScrapedAt)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		statValue.Render(truncate(r.provider.Name, 22)),
		statusStyle.Render(status),
		statLabel.Render(fmt.Sprintf("Type: %s", r.provider.ScraperType)),
		statLabel.Render(fmt.Sprintf("Last: %s", lastRun)),
		statLabel.Render(fmt.Sprintf("Auctions: %d (%d active)", r.auctions, r.active)),
	)
}

func runStatus(status string) (lipgloss.Style, string) {
	switch status {
	case "success":
		return statusSuccess, "✓ success"
	case "partial":
		return statusPending, "◐ partial"
	default:
		return statusError, "✗ " + status
	}
}

func (m Model) renderRuns() string {
	if len(m.runs) == 0 {
		return muted.Render("No runs yet")
	}

	names := make(map[string]string, len(m.rows))
	for _, r := range m.rows {
		names[r.provider.ID.String()] = r.provider.Name
	}

	header := fmt.Sprintf("%-20s %-10s %-16s %6s %6s %8s", "Provider", "Status", "Started", "Found", "Added", "Updated")
	lines := []string{tableHeader.Render(header)}
	for _, run := range m.runs {
		style, _ := runStatus(run.Status)
		lines = append(lines, fmt.Sprintf("%-20s %s %-16s %6d %6d %8d",
			truncate(names[run.ProviderID.String()], 20),
			style.Render(fmt.Sprintf("%-10s", run.Status)),
			run.StartedAt.Local().Format("Jan 02 15:04"),
			run.AuctionsFound,
			run.AuctionsAdded,
			run.AuctionsUpdated,
		))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderLogTail() string {
	width := m.width - 4
	if width < 20 {
		width = 80
	}
	if len(m.logLines) == 0 {
		return logBox.Width(width).Render(muted.Render("(waiting for logs...)"))
	}

	start := len(m.logLines) - m.logViewport
	if start < 0 {
		start = 0
	}
	var lines []string
	for _, line := range m.logLines[start:] {
		lines = append(lines, styleLogLine(truncate(line, width-4)))
	}
	return logBox.Width(width).Render(title.Render("Log") + "\n" + strings.Join(lines, "\n"))
}

func styleLogLine(line string) string {
	switch {
	case strings.Contains(line, "[error]"):
		return statusError.Render(line)
	case strings.Contains(line, "[warn]"):
		return statusPending.Render(line)
	default:
		return line
	}
}

func (m Model) renderStatusBar() string {
	left := "↑↓ select  s scrape  n dry-run  a due  p pause  u resume  m media  g geocode  c close  r refresh  q quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = notification.Render(m.notification)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 0 {
		gap = 0
	}
	return statusBar.Render(left) + strings.Repeat(" ", gap) + right
}

func readLastLines(path string, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if len(lines) == 0 {
		return []string{"(empty log)"}
	}
	return lines
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
