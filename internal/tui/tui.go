// Package tui is the interactive pager over search results.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fastzet/metastream/internal/querycache"
)

// PageFunc fetches one page of results for a query.
type PageFunc func(ctx context.Context, query string, page int) (querycache.Page, error)

type state int

const (
	stateInput state = iota
	stateLoading
	stateResults
)

// pageMsg is sent when a page arrives.
type pageMsg struct {
	seq  int
	page querycache.Page
	err  error
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	searchInput textinput.Model
	pageFn      PageFunc
	query       string
	current     querycache.Page
	pageNum     int
	cursor      int
	state       state
	err         error
	cancel      context.CancelFunc
	seq         int
}

// NewModel creates a new TUI model with the given page function.
func NewModel(pageFn PageFunc) Model {
	ti := textinput.New()
	ti.Placeholder = "Search videos..."
	ti.Focus()
	ti.Width = 60

	return Model{
		searchInput: ti,
		pageFn:      pageFn,
		state:       stateInput,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case pageMsg:
		return m.handlePage(msg)
	}

	if m.state == stateInput {
		var cmd tea.Cmd
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.stop()
		return m, tea.Quit

	case tea.KeyEscape:
		if m.state != stateInput {
			m.stop()
			m.state = stateInput
			m.searchInput.Focus()
			return m, nil
		}
		return m, tea.Quit

	case tea.KeyEnter:
		if m.state == stateInput {
			query := strings.TrimSpace(m.searchInput.Value())
			if query == "" {
				return m, nil
			}
			m.query = query
			m.searchInput.Blur()
			return m.load(1)
		}

	case tea.KeyUp:
		if m.state == stateResults && m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case tea.KeyDown:
		if m.state == stateResults && m.cursor < len(m.current.Results)-1 {
			m.cursor++
		}
		return m, nil

	case tea.KeyRight:
		if m.paging() {
			return m.load(m.pageNum + 1)
		}

	case tea.KeyLeft:
		if m.paging() {
			return m.previous()
		}
	}

	if m.paging() {
		switch msg.String() {
		case "n":
			return m.load(m.pageNum + 1)
		case "p":
			return m.previous()
		case "/":
			if m.state == stateResults {
				m.state = stateInput
				m.searchInput.Focus()
			}
		}
		return m, nil
	}

	if m.state == stateInput {
		var cmd tea.Cmd
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

// paging reports whether the page keys apply. While a page is loading they
// supersede the pending request.
func (m Model) paging() bool {
	return m.state == stateResults || m.state == stateLoading
}

func (m Model) previous() (tea.Model, tea.Cmd) {
	if m.pageNum <= 1 {
		return m, nil
	}
	return m.load(m.pageNum - 1)
}

func (m Model) load(page int) (tea.Model, tea.Cmd) {
	m.stop()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.seq++
	m.pageNum = page
	m.state = stateLoading
	return m, fetch(ctx, m.pageFn, m.seq, m.query, page)
}

func (m *Model) stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m Model) handlePage(msg pageMsg) (tea.Model, tea.Cmd) {
	// Replies to a superseded or abandoned request are dropped.
	if msg.seq != m.seq || m.state != stateLoading {
		return m, nil
	}
	m.cancel = nil
	if msg.err != nil {
		m.err = msg.err
		m.state = stateInput
		m.searchInput.Focus()
		return m, nil
	}

	m.err = nil
	m.current = msg.page
	m.pageNum = msg.page.Page
	m.cursor = 0
	m.state = stateResults
	return m, nil
}

func fetch(ctx context.Context, pageFn PageFunc, seq int, query string, page int) tea.Cmd {
	return func() tea.Msg {
		p, err := pageFn(ctx, query, page)
		return pageMsg{seq: seq, page: p, err: err}
	}
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	urlStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	sourceStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("  Search videos across all sources"))
	b.WriteString("\n\n")
	b.WriteString("  " + m.searchInput.View())
	b.WriteString("\n\n")

	switch m.state {
	case stateLoading:
		b.WriteString(fmt.Sprintf("  Loading page %d...\n", m.pageNum))

	case stateResults:
		b.WriteString("  " + pageHeader(m.current) + "\n")
		if len(m.current.Failed) > 0 {
			b.WriteString("  " + failedStyle.Render("unavailable: "+strings.Join(m.current.Failed, ", ")) + "\n")
		}
		b.WriteString("\n")
		if len(m.current.Results) == 0 {
			b.WriteString("  No results found.\n")
		}
		for i, r := range m.current.Results {
			cursor := "  "
			title := titleStyle.Render(r.Title)
			if i == m.cursor {
				cursor = "> "
				title = selectedStyle.Render(r.Title)
			}
			b.WriteString(fmt.Sprintf("  %s%s\n", cursor, title))
			b.WriteString(fmt.Sprintf("     %s\n", urlStyle.Render(r.URL)))
			b.WriteString(fmt.Sprintf("     %s  %s  %s views  %s  score %.1f\n\n",
				sourceStyle.Render("["+r.Source+"]"), r.Duration, r.Views, r.Rating, r.Score))
		}
	}

	if m.err != nil {
		b.WriteString(fmt.Sprintf("\n  Error: %s\n", m.err))
	}

	b.WriteString("\n  esc: back • ctrl+c: quit")
	if m.state == stateResults {
		b.WriteString(" • ↑/↓: navigate • n/→: next page • p/←: previous page • /: new search")
	}
	b.WriteString("\n")

	return b.String()
}

func pageHeader(p querycache.Page) string {
	h := fmt.Sprintf("Page %d • %d results • %.2fs", p.Page, p.Count, p.ElapsedTime)
	if p.Cached {
		h += " (cached)"
	}
	return h
}
