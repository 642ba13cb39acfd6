// Package ui provides the interactive voice browser.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/truncate"
	"github.com/sahilm/fuzzy"

	"github.com/dgnsrekt/speak/internal/preview"
)

const (
	// pollInterval is how often finished previews are collected.
	pollInterval = 100 * time.Millisecond
	ellipsis     = "…"
)

// NewProgram returns a new Tea program browsing cfg.Voices. Previews run on
// previewer; the program stops it on quit.
func NewProgram(ctx context.Context, cfg Config, previewer *preview.Previewer) *tea.Program {
	log.Debug("starting voice browser", "voices", len(cfg.Voices))

	opts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(ctx, cfg, previewer), opts...)
}

type pollMsg time.Time

func poll() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

type model struct {
	ctx       context.Context
	cfg       Config
	previewer *preview.Previewer
	styles    styles

	filter    textinput.Model
	filtering bool
	spinner   spinner.Model

	// visible holds indexes into cfg.Voices in display order.
	visible []int
	cursor  int

	// playing is the cfg.Voices index being previewed, or -1.
	playing int
	status  string
	failed  bool

	width  int
	height int
}

func newModel(ctx context.Context, cfg Config, previewer *preview.Previewer) model {
	ti := textinput.New()
	ti.Prompt = "Find: "
	ti.CharLimit = 64

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := model{
		ctx:       ctx,
		cfg:       cfg,
		previewer: previewer,
		styles:    newStyles(cfg.DarkBackground),
		filter:    ti,
		spinner:   sp,
		playing:   -1,
	}
	m.spinner.Style = m.styles.playing
	m.applyFilter()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(poll(), m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case pollMsg:
		m.collect()
		return m, poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.previewer.Stop()
			return m, tea.Quit
		}
		if m.filtering {
			return m.updateFilter(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.filter.SetValue("")
		m.filter.Blur()
		m.filtering = false
		m.applyFilter()
		return m, nil
	case "enter", "tab":
		m.filter.Blur()
		m.filtering = false
		return m, nil
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.applyFilter()
	return m, cmd
}

func (m model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.previewer.Stop()
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.visible)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = max(0, len(m.visible)-1)
	case "/":
		m.filtering = true
		return m, m.filter.Focus()
	case "esc":
		if m.filter.Value() != "" {
			m.filter.SetValue("")
			m.applyFilter()
		}
	case "enter", " ":
		m.activate()
	case "s":
		m.previewer.Stop()
		m.playing = -1
		m.status, m.failed = "stopped", false
	}
	return m, nil
}

// activate previews the voice under the cursor. Repeat presses inside the
// collapse window are ignored by the previewer.
func (m *model) activate() {
	if len(m.visible) == 0 {
		return
	}
	idx := m.visible[m.cursor]
	v := m.cfg.Voices[idx]
	item := preview.Item{Index: idx, Provider: v.Provider, Voice: v.ID, Text: m.cfg.SampleText}
	if !m.previewer.Activate(m.ctx, item) {
		return
	}
	m.playing = idx
	m.status, m.failed = "previewing "+v.Name, false
}

// collect drains finished previews without blocking.
func (m *model) collect() {
	for {
		res, ok := m.previewer.Poll()
		if !ok {
			return
		}
		if res.Item.Index != m.playing {
			continue
		}
		m.playing = -1
		name := m.cfg.Voices[res.Item.Index].Name
		switch {
		case res.Canceled:
			m.status, m.failed = "", false
		case res.Err != nil:
			log.Debug("preview failed", "voice", name, "error", res.Err)
			m.status, m.failed = fmt.Sprintf("%s: %v", name, res.Err), true
		default:
			m.status, m.failed = fmt.Sprintf("played %s in %s", name, res.Took.Round(100*time.Millisecond)), false
		}
	}
}

func (m *model) applyFilter() {
	query := strings.TrimSpace(m.filter.Value())
	m.visible = make([]int, 0, len(m.cfg.Voices))
	if query == "" {
		for i := range m.cfg.Voices {
			m.visible = append(m.visible, i)
		}
	} else {
		names := make([]string, len(m.cfg.Voices))
		for i, v := range m.cfg.Voices {
			names[i] = v.Name
		}
		for _, match := range fuzzy.Find(query, names) {
			m.visible = append(m.visible, match.Index)
		}
	}
	if m.cursor >= len(m.visible) {
		m.cursor = max(0, len(m.visible)-1)
	}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.title.Render("speak voices"))
	b.WriteString("\n")

	if m.filtering || m.filter.Value() != "" {
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
	}

	width := m.width
	if width <= 0 {
		width = 80
	}
	rows := len(m.visible)
	if m.height > 8 {
		rows = min(rows, m.height-8)
	}
	start := 0
	if m.cursor >= rows && rows > 0 {
		start = m.cursor - rows + 1
	}

	if len(m.visible) == 0 {
		b.WriteString(m.styles.status.Render("  no voices match"))
		b.WriteString("\n")
	}
	for i := start; i < start+rows && i < len(m.visible); i++ {
		idx := m.visible[i]
		v := m.cfg.Voices[idx]

		prefix := "  "
		if i == m.cursor {
			prefix = m.styles.cursor.Render("> ")
		}
		marker := "  "
		if idx == m.playing {
			marker = m.spinner.View() + " "
		}
		name := truncate.StringWithTail(v.Name, uint(max(10, width-len(v.Provider)-10)), ellipsis) //nolint:gosec
		style := m.styles.item
		if idx == m.playing {
			style = m.styles.playing
		}
		b.WriteString(prefix + marker + style.Render(name) + " " + m.styles.provider.Render(v.Provider))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		status := truncate.StringWithTail(m.status, uint(max(10, width-2)), ellipsis) //nolint:gosec
		if m.failed {
			b.WriteString(m.styles.err.Render(status))
		} else {
			b.WriteString(m.styles.status.Render(status))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.styles.help.Render("↑/↓ move • enter preview • s stop • / find • q quit"))
	return b.String()
}
