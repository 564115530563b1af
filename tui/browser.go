package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"math"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/glamour/v2"
	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"

	"github.com/Gaurav-Gosain/prefetched/output"
	"github.com/Gaurav-Gosain/prefetched/prefetch"
)

// --- Messages ---

// dispatchMsg carries coordinator work onto the Update loop, which is the
// control context for the whole browser.
type dispatchMsg struct {
	fn func()
}

type glamourRenderedMsg struct {
	idx      int
	rendered string
}

type flashTickMsg struct{}

func flashTick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return flashTickMsg{}
	})
}

// programDispatcher sends work to a running program.
type programDispatcher struct {
	prog *tea.Program
}

func (d *programDispatcher) Dispatch(fn func()) bool {
	if d.prog == nil {
		return false
	}
	d.prog.Send(dispatchMsg{fn: fn})
	return true
}

// rowSink collects notified rows; Update drains it after each dispatched
// function.
type rowSink struct {
	pending []int
}

func (s *rowSink) Notify(index int) {
	s.pending = append(s.pending, index)
}

// rowStatus mirrors coordinator events per row for display.
type rowStatus struct {
	failed    map[int]error
	cancelled map[int]bool
	fetches   int
	cancels   int
	failures  int
}

func newRowStatus() *rowStatus {
	return &rowStatus{
		failed:    make(map[int]error),
		cancelled: make(map[int]bool),
	}
}

func (s *rowStatus) record(e prefetch.Event) {
	switch e.Type {
	case "fetching":
		s.fetches++
		delete(s.failed, e.Index)
		delete(s.cancelled, e.Index)
	case "cancelled":
		s.cancels++
		s.cancelled[e.Index] = true
	case "error":
		s.failures++
		err := e.Err
		if err == nil {
			err = errors.New("fetch failed")
		}
		s.failed[e.Index] = err
	}
}

// --- Browser state ---

type browserState int

const (
	stateList browserState = iota
	statePager
)

// --- Styles ---

var (
	loadedMark    = lipgloss.NewStyle().Foreground(tnGreen).Render("●")
	failedMark    = lipgloss.NewStyle().Foreground(tnRed).Render("✗")
	cancelledMark = lipgloss.NewStyle().Foreground(tnYellow).Render("○")
	statNum       = lipgloss.NewStyle().Foreground(tnCyan).Bold(true)

	browserLogoStyle = lipgloss.NewStyle().
				Foreground(tnDark).
				Background(tnBlue).
				Bold(true).
				Padding(0, 1)

	browserDimStyle = lipgloss.NewStyle().
			Foreground(tnComment)

	browserSubtleStyle = lipgloss.NewStyle().
				Foreground(tnGutter)

	selectedGutter = lipgloss.NewStyle().
			Foreground(tnBlue).
			SetString("│")

	normalGutter = lipgloss.NewStyle().
			Foreground(tnGutter).
			SetString(" ")

	selectedTitleStyle = lipgloss.NewStyle().
				Foreground(tnBlue).
				Bold(true)

	normalTitleStyle = lipgloss.NewStyle().
				Foreground(tnFg)

	flashTitleStyle = lipgloss.NewStyle().
			Foreground(tnGreen).
			Bold(true)

	selectedMetaStyle = lipgloss.NewStyle().
				Foreground(tnCyan)

	normalMetaStyle = lipgloss.NewStyle().
			Foreground(tnComment)

	// Status bar
	barNoteFg    = lipgloss.NewStyle().Foreground(tnFg).Background(tnDark)
	barHelpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#c0caf5")).Background(tnSurface)

	// Progress bar
	progressFilledStyle = lipgloss.NewStyle().Foreground(tnBlue)
	progressEmptyStyle  = lipgloss.NewStyle().Foreground(tnSurface)
)

const (
	listItemHeight    = 3 // title + meta + gap
	listTopPadding    = 5 // blank + logo + blank + blank(header-separator)
	listBottomPadding = 3 // blank + help + blank
	listHPad          = 4
	pagerBarHeight    = 2 // progress line + info line
	flashTicks        = 8 // ~400ms fade after a visible row loads
)

// --- Model ---

type browserModel struct {
	state  browserState
	items  *prefetch.Collection
	coord  *prefetch.Coordinator
	window *prefetch.Window
	sink   *rowSink
	status *rowStatus
	width  int
	height int

	// List view
	cursor     int
	listOffset int
	spinner    spinner.Model
	progress   progress.Model
	flash      map[int]int // row -> remaining ticks
	flashing   bool

	// Pager view
	viewport viewport.Model
	pagerIdx int
	rendered map[int]string
}

func newBrowserModel(items *prefetch.Collection, lookahead int) browserModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(tnBlue)),
	)

	p := progress.New(
		progress.WithColors(tnBlue, tnPurple),
		progress.WithWidth(30),
		progress.WithoutPercentage(),
	)

	return browserModel{
		state:    stateList,
		items:    items,
		window:   prefetch.NewWindow(items.Len(), lookahead),
		sink:     &rowSink{},
		status:   newRowStatus(),
		spinner:  s,
		progress: p,
		flash:    make(map[int]int),
		viewport: viewport.New(),
		pagerIdx: -1,
		rendered: make(map[int]string),
	}
}

func (m browserModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.SetWidth(msg.Width)
		m.viewport.SetHeight(msg.Height - pagerBarHeight)
		m.progress.SetWidth(min(30, max(10, msg.Width/4)))
		m.rendered = make(map[int]string)
		m.ensureVisible()
		m.syncWindow()
		var cmd tea.Cmd
		if m.state == statePager {
			cmd = m.rerenderPager()
		}
		return m, cmd

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case dispatchMsg:
		msg.fn()
		cmd := m.drainSink()
		return m, cmd

	case flashTickMsg:
		return m.handleFlashTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd

	case glamourRenderedMsg:
		m.rendered[msg.idx] = msg.rendered
		if m.state == statePager && m.pagerIdx == msg.idx {
			m.viewport.SetContent(msg.rendered)
			m.viewport.GotoTop()
		}
		return m, nil
	}

	switch m.state {
	case stateList:
		return m.updateList(msg)
	case statePager:
		return m.updatePager(msg)
	}

	return m, nil
}

// drainSink handles rows the coordinator reported as loaded. Only visible
// rows are redrawn.
func (m *browserModel) drainSink() tea.Cmd {
	if len(m.sink.pending) == 0 {
		return nil
	}
	pending := m.sink.pending
	m.sink.pending = nil

	var cmds []tea.Cmd
	for _, idx := range pending {
		delete(m.rendered, idx)
		if m.window.Visible(idx) {
			m.flash[idx] = flashTicks
		}
		if m.state == statePager && m.pagerIdx == idx {
			cmds = append(cmds, m.rerenderPager())
		}
	}
	if len(m.flash) > 0 && !m.flashing {
		m.flashing = true
		cmds = append(cmds, flashTick())
	}

	total := m.items.Len()
	if total > 0 {
		cmds = append(cmds, m.progress.SetPercent(float64(m.items.Loaded())/float64(total)))
	}
	return tea.Batch(cmds...)
}

func (m browserModel) handleFlashTick() (tea.Model, tea.Cmd) {
	for idx, n := range m.flash {
		if n <= 1 {
			delete(m.flash, idx)
			continue
		}
		m.flash[idx] = n - 1
	}
	if len(m.flash) == 0 {
		m.flashing = false
		return m, nil
	}
	return m, flashTick()
}

// syncWindow feeds scroll changes to the coordinator. Update is the
// coordinator's control context, so the calls are made directly.
func (m *browserModel) syncWindow() {
	if m.coord == nil || m.height == 0 {
		return
	}
	_ = m.coord.Follow(m.window, m.listOffset, m.perPage())
}

// retryVisible requests every visible row that has no result and no fetch
// in flight.
func (m *browserModel) retryVisible() {
	if m.coord == nil {
		return
	}
	end := min(m.listOffset+m.perPage(), m.items.Len())
	for i := m.listOffset; i < end; i++ {
		it, err := m.items.Get(i)
		if err != nil || it.Loaded() || m.coord.InFlight(i) {
			continue
		}
		_ = m.coord.RequestFetch(i)
	}
}

// ══════════════════════════════════════════
// List view
// ══════════════════════════════════════════

func (m browserModel) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	kmsg, ok := msg.(tea.KeyPressMsg)
	if !ok {
		return m, nil
	}

	n := m.items.Len()
	switch kmsg.String() {
	case "q":
		return m, tea.Quit
	case "j", "down":
		m.cursor = min(m.cursor+1, max(0, n-1))
	case "k", "up":
		m.cursor = max(m.cursor-1, 0)
	case "f", "pgdown", "space":
		m.cursor = min(m.cursor+m.perPage(), max(0, n-1))
	case "b", "pgup":
		m.cursor = max(m.cursor-m.perPage(), 0)
	case "g", "home":
		m.cursor = 0
	case "G", "end":
		m.cursor = max(0, n-1)
	case "r":
		m.retryVisible()
		return m, nil
	case "enter", "right", "l":
		var cmd tea.Cmd
		if n > 0 {
			cmd = m.openDocument(m.cursor)
		}
		return m, cmd
	default:
		return m, nil
	}

	m.ensureVisible()
	m.syncWindow()
	return m, nil
}

func (m *browserModel) ensureVisible() {
	pp := m.perPage()
	if m.cursor < m.listOffset {
		m.listOffset = m.cursor
	} else if m.cursor >= m.listOffset+pp {
		m.listOffset = m.cursor - pp + 1
	}
	m.listOffset = max(0, min(m.listOffset, m.items.Len()-pp))
}

func (m browserModel) perPage() int {
	avail := m.height - listTopPadding - listBottomPadding
	return max(1, avail/listItemHeight)
}

func (m *browserModel) openDocument(idx int) tea.Cmd {
	m.state = statePager
	m.pagerIdx = idx

	it, err := m.items.Get(idx)
	if err != nil {
		return nil
	}
	if !it.Loaded() && m.coord != nil {
		_ = m.coord.RequestFetch(idx)
	}

	if cached, ok := m.rendered[idx]; ok {
		m.viewport.SetContent(cached)
		m.viewport.GotoTop()
		return nil
	}

	m.viewport.SetContent(browserDimStyle.Render("\n  Rendering..."))
	return m.glamourCmd(it)
}

// closeDocument returns to the list. A fetch the pager started for a row
// outside the window is released.
func (m *browserModel) closeDocument() {
	m.state = stateList
	if m.coord != nil && m.height > 0 {
		_ = m.coord.Release(m.window, m.pagerIdx)
	}
}

func (m browserModel) glamourCmd(it prefetch.Item) tea.Cmd {
	idx := m.pagerIdx
	md := output.Describe(it)
	w := m.width
	return func() tea.Msg {
		ww := max(20, w-4)
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("tokyo-night"),
			glamour.WithWordWrap(ww),
		)
		if err != nil {
			return glamourRenderedMsg{idx: idx, rendered: md}
		}
		out, err := r.Render(md)
		if err != nil {
			return glamourRenderedMsg{idx: idx, rendered: md}
		}
		return glamourRenderedMsg{idx: idx, rendered: out}
	}
}

func (m *browserModel) rerenderPager() tea.Cmd {
	it, err := m.items.Get(m.pagerIdx)
	if err != nil {
		return nil
	}
	m.viewport.SetContent(browserDimStyle.Render("\n  Rendering..."))
	return m.glamourCmd(it)
}

// ══════════════════════════════════════════
// Pager view
// ══════════════════════════════════════════

func (m browserModel) updatePager(msg tea.Msg) (tea.Model, tea.Cmd) {
	if kmsg, ok := msg.(tea.KeyPressMsg); ok {
		switch kmsg.String() {
		case "q":
			return m, tea.Quit
		case "esc", "left", "h":
			m.closeDocument()
			return m, nil
		case "g", "home":
			m.viewport.GotoTop()
			return m, nil
		case "G", "end":
			m.viewport.GotoBottom()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// ══════════════════════════════════════════
// Views
// ══════════════════════════════════════════

func (m browserModel) View() tea.View {
	var s string
	switch m.state {
	case statePager:
		s = m.pagerView()
	default:
		s = m.listView()
	}
	v := tea.NewView(s)
	v.AltScreen = true
	return v
}

// --- List view ---

func (m browserModel) listView() string {
	var b strings.Builder
	total := m.items.Len()

	// Title area
	b.WriteString("\n  ")
	b.WriteString(browserLogoStyle.Render("prefetched"))
	b.WriteString("  ")
	b.WriteString(m.progress.View())
	b.WriteString("  ")
	b.WriteString(statNum.Render(fmt.Sprintf("%d", m.items.Loaded())))
	b.WriteString(browserDimStyle.Render(fmt.Sprintf("/%d loaded", total)))
	if m.coord != nil {
		if n := m.coord.Pending(); n > 0 {
			b.WriteString(browserDimStyle.Render(fmt.Sprintf("  •  %d in flight", n)))
		}
	}
	if m.status.cancels > 0 {
		b.WriteString(browserDimStyle.Render(fmt.Sprintf("  •  %d cancelled", m.status.cancels)))
	}
	if m.status.failures > 0 {
		b.WriteString(browserDimStyle.Render(fmt.Sprintf("  •  %d failed", m.status.failures)))
	}
	b.WriteString("\n\n")

	// Separator
	sep := browserSubtleStyle.Render(strings.Repeat("─", max(0, m.width-4)))
	b.WriteString("  ")
	b.WriteString(sep)
	b.WriteString("\n")

	pp := m.perPage()
	end := min(m.listOffset+pp, total)
	truncTo := max(20, m.width-listHPad*2)

	if total == 0 {
		b.WriteString("\n  ")
		b.WriteString(browserDimStyle.Render("Nothing to show."))
		b.WriteString("\n")
	}

	for i := m.listOffset; i < end; i++ {
		it, err := m.items.Get(i)
		if err != nil {
			break
		}
		isSel := i == m.cursor

		gut := normalGutter
		titStyle := normalTitleStyle
		metStyle := normalMetaStyle
		if isSel {
			gut = selectedGutter
			titStyle = selectedTitleStyle
			metStyle = selectedMetaStyle
		}
		if m.flash[i] > 0 {
			titStyle = flashTitleStyle
		}

		badge, meta := m.rowState(i, it)

		b.WriteString("\n")
		fmt.Fprintf(&b, "  %s  %s  %s\n", gut, badge, titStyle.Render(ansi.Truncate(it.URL, truncTo, "...")))
		fmt.Fprintf(&b, "       %s\n", metStyle.Render(ansi.Truncate(meta, truncTo, "...")))
	}

	// Fill empty space
	itemLines := (end - m.listOffset) * listItemHeight
	if total == 0 {
		itemLines = 2
	}
	avail := m.height - listTopPadding - listBottomPadding - itemLines
	if avail > 0 {
		b.WriteString(strings.Repeat("\n", avail))
	}

	b.WriteString("\n")
	b.WriteString(browserDimStyle.Render("  ↑↓/jk navigate  •  pgup/pgdn page  •  enter open  •  r retry  •  q quit"))

	return b.String()
}

// rowState returns the badge and meta line for a row.
func (m browserModel) rowState(i int, it prefetch.Item) (string, string) {
	switch {
	case it.Loaded():
		return loadedMark, output.Summary(it.Result)
	case m.coord != nil && m.coord.InFlight(i):
		return m.spinner.View(), "fetching..."
	case m.status.failed[i] != nil:
		return failedMark, m.status.failed[i].Error()
	case m.status.cancelled[i]:
		return cancelledMark, "cancelled"
	default:
		return browserDimStyle.Render("○"), "waiting"
	}
}

// --- Pager view ---

func (m browserModel) pagerView() string {
	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	m.progressBarLine(&b)
	m.pagerInfoBar(&b)
	return b.String()
}

func (m browserModel) progressBarLine(b *strings.Builder) {
	pct := m.viewport.ScrollPercent()
	filled := min(int(math.Round(pct*float64(m.width))), m.width)
	empty := max(0, m.width-filled)
	b.WriteString(progressFilledStyle.Render(strings.Repeat("━", filled)))
	b.WriteString(progressEmptyStyle.Render(strings.Repeat("─", empty)))
	b.WriteString("\n")
}

func (m browserModel) pagerInfoBar(b *strings.Builder) {
	logo := browserLogoStyle.Render("prefetched")
	help := barHelpStyle.Render(" esc back  g/G top/bottom ")

	note := ""
	if it, err := m.items.Get(m.pagerIdx); err == nil {
		note = " " + it.URL + " "
	}

	fixedW := lipgloss.Width(logo) + lipgloss.Width(help)
	noteMax := max(0, m.width-fixedW)
	if lipgloss.Width(note) > noteMax {
		if noteMax > 3 {
			note = truncateURL(note, noteMax)
		} else {
			note = ""
		}
	}
	note = barNoteFg.Render(note)

	usedW := lipgloss.Width(logo) + lipgloss.Width(note) + lipgloss.Width(help)
	pad := max(0, m.width-usedW)

	b.WriteString(logo)
	b.WriteString(note)
	b.WriteString(barNoteFg.Render(strings.Repeat(" ", pad)))
	b.WriteString(help)
}

// RunBrowser launches the interactive prefetching browser.
func RunBrowser(ctx context.Context, items *prefetch.Collection, opts Options) error {
	m := newBrowserModel(items, opts.Lookahead)

	disp := &programDispatcher{}
	m.coord = prefetch.New(items, prefetch.Options{
		Transport:      opts.Transport,
		Decoder:        opts.Decoder,
		Sink:           m.sink,
		Dispatcher:     disp,
		Logger:         quietLogger(),
		OnEvent:        m.status.record,
		RenotifyCached: opts.RenotifyCached,
	})
	defer m.coord.Close()

	p := tea.NewProgram(m)
	disp.prog = p

	// Mute Go's standard logger and stderr during TUI so library output
	// doesn't corrupt the alt screen. Restore after.
	origStdlogOutput := stdlog.Writer()
	stdlog.SetOutput(io.Discard)
	origStderr := os.Stderr
	devNull, _ := os.Open(os.DevNull)
	if devNull != nil {
		os.Stderr = devNull
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-stop:
		}
	}()

	_, err := p.Run()
	close(stop)

	os.Stderr = origStderr
	stdlog.SetOutput(origStdlogOutput)
	if devNull != nil {
		_ = devNull.Close()
	}

	if err != nil {
		return fmt.Errorf("browser TUI error: %w", err)
	}
	return nil
}
