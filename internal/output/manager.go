package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/rangefetch/internal/events"
	"github.com/tanq16/rangefetch/internal/utils"
)

type jobOutput struct {
	ID          string
	Label       string
	Status      string
	Message     string
	StreamLine  string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
	Index       int
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager draws one line per download plus a progress line underneath
// while it is running. Without a terminal it only prints the summary.
type Manager struct {
	out         io.Writer
	interactive bool
	jobs        map[string]*jobOutput
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	return NewManagerTo(os.Stdout, isTerminal())
}

func NewManagerTo(w io.Writer, interactive bool) *Manager {
	return &Manager{
		out:         w,
		interactive: interactive,
		jobs:        make(map[string]*jobOutput),
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) Register(id, label string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	m.jobs[id] = &jobOutput{
		ID:          id,
		Label:       label,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.jobCount,
	}
}

func (m *Manager) SetMessage(id, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.jobs[id]; exists {
		info.Message = message
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetStatus(id, status string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.jobs[id]; exists {
		info.Status = status
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) Complete(id, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.jobs[id]; exists {
		info.StreamLine = ""
		if message == "" {
			info.Message = fmt.Sprintf("Completed %s", info.Label)
		} else {
			info.Message = message
		}
		info.Complete = true
		info.Status = "success"
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.jobs[id]; exists {
		info.StreamLine = ""
		info.Complete = true
		info.Status = "error"
		info.Error = err
		info.Message = fmt.Sprintf("Failed %s", info.Label)
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{
			Label: info.Label,
			Error: err,
			Time:  time.Now(),
		})
	}
}

// Failures is the number of jobs reported through ReportError.
func (m *Manager) Failures() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.errors)
}

// Sink renders the progress notifications of job id as its stream line.
// Terminal notifications are left to Complete and ReportError.
func (m *Manager) Sink(id string) events.Sink {
	return events.Func(func(n events.Notification) {
		if !n.Downloading {
			return
		}
		m.mutex.Lock()
		defer m.mutex.Unlock()
		info, exists := m.jobs[id]
		if !exists || info.Complete {
			return
		}
		info.Status = "active"
		info.Message = fmt.Sprintf("Downloading %s", info.Label)
		info.StreamLine = progressLine(n)
		info.LastUpdated = time.Now()
	})
}

func progressLine(n events.Notification) string {
	size := utils.FormatBytes(uint64(max(n.Downloaded, 0)))
	if n.Total > 0 {
		size += " / " + utils.FormatBytes(uint64(n.Total))
	}
	return fmt.Sprintf("%s%s %s %s", PrintProgressBar(n.Downloaded, n.Total, 30),
		debugStyle.Render(size), StyleSymbols["bullet"], debugStyle.Render(n.Speed))
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "warning":
		return warningStyle.Render(StyleSymbols["warning"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case "success":
		return successStyle.Render(message)
	case "error":
		return errorStyle.Render(message)
	case "warning":
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sortJobs() (active, pending, completed []*jobOutput) {
	all := make([]*jobOutput, 0, len(m.jobs))
	for _, info := range m.jobs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	for _, j := range all {
		switch {
		case j.Complete:
			completed = append(completed, j)
		case j.Status == "pending":
			pending = append(pending, j)
		default:
			active = append(active, j)
		}
	}
	return active, pending, completed
}

// render writes at most availableLines lines and returns how many it wrote.
func (m *Manager) render(availableLines int) int {
	lineCount := 0
	indent := strings.Repeat(" ", 2)
	active, pending, completed := m.sortJobs()

	// Completed lines go first when space runs out.
	needed := len(completed)
	for _, j := range active {
		needed += 1 + min(len(j.StreamLine), 1)
	}
	needed += len(pending)
	if needed > availableLines {
		keep := max(availableLines-(needed-len(completed)), 0)
		if len(completed) > keep {
			completed = completed[len(completed)-keep:]
		}
	}

	for _, j := range active {
		if lineCount >= availableLines {
			break
		}
		elapsed := time.Since(j.StartTime).Round(time.Second)
		fmt.Fprintf(m.out, "%s%s %s %s\n", indent, m.GetStatusIndicator(j.Status), debugStyle.Render(elapsed.String()), styleMessage(j.Status, j.Message))
		lineCount++
		if j.StreamLine != "" && lineCount < availableLines {
			fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), j.StreamLine)
			lineCount++
		}
	}
	for _, j := range pending {
		if lineCount >= availableLines {
			break
		}
		fmt.Fprintf(m.out, "%s%s %s\n", indent, m.GetStatusIndicator(j.Status), pendingStyle.Render("Waiting... "+j.Label))
		lineCount++
	}
	if len(completed) > 10 && lineCount < availableLines {
		fmt.Fprintln(m.out, infoStyle.Render(fmt.Sprintf("%s%d downloads finished earlier ...", indent, len(completed)-8)))
		completed = completed[len(completed)-8:]
		lineCount++
	}
	for _, j := range completed {
		if lineCount >= availableLines {
			break
		}
		total := j.LastUpdated.Sub(j.StartTime).Round(time.Second)
		fmt.Fprintf(m.out, "%s%s %s %s\n", indent, m.GetStatusIndicator(j.Status), debugStyle.Render(total.String()), styleMessage(j.Status, j.Message))
		lineCount++
	}
	return lineCount
}

func (m *Manager) updateDisplay() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	m.numLines = m.render(getTerminalHeight() - 3)
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if m.interactive {
					m.updateDisplay()
				}
			case <-m.doneCh:
				if m.interactive {
					m.updateDisplay()
				} else {
					m.mutex.Lock()
					m.render(len(m.jobs) + 1)
					m.mutex.Unlock()
				}
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(err.Label))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", err.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.out)
	var success, failures int
	for _, info := range m.jobs {
		switch info.Status {
		case "success":
			success++
		case "error":
			failures++
		}
	}
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.jobs))))
	if failures > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.jobs))))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
