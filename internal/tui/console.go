package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dealflow/internal/domain"
	"dealflow/internal/proposal"
)

const (
	consoleRefreshInterval = 2 * time.Second
	backendTimeout         = 10 * time.Second
)

// Backend is where the console reads proposals and sends decisions. It is
// satisfied in-process by ManagerBackend and remotely by the API client.
type Backend interface {
	Pending(ctx context.Context) ([]domain.Proposal, error)
	Resolve(ctx context.Context, id string, confirmed bool) (domain.Proposal, error)
}

// ManagerBackend resolves proposals directly against a local manager.
type ManagerBackend struct {
	Manager  *proposal.Manager
	Operator string
}

func (b ManagerBackend) Pending(_ context.Context) ([]domain.Proposal, error) {
	return b.Manager.Pending(), nil
}

func (b ManagerBackend) Resolve(ctx context.Context, id string, confirmed bool) (domain.Proposal, error) {
	return b.Manager.Resolve(ctx, id, confirmed, b.Operator)
}

type refreshedMsg struct {
	proposals []domain.Proposal
	err       error
}

type resolvedMsg struct {
	proposal domain.Proposal
	err      error
}

type tickMsg time.Time

// Console lists proposals waiting on the operator; y confirms, n cancels.
type Console struct {
	backend   Backend
	proposals []domain.Proposal
	selected  int
	status    string
	err       error
	busy      bool
	width     int
	height    int
}

func NewConsole(backend Backend) *Console {
	return &Console{backend: backend}
}

func (c *Console) Init() tea.Cmd {
	return tea.Batch(c.refresh(), tick())
}

func (c *Console) refresh() tea.Cmd {
	backend := c.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()
		items, err := backend.Pending(ctx)
		return refreshedMsg{proposals: items, err: err}
	}
}

func (c *Console) resolve(id string, confirmed bool) tea.Cmd {
	backend := c.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()
		p, err := backend.Resolve(ctx, id, confirmed)
		return resolvedMsg{proposal: p, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(consoleRefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (c *Console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.width, c.height = msg.Width, msg.Height
		return c, nil
	case tickMsg:
		return c, tea.Batch(c.refresh(), tick())
	case refreshedMsg:
		if msg.err != nil {
			c.err = msg.err
			return c, nil
		}
		c.proposals = awaiting(msg.proposals)
		if c.selected >= len(c.proposals) {
			c.selected = max(0, len(c.proposals)-1)
		}
		return c, nil
	case resolvedMsg:
		c.busy = false
		if msg.err != nil {
			c.err = msg.err
			return c, c.refresh()
		}
		c.err = nil
		c.status = describeResolution(msg.proposal)
		return c, c.refresh()
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return c, tea.Quit
		case "r":
			return c, c.refresh()
		case "up", "k":
			if c.selected > 0 {
				c.selected--
			}
		case "down", "j":
			if c.selected < len(c.proposals)-1 {
				c.selected++
			}
		case "y", "n":
			if c.busy || len(c.proposals) == 0 {
				return c, nil
			}
			c.busy = true
			c.err = nil
			p := c.proposals[c.selected]
			return c, c.resolve(p.ID, msg.String() == "y")
		}
	}
	return c, nil
}

func awaiting(items []domain.Proposal) []domain.Proposal {
	out := make([]domain.Proposal, 0, len(items))
	for _, p := range items {
		if p.State == domain.ProposalAwaiting {
			out = append(out, p)
		}
	}
	return out
}

func describeResolution(p domain.Proposal) string {
	if p.Resolution != nil && p.Resolution.Message != "" {
		return p.Resolution.Message
	}
	if p.State == domain.ProposalCancelled {
		return fmt.Sprintf("🚫 %s cancelled", Describe(p))
	}
	return fmt.Sprintf("%s %s", Describe(p), p.State)
}

// Describe renders a proposal as the operator sees it in the prompt.
func Describe(p domain.Proposal) string {
	target := p.Target
	if target == "" {
		target = p.Params["dealName"]
	}
	switch p.Kind {
	case domain.ProposalCloseDeal:
		outcome := domain.Stage(p.Params["outcome"])
		return fmt.Sprintf("Close %q as %s %s", target, outcome.Label(), outcome.Emoji())
	case domain.ProposalDeleteDeal:
		return fmt.Sprintf("Delete %q", target)
	default:
		return fmt.Sprintf("%s %q", p.Kind, target)
	}
}

func (c *Console) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		Render("⚠️  Confirmation Required")

	var body string
	if len(c.proposals) == 0 {
		body = mutedStyle.Render("No proposals awaiting confirmation.")
	} else {
		lines := make([]string, 0, len(c.proposals))
		for i, p := range c.proposals {
			line := fmt.Sprintf("  %s", Describe(p))
			if exp, err := time.Parse(time.RFC3339, p.ExpiresAt); err == nil {
				line += mutedStyle.Render(fmt.Sprintf("  expires %s", exp.Local().Format("15:04:05")))
			}
			if i == c.selected {
				line = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render("▸ " + strings.TrimPrefix(line, "  "))
			}
			lines = append(lines, line)
		}
		body = strings.Join(lines, "\n")
	}

	parts := []string{title, "", body, ""}
	if c.status != "" {
		parts = append(parts, c.status)
	}
	if c.err != nil {
		parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Render("Error: "+c.err.Error()))
	}
	parts = append(parts, mutedStyle.Render("y confirm · n cancel · ↑/↓ select · r refresh · q quit"))
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
