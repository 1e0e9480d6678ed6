package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dealflow/internal/app"
	"dealflow/internal/domain"
	"dealflow/internal/tui"
	dealflowsdk "dealflow/sdk/go"
)

func proposalCmd() *cobra.Command {
	p := &cobra.Command{Use: "proposal", Short: "Review proposals on a running server"}
	p.AddCommand(proposalListCmd())
	p.AddCommand(proposalShowCmd())
	p.AddCommand(proposalResolveCmd("confirm", true))
	p.AddCommand(proposalResolveCmd("cancel", false))
	return p
}

func proposalListCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := apiClient().ListProposals(cmd.Context(), state)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Action", "Deal", "State", "Created", "Resolved by"})
			for _, p := range items {
				tw.AppendRow(table.Row{p.ID, p.Kind, describeRemote(p), p.State, created(p.CreatedAt), p.ResolvedBy})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "pending", "pending, resolved or all")
	return cmd
}

func proposalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := apiClient().GetProposal(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
}

func proposalResolveCmd(verb string, confirm bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: fmt.Sprintf("%s a proposal as the operator", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := apiClient().ResolveProposal(cmd.Context(), args[0], confirm)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(p)
			}
			switch {
			case p.Resolution != nil && p.Resolution.Message != "":
				fmt.Println(p.Resolution.Message)
			default:
				fmt.Printf("Proposal %s %s by %s\n", p.ID, p.State, p.ResolvedBy)
			}
			return nil
		},
	}
}

func describeRemote(p dealflowsdk.Proposal) string {
	return tui.Describe(toDomainProposal(p))
}

func notificationsCmd() *cobra.Command {
	n := &cobra.Command{Use: "notifications", Short: "Notification log"}
	n.AddCommand(notificationsTailCmd())
	return n
}

func notificationsTailCmd() *cobra.Command {
	var limit int
	var kind string
	var follow bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Repo.LatestEvents(ctx, limit, 0, kind)
				if err != nil {
					return err
				}
				var cursor int64
				for i := len(events) - 1; i >= 0; i-- {
					printEvent(events[i])
					cursor = events[i].Seq
				}
				if !follow {
					return nil
				}
				if cursor == 0 {
					if cursor, err = a.Repo.LatestEventID(ctx); err != nil {
						return err
					}
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					more, err := a.Repo.EventsAfter(ctx, 100, cursor)
					if err != nil {
						return err
					}
					for _, evt := range more {
						cursor = evt.Seq
						if kind != "" && evt.Kind != kind {
							continue
						}
						printEvent(evt)
					}
				}
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "n", "n", 20, "number of notifications")
	cmd.Flags().StringVar(&kind, "kind", "", "only this kind, e.g. deal.won")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new notifications")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --follow")
	return cmd
}

func printEvent(evt domain.Event) {
	if viper.GetBool("json") {
		_ = printJSON(evt)
		return
	}
	when := evt.At
	if t, err := time.Parse(time.RFC3339, evt.At); err == nil {
		when = humanize.Time(t)
	}
	fmt.Printf("#%s %s %s  (%s, %s)\n", strconv.FormatInt(evt.Seq, 10), evt.Icon, evt.Message, evt.Kind, when)
}

func operatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "operator",
		Short: "Interactive console for confirming or cancelling proposals",
		Long:  "Connects to a running server (--server) and lists proposals awaiting confirmation. y confirms, n cancels, q quits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prog := tea.NewProgram(tui.NewConsole(sdkBackend{client: apiClient()}), tea.WithContext(cmd.Context()))
			_, err := prog.Run()
			return err
		},
	}
}

// sdkBackend adapts the API client to the console.
type sdkBackend struct {
	client *dealflowsdk.Client
}

func (b sdkBackend) Pending(ctx context.Context) ([]domain.Proposal, error) {
	items, err := b.client.ListProposals(ctx, "pending")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Proposal, 0, len(items))
	for _, p := range items {
		out = append(out, toDomainProposal(p))
	}
	return out, nil
}

func (b sdkBackend) Resolve(ctx context.Context, id string, confirmed bool) (domain.Proposal, error) {
	p, err := b.client.ResolveProposal(ctx, id, confirmed)
	if err != nil {
		return domain.Proposal{}, err
	}
	return toDomainProposal(p), nil
}

func toDomainProposal(p dealflowsdk.Proposal) domain.Proposal {
	out := domain.Proposal{
		ID:         p.ID,
		Kind:       domain.ProposalKind(p.Kind),
		Target:     p.Target,
		DealID:     p.DealID,
		Params:     p.Params,
		State:      domain.ProposalState(p.State),
		Reason:     p.Reason,
		CreatedAt:  p.CreatedAt,
		ExpiresAt:  p.ExpiresAt,
		ResolvedAt: p.ResolvedAt,
		ResolvedBy: p.ResolvedBy,
	}
	if r := p.Resolution; r != nil {
		out.Resolution = &domain.Resolution{
			Approved: r.Approved,
			Outcome:  domain.Stage(r.Outcome),
			Applied:  r.Applied,
			Message:  r.Message,
		}
	}
	return out
}
