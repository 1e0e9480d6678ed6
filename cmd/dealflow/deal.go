package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dealflow/internal/analytics"
	"dealflow/internal/app"
	"dealflow/internal/domain"
	"dealflow/internal/engine"
	"dealflow/internal/tui"
)

func boardCmd() *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Render the pipeline board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				deals := a.Engine.Store.All()
				if viper.GetBool("json") {
					return printJSON(a.Engine.Store.Snapshot())
				}
				fmt.Println(tui.RenderBoard(deals, width))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&width, "width", 132, "board width in columns")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Pipeline totals, stage breakdown and win rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reply := a.Engine.PipelineSummary(ctx)
				deals := a.Engine.Store.All()
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"message": reply.Message,
						"summary": reply.Summary,
						"stages":  analytics.Breakdown(deals),
					})
				}
				fmt.Println(reply.Message)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Deals", "Value"})
				for _, st := range analytics.Breakdown(deals) {
					tw.AppendRow(table.Row{st.Emoji + " " + st.Label, st.Count, analytics.FormatUSD(st.Value)})
				}
				tw.AppendFooter(table.Row{"Total", reply.Summary.Count, analytics.FormatUSD(reply.Summary.TotalValue)})
				tw.Render()
				return nil
			})
		},
	}
}

func dealCmd() *cobra.Command {
	deal := &cobra.Command{Use: "deal", Short: "Manage deals"}
	deal.AddCommand(dealListCmd())
	deal.AddCommand(dealShowCmd())
	deal.AddCommand(dealCreateCmd())
	deal.AddCommand(dealMoveCmd())
	deal.AddCommand(dealCloseCmd())
	deal.AddCommand(dealDeleteCmd())
	return deal
}

func dealListCmd() *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var items []domain.Deal
				for _, d := range a.Engine.Store.All() {
					if stage == "" || string(d.Stage) == stage {
						items = append(items, d)
					}
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Company", "Value", "Stage", "Contact", "Created"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.Name, d.Company, analytics.FormatUSD(d.Value), d.Stage.Emoji() + " " + d.Stage.Label(), contact(d), created(d.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "only deals in this stage")
	return cmd
}

func dealShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a deal by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				deals := a.Engine.Store.All()
				i := domain.FindByName(deals, args[0])
				if i < 0 {
					return fmt.Errorf("deal %q not found", args[0])
				}
				d := deals[i]
				if viper.GetBool("json") {
					return printJSON(d)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"ID", d.ID},
					{"Name", d.Name},
					{"Company", d.Company},
					{"Value", analytics.FormatUSD(d.Value)},
					{"Stage", d.Stage.Emoji() + " " + d.Stage.Label()},
					{"Contact", contact(d)},
					{"Created", created(d.CreatedAt)},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func dealCreateCmd() *cobra.Command {
	var args engine.CreateDealArgs
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a deal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printReply(a.Engine.CreateDeal(ctx, args))
			})
		},
	}
	cmd.Flags().StringVar(&args.Name, "name", "", "deal name")
	cmd.Flags().Float64Var(&args.Value, "value", 0, "deal value in USD")
	cmd.Flags().StringVar(&args.Company, "company", "", "company name")
	cmd.Flags().StringVar(&args.ContactName, "contact-name", "", "contact person")
	cmd.Flags().StringVar(&args.ContactEmail, "contact-email", "", "contact email")
	cmd.Flags().StringVar(&args.Stage, "stage", "", "initial stage (default lead)")
	for _, name := range []string{"name", "value", "company"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func dealMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <name> <stage>",
		Short: "Move a deal to another active stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printReply(a.Engine.MoveDeal(ctx, engine.MoveDealArgs{DealName: args[0], NewStage: args[1]}))
			})
		},
	}
}

func dealCloseCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "close <name> <closed_won|closed_lost>",
		Short: "Close a deal as won or lost (asks for confirmation)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reply := a.Engine.CloseDeal(ctx, engine.CloseDealArgs{DealName: args[0], Outcome: args[1]})
				return decideLocally(ctx, a, reply, yes)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm without prompting")
	return cmd
}

func dealDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a deal (asks for confirmation)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reply := a.Engine.DeleteDeal(ctx, engine.DeleteDealArgs{DealName: args[0]})
				return decideLocally(ctx, a, reply, yes)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm without prompting")
	return cmd
}

// decideLocally plays the operator at the terminal for a proposal created in
// this process.
func decideLocally(ctx context.Context, a *app.App, reply engine.Reply, yes bool) error {
	if reply.Proposal == nil || reply.Proposal.State != domain.ProposalAwaiting {
		return printReply(reply)
	}
	fmt.Println(reply.Message)
	confirmed := yes
	if !yes {
		fmt.Printf("%s? [y/N] ", tui.Describe(*reply.Proposal))
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		confirmed = answer == "y" || answer == "yes"
	}
	p, err := a.Engine.Proposals.Resolve(ctx, reply.Proposal.ID, confirmed, viper.GetString("operator"))
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(engine.ResultOf(p))
	}
	fmt.Println(engine.ResultOf(p).Message)
	return nil
}

func printReply(r engine.Reply) error {
	if viper.GetBool("json") {
		return printJSON(r)
	}
	fmt.Println(r.Message)
	if r.Rejected() {
		return fmt.Errorf("%s rejected (%s)", r.Action, r.Rejection)
	}
	return nil
}

func contact(d domain.Deal) string {
	switch {
	case d.ContactName != "" && d.ContactEmail != "":
		return fmt.Sprintf("%s <%s>", d.ContactName, d.ContactEmail)
	case d.ContactName != "":
		return d.ContactName
	default:
		return d.ContactEmail
	}
}

func created(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}
