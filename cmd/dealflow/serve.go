package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dealflow/internal/app"
	"dealflow/internal/mcpserver"
	"dealflow/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				srv, err := newHTTPServer(a, addr, basePath)
				if err != nil {
					return err
				}
				go server.RunWebhooks(ctx, server.WebhookOptions{
					Events:   a.Repo,
					Webhooks: a.Config.Notifications.Webhooks,
					Logger:   a.Logger,
				})
				fmt.Printf("Serving Dealflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
				return listenUntilDone(ctx, srv, a.Logger)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func mcpCmd() *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve pipeline tools over MCP stdio",
		Long: `Serve create_deal, move_deal, get_pipeline_summary, close_deal and delete_deal to an MCP client on stdio.
close_deal and delete_deal block until an operator decides; pass --http so operators can reach the
proposal endpoints (or run 'dealflow operator') while the tool call is held open.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if httpAddr != "" {
					srv, err := newHTTPServer(a, httpAddr, a.Config.Server.BasePath)
					if err != nil {
						return err
					}
					go func() {
						if err := listenUntilDone(ctx, srv, a.Logger); err != nil {
							a.Logger.Error("operator API stopped", "err", err)
						}
					}()
					a.Logger.Info("operator API listening", "addr", httpAddr, "base_path", a.Config.Server.BasePath)
				}
				return mcpserver.New(a.Engine, version, a.Logger).Run(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "also serve the HTTP API on this address")
	return cmd
}

func newHTTPServer(a *app.App, addr, basePath string) (*http.Server, error) {
	handler, err := server.New(server.Config{
		Engine:      a.Engine,
		Events:      &a.Repo,
		BasePath:    basePath,
		Auth:        server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: a.Logger},
		CORSOrigins: a.Config.Server.CORSOrigins,
		Logger:      a.Logger,
	})
	if err != nil {
		return nil, err
	}
	if viper.GetString("jwt-secret") == "" {
		a.Logger.Warn("DEALFLOW_JWT_SECRET not set; API is open and callers act as operators")
	}
	return &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}, nil
}

func listenUntilDone(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", "err", err)
		}
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func tokenCmd() *cobra.Command {
	var subject string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with DEALFLOW_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("--subject required")
			}
			tok, err := server.SignToken(viper.GetString("jwt-secret"), subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (operator or agent id)")
	cmd.Flags().StringSliceVar(&roles, "role", []string{"operator"}, "roles: operator, agent, viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}
