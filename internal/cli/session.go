package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"shoonya-bridge/internal/models"
	"shoonya-bridge/internal/tools"
)

// addSessionCommands adds session lifecycle commands.
func addSessionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newConnectCmd(app))
}

// withSession connects, runs fn with the issued token and disconnects.
// One-shot commands live inside a single process, so the token never
// needs to be persisted.
func withSession(app *App, fn func(ctx context.Context, token string) error) error {
	ctx := context.Background()

	resp := app.Service.Dispatch(ctx, tools.ConnectRequest{})
	if resp.Status != "success" {
		return fmt.Errorf("connect failed: %s", resp.Message)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("connect returned unexpected payload")
	}
	token, _ := data["session_token"].(string)

	defer app.Service.Dispatch(ctx, tools.DisconnectRequest{SessionToken: token})
	return fn(ctx, token)
}

// render prints a tool response: raw in JSON mode, message-and-data in
// text mode. Commands with richer text formatting print Data themselves
// and pass printData=false.
func render(output *Output, resp tools.Response, printData bool) error {
	if output.IsJSON() {
		return output.JSON(resp)
	}
	if resp.Status != "success" {
		output.Error("✗ %s", resp.Message)
		return fmt.Errorf("%s", resp.Message)
	}
	output.Success("✓ %s", resp.Message)
	if printData && resp.Data != nil {
		return output.JSON(resp.Data)
	}
	return nil
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show bridge and session health",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			resp := app.Service.Dispatch(cmd.Context(), tools.HealthRequest{})
			if output.IsJSON() {
				return output.JSON(resp)
			}

			data, _ := resp.Data.(map[string]interface{})
			status, _ := data["session_status"].(string)
			output.Header("Shoonya Bridge")
			output.Printf("  Mode:    %s\n", app.Config.Bridge.Mode)
			output.Printf("  Session: %s\n", status)
			if status == string(models.SessionActive) {
				output.Printf("  User:    %v\n", data["user_id"])
			}
			return nil
		},
	}
}

func newConnectCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Verify the configured credentials against the broker",
		Long: `Establishes a session with the configured credentials and tears it
down again. Use this to verify credentials and TOTP setup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				status, info := app.Session.Status()
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{
						"status":   string(status),
						"user_id":  info.UserID,
						"username": info.Username,
					})
				}
				output.Success("✓ Connected as %s (%s)", info.Username, info.UserID)
				return nil
			})
		},
	}
}
