package cmd

import (
	"errors"
	"fmt"

	"veostudio/pkg/api"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate [scene_id]",
	Short: "Pay for and dispatch a scene render",
	Long: `Charge the scene's generation cost and send it to the generation worker.
A scene that already finished is only re-rendered with --force, which charges
the regeneration cost.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}
		force, _ := cmd.Flags().GetBool("force")

		result, err := client.Generate(args[0], force)
		if err != nil {
			printAPIError(cmd, "Generation failed", err)
			return
		}

		cmd.Printf("%s %s\n", statusIcon("processing"), titleStyle.Render("Scene dispatched"))
		cmd.Println(rule)
		cmd.Printf("%s%s\n", label("Scene"), result.SceneID)
		cmd.Printf("%s%s\n", label("Queue entry"), result.QueueEntryID)
		cmd.Printf("%s%s\n", label("Status"), colorizeStatus(result.Status))
		cmd.Printf("%s%s\n", label("Charged"), colorizeAmount("-"+result.Cost))
		cmd.Printf("%s%s\n", label("Balance"), result.NewBalance)
	},
}

var bulkCmd = &cobra.Command{
	Use:   "bulk [scene_id...]",
	Short: "Dispatch several scenes in one request",
	Long:  `Dispatch each scene independently. Failures for one scene do not affect the others and are reported per scene.`,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		result, err := client.BulkGenerate(args)
		if err != nil {
			printAPIError(cmd, "Bulk generation failed", err)
			return
		}
		printBulk(cmd, result)
	},
}

func printBulk(cmd *cobra.Command, result *api.BulkGenerateResponse) {
	cmd.Printf("%s\n", titleStyle.Render(fmt.Sprintf("Dispatched %d, failed %d", result.Dispatched, result.Failed)))
	cmd.Println(rule)
	for _, item := range result.Results {
		if item.Error != nil {
			cmd.Printf("%s %s  %s\n", statusIcon("failed"), item.SceneID, errorStyle.Render(item.Error.Error))
			continue
		}
		if item.Result != nil {
			cmd.Printf("%s %s  %s  %s\n", statusIcon("processing"), item.SceneID,
				colorizeAmount("-"+item.Result.Cost), labelStyle.Render("balance "+item.Result.NewBalance))
		}
	}
}

func printAPIError(cmd *cobra.Command, prefix string, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		cmd.Printf("%s %s: %s\n", statusIcon("failed"), prefix, errorStyle.Render(apiErr.Message))
		switch apiErr.Code {
		case api.CodeInsufficientFunds:
			cmd.Println(labelStyle.Render("Top up your credits and try again."))
		case api.CodeAlreadyCompleted:
			cmd.Println(labelStyle.Render("Use --force to pay for a new render."))
		}
		return
	}
	cmd.Printf("%s %s: %v\n", statusIcon("failed"), prefix, err)
}

func init() {
	generateCmd.Flags().BoolP("force", "f", false, "Re-render a completed scene at the regeneration cost")
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(bulkCmd)
}
