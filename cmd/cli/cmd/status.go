package cmd

import (
	"fmt"
	"time"

	"veostudio/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [project_id]",
	Short: "Show a project and its scenes",
	Long:  `Retrieve a project's status, stitching progress and the state of every scene, including failure reasons and render times.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		project, err := client.GetProject(args[0])
		if err != nil {
			printAPIError(cmd, "Failed to load project", err)
			return
		}
		printProject(cmd, project)
	},
}

func printProject(cmd *cobra.Command, p *api.ProjectResponse) {
	cmd.Printf("%s %s\n", statusIcon(p.Status), titleStyle.Render(p.Title))
	cmd.Println(rule)
	cmd.Printf("%s%s\n", label("ID"), p.ID)
	cmd.Printf("%s%s\n", label("Status"), colorizeStatus(p.Status))
	cmd.Printf("%s%d/%d scenes\n", label("Progress"), p.ScenesCompletedCount, p.SceneCount)
	cmd.Printf("%s%s %s\n", label("Created"), p.CreatedAt.Format(time.RFC1123),
		labelStyle.Render(fmt.Sprintf("(%s ago)", relativeTime(p.CreatedAt))))
	if p.FinalArtifactURL != nil {
		cmd.Printf("%s%s\n", label("Video"), infoStyle.Render(*p.FinalArtifactURL))
	}
	if p.ErrorMessage != nil {
		cmd.Printf("%s%s\n", label("Error"), errorStyle.Render(*p.ErrorMessage))
	}

	if len(p.Scenes) == 0 {
		return
	}
	cmd.Println()
	for _, sc := range p.Scenes {
		line := fmt.Sprintf("%2d. %s", sc.Index+1, colorizeStatus(sc.Status))
		if sc.RetryCount > 0 {
			line += labelStyle.Render(fmt.Sprintf(" (retry %d)", sc.RetryCount))
		}
		if sc.ProcessingTimeMs != nil {
			line += " " + labelStyle.Render(formatDuration(time.Duration(*sc.ProcessingTimeMs)*time.Millisecond))
		}
		cmd.Println(line)
		if sc.ErrorMessage != nil {
			cmd.Printf("    %s\n", errorStyle.Render(*sc.ErrorMessage))
		}
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
