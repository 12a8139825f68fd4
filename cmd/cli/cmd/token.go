package cmd

import (
	"time"

	"veostudio/internal/auth"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an account token for local development",
	Long: `Sign an account token with the controller's JWT secret. Intended for local
development and operations; production tokens come from the sign-in flow.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		rawID, _ := cmd.Flags().GetString("account")
		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		accountID, err := uuid.Parse(rawID)
		if err != nil {
			cmd.Printf("Invalid account id %q: %v\n", rawID, err)
			return
		}
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = viper.GetString("jwt_secret")
		}
		if secret == "" {
			cmd.Println("JWT secret not found. Please set it using the --secret flag or the STUDIO_JWT_SECRET environment variable")
			return
		}

		token, err := auth.NewTokens(secret, ttl).Issue(accountID, email)
		if err != nil {
			cmd.Printf("Failed to issue token: %v\n", err)
			return
		}
		cmd.Println(token)
	},
}

func init() {
	tokenCmd.Flags().String("account", "", "Account ID the token authenticates")
	tokenCmd.Flags().String("email", "", "Email claim")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().String("secret", "", "JWT secret shared with the controller")
	tokenCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(tokenCmd)
}
