package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "familiar-faces",
	Short: "Recognize familiar people at the door and announce who they are",
	Long: `Familiar Faces watches a camera, recognizes enrolled people by their face
and announces who they are, how they are related and a short note about them.

People are enrolled from photos or raw embeddings and stored in a JSON file
or in PostgreSQL (when DATABASE_URL is set).`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
