package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/pkg/output"
	"github.com/chatrelay/chatrelay/pkg/webhook"
)

var signCmd = &cobra.Command{
	Use:   "sign [file]",
	Short: "Sign a webhook payload",
	Long: `Compute the signature header for a webhook body.

Reads the payload from the given file, or from stdin when no file is
provided. Useful for replaying captured payloads against a local
instance with curl.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			c, err := requireConfig()
			if err != nil {
				return fmt.Errorf("no secret: pass --secret or configure webhook.channel_secret")
			}
			secret = c.Webhook.ChannelSecret
		}
		if secret == "" {
			return fmt.Errorf("channel secret is empty")
		}

		var body []byte
		var err error
		if len(args) == 1 {
			body, err = os.ReadFile(args[0])
		} else {
			body, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}

		output.Info("%s", webhook.Sign(body, secret))
		return nil
	},
}

func init() {
	signCmd.Flags().String("secret", "", "channel secret (overrides config)")
	rootCmd.AddCommand(signCmd)
}
