// ChatVault - multi-network message archiver and gateway

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/copperline/chatvault/cmd/chatvault/internal"
	"github.com/copperline/chatvault/cmd/chatvault/internal/gateway"
	"github.com/copperline/chatvault/cmd/chatvault/internal/onboard"
	"github.com/copperline/chatvault/cmd/chatvault/internal/version"
)

func NewChatvaultCommand() *cobra.Command {
	short := fmt.Sprintf("chatvault - message archiver and gateway v%s\n\n", internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "chatvault",
		Short:   short,
		Example: "chatvault gateway",
	}

	cmd.AddCommand(
		onboard.NewOnboardCommand(),
		gateway.NewGatewayCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewChatvaultCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
