package main

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	defaultAddr := os.Getenv("KEEPER_ADDR")
	if defaultAddr == "" {
		defaultAddr = "http://127.0.0.1:8080"
	}
	var addr string
	root := &cobra.Command{
		Use:           "keeperctl",
		Short:         "Control a running keeper daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "keeper base URL")
	c := func() *client { return newClient(addr) }

	root.AddCommand(newServersCmd(c))
	root.AddCommand(newLogsCmd(c))
	root.AddCommand(newActionCmd(c, "start", "start", "Start a server"))
	root.AddCommand(newActionCmd(c, "stop", "stop", "Stop a server gracefully"))
	root.AddCommand(newActionCmd(c, "kill", "force-stop", "Force-stop a server"))
	root.AddCommand(newActionCmd(c, "restart", "restart", "Restart a server and wait for it"))
	root.AddCommand(newSendCmd(c))
	root.AddCommand(newGrantCmd(c))
	root.AddCommand(newCandidatesCmd(c))
	root.AddCommand(newAuthorizeCmd(c))
	return root
}
