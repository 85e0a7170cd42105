package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/roach88/aegis/internal/agents"
	"github.com/roach88/aegis/internal/model"
)

var (
	agentUsername string
	agentPassword string
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage portal agent profiles",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := agents.NewRegistry(cfg.Agents.RegistryPath, st).List()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			cmd.Println("no agents registered")
			return nil
		}
		for _, a := range list {
			cmd.Printf("%-20s %s\n", a.Name, a.Username)
		}
		return nil
	},
}

var agentsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register or update an agent profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if agentUsername == "" || agentPassword == "" {
			return eris.New("both --username and --password are required")
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		reg := agents.NewRegistry(cfg.Agents.RegistryPath, st)
		agent := model.Agent{Name: args[0], Username: agentUsername}
		if err := reg.Save(cmd.Context(), agent, agentPassword); err != nil {
			return err
		}
		cmd.Printf("saved agent %s\n", agent.Name)
		return nil
	},
}

var agentsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an agent profile and its stored password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		reg := agents.NewRegistry(cfg.Agents.RegistryPath, st)
		if err := reg.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("removed agent %s\n", args[0])
		return nil
	},
}

func init() {
	agentsAddCmd.Flags().StringVar(&agentUsername, "username", "", "portal username")
	agentsAddCmd.Flags().StringVar(&agentPassword, "password", "", "portal password (stored in the secret store, not the registry file)")
	agentsCmd.AddCommand(agentsListCmd, agentsAddCmd, agentsRemoveCmd)
	rootCmd.AddCommand(agentsCmd)
}
