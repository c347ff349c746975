package cli

import (
	"github.com/spf13/cobra"
)

// Command-specific flags
var (
	hostsJSON    bool
	probeJSON    bool
	checkJSON    bool
	installFlags installOptions
)

// withApp loads config and wires an App for the duration of fn.
func withApp(cmd *cobra.Command, fn func(app *App) error) error {
	app, err := loadApp(cmd.Context(), Config(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

// hostsCmd lists hosts with their cached status
var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List hosts and their cached status",
	Long: `List every Host entry from your ssh config alongside what fleetup last
learned about it: whether it was reachable, whether sudo wants a password,
and which tools are recorded as installed. Nothing is contacted.

Examples:
  fleetup hosts
  fleetup hosts --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *App) error {
			return hostsCommand(cmd.Context(), app, hostsJSON, cmd.OutOrStdout())
		})
	},
}

// hostsResetCmd clears cached host statuses
var hostsResetCmd = &cobra.Command{
	Use:   "reset <host>...",
	Short: "Clear cached status so hosts are probed again",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *App) error {
			return resetCommand(cmd.Context(), app, args, cmd.OutOrStdout())
		})
	},
}

// probeCmd probes hosts fresh
var probeCmd = &cobra.Command{
	Use:   "probe [host...]",
	Short: "Check reachability and sudo password requirements",
	Long: `Connect to each host with your SSH keys and find out whether sudo needs a
password there. Results are recorded for later installs. With no hosts,
every Host entry in your ssh config is probed.

Examples:
  fleetup probe
  fleetup probe web1 web2
  fleetup probe --json db1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *App) error {
			aliases, err := app.Aliases(args)
			if err != nil {
				return err
			}
			return probeCommand(cmd.Context(), app, aliases, probeJSON, cmd.OutOrStdout())
		})
	},
}

// installCmd installs a tool on hosts
var installCmd = &cobra.Command{
	Use:   "install <tool> <host>...",
	Short: "Install a tool on hosts that don't have it yet",
	Long: `Install a tool by running its Ansible role against each host that doesn't
already have it recorded. Hosts whose sudo needs a password are asked for
one (once, for all of them) when running on a terminal; otherwise the
become password environment variable is used.

Exit status is 0 only when every host ends with the tool installed.

Examples:
  fleetup install nginx web1 web2
  fleetup install --refresh --max-parallel 4 node_exporter web1 web2 db1
  FLEETUP_BECOME_PASS=... fleetup install --non-interactive --json nginx web1`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *App) error {
			opts := installFlags
			return installCommand(cmd.Context(), app, args[0], args[1:], opts,
				credentialProvider(app, opts), cmd.OutOrStdout())
		})
	},
}

// checkCmd compares the ledger with the hosts
var checkCmd = &cobra.Command{
	Use:   "check <tool> <host>...",
	Short: "Compare recorded installs with what hosts actually have",
	Long: `Look for a tool on each host over SSH and compare with the ledger.
Nothing is installed or recorded.

Examples:
  fleetup check nginx web1 web2`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *App) error {
			return checkCommand(cmd.Context(), app, args[0], args[1:], checkJSON, cmd.OutOrStdout())
		})
	},
}

// toolsCmd lists installable tools
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools that have a role",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *App) error {
			return toolsCommand(app, cmd.OutOrStdout())
		})
	},
}

// forgetCmd drops installation records
var forgetCmd = &cobra.Command{
	Use:   "forget <tool> <host>...",
	Short: "Forget that a tool was installed on hosts",
	Long: `Remove installation records so the next install runs the role again.
The hosts themselves are not touched.

Examples:
  fleetup forget nginx web1`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *App) error {
			return forgetCommand(cmd.Context(), app, args[0], args[1:], cmd.OutOrStdout())
		})
	},
}

func init() {
	hostsCmd.Flags().BoolVar(&hostsJSON, "json", false, "output in JSON format")
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output in JSON format")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output in JSON format")

	f := installCmd.Flags()
	f.BoolVar(&installFlags.Refresh, "refresh", false, "probe every host even if a status is cached")
	f.BoolVar(&installFlags.VerifyRemote, "verify-remote", false, "confirm recorded installs on the host before skipping it")
	f.BoolVar(&installFlags.Group, "group", false, "one Ansible run per shared password instead of per host")
	f.IntVar(&installFlags.MaxParallel, "max-parallel", 0, "concurrent probes and installs (default from config)")
	f.DurationVar(&installFlags.Timeout, "timeout", 0, "per-run Ansible timeout, e.g. 15m (default from config)")
	f.BoolVar(&installFlags.NonInteractive, "non-interactive", false, "never prompt; use the become password environment variable")
	f.BoolVar(&installFlags.JSON, "json", false, "output in JSON format (implies --non-interactive)")

	hostsCmd.AddCommand(hostsResetCmd)

	// Register all commands
	rootCmd.AddCommand(hostsCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(forgetCmd)
}
