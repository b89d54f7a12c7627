package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmallek/svcpilot/pkg/client"
)

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	JSONOut    bool
}

func (gf *GlobalFlags) client() *client.Client {
	return client.New(client.Config{BaseURL: gf.APIUrl, Timeout: gf.APITimeout})
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:           "svcpilot",
		Short:         "svcpilot manages local backend services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&gf.APIUrl, "api-url", "http://127.0.0.1:9900", "daemon API base URL")
	root.PersistentFlags().DurationVar(&gf.APITimeout, "api-timeout", 10*time.Second, "daemon API request timeout")
	root.PersistentFlags().BoolVar(&gf.JSONOut, "json", false, "print raw JSON responses")

	root.AddCommand(
		newServeCmd(gf),
		newStartCmd(gf),
		newStopCmd(gf),
		newRestartCmd(gf),
		newProbeCmd(gf),
		newInspectCmd(gf),
		newStatusCmd(gf),
		newStartAllCmd(gf),
		newStopAllCmd(gf),
		newResumeCmd(gf),
		newSaveStateCmd(gf),
	)
	return root
}

func newStartCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a service and wait for it to become healthy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return gf.client().Start(cmd.Context(), args[0])
		},
	}
}

func newStopCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return gf.client().Stop(cmd.Context(), args[0])
		},
	}
}

func newRestartCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Restart a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return gf.client().Restart(cmd.Context(), args[0])
		},
	}
}

func newProbeCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <name>",
		Short: "Run a service's readiness probe once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := gf.client().Probe(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

func newStartAllCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start-all",
		Short: "Start every enabled service in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gf.client().StartAll(cmd.Context())
		},
	}
}

func newStopAllCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop all services in reverse dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gf.client().StopAll(cmd.Context())
		},
	}
}

func newResumeCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Start the services that were running at last shutdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gf.client().Resume(cmd.Context())
		},
	}
}

func newSaveStateCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "save-state",
		Short: "Persist the current running set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gf.client().SaveState(cmd.Context())
		},
	}
}

func newInspectCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <name>",
		Short: "Print the engine's raw state for a container service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := gf.client().Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(raw)
		},
	}
}

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show service status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := gf.client()
			if len(args) == 1 {
				st, err := c.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printStatuses(gf, []client.ServiceStatus{st})
			}
			sts, err := c.StatusAll(cmd.Context())
			if err != nil {
				return err
			}
			return printStatuses(gf, sts)
		},
	}
}

func printStatuses(gf *GlobalFlags, sts []client.ServiceStatus) error {
	if gf.JSONOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sts)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tKIND\tSTATE\tENDPOINT\tDETAIL")
	for _, st := range sts {
		detail := st.LastError
		if detail == "" && st.PID > 0 {
			detail = fmt.Sprintf("pid %d", st.PID)
		}
		if detail == "" && st.ContainerID != "" {
			id := st.ContainerID
			if len(id) > 12 {
				id = id[:12]
			}
			detail = "container " + id
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.Name, st.Kind, st.State, st.Endpoint, detail)
	}
	return w.Flush()
}
