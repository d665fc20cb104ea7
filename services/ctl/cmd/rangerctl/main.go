package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	gos3 "rangerd/pkg/s3"
	"rangerd/services/ctl"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	apiURL string
	socket string
	token  string
}

func (o *rootOptions) client() (*ctl.Client, error) {
	return ctl.NewClient(ctl.ClientConfig{
		BaseURL:    o.apiURL,
		SocketPath: o.socket,
		Token:      o.token,
	})
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rangerctl",
		Short:         "Manage a rangerd DHCP server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("RANGERCTL_API", "http://127.0.0.1:8067"), "Base URL of the rangerd management API")
	cmd.PersistentFlags().StringVar(&opts.socket, "socket", os.Getenv("RANGERCTL_SOCKET"), "Path to the rangerd API unix socket (overrides --api)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("RANGERCTL_TOKEN"), "Bearer token for the management API")

	cmd.AddCommand(newSubnetsCommand(opts))
	cmd.AddCommand(newRangesCommand(opts))
	cmd.AddCommand(newStaticsCommand(opts))
	cmd.AddCommand(newLeasesCommand(opts))
	cmd.AddCommand(newTokensCommand(opts))
	cmd.AddCommand(newBackupCommand(opts))
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newTabWriter(cmd *cobra.Command) *tabwriter.Writer {
	return tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
}

func newSubnetsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subnets",
		Short: "Manage served subnets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newSubnetsListCommand(opts))
	cmd.AddCommand(newSubnetsCreateCommand(opts))
	cmd.AddCommand(newSubnetsDeleteCommand(opts))
	return cmd
}

func newSubnetsListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subnets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			subnets, err := client.ListSubnets(commandContext(cmd))
			if err != nil {
				return err
			}

			w := newTabWriter(cmd)
			fmt.Fprintln(w, "ID\tNETWORK\tGATEWAY\tDNS\tDOMAIN\tENABLED")
			for _, s := range subnets {
				fmt.Fprintf(w, "%s\t%s/%d\t%s\t%s\t%s\t%t\n",
					s.ID, s.Network, s.PrefixLen, s.Gateway, strings.Join(s.DNSServers, ","), s.DomainName, s.Enabled)
			}
			return w.Flush()
		},
	}
}

func newSubnetsCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		network   string
		prefixLen int
		gateway   string
		dns       []string
		domain    string
		disabled  bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a subnet",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			enabled := !disabled
			subnet, err := client.CreateSubnet(commandContext(cmd), ctl.SubnetSpec{
				Network:    network,
				PrefixLen:  prefixLen,
				Gateway:    gateway,
				DNSServers: dns,
				DomainName: domain,
				Enabled:    &enabled,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created subnet %s (%s/%d)\n", subnet.ID, subnet.Network, subnet.PrefixLen)
			return nil
		},
	}

	cmd.Flags().StringVar(&network, "network", "", "Network address, e.g. 192.168.10.0")
	cmd.Flags().IntVar(&prefixLen, "prefix-len", 24, "Prefix length (1-31)")
	cmd.Flags().StringVar(&gateway, "gateway", "", "Default gateway handed to clients")
	cmd.Flags().StringSliceVar(&dns, "dns", nil, "DNS servers handed to clients")
	cmd.Flags().StringVar(&domain, "domain", "", "Domain name handed to clients")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the subnet disabled")
	_ = cmd.MarkFlagRequired("network")
	_ = cmd.MarkFlagRequired("gateway")
	return cmd
}

func newSubnetsDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a subnet together with its ranges and static assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.DeleteSubnet(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted subnet %s\n", args[0])
			return nil
		},
	}
}

func newRangesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranges",
		Short: "Manage dynamic address ranges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRangesListCommand(opts))
	cmd.AddCommand(newRangesCreateCommand(opts))
	cmd.AddCommand(newRangesDeleteCommand(opts))
	return cmd
}

func newRangesListCommand(opts *rootOptions) *cobra.Command {
	var subnetID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dynamic ranges",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ranges, err := client.ListRanges(commandContext(cmd), subnetID)
			if err != nil {
				return err
			}

			w := newTabWriter(cmd)
			fmt.Fprintln(w, "ID\tSUBNET\tSTART\tEND\tENABLED")
			for _, r := range ranges {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", r.ID, r.SubnetID, r.StartAddress, r.EndAddress, r.Enabled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&subnetID, "subnet", "", "Only show ranges in this subnet")
	return cmd
}

func newRangesCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		subnetID string
		start    string
		end      string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a dynamic range",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			enabled := !disabled
			rng, err := client.CreateRange(commandContext(cmd), ctl.RangeSpec{
				SubnetID:     subnetID,
				StartAddress: start,
				EndAddress:   end,
				Enabled:      &enabled,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created range %s (%s-%s)\n", rng.ID, rng.StartAddress, rng.EndAddress)
			return nil
		},
	}

	cmd.Flags().StringVar(&subnetID, "subnet", "", "Subnet the range belongs to")
	cmd.Flags().StringVar(&start, "start", "", "First leasable address")
	cmd.Flags().StringVar(&end, "end", "", "Last leasable address")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the range disabled")
	_ = cmd.MarkFlagRequired("subnet")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newRangesDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a dynamic range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.DeleteRange(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted range %s\n", args[0])
			return nil
		},
	}
}

func newStaticsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statics",
		Short: "Manage static address assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newStaticsListCommand(opts))
	cmd.AddCommand(newStaticsCreateCommand(opts))
	cmd.AddCommand(newStaticsDeleteCommand(opts))
	return cmd
}

func newStaticsListCommand(opts *rootOptions) *cobra.Command {
	var subnetID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List static assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			statics, err := client.ListStaticIPs(commandContext(cmd), subnetID)
			if err != nil {
				return err
			}

			w := newTabWriter(cmd)
			fmt.Fprintln(w, "ID\tSUBNET\tMAC\tADDRESS\tHOSTNAME\tENABLED")
			for _, s := range statics {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n", s.ID, s.SubnetID, s.MAC, s.Address, s.Hostname, s.Enabled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&subnetID, "subnet", "", "Only show assignments in this subnet")
	return cmd
}

func newStaticsCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		subnetID string
		mac      string
		address  string
		hostname string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a static assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			enabled := !disabled
			static, err := client.CreateStaticIP(commandContext(cmd), ctl.StaticIPSpec{
				SubnetID: subnetID,
				MAC:      mac,
				Address:  address,
				Hostname: hostname,
				Enabled:  &enabled,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created static assignment %s (%s -> %s)\n", static.ID, static.MAC, static.Address)
			return nil
		},
	}

	cmd.Flags().StringVar(&subnetID, "subnet", "", "Subnet the assignment belongs to")
	cmd.Flags().StringVar(&mac, "mac", "", "Client MAC address")
	cmd.Flags().StringVar(&address, "address", "", "Address to hand to the client")
	cmd.Flags().StringVar(&hostname, "hostname", "", "Hostname to hand to the client")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the assignment disabled")
	_ = cmd.MarkFlagRequired("subnet")
	_ = cmd.MarkFlagRequired("mac")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func newStaticsDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a static assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.DeleteStaticIP(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted static assignment %s\n", args[0])
			return nil
		},
	}
}

func newLeasesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leases",
		Short: "Inspect and retire leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newLeasesListCommand(opts))
	cmd.AddCommand(newLeasesExpireCommand(opts))
	return cmd
}

func newLeasesListCommand(opts *rootOptions) *cobra.Command {
	var (
		subnetID string
		active   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leases, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			var activeFilter *bool
			if cmd.Flags().Changed("active") {
				activeFilter = &active
			}
			leases, err := client.ListLeases(commandContext(cmd), subnetID, activeFilter)
			if err != nil {
				return err
			}

			w := newTabWriter(cmd)
			fmt.Fprintln(w, "ID\tMAC\tADDRESS\tHOSTNAME\tEXPIRES\tACTIVE")
			for _, l := range leases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
					l.ID, l.MAC, l.Address, l.Hostname, l.LeaseEnd.Format(time.RFC3339), l.Active)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&subnetID, "subnet", "", "Only show leases in this subnet")
	cmd.Flags().BoolVar(&active, "active", true, "Only show leases matching this active state")
	return cmd
}

func newLeasesExpireCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expire <id>",
		Short: "Retire an active lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.ReleaseLease(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released lease %s\n", args[0])
			return nil
		},
	}
}

func newTokensCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newTokensListCommand(opts))
	cmd.AddCommand(newTokensCreateCommand(opts))
	cmd.AddCommand(newTokensRevokeCommand(opts))
	cmd.AddCommand(newTokensToggleCommand(opts))
	return cmd
}

func newTokensListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			tokens, err := client.ListTokens(commandContext(cmd))
			if err != nil {
				return err
			}

			w := newTabWriter(cmd)
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tLAST USED")
			for _, t := range tokens {
				lastUsed := "never"
				if t.LastUsedAt != nil {
					lastUsed = t.LastUsedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", t.ID, t.Name, t.Enabled, lastUsed)
			}
			return w.Flush()
		},
	}
}

func newTokensCreateCommand(opts *rootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			token, value, err := client.CreateToken(commandContext(cmd), name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created token %s (%s)\n", token.ID, token.Name)
			fmt.Fprintf(out, "secret: %s\n", value)
			fmt.Fprintln(out, "store it now; the server keeps only a hash")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable token name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTokensRevokeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.DeleteToken(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked token %s\n", args[0])
			return nil
		},
	}
}

func newTokensToggleCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Enable or disable an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			token, err := client.ToggleToken(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			state := "disabled"
			if token.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token %s is now %s\n", token.ID, state)
			return nil
		},
	}
}

func newBackupCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Signed configuration bundle operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBackupExportCommand(opts))
	cmd.AddCommand(newBackupImportCommand(opts))
	cmd.AddCommand(newBackupPushCommand())
	return cmd
}

func newBackupExportCommand(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Snapshot subnets, ranges and static assignments to a signed bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			signer, err := ctl.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = ctl.Export(commandContext(cmd), ctl.ExportConfig{
				Client: client,
				Output: output,
				Signer: signer,
				Stdout: cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Destination bundle file (tar.zst)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newBackupImportCommand(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Verify a bundle and replay it through the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			signer, err := ctl.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = ctl.Import(commandContext(cmd), ctl.ImportConfig{
				Client:     client,
				BundlePath: file,
				Signer:     signer,
				Stdout:     cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to the bundle tar.zst")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newBackupPushCommand() *cobra.Command {
	var (
		file   string
		bucket string
		key    string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload a bundle to S3-compatible storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			s3Client, err := gos3.NewClientFromEnv()
			if err != nil {
				return fmt.Errorf("s3 client: %w", err)
			}
			_, err = ctl.Push(commandContext(cmd), ctl.PushConfig{
				S3:         s3Client,
				BundlePath: file,
				Bucket:     bucket,
				Key:        key,
				PresignTTL: ttl,
				Stdout:     cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to the bundle tar.zst")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Destination bucket")
	cmd.Flags().StringVar(&key, "key", "", "Object key (defaults to the bundle file name)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Lifetime of the presigned download URL")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}
