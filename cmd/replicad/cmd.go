package main

import (
	"time"

	"github.com/pkg/profile"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"pkg.world.dev/world-engine/replicate"
	"pkg.world.dev/world-engine/replicate/config"
	"pkg.world.dev/world-engine/replicate/example/cube"
)

type rootFlags struct {
	profile string
	pretty  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "replicad",
		Short:         "Run a replication peer hosting the cube sample",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.profile, "profile", "", "write a cpu or mem profile to the working directory")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "human readable logs")

	root.AddCommand(newAuthorityCmd(flags), newPeerCmd(flags))
	return root
}

// startProfile starts the requested profiler. The returned func stops it.
func startProfile(mode string) (func(), error) {
	switch mode {
	case "":
		return func() {}, nil
	case "cpu":
		p := profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
		return p.Stop, nil
	case "mem":
		p := profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook)
		return p.Stop, nil
	default:
		return nil, eris.Errorf("unknown profile %q, want cpu or mem", mode)
	}
}

func run(flags *rootFlags, systems []replicate.System, opts ...replicate.Option) error {
	stop, err := startProfile(flags.profile)
	if err != nil {
		return err
	}
	defer stop()

	if flags.pretty {
		opts = append(opts, replicate.WithPrettyLog())
	}
	p, err := replicate.New(opts...)
	if err != nil {
		return err
	}
	if err := p.RegisterTemplate(cube.New); err != nil {
		return err
	}
	if err := replicate.RegisterSystems(p, systems...); err != nil {
		return err
	}
	return p.Start()
}

func newAuthorityCmd(flags *rootFlags) *cobra.Command {
	var (
		port    string
		cubes   int
		recolor time.Duration
	)
	cmd := &cobra.Command{
		Use:   "authority",
		Short: "Host the session and spawn the cubes",
		RunE: func(*cobra.Command, []string) error {
			opts := []replicate.Option{replicate.WithRole(config.RoleAuthority)}
			if port != "" {
				opts = append(opts, replicate.WithPort(port))
			}
			systems := []replicate.System{
				spawnCubes(cubes),
				recolorCubes(recolor),
				oscillateCubes,
			}
			return run(flags, systems, opts...)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port, overrides REPLICATE_PORT")
	cmd.Flags().IntVar(&cubes, "cubes", 4, "number of cubes to spawn")
	cmd.Flags().DurationVar(&recolor, "recolor", 2*time.Second, "how often cubes change color, 0 to disable")
	return cmd
}

func newPeerCmd(flags *rootFlags) *cobra.Command {
	var (
		url   string
		claim bool
	)
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Join the session hosted by an authority",
		RunE: func(*cobra.Command, []string) error {
			opts := []replicate.Option{replicate.WithRole(config.RolePeer)}
			if url != "" {
				opts = append(opts, replicate.WithAuthorityURL(url))
			}
			systems := []replicate.System{oscillateCubes}
			if claim {
				systems = append([]replicate.System{claimPosition()}, systems...)
			}
			return run(flags, systems, opts...)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "authority websocket url, overrides REPLICATE_AUTHORITY_URL")
	cmd.Flags().BoolVar(&claim, "claim", false,
		"take over the position of one cube; needs REPLICATE_TRANSFER_POLICY=any")
	return cmd
}
