package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind          string
	gatherTimeout time.Duration
	iceServers    []string
	name          string
	offerTimeout  time.Duration
	pingInterval  time.Duration
	port          int
	prefix        string
	profile       bool
	syncInterval  time.Duration
	tlsCert       string
	tlsKey        string
	verbose       bool
	version       bool

	logger zerolog.Logger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if strings.TrimSpace(c.name) == "" {
		return errors.New("--name must not be empty")
	}
	if c.gatherTimeout <= 0 || c.syncInterval <= 0 || c.pingInterval <= 0 {
		return errors.New("--gather-timeout, --sync-interval and --ping-interval must be positive")
	}
	if c.offerTimeout < 0 {
		return fmt.Errorf("invalid --offer-timeout (must not be negative): %s", c.offerTimeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PARTYPEER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "partypeer",
		Short:         "A serverless party game: one device hosts, everyone else joins by swapping codes.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			cfg.logger = newLogger(cfg)
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "127.0.0.1", "address to bind the local UI to (env: PARTYPEER_BIND)")
	fs.DurationVar(&cfg.gatherTimeout, "gather-timeout", 10*time.Second, "maximum wait for network candidate gathering (env: PARTYPEER_GATHER_TIMEOUT)")
	fs.StringSliceVar(&cfg.iceServers, "ice-server", []string{"stun:stun.l.google.com:19302"}, "STUN/TURN server URL, may be repeated (env: PARTYPEER_ICE_SERVER)")
	fs.StringVarP(&cfg.name, "name", "n", "Player", "display name shown to other players (env: PARTYPEER_NAME)")
	fs.DurationVar(&cfg.offerTimeout, "offer-timeout", 2*time.Minute, "time before a superseded, unanswered invite is discarded, 0 to keep (env: PARTYPEER_OFFER_TIMEOUT)")
	fs.DurationVar(&cfg.pingInterval, "ping-interval", 5*time.Second, "interval between latency probes (env: PARTYPEER_PING_INTERVAL)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PARTYPEER_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PARTYPEER_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PARTYPEER_PROFILE)")
	fs.DurationVar(&cfg.syncInterval, "sync-interval", 3*time.Second, "interval between full state snapshots sent by the host (env: PARTYPEER_SYNC_INTERVAL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: PARTYPEER_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: PARTYPEER_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PARTYPEER_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: PARTYPEER_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("partypeer v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
