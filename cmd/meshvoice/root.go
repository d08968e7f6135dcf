package main

import (
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type cli struct {
	v       *viper.Viper
	cfgPath string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "meshvoice",
		Short:         "Headless participant for meshvoice rooms",
		Long:          "meshvoice joins voice rooms as a full-mesh WebRTC participant, coordinated through a directory service and a polling signal relay.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	fs := root.PersistentFlags()
	fs.StringVar(&c.cfgPath, "config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.String("relay", "", "relay base URL")
	fs.String("user", "", "user id to join as (random when empty)")
	fs.String("log-level", "", "log level")

	root.AddCommand(newJoinCmd(c), newModerateCmd(c))
	return root
}

var flagKeys = map[string]string{
	"relay":                "session.relay_url",
	"user":                 "session.user_id",
	"log-level":            "log_level",
	"tone-hz":              "session.tone_hz",
	"display":              "session.display",
	"auto-camera-fallback": "session.auto_camera_fallback",
	"push":                 "session.push_signals",
	"ice-server":           "session.ice_servers",
}

// load binds the flags set on cmd into viper and decodes the config.
func (c *cli) load(cmd *cobra.Command) error {
	c.v = config.New(c.cfgPath)
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = c.v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}
	cfg, err := config.Read(c.v)
	if err != nil {
		return err
	}
	config.ApplyLogLevel(cfg.LogLevel)
	c.cfg = cfg
	return nil
}
