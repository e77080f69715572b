package main

import (
	"context"
	"fmt"

	"github.com/ruffel/sshkit"
	"github.com/ruffel/sshkit/internal/logging"
	sshprovider "github.com/ruffel/sshkit/providers/ssh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "sshkit",
		Short: "Run commands and transfer files over SSH",
		Long: `sshkit drives a remote host over a single SSH session.

Connection settings come from flags, SSHKIT_* environment variables, an optional
$HOME/.sshkit.yaml and the matching ~/.ssh/config entry, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := loadConfigFile(a.v, a.cfgFile); err != nil {
				return err
			}

			log, err := logging.New(a.v.GetString(keyLogLevel), a.v.GetString(keyLogFormat))
			if err != nil {
				return err
			}

			a.log = log

			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = a.log.Sync()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.sshkit.yaml)")

	if err := bindFlags(a.v, root); err != nil {
		panic(err)
	}

	root.AddCommand(
		a.execCmd(),
		a.lsCmd(),
		a.mkdirCmd(),
		a.rmdirCmd(),
		a.rmCmd(),
		a.mvCmd(),
		a.catCmd(),
		a.putCmd(),
		a.getCmd(),
		a.fingerprintCmd(),
		a.checkCmd(),
	)

	return root
}

// connect opens an authenticated session. The returned func closes it.
func (a *app) connect(ctx context.Context) (*sshkit.Executor, func(), error) {
	return a.connectHost(ctx, a.v.GetString(keyHost))
}

func (a *app) connectHost(ctx context.Context, alias string) (*sshkit.Executor, func(), error) {
	cfg, err := resolveHost(a.v, alias)
	if err != nil {
		return nil, nil, err
	}

	challenge, err := cfg.Challenge()
	if err != nil {
		return nil, nil, err
	}

	lib, err := sshprovider.New(sshprovider.WithConfig(cfg))
	if err != nil {
		return nil, nil, err
	}

	s := sshkit.NewSession(lib, cfg.Host, cfg.Port,
		sshkit.WithTimeout(cfg.Timeout),
		sshkit.WithLogger(a.log),
	)

	closeSession := func() {
		if err := s.Close(); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}

	exec := sshkit.NewExecutor(s)

	if err := exec.Connect(ctx); err != nil {
		closeSession()

		return nil, nil, fmt.Errorf("connect %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	if err := exec.Authenticate(ctx, challenge); err != nil {
		closeSession()

		return nil, nil, fmt.Errorf("authenticate as %s: %w", cfg.User, err)
	}

	a.log.Debug("connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("remote_banner", s.RemoteBanner()))

	return exec, closeSession, nil
}
