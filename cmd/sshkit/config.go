package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/ruffel/sshkit"
	sshprovider "github.com/ruffel/sshkit/providers/ssh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Keys shared by flags, environment (SSHKIT_*) and the config file.
const (
	keyHost       = "host"
	keyPort       = "port"
	keyUser       = "user"
	keyIdentity   = "identity"
	keyPassphrase = "passphrase"
	keyPassword   = "password"
	keyAgent      = "agent"
	keyKnownHosts = "known-hosts"
	keyInsecure   = "insecure"
	keyTimeout    = "timeout"
	keySSHConfig  = "ssh-config"
	keyLogLevel   = "log-level"
	keyLogFormat  = "log-format"
)

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.StringP(keyHost, "H", "", "Host name or ~/.ssh/config alias")
	flags.IntP(keyPort, "p", 0, "Port (default from ssh config, else 22)")
	flags.StringP(keyUser, "u", "", "Remote user (default from ssh config, else current user)")
	flags.StringP(keyIdentity, "i", "", "Private key file")
	flags.String(keyPassphrase, "", "Passphrase for the private key")
	flags.String(keyPassword, "", "Password (prefer SSHKIT_PASSWORD)")
	flags.Bool(keyAgent, false, "Authenticate with ssh-agent ($SSH_AUTH_SOCK)")
	flags.String(keyKnownHosts, "", "known_hosts file (default ~/.ssh/known_hosts)")
	flags.Bool(keyInsecure, false, "Skip host key verification (testing only)")
	flags.Duration(keyTimeout, sshkit.DefaultTimeout, "Connect and idle timeout")
	flags.String(keySSHConfig, "", "ssh config file (default ~/.ssh/config)")
	flags.String(keyLogLevel, "warn", "Log level: debug, info, warn, error")
	flags.String(keyLogFormat, "console", "Log format: console or json")

	v.SetEnvPrefix("SSHKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v.BindPFlags(flags)
}

// loadConfigFile reads an optional YAML config. An explicit path must exist.
func loadConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".sshkit")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
	}

	err := v.ReadInConfig()

	var notFound viper.ConfigFileNotFoundError
	if err != nil && path == "" && (errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	return nil
}

// resolveConfig merges ~/.ssh/config for the host alias with flag, env and file settings.
func resolveConfig(v *viper.Viper) (sshprovider.Config, error) {
	return resolveHost(v, v.GetString(keyHost))
}

// resolveHost is resolveConfig for an explicit alias.
func resolveHost(v *viper.Viper, alias string) (sshprovider.Config, error) {
	if alias == "" {
		return sshprovider.Config{}, errors.New("no host given (use --host or SSHKIT_HOST)")
	}

	c, err := sshprovider.NewFromSSHConfig(alias, v.GetString(keySSHConfig))
	if err != nil {
		if v.GetString(keySSHConfig) != "" {
			return sshprovider.Config{}, err
		}

		// No ~/.ssh/config: treat the alias as a plain host name.
		c, err = sshprovider.NewFromSSHConfigReader(alias, strings.NewReader(""))
		if err != nil {
			return sshprovider.Config{}, err
		}
	}

	if p := v.GetInt(keyPort); p != 0 {
		c.Port = p
	}

	if u := v.GetString(keyUser); u != "" {
		c.User = u
	}

	if k := v.GetString(keyIdentity); k != "" {
		c.PrivateKeyPath = k
	}

	c.Passphrase = v.GetString(keyPassphrase)
	c.Password = v.GetString(keyPassword)
	c.UseAgent = v.GetBool(keyAgent)
	c.Timeout = v.GetDuration(keyTimeout)
	c.InsecureSkipVerify = c.InsecureSkipVerify || v.GetBool(keyInsecure)

	// Explicit credentials beat an IdentityFile picked up from ssh config.
	if (c.Password != "" || c.UseAgent) && v.GetString(keyIdentity) == "" {
		c.PrivateKeyPath = ""
	}

	if !c.InsecureSkipVerify {
		cb, err := hostKeyCallback(v.GetString(keyKnownHosts))
		if err != nil {
			return sshprovider.Config{}, err
		}

		c.HostKeyCheck = cb
	}

	c = c.WithDefaults()

	return c, c.Validate()
}

func hostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		cb, err := sshprovider.DefaultKnownHosts()
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}

		return cb, nil
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}

	return cb, nil
}
