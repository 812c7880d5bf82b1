// Command devicectl talks to devices through the message broker. The panel
// runs it for every device operation; it can also be used by hand.
//
// The broker connection is taken from the .robopanel file, overridden by the
// DB_IP, DB_PASS and DB_SSL_SELFSIGNED environment variables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/deixis/robopanel"
	"github.com/deixis/robopanel/internal/broker"
	"github.com/deixis/robopanel/internal/config"
	"github.com/deixis/robopanel/internal/control"
)

// Broker is the subset of broker.Client used by the commands.
type Broker interface {
	Publish(ctx context.Context, topic, message string) error
	Devices(ctx context.Context, username string) ([]string, error)
	RegisterUser(ctx context.Context, username, password string) error
	Close() error
}

// dialer opens a broker connection from the loaded configuration.
type dialer func(cfg config.RedisConfig) (Broker, error)

func dialBroker(cfg config.RedisConfig) (Broker, error) {
	return broker.Dial(cfg)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(os.Stdout, dialBroker)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "devicectl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer, dial dialer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "devicectl",
		Short:         "Publish commands to robot devices and manage broker accounts",
		Version:       robopanel.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a .robopanel file")

	connect := func(cmd *cobra.Command) (Broker, error) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		return dial(cfg.Redis)
	}

	root.AddCommand(
		newPublishCmd(connect),
		newFeedCmd(connect),
		newDevicesCmd(connect),
		newRegisterCmd(connect),
	)
	return root
}

type connectFunc func(cmd *cobra.Command) (Broker, error)

func newPublishCmd(connect connectFunc) *cobra.Command {
	var identifier, command, data string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish data on a device's command topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := connect(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			return b.Publish(cmd.Context(), broker.Topic(identifier, command), data)
		},
	}
	cmd.Flags().StringVar(&identifier, "identifier", "", "the target device identifier")
	cmd.Flags().StringVar(&command, "command", "", "the name of the command")
	cmd.Flags().StringVar(&data, "data", "", "the accompanying data")
	_ = cmd.MarkFlagRequired("identifier")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func newFeedCmd(connect connectFunc) *cobra.Command {
	var identifier, command string
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Start or stop a device's camera or microphone feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, value, ok := control.FeedCommand(command).Action()
			if !ok {
				return fmt.Errorf("unknown feed command %q (want startcam, stopcam, startmic or stopmic)", command)
			}
			b, err := connect(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			return b.Publish(cmd.Context(), broker.Topic(identifier, topic), value)
		},
	}
	cmd.Flags().StringVar(&identifier, "identifier", "", "the device identifier")
	cmd.Flags().StringVar(&command, "command", "", "startcam, startmic, stopcam or stopmic")
	_ = cmd.MarkFlagRequired("identifier")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func newDevicesCmd(connect connectFunc) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the devices seen for a user in the last minute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := connect(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			devices, err := b.Devices(cmd.Context(), username)
			if err != nil {
				return err
			}
			for _, d := range devices {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", config.DefaultUsername, "username")
	return cmd
}

func newRegisterCmd(connect connectFunc) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a broker account for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := control.ValidateSignup(username, password); err != nil {
				return err
			}
			b, err := connect(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			if err := b.RegisterUser(cmd.Context(), username, password); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Registration failed...")
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Registration completed!")
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return loaded.Config, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}
	loaded, err := config.Load(wd)
	if err != nil {
		return nil, err
	}
	return loaded.Config, nil
}
