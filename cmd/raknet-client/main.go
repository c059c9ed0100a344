package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"raknet/internal/obs"
	"raknet/session"
	"raknet/wire"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RAKNET_CLIENT")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "raknet-client <server-addr>",
		Short: "raknet-client dials a raknetd server and echoes stdin lines off it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v, args[0])
		},
	}

	flags := cmd.Flags()
	flags.Uint64("guid", uint64(time.Now().UnixNano()), "client GUID presented during the handshake")
	flags.String("log-level", "info", "logrus level: debug, info, warn, error")
	flags.Duration("dial-timeout", 15*time.Second, "overall handshake timeout")

	_ = v.BindPFlags(flags)
	return cmd
}

func run(v *viper.Viper, serverAddr string) error {
	log := obs.NewLogger(v.GetString("log-level"))
	obs.Banner("raknet-client", version)

	ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("dial-timeout"))
	defer cancel()

	s, err := session.Dial(ctx, "", serverAddr, v.GetUint64("guid"), session.Config{Logger: log})
	if err != nil {
		return fmt.Errorf("raknet-client: %w", err)
	}
	defer s.Close()

	obs.Success("connected to %s", serverAddr)
	go printReplies(s, log)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := s.Send(scanner.Bytes(), wire.ReliableOrdered); err != nil {
			return fmt.Errorf("raknet-client: send: %w", err)
		}
	}
	return scanner.Err()
}

func printReplies(s *session.Session, log *logrus.Logger) {
	ctx := context.Background()
	for {
		b, err := s.Recv(ctx)
		if err != nil {
			log.WithError(err).Info("session closed")
			return
		}
		fmt.Println(string(b))
	}
}
