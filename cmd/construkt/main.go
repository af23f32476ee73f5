package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/construkt/internal/profile"
	"github.com/hrygo/construkt/internal/version"
	"github.com/hrygo/construkt/server"
	"github.com/hrygo/construkt/server/auth"
	"github.com/hrygo/construkt/store"
	"github.com/hrygo/construkt/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "construkt",
		Short: "Chatbot backend for a construction-materials marketplace.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the chatbot HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			userID, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := auth.NewAuthenticator(instanceProfile.Secret).Issue(userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired chat sessions once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				return err
			}
			if storeInstance != nil {
				defer storeInstance.Close()
			}

			sessions, closer, err := server.NewSessionStore(ctx, instanceProfile, storeInstance)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer()
			}
			purged, err := sessions.SweepExpired(ctx)
			if err != nil {
				return errors.Wrap(err, "session sweep failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired session(s) from the %s backend\n", purged, instanceProfile.SessionBackend)
			return nil
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "", "database driver for chat logs and the sql session backend (sqlite or postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("construkt")
	viper.AutomaticEnv()

	tokenCmd.Flags().String("user", "", "user id carried by the token")
	tokenCmd.Flags().String("role", auth.RoleCustomer, "role carried by the token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd, tokenCmd, sweepCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return instanceProfile, nil
}

// openStore returns nil when no database driver is configured.
func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	if instanceProfile.Driver == "" {
		return nil, nil
	}
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return storeInstance, nil
}

func serve(parent context.Context) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	if !instanceProfile.IsDev() {
		slog.SetLogLoggerLevel(slog.LevelInfo)
	} else {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		return err
	}
	s, err := server.NewServer(ctx, instanceProfile, storeInstance)
	if err != nil {
		if storeInstance != nil {
			_ = storeInstance.Close()
		}
		return errors.Wrap(err, "failed to create server")
	}

	printGreetings(instanceProfile)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Shutdown(context.Background())
		return nil
	})
	return g.Wait()
}

func printGreetings(instanceProfile *profile.Profile) {
	fmt.Printf("construkt %s started successfully!\n", instanceProfile.Version)
	fmt.Printf("Mode: %s | Session backend: %s | NLP: %s\n", instanceProfile.Mode, instanceProfile.SessionBackend, instanceProfile.NLPProvider)
	if instanceProfile.Driver != "" {
		fmt.Printf("Database driver: %s\n", instanceProfile.Driver)
	}
	if instanceProfile.Addr == "" {
		fmt.Printf("Listening on port %d\n", instanceProfile.Port)
	} else {
		fmt.Printf("Listening on %s:%d\n", instanceProfile.Addr, instanceProfile.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
