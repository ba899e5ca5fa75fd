package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-pushnotifications/pkg/auth"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications/config"
)

func (c *cli) startCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Register this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []pushnotifications.Option
			if token != "" {
				opts = append(opts, pushnotifications.WithDeviceToken(token))
			}
			return c.withInstance(cmd.Context(), func(pn *pushnotifications.Instance, _ *config.Config) error {
				if err := pn.Flush(cmd.Context()); err != nil {
					return err
				}
				deviceID, err := pn.DeviceID(cmd.Context())
				if err != nil {
					return err
				}
				if deviceID == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "device not registered yet: no device token")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "device id: %s\n", deviceID)
				return nil
			}, opts...)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Messaging token to register with")
	return cmd
}

func (c *cli) subscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <interest>...",
		Short: "Subscribe to interests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withInstance(cmd.Context(), func(pn *pushnotifications.Instance, _ *config.Config) error {
				for _, interest := range args {
					if err := pn.Subscribe(cmd.Context(), interest); err != nil {
						return fmt.Errorf("subscribe %q: %w", interest, err)
					}
				}
				return nil
			})
		},
	}
}

func (c *cli) unsubscribeCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "unsubscribe [<interest>...]",
		Short: "Unsubscribe from interests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("name at least one interest, or pass --all")
			}
			return c.withInstance(cmd.Context(), func(pn *pushnotifications.Instance, _ *config.Config) error {
				if all {
					return pn.UnsubscribeAll(cmd.Context())
				}
				for _, interest := range args {
					if err := pn.Unsubscribe(cmd.Context(), interest); err != nil {
						return fmt.Errorf("unsubscribe %q: %w", interest, err)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Unsubscribe from every interest")
	return cmd
}

func (c *cli) setSubscriptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-subscriptions [<interest>...]",
		Short: "Replace the interest set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withInstance(cmd.Context(), func(pn *pushnotifications.Instance, _ *config.Config) error {
				return pn.SetSubscriptions(cmd.Context(), args)
			})
		},
	}
}

func (c *cli) subscriptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscriptions",
		Short: "List subscribed interests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withInstance(cmd.Context(), func(pn *pushnotifications.Instance, _ *config.Config) error {
				interests, err := pn.Subscriptions(cmd.Context())
				if err != nil {
					return err
				}
				for _, interest := range interests {
					fmt.Fprintln(cmd.OutOrStdout(), interest)
				}
				return nil
			})
		},
	}
}

func (c *cli) setUserCmd() *cobra.Command {
	var jwt string
	cmd := &cobra.Command{
		Use:   "set-user <user-id>",
		Short: "Associate the device with a user",
		Long: "Fetches a token for the user from the configured auth endpoint and binds the device to the user.\n" +
			"--jwt skips the auth endpoint and presents the given token as-is.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			return c.withInstance(cmd.Context(), func(pn *pushnotifications.Instance, cfg *config.Config) error {
				provider, err := tokenProvider(cfg, jwt)
				if err != nil {
					return err
				}

				result := make(chan error, 1)
				if err := pn.SetUserID(cmd.Context(), userID, provider, func(err error) { result <- err }); err != nil {
					return err
				}
				select {
				case err := <-result:
					if err != nil {
						return err
					}
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user id: %s\n", userID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jwt, "jwt", "", "Token to present instead of calling the auth endpoint")
	return cmd
}

func tokenProvider(cfg *config.Config, jwt string) (auth.TokenProvider, error) {
	if jwt != "" {
		return auth.TokenProviderFunc(func(context.Context, string) (string, error) {
			return jwt, nil
		}), nil
	}
	if cfg.TokenProvider.AuthURL == "" {
		return nil, errors.New("no auth url configured: set token_provider.auth_url, --auth-url or pass --jwt")
	}
	authData := auth.AuthData{
		Headers:     cfg.TokenProvider.Headers,
		QueryParams: cfg.TokenProvider.QueryParams,
	}
	return auth.NewBeamsTokenProvider(cfg.TokenProvider.AuthURL, func(context.Context) (auth.AuthData, error) {
		return authData, nil
	}), nil
}

func (c *cli) receiveCmd() *cobra.Command {
	var (
		publishID string
		data      map[string]string
		title     string
		body      string
		opened    bool
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Hand a message to the SDK as if the messaging layer delivered it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := pushnotifications.Message{Data: map[string]string{}}
			for k, v := range data {
				msg.Data[k] = v
			}
			if publishID != "" {
				pusher, err := json.Marshal(map[string]string{"publishId": publishID})
				if err != nil {
					return err
				}
				msg.Data["pusher"] = string(pusher)
			}
			if title != "" || body != "" {
				msg.Notification = &pushnotifications.Notification{Title: title, Body: body}
			}

			return c.withInstance(cmd.Context(), func(pn *pushnotifications.Instance, _ *config.Config) error {
				pn.OnMessageReceived(func(m pushnotifications.Message) {
					printMessage(cmd, m)
				})
				pn.HandleMessage(cmd.Context(), msg)
				if opened {
					return pn.ReportOpened(cmd.Context(), msg)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&publishID, "publish-id", "", "Publish id to report delivery for")
	cmd.Flags().StringToStringVar(&data, "data", nil, "Data entries, key=value")
	cmd.Flags().StringVar(&title, "title", "", "Notification title")
	cmd.Flags().StringVar(&body, "body", "", "Notification body")
	cmd.Flags().BoolVar(&opened, "opened", false, "Also report the notification as opened")
	return cmd
}

func printMessage(cmd *cobra.Command, m pushnotifications.Message) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "message received")
	if m.Notification != nil {
		fmt.Fprintf(out, "  title: %s\n  body: %s\n", m.Notification.Title, m.Notification.Body)
	}
	for k, v := range m.Data {
		fmt.Fprintf(out, "  %s: %s\n", k, v)
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the device id, user and interests, locally and on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withInstance(cmd.Context(), func(pn *pushnotifications.Instance, _ *config.Config) error {
				ctx := cmd.Context()
				deviceID, err := pn.DeviceID(ctx)
				if err != nil {
					return err
				}
				userID, err := pn.UserID(ctx)
				if err != nil {
					return err
				}
				interests, err := pn.Subscriptions(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "instance id: %s\n", pn.InstanceID())
				fmt.Fprintf(out, "device id: %s\n", orNone(deviceID))
				fmt.Fprintf(out, "user id: %s\n", orNone(userID))
				fmt.Fprintf(out, "interests: %s\n", orNone(strings.Join(interests, ",")))

				if deviceID == "" {
					return nil
				}
				remote, err := pn.FetchRemoteDevice(ctx)
				if err != nil {
					fmt.Fprintf(out, "server: unavailable (%v)\n", err)
					return nil
				}
				fmt.Fprintf(out, "server user id: %s\n", orNone(remote.UserID))
				fmt.Fprintf(out, "server interests: %s\n", orNone(strings.Join(remote.Interests, ",")))
				return nil
			})
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}

func (c *cli) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Unregister the device and forget its interests and user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withInstance(cmd.Context(), func(pn *pushnotifications.Instance, _ *config.Config) error {
				return pn.Stop(cmd.Context())
			})
		},
	}
}

func (c *cli) clearStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-state",
		Short: "Unregister and register again as a fresh device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withInstance(cmd.Context(), func(pn *pushnotifications.Instance, _ *config.Config) error {
				return pn.ClearAllState(cmd.Context())
			})
		},
	}
}
