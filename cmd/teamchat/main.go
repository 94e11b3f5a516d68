package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/koinonia/teamchat/internal/config"
	"github.com/koinonia/teamchat/internal/identity"
	"github.com/koinonia/teamchat/internal/logging"
	"github.com/koinonia/teamchat/internal/models"
	"github.com/koinonia/teamchat/internal/remote"
)

func main() {
	app := &cli.App{
		Name:  "teamchat",
		Usage: "terminal client for team conversations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultClientConfigPath(),
				Usage:   "path to the TOML config file",
				EnvVars: []string{"TEAMCHAT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "server base URL (overrides the config file)",
				EnvVars: []string{"TEAMCHAT_SERVER"},
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.LoadClient(c.String("config"))
			if err != nil {
				return err
			}
			if s := c.String("server"); s != "" {
				cfg.Server.URL = s
			}
			logging.Init(cfg.Log.Level, true)
			c.App.Metadata = map[string]interface{}{"config": cfg}
			return nil
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			whoamiCommand(),
			conversationsCommand(),
			createCommand(),
			joinCommand(),
			chatCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func clientConfig(c *cli.Context) *config.ClientConfig {
	return c.App.Metadata["config"].(*config.ClientConfig)
}

func openIdentity(c *cli.Context) (*identity.Cache, error) {
	return identity.Open(clientConfig(c).Identity.Path)
}

// signedIn loads the cached identity or explains how to get one.
func signedIn(c *cli.Context) (models.Identity, error) {
	cache, err := openIdentity(c)
	if err != nil {
		return models.Identity{}, err
	}
	defer cache.Close()

	id, err := cache.Load(c.Context)
	if errors.Is(err, identity.ErrNoIdentity) {
		return models.Identity{}, errors.New("not signed in, run 'teamchat login' first")
	}
	return id, err
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "cache your identity on this machine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "account email", Required: true},
			&cli.StringFlag{Name: "name", Usage: "display name"},
			&cli.StringFlag{Name: "push-token", Usage: "device push token to register"},
		},
		Action: func(c *cli.Context) error {
			id := models.Identity{
				UserID:      models.NormalizeUserID(c.String("user")),
				DisplayName: strings.TrimSpace(c.String("name")),
				PushToken:   strings.TrimSpace(c.String("push-token")),
			}
			if id.DisplayName == "" {
				id.DisplayName = id.UserID
			}

			if id.PushToken != "" {
				client := remote.NewClient(clientConfig(c).Server.URL)
				if err := client.RegisterPushToken(c.Context, id.UserID, id.PushToken); err != nil {
					return fmt.Errorf("failed to register push token: %w", err)
				}
			}

			cache, err := openIdentity(c)
			if err != nil {
				return err
			}
			defer cache.Close()
			if err := cache.Save(c.Context, id); err != nil {
				return err
			}
			fmt.Printf("Signed in as %s (%s)\n", id.DisplayName, id.UserID)
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "forget the cached identity",
		Action: func(c *cli.Context) error {
			cache, err := openIdentity(c)
			if err != nil {
				return err
			}
			defer cache.Close()
			if err := cache.Clear(c.Context); err != nil {
				return err
			}
			fmt.Println("Signed out")
			return nil
		},
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "show the cached identity",
		Action: func(c *cli.Context) error {
			id, err := signedIn(c)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s)\n", id.DisplayName, id.UserID)
			return nil
		},
	}
}

func conversationsCommand() *cli.Command {
	return &cli.Command{
		Name:    "conversations",
		Aliases: []string{"ls"},
		Usage:   "list conversations and your unread counts",
		Action: func(c *cli.Context) error {
			client := remote.NewClient(clientConfig(c).Server.URL)
			convs, err := client.ListConversations(c.Context)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Println("No conversations yet")
				return nil
			}

			id, idErr := signedIn(c)
			for _, conv := range convs {
				line := fmt.Sprintf("%s  %s", conv.ID, conv.Name)
				if idErr == nil {
					if n, err := client.UnreadCount(c.Context, conv.ID, id.UserID); err == nil && n > 0 {
						line += fmt.Sprintf("  (%d unread)", n)
					}
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "create a conversation",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			id, err := signedIn(c)
			if err != nil {
				return err
			}
			client := remote.NewClient(clientConfig(c).Server.URL)
			convID, err := client.CreateConversation(c.Context, strings.Join(c.Args().Slice(), " "), id.UserID)
			if err != nil {
				return err
			}
			fmt.Printf("Created conversation %s\n", convID)
			return nil
		},
	}
}

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:      "join",
		Usage:     "join a conversation",
		ArgsUsage: "<conversation-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: teamchat join <conversation-id>")
			}
			id, err := signedIn(c)
			if err != nil {
				return err
			}
			client := remote.NewClient(clientConfig(c).Server.URL)
			members, err := client.JoinConversation(c.Context, c.Args().First(), id.UserID, id.DisplayName)
			if err != nil {
				return err
			}
			fmt.Printf("Joined, %d members\n", len(members))
			return nil
		},
	}
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "open a conversation",
		ArgsUsage: "[conversation-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Aliases: []string{"id"}, Usage: "conversation to open"},
		},
		Action: func(c *cli.Context) error {
			convID := c.String("conversation")
			if convID == "" {
				convID = c.Args().First()
			}
			if convID == "" {
				return errors.New("usage: teamchat chat --conversation <id>")
			}
			cache, err := openIdentity(c)
			if err != nil {
				return err
			}
			defer cache.Close()

			return runChat(c.Context, clientConfig(c), cache, convID, os.Stdin, os.Stdout)
		},
	}
}
