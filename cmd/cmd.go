// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand writes a config file from the template and prepares session storage.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create config.toml and initialize session storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "client-id",
				Usage: "Spotify application client id to write into the config",
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "Drop and recreate the SQLite session tables, logging every session out",
			},
		},
		Action: r.Setup,
	}
}

// serveCommand runs the web page on the redirect URI.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the 8track page on the configured redirect URI",
		Action: r.Serve,
	}
}

// loginCommand runs the PKCE flow through the system browser.
func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Authorize with Spotify using the system browser",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the browser to come back",
				Value: loginTimeout,
			},
		},
		Action: r.Login,
	}
}

// statusCommand reports the stored tokens.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the stored Spotify session",
		Action: r.Status,
	}
}

// logoutCommand forgets the CLI session.
func logoutCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Forget the stored Spotify tokens",
		Action: r.Logout,
	}
}

// apiCommand handles authenticated Web API calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Authenticated Spotify Web API calls",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "GET a Web API path or URL, prints the response body",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print JSON output",
						Value: true,
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "POST a JSON body to a Web API path or URL",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print JSON output",
						Value: true,
					},
				},
				Action: r.APIPost,
			},
		},
	}
}
