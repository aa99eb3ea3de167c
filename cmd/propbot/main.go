package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"propbot/internal/app"
	"propbot/internal/config"
	"propbot/internal/processor"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newCLI().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				fmt.Fprintln(os.Stderr, "  -", p)
			}
		}
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "propbot",
		Usage: "Notify Warpcast followers about Builder DAO proposals and propdates",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config (json or yaml)",
				Value:   "./config.yaml",
				EnvVars: []string{"PROPBOT_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "process",
				Usage:     "Poll one category and enqueue notifications",
				ArgsUsage: categoryUsage(),
				Action: withApp(func(c *cli.Context, a *app.App) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: propbot process "+categoryUsage(), 2)
					}
					return a.Process(c.Context, c.Args().First())
				}),
			},
			{
				Name:  "queue",
				Usage: "Inspect or drain the outbound queue",
				Subcommands: []*cli.Command{
					{
						Name:  "consume",
						Usage: "Send pending direct casts in FIFO order",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "limit",
								Usage: "max tasks to process (0 = all, default from config)",
								Value: -1,
							},
						},
						Action: withApp(func(c *cli.Context, a *app.App) error {
							sum, err := a.Consume(c.Context, c.Int("limit"))
							if err != nil {
								return err
							}
							fmt.Fprintf(c.App.Writer, "processed=%d sent=%d retried=%d dropped=%d\n",
								sum.Processed, sum.Sent, sum.Retried, sum.Dropped)
							return nil
						}),
					},
					{
						Name:  "stats",
						Usage: "Print pending and completed task counts",
						Action: withApp(func(c *cli.Context, a *app.App) error {
							counts, err := a.Stats(c.Context)
							if err != nil {
								return err
							}
							fmt.Fprintf(c.App.Writer, "pending=%d completed=%d\n", counts.Pending, counts.Completed)
							return nil
						}),
					},
				},
			},
			{
				Name:  "cache",
				Usage: "Inspect cached state",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Print the JSON stored under a cache key",
						ArgsUsage: "<key>",
						Action: withApp(func(c *cli.Context, a *app.App) error {
							if c.NArg() != 1 {
								return cli.Exit("usage: propbot cache get <key>", 2)
							}
							raw, ok, err := a.CacheGet(c.Context, c.Args().First())
							if err != nil {
								return err
							}
							if !ok {
								return cli.Exit("not found", 1)
							}
							var v any
							if err := json.Unmarshal(raw, &v); err != nil {
								fmt.Fprintln(c.App.Writer, string(raw))
								return nil
							}
							out, _ := json.MarshalIndent(v, "", "  ")
							fmt.Fprintln(c.App.Writer, string(out))
							return nil
						}),
					},
				},
			},
			{
				Name:  "warpcast",
				Usage: "Warpcast account helpers",
				Subcommands: []*cli.Command{
					{
						Name:  "token",
						Usage: "Generate a read auth token from the account recovery key",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "recovery-key",
								Usage:   "base64 recovery key (prompted when empty)",
								EnvVars: []string{"PROPBOT_RECOVERY_KEY"},
							},
							&cli.DurationFlag{
								Name:  "ttl",
								Usage: "token lifetime",
								Value: app.DefaultTokenTTL,
							},
						},
						Action: warpcastToken,
					},
				},
			},
			{
				Name:  "daemon",
				Usage: "Run every job on its cron schedule until interrupted",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					return a.Daemon(c.Context)
				}),
			},
		},
	}
}

func warpcastToken(c *cli.Context) error {
	key := c.String("recovery-key")
	if strings.TrimSpace(key) == "" {
		fmt.Fprint(c.App.ErrWriter, "Please enter your recovery key: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read recovery key: %w", err)
		}
		key = line
	}
	tok, err := app.GenerateAuthToken(c.Context, c.String("config"), key, c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "New auth token generated:", tok.Secret)
	fmt.Fprintln(c.App.Writer, "Expires at:", tok.Expiry().Format(time.RFC3339))
	return nil
}

func withApp(fn func(*cli.Context, *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := app.New(c.String("config"))
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(c, a)
	}
}

func categoryUsage() string {
	s := "<" + app.CategoryAll
	for _, c := range processor.Categories {
		s += "|" + string(c)
	}
	return s + ">"
}
