package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jveski/workspaced/internal/rpc"
)

func main() {
	app := &cli.App{
		Name:  "wsctl",
		Usage: "Workspace daemon admin tools",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "server",
				Usage:    "address of the workspace daemon i.e. `workspaces.mydomain` or `workspaces.mydomain:8130`",
				Required: true,
				EnvVars:  []string{"WORKSPACED_SERVER"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "timeout when sending requests to the workspace daemon",
				Value: time.Second * 30,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "start",
				Usage:     "Start a workspace from an environment file",
				ArgsUsage: "<workspace id> <environment file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "owner",
						Usage: "owner of the workspace, defaults to the fingerprint of your certificate",
					},
					&cli.StringFlag{
						Name:  "env",
						Usage: "name of the environment, defaults to the file name",
					},
				},
				Action: startCmd,
			},
			{
				Name:      "stop",
				Usage:     "Stop a workspace and remove its containers",
				ArgsUsage: "<workspace id>",
				Action:    stopCmd,
			},
			{
				Name:   "status",
				Usage:  "List the running workspaces",
				Action: statusCmd,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "print the list again every time it changes",
					},
				},
			},
			{
				Name:      "logs",
				Usage:     "Follow the logs of a workspace",
				ArgsUsage: "<workspace id>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "container",
						Usage: "only show the logs of these containers",
					},
				},
				Action: logsCmd,
			},
			{
				Name:      "env",
				Usage:     "Print the environment a workspace was started with",
				ArgsUsage: "<workspace id>",
				Action:    envCmd,
			},
		},
	}

	err := app.Run(os.Args)
	if err == nil {
		return
	}

	fmt.Fprint(os.Stderr, getErrorString(err))
	os.Exit(1)
}

type appContext struct {
	Client *rpc.Client
	// Stream has no overall timeout
	Stream  *rpc.Client
	BaseURL string
}

func setup(c *cli.Context) (*appContext, error) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting homedir: %w", err)
	}
	dir := filepath.Join(homedir, ".wsctl")

	cert, _, err := rpc.GenCertificate(dir)
	if err != nil {
		return nil, fmt.Errorf("generating cert: %w", err)
	}

	trusted, err := loadTrustedCerts(dir)
	if err != nil {
		return nil, err
	}
	auth := rpc.AuthorizerFunc(func(fingerprint string) bool {
		_, ok := trusted[fingerprint]
		return ok
	})

	return &appContext{
		Client:  rpc.NewClient(cert, c.Duration("timeout"), auth),
		Stream:  rpc.NewClient(cert, 0, auth),
		BaseURL: rpc.UrlPrefix(c.String("server")),
	}, nil
}

func loadTrustedCerts(dir string) (map[string]struct{}, error) {
	m := map[string]struct{}{}

	buf, err := os.ReadFile(filepath.Join(dir, "trustedcerts"))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trusted certs file: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewBuffer(buf))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
			m[line] = struct{}{}
		}
	}

	return m, nil
}

func getErrorString(err error) string {
	es := &rpc.ErrUntrustedServer{}
	if errors.As(err, &es) {
		return fmt.Sprintf("The certificate presented by the server is not trusted. Use this command to trust it:\n\n  echo \"%s\" >> %s\n\n", es.Fingerprint, "~/.wsctl/trustedcerts")
	}

	ec := &rpc.ErrUntrustedClient{}
	if errors.As(err, &ec) {
		return fmt.Sprintf("The server does not trust your client certificate.\nAdd its fingerprint to the daemon's `workspaced.toml` like this:\n\n[[ client ]]\nfingerprint = \"%s\"\n\n", ec.Fingerprint)
	}

	return fmt.Sprintf("error: %s\n", err)
}
