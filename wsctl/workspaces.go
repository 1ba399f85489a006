package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
)

type workspaceStatus struct {
	ID         string   `json:"id"`
	Owner      string   `json:"owner"`
	Env        string   `json:"env"`
	EnvHash    string   `json:"envHash"`
	Pod        string   `json:"pod"`
	Containers []string `json:"containers"`
	Created    string   `json:"created"`
}

type workspaceList struct {
	Generation int64              `json:"generation"`
	Workspaces []*workspaceStatus `json:"workspaces"`
}

func startCmd(c *cli.Context) error {
	id, file := c.Args().Get(0), c.Args().Get(1)
	if id == "" || file == "" {
		return errors.New("a workspace id and an environment file are required")
	}

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	env := c.String("env")
	if env == "" {
		env = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	cc, err := setup(c)
	if err != nil {
		return err
	}

	status, err := startWorkspace(c.Context, cc, id, c.String("owner"), env, f)
	if err != nil {
		return err
	}
	fmt.Printf("started workspace %q (pod %s) with containers: %s\n", status.ID, status.Pod, strings.Join(status.Containers, ", "))
	return nil
}

func startWorkspace(ctx context.Context, cc *appContext, id, owner, env string, body io.Reader) (*workspaceStatus, error) {
	q := url.Values{}
	if owner != "" {
		q.Set("owner", owner)
	}
	if env != "" {
		q.Set("env", env)
	}

	resp, err := cc.Client.PUT(ctx, cc.BaseURL+"/workspaces/"+url.PathEscape(id)+"?"+q.Encode(), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	status := &workspaceStatus{}
	if err := json.NewDecoder(resp.Body).Decode(status); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return status, nil
}

func stopCmd(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("a workspace id is required")
	}

	cc, err := setup(c)
	if err != nil {
		return err
	}

	resp, err := cc.Client.DELETE(c.Context, cc.BaseURL+"/workspaces/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	resp.Body.Close()

	fmt.Printf("stopped workspace %q\n", id)
	return nil
}

func envCmd(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("a workspace id is required")
	}

	cc, err := setup(c)
	if err != nil {
		return err
	}

	resp, err := cc.Client.GET(c.Context, cc.BaseURL+"/workspaces/"+url.PathEscape(id)+"/environment")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}
