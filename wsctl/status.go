package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
)

func statusCmd(c *cli.Context) error {
	cc, err := setup(c)
	if err != nil {
		return err
	}

	list, err := getWorkspaces(c.Context, cc, -1)
	if err != nil {
		return err
	}
	printWorkspaces(list.Workspaces, os.Stdout)

	for c.Bool("watch") {
		ctx, done := context.WithTimeout(c.Context, time.Minute*35)
		next, err := getWorkspaces(ctx, cc, list.Generation)
		done()
		if errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if err != nil {
			return err
		}
		if next.Generation == list.Generation {
			continue
		}

		list = next
		fmt.Println()
		printWorkspaces(list.Workspaces, os.Stdout)
	}
	return nil
}

// getWorkspaces returns the workspace list, blocking until it differs from the given generation if it's >= 0.
func getWorkspaces(ctx context.Context, cc *appContext, after int64) (*workspaceList, error) {
	u := cc.BaseURL + "/workspaces"
	client := cc.Client
	if after >= 0 {
		u += "?after=" + strconv.FormatInt(after, 10)
		client = cc.Stream
	}

	resp, err := client.GET(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	list := &workspaceList{}
	if err := json.NewDecoder(resp.Body).Decode(list); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return list, nil
}

func printWorkspaces(list []*workspaceStatus, w io.Writer) {
	tr := tabwriter.NewWriter(w, 6, 6, 4, ' ', 0)
	fmt.Fprintf(tr, "ID\tENV\tOWNER\tCONTAINERS\tCREATED\n")
	for _, ws := range list {
		owner := ws.Owner
		if len(owner) > 12 {
			owner = owner[:12]
		}
		fmt.Fprintf(tr, "%s\t%s\t%s\t%s\t%s\n", ws.ID, ws.Env, owner, strings.Join(ws.Containers, ","), transformTime(ws.Created))
	}
	tr.Flush()
}

func transformTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil || t.IsZero() {
		return ""
	}

	return durationToString(time.Since(t))
}

func durationToString(d time.Duration) string {
	hr := d.Hours()
	if hr > 24 {
		return fmt.Sprintf("%dd", int(hr/24))
	}
	if hr > 1 {
		return fmt.Sprintf("%dh", int(hr))
	}

	min := d.Minutes()
	if min > 1 {
		return fmt.Sprintf("%dm", int(min))
	}

	return fmt.Sprintf("%ds", int(d.Seconds()))
}
