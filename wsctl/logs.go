package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
)

func logsCmd(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("a workspace id is required")
	}

	cc, err := setup(c)
	if err != nil {
		return err
	}

	return streamLogs(c.Context, cc, id, c.StringSlice("container"), os.Stdout)
}

// streamLogs copies the "<container> | <line>" records of a workspace to w,
// skipping containers that aren't in the filter when one is given.
func streamLogs(ctx context.Context, cc *appContext, id string, containers []string, w io.Writer) error {
	resp, err := cc.Stream.GET(ctx, cc.BaseURL+"/workspaces/"+url.PathEscape(id)+"/logs")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !matchContainer(line, containers) {
			continue
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func matchContainer(line string, containers []string) bool {
	if len(containers) == 0 {
		return true
	}
	name, _, ok := strings.Cut(line, " | ")
	if !ok {
		return false
	}
	for _, c := range containers {
		if c == name {
			return true
		}
	}
	return false
}
