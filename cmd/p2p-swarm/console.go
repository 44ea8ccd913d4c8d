package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"

	"tarun-kavipurapu/p2p-swarm/peer"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
)

// console implements the interactive shell on top of a running node.
type console struct {
	node *peer.Node
	out  io.Writer
	quit bool
}

func newConsole(n *peer.Node, out io.Writer) *console {
	return &console{node: n, out: out}
}

func (c *console) execute(in string) {
	blocks := strings.Fields(strings.TrimSpace(in))
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Fprintln(c.out, "Stopping node...")
		c.quit = true
	case "list", "ls":
		c.list()
	case "peers":
		c.peers()
	case "status":
		fmt.Fprint(c.out, c.node.GetStatus())
	case "get", "download":
		name := c.fileArgument(in)
		if name == "" {
			fmt.Fprintln(c.out, "Usage: get <filename>")
			return
		}
		if err := getFile(context.Background(), c.out, c.node, name); err != nil {
			fmt.Fprintf(c.out, "Error downloading %s: %v\n", name, err)
		}
	case "help":
		fmt.Fprintln(c.out, "Available commands:")
		fmt.Fprintln(c.out, "  list                   - Show local files and files available from peers")
		fmt.Fprintln(c.out, "  peers                  - Show known peers")
		fmt.Fprintln(c.out, "  get <filename>         - Download a file from the swarm")
		fmt.Fprintln(c.out, "  status                 - Show node status")
		fmt.Fprintln(c.out, "  quit                   - Stop the node and exit")
	default:
		fmt.Fprintln(c.out, "Unknown command: "+blocks[0])
	}
}

// fileArgument returns everything after the command word and its separating space, so
// names with repeated or surrounding spaces survive. If no peer advertises that exact
// name the trimmed form is used instead.
func (c *console) fileArgument(in string) string {
	_, rest, _ := strings.Cut(strings.TrimLeft(in, " \t"), " ")
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	if len(c.node.Directory().KnownOwners(rest)) > 0 {
		return rest
	}
	return strings.TrimSpace(rest)
}

func (c *console) shouldExit(in string, breakline bool) bool {
	return breakline && c.quit
}

func (c *console) list() {
	local, err := c.node.LocalFiles()
	if err != nil {
		fmt.Fprintf(c.out, "Error reading shared directory: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Local files (%d):\n", len(local))
	for _, name := range local.Names() {
		meta := local[name]
		fmt.Fprintf(c.out, "  %-30s %6d chunks  %s\n", name, meta.TotalChunks, meta.FileHash[:12])
	}

	remote, err := c.node.RemoteFiles()
	if err != nil {
		fmt.Fprintf(c.out, "Error listing remote files: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Available from peers (%d):\n", len(remote))
	for _, rf := range remote {
		fmt.Fprintf(c.out, "  %-30s %6d chunks  %s  %d owner(s)\n", rf.Name, rf.Meta.TotalChunks, rf.Meta.FileHash[:12], rf.Owners)
	}
}

func (c *console) peers() {
	snap := c.node.Directory().Snapshot()
	fmt.Fprintf(c.out, "Known peers (%d):\n", len(snap.Peers))
	for _, p := range snap.Peers {
		fmt.Fprintf(c.out, "  %-22s %d file(s)\n", p, len(snap.Catalogs[p]))
	}
}

func (c *console) complete(d prompt.Document) []prompt.Suggest {
	args := strings.Fields(d.TextBeforeCursor())
	if len(args) >= 1 && (args[0] == "get" || args[0] == "download") &&
		(len(args) > 1 || strings.HasSuffix(d.TextBeforeCursor(), " ")) {
		return prompt.FilterHasPrefix(c.remoteSuggestions(), d.GetWordBeforeCursor(), true)
	}

	s := []prompt.Suggest{
		{Text: "list", Description: "List local and remote files"},
		{Text: "peers", Description: "Show known peers"},
		{Text: "get", Description: "Download a file"},
		{Text: "status", Description: "Show node status"},
		{Text: "quit", Description: "Exit the node"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func (c *console) remoteSuggestions() []prompt.Suggest {
	remote, err := c.node.RemoteFiles()
	if err != nil {
		return nil
	}
	s := make([]prompt.Suggest, 0, len(remote))
	for _, rf := range remote {
		s = append(s, prompt.Suggest{
			Text:        rf.Name,
			Description: fmt.Sprintf("%d chunks, %d owner(s)", rf.Meta.TotalChunks, rf.Owners),
		})
	}
	return s
}

func getFile(ctx context.Context, out io.Writer, n *peer.Node, name string) error {
	result, err := n.Download(ctx, name)
	switch {
	case errors.Is(err, peer.ErrNoOwners):
		fmt.Fprintf(out, "No peer is advertising %s\n", name)
		return err
	case errors.Is(err, peer.ErrVerificationFailed):
		fmt.Fprintf(out, "Downloaded %s but its hash does not match; kept at %s\n", name, result.Path)
		return err
	case err != nil:
		return err
	}
	fmt.Fprintf(out, "Saved %s (%d bytes) to %s in %s\n", name, result.Bytes, result.Path, result.Elapsed.Round(time.Millisecond))
	return nil
}

// waitForOwners blocks until some peer advertises name or timeout passes.
func waitForOwners(ctx context.Context, n *peer.Node, name string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for len(n.Directory().KnownOwners(name)) == 0 {
		select {
		case <-ctx.Done():
			logger.Sugar.Warnf("[Console] no owners for %s after %s", name, timeout)
			return
		case <-ticker.C:
		}
	}
}
