package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"fabrik/internal/config"
	"fabrik/internal/host"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const aboutKeyWidth = 30

func newAboutCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "about",
		Short: "Show the resolved configuration of a host",
		Args:  cobra.NoArgs,
		RunE: hostRunE(func(ctx context.Context, a *app, h *host.HostConfig, args []string) error {
			var docker *config.Node
			if name := h.String("docker.configuration", ""); name != "" {
				d, err := a.svc.DockerConfig(name)
				if err != nil {
					return err
				}
				docker = d
			}
			if asYAML {
				return writeYAML(os.Stdout, h.Raw(), docker)
			}
			printf("Configuration for %s\n", h.Label())
			if d := h.Description(); d != "" {
				printf("%s\n", d)
			}
			printf("\n")
			var b strings.Builder
			writeNode(&b, h.Raw(), 0)
			if docker != nil {
				b.WriteString("\nDocker configuration\n\n")
				writeNode(&b, docker, 0)
			}
			printf("%s", b.String())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the configuration as yaml")
	return cmd
}

func writeYAML(w io.Writer, h, docker *config.Node) error {
	doc := config.NewNode()
	doc.Set("host", h)
	if docker != nil {
		doc.Set("docker", docker)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// writeNode prints n sorted by key, scalars padded to a fixed column and
// nested values indented by two spaces.
func writeNode(w io.Writer, n *config.Node, indent int) {
	keys := n.Keys()
	sort.Strings(keys)
	pad := strings.Repeat(" ", indent)
	for _, k := range keys {
		v, _ := n.Get(k)
		switch t := v.(type) {
		case *config.Node:
			fmt.Fprintf(w, "%s%s\n", pad, k)
			writeNode(w, t, indent+2)
		case []any:
			fmt.Fprintf(w, "%s%s\n", pad, k)
			writeList(w, t, indent+2)
		default:
			fmt.Fprintf(w, "%s%-*s %s\n", pad, aboutKeyWidth, k, scalar(v))
		}
	}
}

func writeList(w io.Writer, items []any, indent int) {
	pad := strings.Repeat(" ", indent)
	for _, item := range items {
		switch t := item.(type) {
		case *config.Node:
			fmt.Fprintf(w, "%s-\n", pad)
			writeNode(w, t, indent+2)
		case []any:
			fmt.Fprintf(w, "%s-\n", pad)
			writeList(w, t, indent+2)
		default:
			fmt.Fprintf(w, "%s- %s\n", pad, scalar(item))
		}
	}
}

func scalar(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
