package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"fabrik/internal/host"
	"fabrik/internal/util"

	"github.com/spf13/cobra"
)

func newPutFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put:file <local-file> [destination]",
		Short: "Upload a file to the host, below rootFolder unless a destination is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: hostRunE(func(ctx context.Context, a *app, h *host.HostConfig, args []string) error {
			src, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(src); err != nil {
				return fmt.Errorf("could not read %s: %w", args[0], err)
			}
			var dest string
			if len(args) == 2 {
				dest = args[1]
			} else {
				wd, _ := os.Getwd()
				dest = util.LocalToRemote(wd, h.String("rootFolder", ""), src)
			}
			printf("📤 Uploading %s to %s:%s\n", args[0], h.ConfigName(), dest)
			if err := h.Shell().PutFile(ctx, src, dest); err != nil {
				return fmt.Errorf("failed to upload %s: %w", args[0], err)
			}
			printf("✅ Uploaded %s\n", dest)
			return nil
		}),
	}
}

func newGetFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get:file <remote-file> [local-destination]",
		Short: "Download a file from the host into the working directory unless a destination is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: hostRunE(func(ctx context.Context, a *app, h *host.HostConfig, args []string) error {
			src := remotePath(h, args[0])
			dest := path.Base(src)
			if len(args) == 2 {
				dest = args[1]
			}
			dest, err := filepath.Abs(dest)
			if err != nil {
				return err
			}
			printf("📥 Downloading %s:%s to %s\n", h.ConfigName(), src, dest)
			if err := h.Shell().GetFile(ctx, src, dest); err != nil {
				return fmt.Errorf("failed to download %s: %w", src, err)
			}
			printf("✅ Downloaded %s\n", dest)
			return nil
		}),
	}
}

func newCopyFromCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "copy-from <from-config> <file> [file ...]",
		Short: "Copy files from another host configuration to this one, relative to both rootFolders",
		Args:  cobra.MinimumNArgs(2),
		RunE: hostRunE(func(ctx context.Context, a *app, h *host.HostConfig, args []string) error {
			from, err := a.registry.Get(ctx, args[0])
			if err != nil {
				return err
			}
			for _, f := range args[1:] {
				src := remotePath(from, f)
				dest := remotePath(h, f)
				printf("📦 Copying %s:%s to %s:%s\n", from.ConfigName(), src, h.ConfigName(), dest)
				if err := h.Shell().CopyFileFrom(ctx, from.Shell(), src, dest); err != nil {
					return fmt.Errorf("failed to copy %s: %w", f, err)
				}
			}
			printf("✅ Copied %d file(s)\n", len(args)-1)
			return nil
		}),
	}
}

// remotePath resolves p against the rootFolder of h when it is relative.
func remotePath(h *host.HostConfig, p string) string {
	if path.IsAbs(p) {
		return p
	}
	return path.Join(h.String("rootFolder", "."), p)
}
