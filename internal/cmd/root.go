// Package cmd implements the streamupload command line.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/spf13/cobra"
)

var (
	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// IOStreams are the standard streams of a command.
type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// NewRootCommand creates the `streamupload` command reading its configuration from the process environment.
func NewRootCommand() *cobra.Command {
	streams := IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}

	return NewRootCommandWithArgs(streams, env.NewRepository())
}

// NewRootCommandWithArgs creates the `streamupload` command and its nested children.
func NewRootCommandWithArgs(streams IOStreams, envRepository env.Repository) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "streamupload [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Resumable media uploads to Cloudflare Stream",
		Long: `Upload media files to Cloudflare Stream over resumable (tus) sessions.

Credentials are read from CLOUDFLARE_EMAIL and CLOUDFLARE_API_KEY, the default
zone from CLOUDFLARE_ZONE.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(streams.Out)
	cmd.SetErr(streams.ErrOut)

	cmd.AddCommand(NewUploadCommand(NewUploadOptions(streams, envRepository)))

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
