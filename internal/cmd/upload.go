package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/go-streamupload/analytics"
	"github.com/bitrise-io/go-streamupload/stepconf"
	"github.com/bitrise-io/go-streamupload/stream"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// UploadOptions are the flags and streams of the `upload` command.
type UploadOptions struct {
	Path                 string
	Zone                 string
	Retries              int
	Timeout              time.Duration
	JSON                 bool
	KeepVerificationPort bool

	envRepository env.Repository
	logger        log.Logger

	IOStreams
}

// NewUploadOptions ...
func NewUploadOptions(streams IOStreams, envRepository env.Repository) *UploadOptions {
	return &UploadOptions{
		IOStreams:     streams,
		envRepository: envRepository,
	}
}

// NewUploadCommand ...
func NewUploadCommand(o *UploadOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "upload [PATH]",
		DisableFlagsInUseLine: true,
		Short:                 "Upload a media file and print the registered asset",
		Example: `  # Upload to the zone in CLOUDFLARE_ZONE
  streamupload upload ./video.mp4

  # Upload to another zone, resuming failed chunks up to 3 times
  streamupload upload --zone 023e105f4ecef8ad9ca31a8372d0c353 --retries 3 ./video.mp4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.Path, "path", "p", "", "Media file to upload")
	flags.StringVarP(&o.Zone, "zone", "z", "", "Zone of the asset (default: $CLOUDFLARE_ZONE)")
	flags.IntVar(&o.Retries, "retries", -1, "Resume attempts per failed chunk (default: $STREAM_UPLOAD_MAX_RETRIES)")
	flags.DurationVar(&o.Timeout, "timeout", 0, "Deadline of the whole upload (default: $STREAM_UPLOAD_TIMEOUT_SECONDS)")
	flags.BoolVar(&o.JSON, "json", false, "Print the verification response as JSON")
	flags.BoolVar(&o.KeepVerificationPort, "keep-verification-port", false, "Verify on the session URL's port instead of 443")
	_ = flags.MarkHidden("keep-verification-port")

	return cmd
}

// Complete takes the path from the first argument when --path is not set.
func (o *UploadOptions) Complete(_ *cobra.Command, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("expected at most one path, got %d", len(args))
	}
	if o.Path == "" && len(args) == 1 {
		o.Path = args[0]
	}
	return nil
}

// Validate ...
func (o *UploadOptions) Validate() error {
	if o.Path == "" {
		return fmt.Errorf("path is required")
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Run uploads the file and waits for the verified result.
func (o *UploadOptions) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	envConfig, err := stream.LoadConfig(o.envRepository)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = log.NewLogger()
	}
	logger.EnableDebugLog(envConfig.Verbose)
	if envConfig.Verbose {
		stepconf.Print(envConfig)
	}

	config := envConfig.ClientConfig(logger)
	if o.Retries >= 0 {
		config.MaxRetries = o.Retries
	}
	if o.Timeout > 0 {
		config.Timeout = o.Timeout
	}
	config.KeepVerificationPort = o.KeepVerificationPort

	tracker, err := analytics.NewDefaultUploadTracker(o.envRepository, logger)
	if err != nil {
		logger.Debugf("Analytics disabled: %s", err)
	} else {
		config.Tracker = tracker
	}

	client := stream.NewClient(envConfig.Credentials(), config)
	defer client.Close()

	upload, err := client.Upload(ctx, stream.UploadInput{
		Zone: o.Zone,
		Path: o.Path,
		Listeners: stream.Listeners{
			Progress: o.printProgress,
		},
	})
	if err != nil {
		return err
	}

	result, err := upload.Wait()
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	return o.printResult(result)
}

func (o *UploadOptions) printProgress(p stream.Progress) {
	fmt.Fprintf(o.ErrOut, "Uploaded %s of %s (%s)\n", humanize.IBytes(uint64(p.Uploaded)), humanize.IBytes(uint64(p.Total)), p.Percentage)
}

func (o *UploadOptions) printResult(result *stream.MediaResult) error {
	if o.JSON {
		var out bytes.Buffer
		if err := json.Indent(&out, result.Raw, "", "  "); err != nil {
			return fmt.Errorf("format verification response: %w", err)
		}
		out.WriteString("\n")
		_, err := o.Out.Write(out.Bytes())
		return err
	}

	var media struct {
		UID           string `json:"uid"`
		ReadyToStream bool   `json:"readyToStream"`
	}
	if len(result.Result) > 0 {
		if err := json.Unmarshal(result.Result, &media); err != nil {
			return fmt.Errorf("parse media result: %w", err)
		}
	}

	fmt.Fprintf(o.Out, "Media registered: %s (ready to stream: %t)\n", media.UID, media.ReadyToStream)
	return nil
}
