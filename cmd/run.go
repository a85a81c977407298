// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/observability"
	"github.com/xkilldash9x/rover/internal/stream"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [flags] <query...>",
		Short: "Run a single query in a fresh browser session",
		Long: `Opens a browser session on --url (the search page by default), runs the
agent on the query and prints its progress until the final answer.`,
		Example: `  rover run "what is the tallest building in Europe"
  rover run --url https://en.wikipedia.org --format sse "who founded Wikipedia"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			format, _ := cmd.Flags().GetString("format")
			sink, err := newConsoleSink(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			url, _ := cmd.Flags().GetString("url")
			query := strings.Join(args, " ")

			components, err := componentFactory().Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), componentShutdownTimeout)
				defer cancel()
				components.Shutdown(shutdownCtx)
			}()

			if _, err := components.Browser.Setup(ctx, url); err != nil {
				return fmt.Errorf("failed to setup browser: %w", err)
			}

			logger.Info("Running query.", zap.String("query", query))
			return components.Runner.Execute(ctx, query, sink)
		},
	}

	runCmd.Flags().String("url", "", "page to start from (default: the configured search page)")
	runCmd.Flags().String("format", "text", "output format: text or sse")
	runCmd.Flags().Bool("headless", true, "run the browser without a window (overrides config/env)")
	runCmd.Flags().Int("max-steps", 0, "maximum graph steps per run (overrides config/env)")
	return runCmd
}

func newConsoleSink(format string, w io.Writer) (stream.Sink, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &textSink{w: w}, nil
	case "sse":
		return stream.NewSSEWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (want text or sse)", format)
	}
}

// textSink prints frames for a person at a terminal. Keepalives are dropped.
type textSink struct {
	w io.Writer
}

func (s *textSink) Send(f stream.Frame) error {
	var err error
	switch f.Type {
	case stream.FrameKeepalive:
	case stream.FrameThought:
		_, err = fmt.Fprintf(s.w, "Thought: %v\n", f.Content)
	case stream.FrameAction:
		if c, ok := f.Content.(stream.ActionContent); ok {
			if c.Args != nil {
				_, err = fmt.Fprintf(s.w, "Action:  %s; %s\n", c.Verb, *c.Args)
			} else {
				_, err = fmt.Fprintf(s.w, "Action:  %s\n", c.Verb)
			}
		}
	case stream.FrameRetry:
		_, err = fmt.Fprintf(s.w, "%v\n", f.Content)
	case stream.FrameError:
		_, err = fmt.Fprintf(s.w, "Error: %v\n", f.Content)
	case stream.FrameFinalAnswer:
		_, err = fmt.Fprintf(s.w, "\n%v\n", f.Content)
	case stream.FrameEnd:
		_, err = fmt.Fprintln(s.w)
	}
	return err
}
