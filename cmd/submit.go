package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"mediaportal/internal/conversation"
	"mediaportal/internal/model"
	"mediaportal/internal/service"
	"mediaportal/internal/utils"

	"github.com/spf13/cobra"
)

var errNoResult = errors.New("processing finished without a result")

func newSubmitCmd(configPath *string) *cobra.Command {
	var (
		debug       bool
		perturbProb float64
		outDir      string
	)

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit an image or video for processing",
		Long:  "Uploads a file to the portal. Images return immediately; videos are followed over the progress channel until they complete or fail.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.SubmissionOptions{DebugMode: debug}
			if cmd.Flags().Changed("perturb-prob") {
				opts.PerturbProbability = &perturbProb
			}
			return runSubmit(cmd, *configPath, args[0], opts, outDir)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "ask the portal for visual debug output")
	cmd.Flags().Float64Var(&perturbProb, "perturb-prob", model.DefaultPerturbProb, "perturbation probability in [0,1]")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to save the processed result")
	return cmd
}

func runSubmit(cmd *cobra.Command, configPath, path string, opts model.SubmissionOptions, outDir string) error {
	a, err := cliApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.requireSession(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	contentType := utils.DetectMediaType(name, data)
	if _, ok := utils.ClassifyMedia(contentType); !ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "Skipping %s: %s is neither image nor video\n", name, contentType)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changes, cancel := a.media.Conversation().Subscribe(16)
	defer cancel()
	go printChanges(cmd, changes)

	up := service.Upload{Name: name, ContentType: contentType, Data: data}
	if err := a.media.Submit(ctx, up, opts); err != nil {
		return err
	}

	if err := waitTrackers(ctx, a.media); err != nil {
		return err
	}

	result, ok := lastResult(a.media.Conversation().List())
	if !ok {
		return errNoResult
	}
	if outDir == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Result: %s\n", result.MediaLocator)
		return nil
	}

	body, ct, err := a.media.Download(ctx, result.MediaLocator)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	dest := filepath.Join(outDir, strings.TrimSuffix(name, filepath.Ext(name))+"-processed"+utils.ExtensionFor(ct))
	if err := os.WriteFile(dest, body, 0644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", dest)
	return nil
}

// waitTrackers 等待视频任务结束；中断时断开进度通道
func waitTrackers(ctx context.Context, media *service.MediaService) error {
	done := make(chan struct{})
	go func() {
		media.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		media.Close()
		<-done
		return ctx.Err()
	}
}

// lastResult returns the newest ai message that carries media.
func lastResult(msgs []model.Message) (model.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAI && !msgs[i].Pending() {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}

func printChanges(cmd *cobra.Command, changes <-chan conversation.Change) {
	for ch := range changes {
		if ch.Message.Role != model.RoleAI {
			continue
		}
		switch {
		case ch.Op == conversation.OpAppend && ch.Message.Pending():
			fmt.Fprintln(cmd.ErrOrStderr(), "Video accepted, waiting for progress...")
		case ch.Op == conversation.OpUpdate:
			fmt.Fprintln(cmd.ErrOrStderr(), "Video processing completed")
		}
	}
}
