package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/CompanionStories/internal/services"
	"github.com/spf13/cobra"
)

var (
	validateWatch  bool
	validateStrict bool
)

var ValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate story content",
	Long: `Load characters.json and every stories/<id>/events.json and run the
structural checks the player runs at startup. Every error is printed.

With --watch the command keeps running and re-validates whenever a JSON file
under the content directory changes.`,
	RunE: runValidate,
}

func init() {
	ValidateCmd.Flags().BoolVarP(&validateWatch, "watch", "w", false, "Re-validate when content files change")
	ValidateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Require choices on every scene event")
}

func runValidate(cmd *cobra.Command, args []string) error {
	container, err := openContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	validator := container.Validator()
	if validateStrict {
		validator = services.NewContentValidator(true)
	}

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	snapshot, err := container.Repository().LoadContent(ctx)
	if err != nil {
		return fmt.Errorf("加载内容失败: %w", err)
	}
	result := validator.ValidateSnapshot(snapshot)
	printValidation(out, result)

	if !validateWatch {
		if !result.Valid {
			return fmt.Errorf("内容校验失败，共 %d 个错误", len(result.Errors))
		}
		return nil
	}

	if container.Config.UsesRemoteContent() {
		return fmt.Errorf("--watch 只支持本地内容目录")
	}

	watcher := services.NewContentWatcher(container.Config.ContentDir, container.Repository(), validator, container.Logger(),
		func(result services.ValidationResult, err error) {
			if err != nil {
				fmt.Fprintf(out, "❌ 加载内容失败: %v\n", err)
				return
			}
			printValidation(out, result)
		})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "👀 正在监听 %s，按 Ctrl+C 退出\n", container.Config.ContentDir)
	return watcher.Run(ctx)
}

func printValidation(out io.Writer, result services.ValidationResult) {
	if result.Valid {
		fmt.Fprintln(out, "✅ 内容校验通过")
		return
	}

	fmt.Fprintf(out, "❌ 内容校验失败，共 %d 个错误:\n", len(result.Errors))
	for _, msg := range result.Errors {
		fmt.Fprintf(out, "  • %s\n", msg)
	}
}
