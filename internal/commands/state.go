package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	stateFormat string
	stateYes    bool
)

var StateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or clear the saved player record",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved player record (migrated to the current schema)",
	RunE:  runStateShow,
}

var stateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved player record",
	Long:  `Delete the saved player record. Collected endings, visits and milestones are lost.`,
	RunE:  runStateClear,
}

func init() {
	stateShowCmd.Flags().StringVarP(&stateFormat, "format", "f", "json", "Output format: json or yaml")
	stateClearCmd.Flags().BoolVarP(&stateYes, "yes", "y", false, "Confirm deletion")

	StateCmd.AddCommand(stateShowCmd)
	StateCmd.AddCommand(stateClearCmd)
}

func runStateShow(cmd *cobra.Command, args []string) error {
	container, err := openContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	data, err := json.MarshalIndent(container.Store().Load(), "", "  ")
	if err != nil {
		return fmt.Errorf("序列化存档失败: %w", err)
	}

	out := cmd.OutOrStdout()
	switch stateFormat {
	case "json":
		fmt.Fprintln(out, string(data))
		return nil
	case "yaml", "yml":
		// 经由 JSON 转换，保持字段名与存档一致
		var generic map[string]interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("转换存档失败: %w", err)
		}
		encoded, err := yaml.Marshal(generic)
		if err != nil {
			return fmt.Errorf("序列化存档失败: %w", err)
		}
		fmt.Fprint(out, string(encoded))
		return nil
	default:
		return fmt.Errorf("不支持的输出格式: %s", stateFormat)
	}
}

func runStateClear(cmd *cobra.Command, args []string) error {
	if !stateYes {
		return fmt.Errorf("清除存档不可恢复，请加 --yes 确认")
	}

	container, err := openContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	if !container.Store().Clear() {
		return fmt.Errorf("清除存档失败")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "🗑️  已清除存档 (%s)\n", container.Store().Key())
	return nil
}
