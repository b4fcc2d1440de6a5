package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var milestonesTop int

var MilestonesCmd = &cobra.Command{
	Use:   "milestones",
	Short: "Show progress counters and one-time milestones",
	RunE:  runMilestones,
}

func init() {
	MilestonesCmd.Flags().IntVarP(&milestonesTop, "top", "n", 3, "Number of companionship types to list")
}

func runMilestones(cmd *cobra.Command, args []string) error {
	container, err := openContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	status := container.Milestones().HubStatus(milestonesTop)
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "📊 Companion Stories")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "📖 已完成故事: %d\n", status.CompletedCount)
	fmt.Fprintf(out, "🤝 陪伴过的角色: %d\n", status.CompanionedCount)
	fmt.Fprintf(out, "🃏 已收集结局: %d\n", status.CollectedCount)

	if status.ShowCompanionshipSummary {
		fmt.Fprintf(out, "🌱 你已经陪伴了 %d 位角色\n", status.CompanionedCount)
	}
	if len(status.TopCompanionships) > 0 {
		fmt.Fprintf(out, "💬 常用陪伴方式: %s\n", strings.Join(status.TopCompanionships, "、"))
	}

	if len(status.RecentVisits) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "最近访问:")
		for _, visit := range status.RecentVisits {
			fmt.Fprintf(out, "  • %s (%s)\n", visit.CharacterID, visit.Timestamp.Local().Format("2006-01-02 15:04"))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "里程碑:")
	if len(status.DueMilestones) == 0 && len(status.ShownMilestones) == 0 {
		fmt.Fprintln(out, "  (暂无)")
	}
	for _, name := range status.DueMilestones {
		fmt.Fprintf(out, "  ⏳ %s 待展示\n", name)
	}
	for _, name := range status.ShownMilestones {
		fmt.Fprintf(out, "  ✅ %s 已展示\n", name)
	}
	return nil
}
