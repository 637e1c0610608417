package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/dutyhub/internal/controlplane"
	"github.com/fentz26/dutyhub/internal/models"
)

var dutyCmd = &cobra.Command{
	Use:   "duty",
	Short: "Manage duties",
}

var dutyStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a duty for --user",
	RunE:  runDutyStart,
}

var dutyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your active duties",
	RunE:  runDutyList,
}

var dutyActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "List every active duty",
	RunE:  runDutyActive,
}

var dutyShowCmd = &cobra.Command{
	Use:   "show [duty-id]",
	Short: "Show duty details",
	Args:  cobra.ExactArgs(1),
	RunE:  runDutyShow,
}

var dutyFinishCmd = &cobra.Command{
	Use:   "finish [duty-id]",
	Short: "Finish one of your duties now",
	Args:  cobra.ExactArgs(1),
	RunE:  runDutyFinish,
}

var dutyRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove your duties from the active set",
	RunE:  runDutyRemove,
}

var dutyOnDutyCmd = &cobra.Command{
	Use:   "onduty",
	Short: "List users currently on duty",
	RunE:  runDutyOnDuty,
}

var dutyPageCmd = &cobra.Command{
	Use:   "page",
	Short: "Show which page --user lands on",
	RunE:  runDutyPage,
}

var dutyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the active set",
	RunE:  runDutyReset,
}

var dutyPDRCmd = &cobra.Command{
	Use:   "pdr",
	Short: "Show recent decision records",
	RunE:  runDutyPDR,
}

var (
	debteeID     string
	debteeEmail  string
	debteeMatric string
	pdrLimit     int
)

func init() {
	dutyCmd.AddCommand(dutyStartCmd, dutyListCmd, dutyActiveCmd, dutyShowCmd, dutyFinishCmd,
		dutyRemoveCmd, dutyOnDutyCmd, dutyPageCmd, dutyResetCmd, dutyPDRCmd)

	dutyStartCmd.Flags().StringVar(&debteeID, "debtee-id", "", "Debtee user id")
	dutyStartCmd.Flags().StringVar(&debteeEmail, "debtee-email", "", "Debtee email")
	dutyStartCmd.Flags().StringVar(&debteeMatric, "debtee-matric", "", "Debtee matric number")

	dutyPDRCmd.Flags().IntVar(&pdrLimit, "limit", 20, "Number of records to show")
}

func runDutyStart(cmd *cobra.Command, args []string) error {
	body := map[string]any{}
	lookup := models.UserLookup{ID: debteeID, Email: debteeEmail, Matric: debteeMatric}
	if !lookup.IsZero() {
		body["debtee"] = lookup
	}

	var view controlplane.DutyView
	msg, err := apiPost("/duties", body, &view)
	if err != nil {
		return err
	}

	fmt.Println(msg)
	printDuty(view)
	return nil
}

func runDutyList(cmd *cobra.Command, args []string) error {
	var views []controlplane.DutyView
	msg, err := apiGet("/duties", &views)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	printDutyTable(views)
	return nil
}

func runDutyActive(cmd *cobra.Command, args []string) error {
	var views []controlplane.DutyView
	msg, err := apiGet("/duties/active", &views)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	printDutyTable(views)
	return nil
}

func runDutyShow(cmd *cobra.Command, args []string) error {
	var view controlplane.DutyView
	if _, err := apiGet("/duties/"+args[0], &view); err != nil {
		return err
	}
	printDuty(view)
	return nil
}

func runDutyFinish(cmd *cobra.Command, args []string) error {
	var view controlplane.DutyView
	if _, err := apiPost("/duties/"+args[0]+"/finish", nil, &view); err != nil {
		return err
	}
	fmt.Printf("Finished duty %s at %s\n", truncateID(view.ID), formatClock(view.DutyEnd))
	return nil
}

func runDutyRemove(cmd *cobra.Command, args []string) error {
	var views []controlplane.DutyView
	msg, err := apiDelete("/duties/mine", &views)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

func runDutyOnDuty(cmd *cobra.Command, args []string) error {
	var users []models.User
	msg, err := apiGet("/duties/onduty", &users)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	printUserTable(users)
	return nil
}

func runDutyPage(cmd *cobra.Command, args []string) error {
	var page struct {
		View string `json:"view"`
	}
	if _, err := apiGet("/duties/page", &page); err != nil {
		return err
	}
	fmt.Println(page.View)
	return nil
}

func runDutyReset(cmd *cobra.Command, args []string) error {
	msg, err := apiPost("/admin/reset", nil, nil)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

func runDutyPDR(cmd *cobra.Command, args []string) error {
	var entries []models.PDREntry
	if _, err := apiGet("/admin/pdr?limit="+strconv.Itoa(pdrLimit), &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No decision records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tDUTY\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Action, e.Outcome, truncateID(e.DutyID), truncate(e.Details, 50))
	}
	return w.Flush()
}

func printDuty(v controlplane.DutyView) {
	fmt.Printf("ID:       %s\n", v.ID)
	fmt.Printf("Owner:    %s\n", v.UserID)
	if v.Debtee != nil {
		fmt.Printf("Debtee:   %s <%s>\n", v.Debtee.Name, v.Debtee.Email)
	}
	fmt.Printf("Duty:     %s - %s\n", formatClock(v.DutyStart), formatClock(v.DutyEnd))
	fmt.Printf("Task 1:   %s - %s\n", formatClock(v.Task1Start), formatClock(v.Task1End))
	fmt.Printf("Task 2:   %s - %s\n", formatClock(v.Task2Start), formatClock(v.Task2End))
	fmt.Printf("Task 3:   %s - %s\n", formatClock(v.Task3Start), formatClock(v.Task3End))
	fmt.Printf("Finished: %t\n", v.Finished)
}

func printDutyTable(views []controlplane.DutyView) {
	if len(views) == 0 {
		fmt.Println("No duties found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tDEBTEE\tSTART\tEND\tFINISHED")
	for _, v := range views {
		debtee := ""
		if v.Debtee != nil {
			debtee = v.Debtee.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			truncateID(v.ID), truncateID(v.UserID), debtee, formatClock(v.DutyStart), formatClock(v.DutyEnd), v.Finished)
	}
	w.Flush()
}

func formatClock(t time.Time) string {
	return t.Local().Format("15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
