package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/campaignd/internal/db"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/repository"
)

var cancelReason string

var executionCmd = &cobra.Command{
	Use:   "execution",
	Short: "Workflow execution commands",
}

var executionShowCmd = &cobra.Command{
	Use:   "show <execution_id>",
	Short: "Show an execution and its step results",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecutionShow,
}

var executionCancelCmd = &cobra.Command{
	Use:   "cancel <execution_id>",
	Short: "Request cancellation of an execution",
	Long: `Flag an execution for cancellation. The engine cancels it before its next
step. Use the API to also wake an execution that is sleeping.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecutionCancel,
}

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign commands",
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show campaign progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

func init() {
	executionCancelCmd.Flags().StringVar(&cancelReason, "reason", "cancelled from command line", "Cancellation reason")

	executionCmd.AddCommand(executionShowCmd, executionCancelCmd)
	campaignCmd.AddCommand(campaignShowCmd)
	rootCmd.AddCommand(executionCmd, campaignCmd)
}

func openStore() (*repository.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewStore(conn), func() { conn.Close() }, nil
}

func runExecutionShow(cmd *cobra.Command, args []string) error {
	store, closeFn, err := openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	id := args[0]
	exec, err := store.Executions.Get(context.Background(), id)
	if err != nil {
		return err
	}
	if exec == nil {
		return fmt.Errorf("execution not found: %s", id)
	}
	printExecution(exec)
	return nil
}

func printExecution(e *models.Execution) {
	fmt.Printf("Execution: %s\n\n", e.ID)
	fmt.Printf("Workflow:     %s\n", e.WorkflowID)
	fmt.Printf("Company:      %s\n", e.CompanyID)
	if e.CampaignID != "" {
		fmt.Printf("Campaign:     %s\n", e.CampaignID)
	}
	fmt.Printf("Trigger:      %s\n", e.TriggerType)
	fmt.Printf("Status:       %s\n", e.Status)
	fmt.Printf("Current Step: %d\n", e.CurrentStep)
	if e.WakeAt != nil {
		fmt.Printf("Wakes At:     %s (%s)\n", e.WakeAt.Format(time.RFC3339), e.SleepKind)
	}
	if e.CancelRequested {
		fmt.Printf("Cancel:       requested (%s)\n", e.CancelReason)
	}
	if e.ErrorMessage != "" {
		fmt.Printf("Error:        %s\n", e.ErrorMessage)
	}

	if len(e.Results) == 0 {
		return
	}

	fmt.Println("\nSteps:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTYPE\tOK\tCOMPLETED\tERROR")
	for _, r := range e.Results {
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\n",
			r.StepIndex,
			r.StepType,
			r.Success,
			r.CompletedAt.Format("2006-01-02 15:04:05"),
			r.Error,
		)
	}
	w.Flush()
}

func runExecutionCancel(cmd *cobra.Command, args []string) error {
	store, closeFn, err := openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	id := args[0]
	ok, err := store.Executions.RequestCancel(context.Background(), id, cancelReason)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("execution %s not found or already finished", id)
	}
	fmt.Printf("Cancellation requested for execution %s\n", id)
	return nil
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	store, closeFn, err := openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	id := args[0]

	c, err := store.Campaigns.Get(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign not found: %s", id)
	}
	counts, err := store.Members.CountByStatus(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Campaign: %s (%s)\n\n", c.Name, c.ID)
	fmt.Printf("Status:      %s\n", c.Status)
	fmt.Printf("Workflow:    %s\n", c.WorkflowID)
	if c.StartAt != nil {
		fmt.Printf("Start At:    %s\n", c.StartAt.Format(time.RFC3339))
	}
	if c.DailyLimit > 0 {
		fmt.Printf("Daily Limit: %d (sent today: %d on %s)\n", c.DailyLimit, c.SentToday, c.CurrentDay)
	}
	fmt.Printf("Batch:       %d every %d min (batch #%d)\n", c.BatchSize, c.BatchIntervalMinutes, c.CurrentBatch)
	fmt.Println()
	fmt.Printf("Total:       %d\n", c.TotalContacts)
	fmt.Printf("Processed:   %d\n", c.ProcessedContacts)
	fmt.Printf("Successful:  %d\n", c.SuccessfulContacts)
	fmt.Printf("Failed:      %d\n", c.FailedContacts)
	fmt.Printf("Deferred:    %d\n", c.DeferredContacts)

	fmt.Println("\nMembers:")
	for _, s := range []models.MemberStatus{
		models.MemberPending, models.MemberProcessing, models.MemberProcessed,
		models.MemberFailed, models.MemberExcluded,
	} {
		fmt.Printf("  %-11s %d\n", s+":", counts[s])
	}
	return nil
}
