package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/campaignd/internal/queue"
)

var (
	queueListStatus string
	queueListName   string
	queueListLimit  int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Task queue commands (run while the engine is stopped)",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in the queue",
	RunE:  runQueueList,
}

var queueShowCmd = &cobra.Command{
	Use:   "show <task_id>",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueShow,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE:  runQueueStats,
}

var queueDeleteCmd = &cobra.Command{
	Use:   "delete <task_id>",
	Short: "Delete a task from the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueDelete,
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead letter queue commands",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in the dead letter queue",
	RunE:  runDLQList,
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry <task_id>",
	Short: "Move a task from the dead letter queue back to pending",
	Args:  cobra.ExactArgs(1),
	RunE:  runDLQRetry,
}

var dlqDeleteCmd = &cobra.Command{
	Use:   "delete <task_id>",
	Short: "Delete a task from the dead letter queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runDLQDelete,
}

func init() {
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "Filter by status (pending, running, deferred, done, failed)")
	queueListCmd.Flags().StringVar(&queueListName, "name", "", "Filter by signal name (e.g. workflow/execute)")
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 50, "Maximum number of tasks to show")
	dlqListCmd.Flags().IntVar(&queueListLimit, "limit", 50, "Maximum number of tasks to show")

	dlqCmd.AddCommand(dlqListCmd, dlqRetryCmd, dlqDeleteCmd)
	queueCmd.AddCommand(queueListCmd, queueShowCmd, queueStatsCmd, queueDeleteCmd, dlqCmd)
	rootCmd.AddCommand(queueCmd)
}

func openQueueStorage() (*queue.BoltStorage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	storage, err := queue.NewBoltStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue storage: %w", err)
	}

	return storage, nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	tasks, err := storage.List(context.Background(), queue.ListFilter{
		Status: queue.TaskStatus(queueListStatus),
		Name:   queueListName,
		Limit:  queueListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	printTasks(tasks)
	fmt.Printf("\nTotal: %d tasks\n", len(tasks))
	return nil
}

func printTasks(tasks []*queue.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tRUN AT\tATTEMPTS")
	fmt.Fprintln(w, "--\t----\t------\t------\t--------")

	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			truncateID(t.ID),
			t.Name,
			t.Status,
			t.RunAt.Format("2006-01-02 15:04"),
			t.Attempts,
		)
	}

	w.Flush()
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	id := args[0]
	t, err := storage.Get(context.Background(), id)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}
	if t == nil {
		return fmt.Errorf("task not found: %s", id)
	}

	fmt.Printf("Task: %s\n\n", t.ID)
	fmt.Printf("Name:      %s\n", t.Name)
	fmt.Printf("Status:    %s\n", t.Status)
	fmt.Printf("Run At:    %s\n", t.RunAt.Format(time.RFC3339))
	fmt.Printf("Attempts:  %d\n", t.Attempts)
	fmt.Printf("Created:   %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:   %s\n", t.UpdatedAt.Format(time.RFC3339))
	if t.DedupKey != "" {
		fmt.Printf("Dedup Key: %s\n", t.DedupKey)
	}

	if t.LastError != "" {
		fmt.Printf("\nLast Error:\n  %s\n", t.LastError)
	}

	fmt.Println("\nPayload:")
	fmt.Println(string(t.Payload))

	return nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	ctx := context.Background()

	stats, err := storage.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get queue stats: %w", err)
	}

	fmt.Println("Queue Statistics")
	fmt.Println("================")
	fmt.Printf("Total:     %d\n", stats.Total)
	fmt.Printf("Pending:   %d\n", stats.Pending)
	fmt.Printf("Running:   %d\n", stats.Running)
	fmt.Printf("Deferred:  %d\n", stats.Deferred)
	fmt.Printf("Done:      %d\n", stats.Done)
	fmt.Printf("Failed:    %d\n", stats.Failed)

	dlqStats, err := storage.DLQStats(ctx)
	if err == nil && dlqStats.Total > 0 {
		fmt.Println("\nDead Letter Queue")
		fmt.Println("-----------------")
		fmt.Printf("Total:     %d\n", dlqStats.Total)
		fmt.Printf("Size:      %d bytes\n", dlqStats.TotalSize)
		if !dlqStats.OldestAt.IsZero() {
			fmt.Printf("Oldest:    %s\n", dlqStats.OldestAt.Format(time.RFC3339))
		}
	}

	return nil
}

func runQueueDelete(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	id := args[0]
	if err := storage.Delete(context.Background(), id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	fmt.Printf("Task %s deleted from queue\n", id)
	return nil
}

func runDLQList(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	tasks, err := storage.ListDLQ(context.Background(), queueListLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list DLQ: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("Dead letter queue is empty")
		return nil
	}

	printTasks(tasks)
	fmt.Printf("\nTotal: %d tasks\n", len(tasks))
	return nil
}

func runDLQRetry(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	id := args[0]
	if err := storage.RetryFromDLQ(context.Background(), id); err != nil {
		return fmt.Errorf("failed to retry task from DLQ: %w", err)
	}
	fmt.Printf("Task %s moved from DLQ to pending queue\n", id)
	return nil
}

func runDLQDelete(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	id := args[0]
	if err := storage.DeleteFromDLQ(context.Background(), id); err != nil {
		return fmt.Errorf("failed to delete task from DLQ: %w", err)
	}
	fmt.Printf("Task %s deleted from DLQ\n", id)
	return nil
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
