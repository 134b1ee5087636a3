package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List pipeline jobs or show one job",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if len(args) == 1 {
			job, err := st.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:       %s\n", job.ID)
			fmt.Printf("status:   %s\n", job.Status)
			fmt.Printf("step:     %s\n", job.Step)
			fmt.Printf("category: %s\n", job.Params.Category)
			fmt.Printf("created:  %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
			if job.Error != "" {
				fmt.Printf("error:    %s\n", job.Error)
			}
			if job.StdoutTail != "" {
				fmt.Printf("\n--- stdout tail ---\n%s", job.StdoutTail)
			}
			if job.StderrTail != "" {
				fmt.Printf("\n--- stderr tail ---\n%s", job.StderrTail)
			}
			return nil
		}

		jobs, err := st.ListJobs(ctx, jobsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tSTEP\tCATEGORY\tCREATED\tERROR")
		for _, j := range jobs {
			errMsg := j.Error
			if len(errMsg) > 40 {
				errMsg = errMsg[:40] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				j.ID, j.Status, j.Step, j.Params.Category,
				j.CreatedAt.Format("2006-01-02 15:04"), errMsg)
		}
		return w.Flush()
	},
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "number of jobs to list")
	rootCmd.AddCommand(jobsCmd)
}
