package main

import (
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/darkden-lab/lineside/internal/workorders"
)

func newWorkOrdersCmd(api func() *apiClient) *cobra.Command {
	var (
		line, status, partNo string
		page, pageSize       int
	)
	cmd := &cobra.Command{
		Use:     "workorders [search]",
		Aliases: []string{"wo"},
		Short:   "Search work orders",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("page", strconv.Itoa(page))
			q.Set("pageSize", strconv.Itoa(pageSize))
			if len(args) == 1 {
				q.Set("search", args[0])
			}
			for key, v := range map[string]string{"line": line, "status": status, "partNo": partNo} {
				if v != "" {
					q.Set(key, v)
				}
			}

			var res workorders.PageResult
			if err := api().get(cmd.Context(), "/api/workorders", q, &res); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(res.Items) == 0 {
				fmt.Fprintln(out, "No work orders found.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NUMBER\tSTATUS\tLINE\tPART\tCREATED")
			for _, wo := range res.Items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", wo.Number, wo.Status, wo.Line, wo.PartNo, wo.CreatedUtc.Format("2006-01-02 15:04"))
			}
			tw.Flush() //nolint:errcheck
			fmt.Fprintf(out, "\nPage %d, %d of %d\n", res.Page, len(res.Items), res.TotalCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&line, "line", "", "production line")
	cmd.Flags().StringVar(&status, "status", "", "work order status")
	cmd.Flags().StringVar(&partNo, "part", "", "part number")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 25, "page size")
	return cmd
}
