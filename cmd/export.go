package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/slug"
	"github.com/growthtools/leadscout/internal/store"
)

var exportFlags struct {
	category   string
	out        string
	classified bool
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export leads or classification results to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		out := exportFlags.out
		if out == "" {
			suffix := "leads"
			if exportFlags.classified {
				suffix = "classified"
			}
			out = fmt.Sprintf("%s_%s.xlsx", slug.Category(exportFlags.category), suffix)
		}

		f := xlsx.NewFile()
		var rows int
		if exportFlags.classified {
			rows, err = exportClassified(cmd, st, f)
		} else {
			rows, err = exportLeads(cmd, st, f)
		}
		if err != nil {
			return err
		}

		if err := f.Save(out); err != nil {
			return eris.Wrap(err, "export: save workbook")
		}
		zap.L().Info("export written",
			zap.String("path", out),
			zap.Int("rows", rows))
		return nil
	},
}

func exportLeads(cmd *cobra.Command, st store.Store, f *xlsx.File) (int, error) {
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Company", "Website", "Phone", "Emails", "Region", "Source", "About"} {
		header.AddCell().Value = h
	}

	leads, err := st.ListLeads(cmd.Context(), exportFlags.category, store.LeadFilter{})
	if err != nil {
		return 0, err
	}
	for _, l := range leads {
		row := sheet.AddRow()
		row.AddCell().Value = l.CompanyName
		row.AddCell().Value = l.Website
		row.AddCell().Value = l.Phone
		row.AddCell().Value = strings.Join(l.Emails, ", ")
		row.AddCell().Value = l.Region
		row.AddCell().Value = l.Source
		row.AddCell().Value = l.About
	}
	return len(leads), nil
}

func exportClassified(cmd *cobra.Command, st store.Store, f *xlsx.File) (int, error) {
	sheet, err := f.AddSheet("Classified")
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Company", "Belongs", "Confidence", "Reason", "Website", "Phone", "Emails"} {
		header.AddCell().Value = h
	}

	// The results surface caps its sample; exports include every verdict.
	results, err := st.TopClassifications(cmd.Context(), exportFlags.category, 0)
	if err != nil {
		return 0, err
	}
	for _, c := range results {
		row := sheet.AddRow()
		row.AddCell().Value = c.CompanyName
		row.AddCell().SetBool(c.Belongs)
		row.AddCell().SetFloat(c.Confidence)
		row.AddCell().Value = c.Reason
		row.AddCell().Value = c.Website
		row.AddCell().Value = c.Phone
		row.AddCell().Value = strings.Join(c.Emails, ", ")
	}
	return len(results), nil
}

func init() {
	exportCmd.Flags().StringVar(&exportFlags.category, "category", "", "category to export (required)")
	exportCmd.Flags().StringVar(&exportFlags.out, "out", "", "output path (default <category>_leads.xlsx)")
	exportCmd.Flags().BoolVar(&exportFlags.classified, "classified", false, "export classification results instead of raw leads")
	_ = exportCmd.MarkFlagRequired("category")
	rootCmd.AddCommand(exportCmd)
}
