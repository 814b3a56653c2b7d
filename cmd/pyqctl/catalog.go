package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"pecademic/api/internal/catalog"
	"pecademic/api/internal/search"
	"pecademic/api/internal/session"
)

var (
	catalogQuery string
	catalogYear  int
	catalogJSON  bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List or search the upstream catalog",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.StepTimeout)
		defer cancel()

		file, err := backend().ReadFile(ctx, upstream(), cfg.CatalogPath, session.Credential{Token: cfg.GitHubReadToken})
		if err != nil {
			fatal("Failed to read catalog", err)
		}
		c, err := catalog.Decode(file.Content)
		if err != nil {
			fatal("Failed to decode catalog", err)
		}

		courses := filterCourses(c, catalogQuery, catalogYear)

		if catalogJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(courses); err != nil {
				fatal("Failed to encode JSON", err)
			}
			return
		}

		for _, course := range courses {
			fmt.Printf("%-12s %s %s\n", course.CourseCode, course.Name, yearsOf(course))
		}
		for code, indexes := range c.Duplicates() {
			fmt.Fprintf(os.Stderr, "warning: course code %s appears %d times\n", code, len(indexes))
		}
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().StringVarP(&catalogQuery, "query", "q", "", "Match course name or code")
	catalogCmd.Flags().IntVar(&catalogYear, "year", 0, "Only courses with a paper from this year")
	catalogCmd.Flags().BoolVar(&catalogJSON, "json", false, "Output in JSON format")
}

func filterCourses(c catalog.Catalog, query string, year int) []catalog.Course {
	if strings.TrimSpace(query) == "" && year == 0 {
		return c
	}
	index := search.NewMemory()
	index.Replace(search.Records(c))
	codes, _ := index.Search(search.Query{Text: query, Year: year, Limit: len(c) + 1})
	courses := make([]catalog.Course, 0, len(codes))
	for _, code := range codes {
		if i := c.Find(code); i >= 0 {
			courses = append(courses, c[i])
		}
	}
	return courses
}

func yearsOf(course catalog.Course) string {
	seen := map[int]bool{}
	years := make([]int, 0)
	for _, pyq := range course.Resources.PYQs {
		y := int(pyq.Year)
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	if len(years) == 0 {
		return ""
	}
	sort.Ints(years)
	parts := make([]string, len(years))
	for i, y := range years {
		parts[i] = fmt.Sprint(y)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
