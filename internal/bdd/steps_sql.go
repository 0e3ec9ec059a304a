package bdd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chirino/content-migrator/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		sq := &sqlSteps{s: s}
		ctx.Step(`^I execute SQL query:$`, sq.iExecuteSQLQuery)
		ctx.Step(`^the SQL result should have (\d+) rows?$`, sq.theSQLResultShouldHaveRows)
		ctx.Step(`^the SQL result should match:$`, sq.theSQLResultShouldMatch)
		ctx.Step(`^the SQL result at row (\d+) column "([^"]*)" should be "([^"]*)"$`, sq.theSQLResultAtRowColumnShouldBe)
	})
}

type sqlSteps struct {
	s        *cucumber.TestScenario
	lastRows []map[string]interface{}
}

func (sq *sqlSteps) iExecuteSQLQuery(query *godog.DocString) error {
	expanded, err := sq.s.Expand(query.Content)
	if err != nil {
		return err
	}
	sq.lastRows, err = world(sq.s).DB.ExecSQL(context.Background(), expanded)
	if err != nil {
		return err
	}
	result, err := json.Marshal(sq.lastRows)
	if err != nil {
		return err
	}
	sq.s.SetResult(result, nil)
	return nil
}

func (sq *sqlSteps) theSQLResultShouldHaveRows(count int) error {
	if len(sq.lastRows) != count {
		return fmt.Errorf("expected %d rows, got %d: %v", count, len(sq.lastRows), sq.lastRows)
	}
	return nil
}

// theSQLResultShouldMatch compares the rows to a table whose header names the
// columns to check.
func (sq *sqlSteps) theSQLResultShouldMatch(table *godog.Table) error {
	if len(table.Rows) == 0 {
		return fmt.Errorf("table must have a header row")
	}
	header := table.Rows[0].Cells
	expected := table.Rows[1:]
	if len(expected) != len(sq.lastRows) {
		return fmt.Errorf("expected %d rows, got %d: %v", len(expected), len(sq.lastRows), sq.lastRows)
	}
	for i, row := range expected {
		for j, cell := range row.Cells {
			col := header[j].Value
			want, err := sq.s.Expand(cell.Value)
			if err != nil {
				return err
			}
			got, err := cucumber.ToString(sq.lastRows[i][col])
			if err != nil {
				return err
			}
			if got != want {
				return fmt.Errorf("row %d column %q: expected %q, got %q", i, col, want, got)
			}
		}
	}
	return nil
}

func (sq *sqlSteps) theSQLResultAtRowColumnShouldBe(row int, col, expected string) error {
	if row >= len(sq.lastRows) {
		return fmt.Errorf("row %d out of range (have %d rows)", row, len(sq.lastRows))
	}
	want, err := sq.s.Expand(expected)
	if err != nil {
		return err
	}
	got, err := cucumber.ToString(sq.lastRows[row][col])
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("row %d column %q: expected %q, got %q", row, col, want, got)
	}
	return nil
}
