package bdd

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/chirino/content-migrator/internal/cmd/convert"
	"github.com/chirino/content-migrator/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		c := &convertSteps{s: s}
		ctx.Step(`^I run the converter$`, c.iRunTheConverter)
		ctx.Step(`^I run the converter with:$`, c.iRunTheConverterWith)
		ctx.Step(`^the converter should succeed$`, c.theConverterShouldSucceed)
		ctx.Step(`^the converter should fail with "([^"]*)"$`, c.theConverterShouldFailWith)
		ctx.Step(`^the summary for "([^"]*)" should be:$`, c.theSummaryForShouldBe)
		ctx.Step(`^the push gateway should have received "([^"]*)"$`, c.thePushGatewayShouldHaveReceived)
	})
}

type convertSteps struct {
	s *cucumber.TestScenario
}

func (c *convertSteps) iRunTheConverter() error {
	return c.run(nil)
}

// iRunTheConverterWith takes a two column table of flag names and values.
func (c *convertSteps) iRunTheConverterWith(table *godog.Table) error {
	var flags []string
	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return fmt.Errorf("expected | flag | value | rows")
		}
		value, err := c.s.Expand(row.Cells[1].Value)
		if err != nil {
			return err
		}
		flags = append(flags, fmt.Sprintf("--%s=%s", row.Cells[0].Value, value))
	}
	return c.run(flags)
}

func (c *convertSteps) run(flags []string) error {
	w := world(c.s)
	args := []string{
		"convert",
		"--db-kind=" + w.DB.Kind(),
		"--db-url=" + w.DB.URL(),
		"--summary-format=json",
		"--log-level=warn",
	}
	if w.Pushgateway != nil {
		args = append(args, "--metrics-push-url="+w.Pushgateway.Server.URL)
	}
	args = append(args, flags...)

	var out bytes.Buffer
	cmd := convert.Command()
	cmd.Writer = &out
	cmd.ErrWriter = &out
	err := cmd.Run(context.Background(), args)
	c.s.SetResult(out.Bytes(), err)
	if err != nil {
		c.s.Logf("converter failed: %v", err)
	}
	return nil
}

func (c *convertSteps) theConverterShouldSucceed() error {
	if c.s.ResultErr != nil {
		return fmt.Errorf("converter failed: %w\noutput:\n%s", c.s.ResultErr, c.s.Result)
	}
	return nil
}

func (c *convertSteps) theConverterShouldFailWith(text string) error {
	if c.s.ResultErr == nil {
		return fmt.Errorf("converter succeeded, expected an error containing %q", text)
	}
	if !strings.Contains(c.s.ResultErr.Error(), text) {
		return fmt.Errorf("expected error containing %q, got: %v", text, c.s.ResultErr)
	}
	return nil
}

func (c *convertSteps) theSummaryForShouldBe(kind string, expected *godog.DocString) error {
	j, err := c.s.ResultJSON()
	if err != nil {
		return err
	}
	summary, err := cucumber.Select(j, fmt.Sprintf(`.kinds[] | select(.kind == "%s")`, kind))
	if err != nil {
		return err
	}
	actual, err := cucumber.ToString(summary)
	if err != nil {
		return err
	}
	return c.s.JSONMustContain(actual, expected.Content, true)
}

func (c *convertSteps) thePushGatewayShouldHaveReceived(metric string) error {
	w := world(c.s)
	if w.Pushgateway == nil {
		return fmt.Errorf("no push gateway configured")
	}
	if !w.Pushgateway.Received("/metrics/job/content-migrator", metric) {
		return fmt.Errorf("no push carried %q", metric)
	}
	return nil
}
