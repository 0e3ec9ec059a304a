package cucumber

import (
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I set \${([^}]*)} to "([^"]*)"$`, s.iSetVariableTo)
		ctx.Step(`^I store the "([^"]*)" selection from the result as \${([^}]*)}$`, s.iStoreTheSelectionFromTheResultAs)
		ctx.Step(`^the result should match json:$`, s.theResultShouldMatchJSON)
		ctx.Step(`^the result should contain json:$`, s.theResultShouldContainJSON)
		ctx.Step(`^the result should contain "([^"]*)"$`, s.theResultShouldContain)
		ctx.Step(`^the "([^"]*)" selection from the result should match "([^"]*)"$`, s.theSelectionFromTheResultShouldMatch)
		ctx.Step(`^"([^"]*)" should match "([^"]*)"$`, s.textShouldMatchText)
		ctx.Step(`^\${([^}]*)} should contain json:$`, s.theVariableShouldContainJSON)
	})
}

func (s *TestScenario) iSetVariableTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Variables[name] = expanded
	return nil
}

func (s *TestScenario) iStoreTheSelectionFromTheResultAs(selector, name string) error {
	j, err := s.ResultJSON()
	if err != nil {
		return err
	}
	value, err := Select(j, selector)
	if err != nil {
		return err
	}
	s.Variables[name] = value
	return nil
}

func (s *TestScenario) theResultShouldMatchJSON(expected *godog.DocString) error {
	return s.JSONMustMatch(string(s.Result), expected.Content, true)
}

func (s *TestScenario) theResultShouldContainJSON(expected *godog.DocString) error {
	return s.JSONMustContain(string(s.Result), expected.Content, true)
}

func (s *TestScenario) theResultShouldContain(text string) error {
	expanded, err := s.Expand(text)
	if err != nil {
		return err
	}
	if !strings.Contains(string(s.Result), expanded) {
		return fmt.Errorf("result does not contain %q, result was:\n%s", expanded, s.Result)
	}
	return nil
}

func (s *TestScenario) theSelectionFromTheResultShouldMatch(selector, expected string) error {
	j, err := s.ResultJSON()
	if err != nil {
		return err
	}
	value, err := Select(j, selector)
	if err != nil {
		return err
	}
	actual, err := ToString(value)
	if err != nil {
		return err
	}
	return s.textShouldMatchText(actual, expected)
}

func (s *TestScenario) textShouldMatchText(actual, expected string) error {
	actual, err := s.Expand(actual)
	if err != nil {
		return err
	}
	expected, err = s.Expand(expected)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("expected %q, got %q", expected, actual)
	}
	return nil
}

func (s *TestScenario) theVariableShouldContainJSON(name string, expected *godog.DocString) error {
	value, err := s.Resolve(name)
	if err != nil {
		return err
	}
	actual, err := ToString(value)
	if err != nil {
		return err
	}
	return s.JSONMustContain(actual, expected.Content, true)
}
