package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/content-migrator/internal/model"
	"github.com/chirino/content-migrator/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		r := &recordSteps{s: s}
		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			w := world(s)
			if w.Pushgateway != nil {
				w.Pushgateway.Reset()
			}
			return ctx, w.DB.ClearAll(ctx)
		})
		ctx.Step(`^user "([^"]*)" is (active|inactive)$`, r.userIs)
		ctx.Step(`^a (private )?file \${(\w+)} named "([^"]*)" owned by "([^"]*)" on parent \${(\w+)}$`, r.aFile)
		ctx.Step(`^a (private )?file \${(\w+)} named "([^"]*)" owned by "([^"]*)" on parent \${(\w+)} with content "([^"]*)"$`, r.aFileWithContent)
		ctx.Step(`^a (private )?note \${(\w+)} titled "([^"]*)" owned by "([^"]*)" on parent \${(\w+)}$`, r.aNote)
		ctx.Step(`^a (private )?note \${(\w+)} titled "([^"]*)" owned by "([^"]*)" on parent \${(\w+)} with body:$`, r.aNoteWithBody)
		ctx.Step(`^(\d+) files owned by "([^"]*)" on parent \${(\w+)}$`, r.manyFiles)
	})
}

type recordSteps struct {
	s *cucumber.TestScenario
}

func (r *recordSteps) userIs(name, state string) error {
	return world(r.s).DB.AddUser(context.Background(), name, state == "active")
}

func (r *recordSteps) aFile(private, variable, name, owner, parentVar string) error {
	return r.aFileWithContent(private, variable, name, owner, parentVar, "content of "+name)
}

func (r *recordSteps) aFileWithContent(private, variable, name, owner, parentVar, content string) error {
	parent, err := idVariable(r.s, parentVar)
	if err != nil {
		return err
	}
	a, err := world(r.s).DB.AddAttachment(context.Background(), model.LegacyAttachment{
		ParentID:    parent,
		OwnerID:     owner,
		Name:        name,
		ContentType: "application/octet-stream",
		Body:        []byte(content),
		IsPrivate:   private != "",
	})
	if err != nil {
		return err
	}
	r.s.Variables[variable] = a.ID.String()
	return nil
}

func (r *recordSteps) aNote(private, variable, title, owner, parentVar string) error {
	return r.aNoteWithBody(private, variable, title, owner, parentVar, &godog.DocString{Content: title})
}

func (r *recordSteps) aNoteWithBody(private, variable, title, owner, parentVar string, body *godog.DocString) error {
	parent, err := idVariable(r.s, parentVar)
	if err != nil {
		return err
	}
	n, err := world(r.s).DB.AddNote(context.Background(), model.LegacyNote{
		ParentID:  parent,
		OwnerID:   owner,
		Title:     title,
		Body:      body.Content,
		IsPrivate: private != "",
	})
	if err != nil {
		return err
	}
	r.s.Variables[variable] = n.ID.String()
	return nil
}

func (r *recordSteps) manyFiles(count int, owner, parentVar string) error {
	for i := 0; i < count; i++ {
		if err := r.aFile("", fmt.Sprintf("%s_file%d", parentVar, i), fmt.Sprintf("file-%03d.txt", i), owner, parentVar); err != nil {
			return err
		}
	}
	return nil
}
