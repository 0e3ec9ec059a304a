package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/content-migrator/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		d := &domainSteps{s: s}
		ctx.Step(`^\${(\w+)} should be converted into a version owned by "([^"]*)"$`, d.shouldBeConvertedOwnedBy)
		ctx.Step(`^\${(\w+)} should not be converted$`, d.shouldNotBeConverted)
		ctx.Step(`^the document converted from \${(\w+)} should be linked to \${(\w+)} as "([^"]*)" for "([^"]*)"$`, d.shouldBeLinkedAs)
		ctx.Step(`^the document converted from \${(\w+)} should not be linked$`, d.shouldNotBeLinked)
		ctx.Step(`^the (file|note) \${(\w+)} should still exist$`, d.sourceShouldExist)
		ctx.Step(`^the (file|note) \${(\w+)} should be deleted$`, d.sourceShouldBeDeleted)
		ctx.Step(`^the version converted from \${(\w+)} should have content "([^"]*)"$`, d.versionShouldHaveContent)
		ctx.Step(`^there should be (\d+) content versions?$`, d.thereShouldBeVersions)
	})
}

type domainSteps struct {
	s *cucumber.TestScenario
}

func (d *domainSteps) query(format string, args ...any) ([]map[string]interface{}, error) {
	return world(d.s).DB.ExecSQL(context.Background(), fmt.Sprintf(format, args...))
}

func (d *domainSteps) id(variable string) (string, error) {
	id, err := d.s.ResolveString(variable)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (d *domainSteps) shouldBeConvertedOwnedBy(variable, owner string) error {
	id, err := d.id(variable)
	if err != nil {
		return err
	}
	rows, err := d.query(`SELECT v.owner_id, v.original_owner_id, d.owner_id AS document_owner_id
		FROM content_versions v JOIN content_documents d ON d.id = v.document_id
		WHERE v.original_record_id = '%s'`, id)
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return fmt.Errorf("expected exactly one version converted from ${%s}, found %d", variable, len(rows))
	}
	for _, col := range []string{"owner_id", "original_owner_id", "document_owner_id"} {
		if got := fmt.Sprint(rows[0][col]); got != owner {
			return fmt.Errorf("%s of the version converted from ${%s}: expected %q, got %q", col, variable, owner, got)
		}
	}
	return nil
}

func (d *domainSteps) shouldNotBeConverted(variable string) error {
	id, err := d.id(variable)
	if err != nil {
		return err
	}
	rows, err := d.query(`SELECT id FROM content_versions WHERE original_record_id = '%s'`, id)
	if err != nil {
		return err
	}
	if len(rows) != 0 {
		return fmt.Errorf("expected no version converted from ${%s}, found %d", variable, len(rows))
	}
	return nil
}

func (d *domainSteps) links(variable string) ([]map[string]interface{}, error) {
	id, err := d.id(variable)
	if err != nil {
		return nil, err
	}
	return d.query(`SELECT l.linked_entity_id, l.access_level, l.visibility
		FROM content_document_links l JOIN content_versions v ON v.document_id = l.document_id
		WHERE v.original_record_id = '%s'`, id)
}

func (d *domainSteps) shouldBeLinkedAs(variable, parentVar, level, visibility string) error {
	rows, err := d.links(variable)
	if err != nil {
		return err
	}
	parent, err := d.id(parentVar)
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return fmt.Errorf("expected exactly one link for ${%s}, found %d", variable, len(rows))
	}
	got := rows[0]
	if fmt.Sprint(got["linked_entity_id"]) != parent || fmt.Sprint(got["access_level"]) != level || fmt.Sprint(got["visibility"]) != visibility {
		return fmt.Errorf("unexpected link for ${%s}: %v", variable, got)
	}
	return nil
}

func (d *domainSteps) shouldNotBeLinked(variable string) error {
	rows, err := d.links(variable)
	if err != nil {
		return err
	}
	if len(rows) != 0 {
		return fmt.Errorf("expected no link for ${%s}, found %v", variable, rows)
	}
	return nil
}

func sourceTable(kind string) string {
	if kind == "note" {
		return "legacy_notes"
	}
	return "legacy_attachments"
}

func (d *domainSteps) sourceCount(kind, variable string) (int, error) {
	id, err := d.id(variable)
	if err != nil {
		return 0, err
	}
	rows, err := d.query(`SELECT id FROM %s WHERE id = '%s'`, sourceTable(kind), id)
	return len(rows), err
}

func (d *domainSteps) sourceShouldExist(kind, variable string) error {
	n, err := d.sourceCount(kind, variable)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("expected %s ${%s} to still exist", kind, variable)
	}
	return nil
}

func (d *domainSteps) sourceShouldBeDeleted(kind, variable string) error {
	n, err := d.sourceCount(kind, variable)
	if err != nil {
		return err
	}
	if n != 0 {
		return fmt.Errorf("expected %s ${%s} to be deleted", kind, variable)
	}
	return nil
}

func (d *domainSteps) versionShouldHaveContent(variable, expected string) error {
	id, err := d.id(variable)
	if err != nil {
		return err
	}
	rows, err := d.query(`SELECT content FROM content_versions WHERE original_record_id = '%s'`, id)
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return fmt.Errorf("expected exactly one version converted from ${%s}, found %d", variable, len(rows))
	}
	if got := fmt.Sprint(rows[0]["content"]); got != expected {
		return fmt.Errorf("content of the version converted from ${%s}: expected %q, got %q", variable, expected, got)
	}
	return nil
}

func (d *domainSteps) thereShouldBeVersions(count int) error {
	rows, err := d.query(`SELECT id FROM content_versions`)
	if err != nil {
		return err
	}
	if len(rows) != count {
		return fmt.Errorf("expected %d content versions, found %d", count, len(rows))
	}
	return nil
}
