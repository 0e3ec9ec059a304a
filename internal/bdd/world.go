package bdd

import (
	"fmt"

	"github.com/chirino/content-migrator/internal/testutil/cucumber"
	"github.com/google/uuid"
)

// World is the application context shared by all scenarios of a feature run.
type World struct {
	DB          TestDB
	Pushgateway *MockPushgateway
}

func world(s *cucumber.TestScenario) *World {
	return s.Suite.Context.(*World)
}

// idVariable returns the uuid stored in ${name}, generating one on first use.
func idVariable(s *cucumber.TestScenario, name string) (uuid.UUID, error) {
	if v, ok := s.Variables[name]; ok {
		id, err := uuid.Parse(fmt.Sprint(v))
		if err != nil {
			return uuid.Nil, fmt.Errorf("${%s} is not an id: %w", name, err)
		}
		return id, nil
	}
	id := uuid.New()
	s.Variables[name] = id.String()
	return id, nil
}
