package bdd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chirino/content-migrator/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"
)

func TestFeatures(t *testing.T) {
	db, err := OpenSqliteTestDB(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runFeatures(t, &World{DB: db, Pushgateway: NewMockPushgateway(t)})
}

func runFeatures(t *testing.T, w *World) {
	t.Helper()

	featureFiles, err := filepath.Glob(filepath.Join("features", "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "No feature files found")

	// Configure godog options
	opts := cucumber.DefaultOptions()
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		t.Run(name, func(t *testing.T) {
			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite()
			suite.TestingT = t
			suite.Context = w

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
