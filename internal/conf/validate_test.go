package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Image:          ImageSettings{Height: 8, Width: 8, Channels: 3, Norm: 255},
		ActiveLearning: ActiveLearningSettings{BatchSize: 16, Epochs: 1, MinCount: 10, MaxFitBatch: 64},
		Model:          ModelSettings{LearningRate: 1e-3},
		Extractor:      ExtractorSettings{BatchSize: 4},
		Datastore:      DatastoreSettings{Driver: "sqlite", SQLite: SQLiteSettings{Path: "x.db"}},
		Display:        DisplaySettings{Columns: 4, ThumbWidth: 16, ThumbHeight: 8},
	}
}

func TestValidateSettingsCrossField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"mysql without host", func(s *Settings) {
			s.Datastore = DatastoreSettings{Enabled: true, Driver: "mysql", MySQL: MySQLSettings{Port: 3306, Database: "p"}}
		}, "datastore.mysql"},
		{"mysql bad port", func(s *Settings) {
			s.Datastore = DatastoreSettings{Enabled: true, Driver: "mysql", MySQL: MySQLSettings{Host: "h", Database: "p", Port: 70000}}
		}, "datastore.mysql.port"},
		{"disabled datastore is not checked", func(s *Settings) {
			s.Datastore.SQLite.Path = ""
		}, ""},
		{"sqlite without path", func(s *Settings) {
			s.Datastore.Enabled = true
			s.Datastore.SQLite.Path = ""
		}, "datastore.sqlite.path"},
		{"web without listen", func(s *Settings) { s.WebServer.Enabled = true }, "webserver.listen"},
		{"shared listener", func(s *Settings) {
			s.WebServer = WebServerSettings{Enabled: true, Listen: ":8080"}
			s.Metrics = MetricsSettings{Enabled: true, Listen: ":8080"}
		}, "metrics.listen"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
		{"half test set", func(s *Settings) { s.Data.TestFeatures = "t.pwft" }, "testtable"},
		{"negative workers", func(s *Settings) { s.Image.Workers = -1 }, "image.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
