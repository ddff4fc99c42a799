// conf/validate.go

package conf

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tphakala/patchwork-go/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateSettings checks field ranges with struct tags and then the
// relations between sections.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validate.Struct(settings); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			ve.Errors = append(ve.Errors, describeFieldError(fe))
		}
	}

	ve.Errors = append(ve.Errors, validateDatastoreSettings(&settings.Datastore)...)
	ve.Errors = append(ve.Errors, validateServerSettings(settings)...)
	ve.Errors = append(ve.Errors, validateDataSettings(&settings.Data)...)

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Settings."))
	if fe.Param() != "" {
		return fmt.Sprintf("%s: must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed %s, got %v", field, fe.Tag(), fe.Value())
}

func validateDatastoreSettings(ds *DatastoreSettings) []string {
	if !ds.Enabled {
		return nil
	}
	var errs []string
	switch ds.Driver {
	case "sqlite":
		if ds.SQLite.Path == "" {
			errs = append(errs, "datastore.sqlite.path: required when the sqlite driver is used")
		}
	case "mysql":
		if ds.MySQL.Host == "" || ds.MySQL.Database == "" {
			errs = append(errs, "datastore.mysql: host and database are required when the mysql driver is used")
		}
		if ds.MySQL.Port <= 0 || ds.MySQL.Port > 65535 {
			errs = append(errs, fmt.Sprintf("datastore.mysql.port: %d is not a valid port", ds.MySQL.Port))
		}
	}
	return errs
}

func validateServerSettings(s *Settings) []string {
	var errs []string
	if s.WebServer.Enabled && s.WebServer.Listen == "" {
		errs = append(errs, "webserver.listen: required when the web annotator is enabled")
	}
	if s.Metrics.Enabled && s.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen: required when the metrics endpoint is enabled")
	}
	if s.Metrics.Enabled && s.WebServer.Enabled && s.Metrics.Listen == s.WebServer.Listen {
		errs = append(errs, "metrics.listen: must differ from webserver.listen; the web annotator already serves /metrics")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn: required when sentry is enabled")
	}
	return errs
}

func validateDataSettings(d *DataSettings) []string {
	if (d.TestFeatures == "") != (d.TestTable == "") {
		return []string{"data: testfeatures and testtable must be set together"}
	}
	return nil
}
