// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers every default so that keys absent from the
// config file still unmarshal and can be overridden from the environment.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("seed", 42)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/patchwork.log")
	v.SetDefault("logging.file_output.level", "debug")

	v.SetDefault("data.features", "")
	v.SetDefault("data.table", "")
	v.SetDefault("data.class", "")
	v.SetDefault("data.testfeatures", "")
	v.SetDefault("data.testtable", "")

	v.SetDefault("image.height", 256)
	v.SetDefault("image.width", 256)
	v.SetDefault("image.channels", 3)
	v.SetDefault("image.norm", 255)
	v.SetDefault("image.singlechannel", false)
	v.SetDefault("image.sobel", false)
	v.SetDefault("image.workers", 0)
	v.SetDefault("image.cachettl", 10*time.Minute)

	v.SetDefault("activelearning.batchsize", 16)
	v.SetDefault("activelearning.epochs", 100)
	v.SetDefault("activelearning.mincount", 10)
	v.SetDefault("activelearning.epsilon", 0.0)
	v.SetDefault("activelearning.stratify", true)
	v.SetDefault("activelearning.maxfitbatch", 64)
	v.SetDefault("activelearning.iterations", 0)

	v.SetDefault("model.learningrate", 1e-3)
	v.SetDefault("model.workers", 0)

	v.SetDefault("extractor.modelpath", "")
	v.SetDefault("extractor.output", "features.pwft")
	v.SetDefault("extractor.threads", 0)
	v.SetDefault("extractor.batchsize", 32)

	v.SetDefault("datastore.enabled", false)
	v.SetDefault("datastore.driver", "sqlite")
	v.SetDefault("datastore.sqlite.path", "patchwork.db")
	v.SetDefault("datastore.mysql.host", "localhost")
	v.SetDefault("datastore.mysql.port", 3306)
	v.SetDefault("datastore.mysql.username", "")
	v.SetDefault("datastore.mysql.password", "")
	v.SetDefault("datastore.mysql.database", "patchwork")
	v.SetDefault("datastore.slowquerythreshold", 200*time.Millisecond)

	v.SetDefault("webserver.enabled", false)
	v.SetDefault("webserver.listen", "127.0.0.1:8080")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("display.columns", 4)
	v.SetDefault("display.thumbwidth", 16)
	v.SetDefault("display.thumbheight", 8)

	v.SetDefault("output.report", "")
	v.SetDefault("output.labels", "")
}
