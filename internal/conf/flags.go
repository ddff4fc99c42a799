package conf

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tphakala/patchwork-go/internal/errors"
)

// flagKeyAnnotation marks a command flag with the settings key it overrides.
const flagKeyAnnotation = "patchwork_config_key"

// BindFlag ties the named flag of fs to a settings key such as
// "activelearning.batchsize". The flag must already be defined.
func BindFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, flagKeyAnnotation, []string{key}); err != nil {
		panic("conf: " + err.Error())
	}
}

// BindFlags binds every flag of fs marked with BindFlag to v. A flag given on
// the command line then takes precedence over the environment and the config
// file; an unset flag leaves them alone.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[flagKeyAnnotation]
		if len(keys) == 0 {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			errs = append(errs, err)
		}
	})
	if err := errors.Join(errs...); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "bind-flags").
			Build()
	}
	return nil
}
