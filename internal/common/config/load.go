package config

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Validatable is implemented by configuration structs that check themselves after loading.
type Validatable interface {
	Validate() error
}

// LoadConfig unmarshals data into config. Fields of config that are already set act as defaults.
// The format is any type understood by viper; an empty format is read as yaml, which also accepts json.
// If config implements Validatable, it is validated and validation errors are logged field by field.
func LoadConfig(config interface{}, data []byte, format string) error {
	v := viper.New()
	if format == "" {
		format = "yaml"
	}
	v.SetConfigType(strings.ToLower(format))
	if len(bytes.TrimSpace(data)) > 0 {
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return errors.Wrapf(err, "error reading %s configuration", format)
		}
	}
	return unmarshal(v, config)
}

// LoadConfigFile unmarshals the file at path into config, with the same defaulting and validation rules as LoadConfig.
func LoadConfigFile(config interface{}, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "error reading config file %s", path)
	}
	return unmarshal(v, config)
}

func unmarshal(v *viper.Viper, config interface{}) error {
	if err := v.Unmarshal(config, CustomHooks...); err != nil {
		return errors.WithStack(err)
	}
	if validatable, ok := config.(Validatable); ok {
		if err := validatable.Validate(); err != nil {
			LogValidationErrors(err)
			return err
		}
	}
	return nil
}
