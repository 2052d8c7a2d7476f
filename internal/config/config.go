package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return errors.New("invalid duration")
	}
}

type Configuration struct {
	Listen      string   `json:"listen" validate:"required,hostname_port"`
	Concurrency int      `json:"concurrency" validate:"min=1,max=256"`
	Zones       []string `json:"zones" validate:"dive,fqdn"`
	SMTPTimeout Duration `json:"smtpTimeout"`
	SMTPPort    string   `json:"smtpPort" validate:"required,numeric"`
	HeloName    string   `json:"heloName" validate:"required,hostname"`
	DNSServers  []string `json:"dnsServers" validate:"dive,hostname_port|ip"`
	DNSTimeout  Duration `json:"dnsTimeout"`
	LogLevel    string   `json:"logLevel" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when no file is given.
func Default() Configuration {
	return Configuration{
		Listen:      "0.0.0.0:5001",
		Concurrency: 5,
		SMTPTimeout: Duration{Duration: 10 * time.Second},
		SMTPPort:    "25",
		HeloName:    "test.client",
		DNSTimeout:  Duration{Duration: 5 * time.Second},
		LogLevel:    "info",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// GetConfig decodes the JSON file f over defaults and validates the result.
func GetConfig(defaults Configuration, f string) (*Configuration, error) {
	if f == "" {
		return nil, fmt.Errorf("please provide a valid config file")
	}

	b, err := os.ReadFile(f) // nolint: gosec
	if err != nil {
		return nil, err
	}
	reader := bytes.NewReader(b)

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err = decoder.Decode(&defaults); err != nil {
		return nil, err
	}

	if err := defaults.Validate(); err != nil {
		return nil, err
	}

	return &defaults, nil
}

// Validate reports every invalid field at once.
func (c Configuration) Validate() error {
	var result error

	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		for _, fe := range verrs {
			result = multierror.Append(result, fmt.Errorf("invalid %s: failed %q check (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	case err != nil:
		result = multierror.Append(result, err)
	}

	if c.SMTPTimeout.Duration <= 0 {
		result = multierror.Append(result, fmt.Errorf("invalid smtpTimeout: must be positive"))
	}
	if c.DNSTimeout.Duration <= 0 {
		result = multierror.Append(result, fmt.Errorf("invalid dnsTimeout: must be positive"))
	}

	return result
}
