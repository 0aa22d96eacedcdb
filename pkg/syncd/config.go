package syncd

import (
	"fmt"

	"github.com/quantpulse/symsync/pkg/api"
	"github.com/quantpulse/symsync/pkg/pipeline"
	"github.com/quantpulse/symsync/pkg/scheduler"
	"github.com/quantpulse/symsync/pkg/staging"
	"github.com/quantpulse/symsync/pkg/store"
	"github.com/quantpulse/symsync/pkg/tasks"
	"github.com/quantpulse/symsync/pkg/transform"
	"github.com/quantpulse/symsync/pkg/upsert"
)

// Config represents the complete daemon configuration
type Config struct {
	// Core settings
	Logging     string `yaml:"logging" default:"info" validate:"oneof=panic fatal warn info debug trace"`
	MetricsAddr string `yaml:"metricsAddr" default:":9090"`
	PProfAddr   string `yaml:"pprofAddr"`

	// Components
	Store     store.Config     `yaml:"store"`
	Staging   staging.Config   `yaml:"staging"`
	Transform transform.Config `yaml:"transform"`
	Upsert    upsert.Config    `yaml:"upsert"`
	Pipeline  pipeline.Config  `yaml:"pipeline"`
	Queue     tasks.Config     `yaml:"queue"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	API       api.Config       `yaml:"api"`
}

// Validate validates the configuration of every component
func (c *Config) Validate() error {
	validations := []struct {
		name string
		fn   func() error
	}{
		{"store", c.Store.Validate},
		{"staging", c.Staging.Validate},
		{"transform", c.Transform.Validate},
		{"upsert", c.Upsert.Validate},
		{"pipeline", c.Pipeline.Validate},
		{"queue", c.Queue.Validate},
		{"scheduler", c.Scheduler.Validate},
		{"api", c.API.Validate},
	}

	for _, v := range validations {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s config: %w", v.name, err)
		}
	}

	return nil
}
