package clone

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/clonegraph/suset/constraint"
	"github.com/clonegraph/suset/dataset"
)

// Config maps directly to §6's configuration keys.
type Config struct {
	ID         string           `yaml:"@id" json:"@id"`
	Domain     string           `yaml:"@domain" json:"@domain"`
	Genesis    bool             `yaml:"genesis,omitempty" json:"genesis,omitempty"`
	Constraint *constraint.Spec `yaml:"constraint,omitempty" json:"constraint,omitempty"`
	LogLevel   string           `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`

	// SendTimeoutMs is the send/reply deadline in milliseconds,
	// defaulting to 2000 per §6.
	SendTimeoutMs int `yaml:"sendTimeout,omitempty" json:"sendTimeout,omitempty"`

	// SnapshotBatchSize bounds how many quads one streamed snapshot
	// message carries; §9's open question resolves this as
	// configurable with default dataset.DefaultSnapshotBatchSize.
	SnapshotBatchSize int `yaml:"snapshotBatchSize,omitempty" json:"snapshotBatchSize,omitempty"`
}

func (c Config) sendTimeout() time.Duration {
	if c.SendTimeoutMs <= 0 {
		return 2000 * time.Millisecond
	}
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

func (c Config) snapshotBatchSize() int {
	if c.SnapshotBatchSize <= 0 {
		return dataset.DefaultSnapshotBatchSize
	}
	return c.SnapshotBatchSize
}

// LoadConfig decodes a clone's YAML configuration document, per §6.
func LoadConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "clone: decode config")
	}
	if c.ID == "" {
		return Config{}, errors.New("clone: config missing @id")
	}
	if c.Domain == "" {
		return Config{}, errors.New("clone: config missing @domain")
	}
	return c, nil
}
