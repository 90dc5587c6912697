package simulator

import (
	"os"

	"gopkg.in/yaml.v3"
)

// sensorFile is the top-level shape of a sensor-layout YAML file.
type sensorFile struct {
	Sensors []SensorDef `yaml:"sensors"`
}

// LoadSensorsYAML loads a sensor layout from a YAML file, the same config
// library the teacher uses for its own replay/config files.
func LoadSensorsYAML(path string) ([]SensorDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f sensorFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Sensors, nil
}
