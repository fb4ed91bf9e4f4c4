package generator

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed tuning.yaml
var embeddedTuning []byte

// Range maps a draw r in [0,1) to floor(r*Span)+Min.
type Range struct {
	Min  int `yaml:"min"`
	Span int `yaml:"span"`
}

func (r Range) draw(src Source) int {
	return int(src.Float64()*float64(r.Span)) + r.Min
}

// Tuning holds the constants that shape each difficulty.
type Tuning struct {
	Easy struct {
		MinLength int   `yaml:"minLength"`
		Uppercase int   `yaml:"uppercase"`
		Special   int   `yaml:"special"`
		DigitSum  Range `yaml:"digitSum"`
	} `yaml:"easy"`
	Medium struct {
		MinLength int `yaml:"minLength"`
		Uppercase int `yaml:"uppercase"`
		Special   int `yaml:"special"`
		Substring struct {
			High string `yaml:"high"`
			Low  string `yaml:"low"`
		} `yaml:"substring"`
	} `yaml:"medium"`
	Hard struct {
		MinLength int   `yaml:"minLength"`
		Uppercase int   `yaml:"uppercase"`
		RomanSum  Range `yaml:"romanSum"`
	} `yaml:"hard"`
}

// DefaultTuning returns the embedded tuning.
func DefaultTuning() Tuning {
	t, err := ParseTuning(embeddedTuning)
	if err != nil {
		panic(fmt.Sprintf("generator: embedded tuning: %v", err))
	}
	return t
}

// LoadTuning reads a tuning file. Unknown keys are rejected.
func LoadTuning(path string) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("failed to read tuning file: %w", err)
	}
	return ParseTuning(data)
}

// ParseTuning decodes tuning YAML with strict field checking.
func ParseTuning(data []byte) (Tuning, error) {
	var t Tuning
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return Tuning{}, fmt.Errorf("failed to parse tuning: %w", err)
	}
	if err := t.validate(); err != nil {
		return Tuning{}, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}

func (t Tuning) validate() error {
	if t.Easy.DigitSum.Span <= 0 {
		return errors.New("easy.digitSum.span must be positive")
	}
	if t.Hard.RomanSum.Span <= 0 {
		return errors.New("hard.romanSum.span must be positive")
	}
	if t.Medium.Substring.High == "" || t.Medium.Substring.Low == "" {
		return errors.New("medium.substring needs high and low")
	}
	return nil
}
