// Package config loads the detection node's parameters.
//
// Parameters are resolved once at startup from, in order: built-in defaults,
// an optional YAML parameter file, YOLOBRIDGE_* environment variables and
// name=value overrides from the command line. Later sources win.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixed names and cadences that are not configurable.
const (
	DebugImageTopic  = "debug_image"
	DebugImagePeriod = 100 * time.Millisecond
	EnvPrefix        = "YOLOBRIDGE_"
)

var (
	// ErrUnknownParam is returned for an override naming no known parameter.
	ErrUnknownParam = errors.New("config: unknown parameter")

	// ErrInvalidParam is returned when a parameter value cannot be used.
	ErrInvalidParam = errors.New("config: invalid parameter")
)

// Params holds the node parameters. It is not modified after Load returns.
type Params struct {
	ModelFile      string    `yaml:"model_file"`
	PublishRate    float64   `yaml:"publish_rate"`
	DetectionTopic string    `yaml:"detection_topic"`
	InputTopic     string    `yaml:"input_topic"`
	ConfThres      float64   `yaml:"conf_thres"`
	IoUThres       float64   `yaml:"iou_thres"`
	MaxDet         int       `yaml:"max_det"`
	Classes        ClassList `yaml:"classes"` // nil means all classes

	Debug          bool     `yaml:"debug"`
	DebugConf      bool     `yaml:"debug_conf"`
	DebugLineWidth *int     `yaml:"debug_line_width"` // nil means derived from image size
	DebugFontSize  *float64 `yaml:"debug_font_size"`  // nil means derived from image size
	DebugFont      string   `yaml:"debug_font"`
	DebugLabels    bool     `yaml:"debug_labels"`
	DebugBoxes     bool     `yaml:"debug_boxes"`
}

// ClassList is a class id allow-list. A single scalar id decodes as a
// one-element list.
type ClassList []int

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *ClassList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var id int
		if err := node.Decode(&id); err != nil {
			return err
		}
		*c = ClassList{id}
		return nil
	}
	var ids []int
	if err := node.Decode(&ids); err != nil {
		return err
	}
	*c = ids
	return nil
}

// Names lists every parameter name accepted by Load, in declaration order.
var Names = []string{
	"model_file",
	"publish_rate",
	"detection_topic",
	"input_topic",
	"conf_thres",
	"iou_thres",
	"max_det",
	"classes",
	"debug",
	"debug_conf",
	"debug_line_width",
	"debug_font_size",
	"debug_font",
	"debug_labels",
	"debug_boxes",
}

// DefaultParams returns the parameter defaults.
func DefaultParams() Params {
	return Params{
		ModelFile:      "yolov8n.pt",
		PublishRate:    10,
		DetectionTopic: "detection_result",
		InputTopic:     "image_raw",
		ConfThres:      0.25,
		IoUThres:       0.45,
		MaxDet:         300,
		Classes:        nil,
		Debug:          false,
		DebugConf:      true,
		DebugLineWidth: nil,
		DebugFontSize:  nil,
		DebugFont:      "Arial.ttf",
		DebugLabels:    true,
		DebugBoxes:     true,
	}
}

// Load resolves parameters from defaults, the YAML file at path (skipped when
// empty), the environment and the overrides, in that order.
func Load(path string, overrides []string) (Params, error) {
	p := DefaultParams()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return p, fmt.Errorf("read params file: %w", err)
		}
		if err := decodeStrict(data, &p); err != nil {
			return p, fmt.Errorf("parse params file %s: %w", path, err)
		}
	}

	for _, name := range Names {
		if v, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(name)); ok {
			if err := p.Set(name, v); err != nil {
				return p, fmt.Errorf("env %s%s: %w", EnvPrefix, strings.ToUpper(name), err)
			}
		}
	}

	for _, o := range overrides {
		name, value, ok := strings.Cut(o, "=")
		if !ok {
			return p, fmt.Errorf("%w: override %q is not name=value", ErrInvalidParam, o)
		}
		if err := p.Set(strings.TrimSpace(name), value); err != nil {
			return p, err
		}
	}

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Set assigns one parameter from its textual form. Values are parsed as YAML
// scalars or flow sequences, so "null" clears optional values and "[0, 2]"
// sets a class list.
func (p *Params) Set(name, value string) error {
	if !isKnown(name) {
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}

	node := yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: name},
		},
	}
	var val yaml.Node
	if err := yaml.Unmarshal([]byte(value), &val); err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidParam, name, value, err)
	}
	if len(val.Content) == 0 {
		// Empty string decodes to an empty document.
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: ""})
	} else {
		node.Content = append(node.Content, val.Content[0])
	}

	// Clear optional fields first so "null" resets them.
	switch name {
	case "classes":
		p.Classes = nil
	case "debug_line_width":
		p.DebugLineWidth = nil
	case "debug_font_size":
		p.DebugFontSize = nil
	}

	if err := node.Decode(p); err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidParam, name, value, err)
	}
	return nil
}

// Validate rejects parameter values the node cannot start with. Detection
// thresholds are not range checked; they are handed to the detector as-is.
func (p Params) Validate() error {
	if p.ModelFile == "" {
		return fmt.Errorf("%w: model_file is required", ErrInvalidParam)
	}
	if math.IsNaN(p.PublishRate) || math.IsInf(p.PublishRate, 0) || p.PublishRate <= 0 {
		return fmt.Errorf("%w: publish_rate must be a finite value > 0, got %v", ErrInvalidParam, p.PublishRate)
	}
	if p.PublishPeriod() <= 0 {
		return fmt.Errorf("%w: publish_rate %v is too high for a timer", ErrInvalidParam, p.PublishRate)
	}
	if p.InputTopic == "" {
		return fmt.Errorf("%w: input_topic is required", ErrInvalidParam)
	}
	if p.DetectionTopic == "" {
		return fmt.Errorf("%w: detection_topic is required", ErrInvalidParam)
	}
	return nil
}

// PublishPeriod is the detection publisher's timer period, 1/publish_rate.
func (p Params) PublishPeriod() time.Duration {
	return time.Duration(float64(time.Second) / p.PublishRate)
}

// ClassFilter returns the class allow-list as a set, or nil for all classes.
func (p Params) ClassFilter() map[int]bool {
	if p.Classes == nil {
		return nil
	}
	set := make(map[int]bool, len(p.Classes))
	for _, c := range p.Classes {
		set[c] = true
	}
	return set
}

func decodeStrict(data []byte, p *Params) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func isKnown(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}
