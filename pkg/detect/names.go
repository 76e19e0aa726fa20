package detect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// COCOClasses contains the 80 COCO class names
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// ClassName returns names[id], or "class_<id>" when id is out of range.
func ClassName(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// NamesFile returns the class names file that accompanies a weights file:
// the same path with a .yaml extension.
func NamesFile(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".yaml"
}

// LoadClassNames reads class names for modelPath. A sibling YAML file with a
// "names" key (a list, or a map of id to name as written by dataset
// configs) wins; otherwise the COCO names are returned. The bool reports
// whether the names came from a file.
func LoadClassNames(modelPath string) ([]string, bool, error) {
	path := NamesFile(modelPath)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return COCOClasses, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read class names: %w", err)
	}

	names, err := parseNames(data)
	if err != nil {
		return nil, false, fmt.Errorf("parse class names %s: %w", path, err)
	}
	return names, true, nil
}

func parseNames(data []byte) ([]string, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := doc.Names.Decode(&list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("names is empty")
		}
		return list, nil

	case yaml.MappingNode:
		var m map[int]string
		if err := doc.Names.Decode(&m); err != nil {
			return nil, err
		}
		if len(m) == 0 {
			return nil, fmt.Errorf("names is empty")
		}
		ids := make([]int, 0, len(m))
		for id := range m {
			if id < 0 {
				return nil, fmt.Errorf("negative class id %d", id)
			}
			ids = append(ids, id)
		}
		sort.Ints(ids)
		out := make([]string, ids[len(ids)-1]+1)
		for i := range out {
			out[i] = fmt.Sprintf("class_%d", i)
		}
		for id, name := range m {
			out[id] = name
		}
		return out, nil
	}

	return nil, fmt.Errorf("missing names list")
}
