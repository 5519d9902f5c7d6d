package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// yoloV5Spec is the dataset.yaml written by the ultralytics tooling.
type yoloV5Spec struct {
	Path  string     `yaml:"path"`
	Train splitPaths `yaml:"train"`
	Val   splitPaths `yaml:"val"`
	Test  splitPaths `yaml:"test"`
	NC    int        `yaml:"nc"`
	Names classNames `yaml:"names"`
}

func (s *yoloV5Spec) splits() map[string]splitPaths {
	out := map[string]splitPaths{}
	if len(s.Train) > 0 {
		out["train"] = s.Train
	}
	if len(s.Val) > 0 {
		out["val"] = s.Val
	}
	if len(s.Test) > 0 {
		out["test"] = s.Test
	}
	return out
}

// splitPaths accepts either a single path or a list of paths.
type splitPaths []string

func (p *splitPaths) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" || value.Value == "" {
			*p = nil
			return nil
		}
		*p = splitPaths{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	}
	return fmt.Errorf("line %d: split must be a path or a list of paths", value.Line)
}

// classNames accepts either a list or an id -> name mapping. Gaps in a
// mapping are filled with the id itself.
type classNames []string

func (c *classNames) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	case yaml.MappingNode:
		var m map[int]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		n := 0
		for id := range m {
			if id < 0 {
				return fmt.Errorf("line %d: negative class id %d", value.Line, id)
			}
			n = max(n, id+1)
		}
		names := make([]string, n)
		for i := range names {
			if name, ok := m[i]; ok {
				names[i] = name
			} else {
				names[i] = strconv.Itoa(i)
			}
		}
		*c = names
		return nil
	}
	return fmt.Errorf("line %d: names must be a list or a mapping", value.Line)
}

func readYOLOv5Spec(dir string) (*yoloV5Spec, error) {
	var data []byte
	var err error
	for _, name := range []string{"dataset.yaml", "data.yaml"} {
		data, err = os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: no dataset.yaml in %s", ErrNotFound, dir)
	}
	spec := &yoloV5Spec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("%w: dataset.yaml: %v", ErrMalformed, err)
	}
	if spec.NC > 0 && len(spec.Names) > 0 && spec.NC != len(spec.Names) {
		return nil, fmt.Errorf("%w: dataset.yaml: nc is %d but %d names are given", ErrMalformed, spec.NC, len(spec.Names))
	}
	if spec.NC > 0 && len(spec.Names) == 0 {
		spec.Names = make(classNames, spec.NC)
		for i := range spec.Names {
			spec.Names[i] = strconv.Itoa(i)
		}
	}
	return spec, nil
}

// ReadLines returns the non-empty lines of a text file with CRLF and
// surrounding blanks trimmed.
func ReadLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(strings.TrimRight(l, "\r"))
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// labelPathFor maps .../images/x/a.jpg to .../labels/x/a.txt. Paths without
// an images segment get a sibling .txt file.
func labelPathFor(imagePath string) string {
	sep := string(filepath.Separator)
	sa, sb := sep+"images"+sep, sep+"labels"+sep
	p := imagePath
	if i := strings.LastIndex(p, sa); i >= 0 {
		p = p[:i] + sb + p[i+len(sa):]
	}
	return strings.TrimSuffix(p, filepath.Ext(p)) + ".txt"
}

// parseLabelFile reads one YOLO label file. A missing file yields no detections.
func parseLabelFile(path string, classes []string) ([]Detection, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dets []Detection
	for i, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		d, err := parseLabelRow(line, classes)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", ErrMalformed, path, i+1, err)
		}
		dets = append(dets, d)
	}
	return dets, nil
}

// parseLabelRow accepts "class cx cy w h [conf]" or a polygon
// "class x1 y1 ... xn yn" with at least three points.
func parseLabelRow(line string, classes []string) (Detection, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Detection{}, fmt.Errorf("expected at least 5 fields, got %d", len(fields))
	}
	classID, err := strconv.Atoi(fields[0])
	if err != nil || classID < 0 {
		return Detection{}, fmt.Errorf("invalid class id %q", fields[0])
	}
	nums := make([]float64, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Detection{}, fmt.Errorf("invalid number %q", f)
		}
		nums[i] = v
	}

	d := Detection{
		ID:      uuid.NewString(),
		ClassID: classID,
		Label:   strconv.Itoa(classID),
	}
	if classID < len(classes) {
		d.Label = classes[classID]
	}

	switch {
	case len(nums) == 4 || len(nums) == 5:
		cx, cy, w, h := nums[0], nums[1], nums[2], nums[3]
		if w < 0 || h < 0 {
			return Detection{}, fmt.Errorf("negative box size %gx%g", w, h)
		}
		d.BoundingBox = [4]float64{cx - w/2, cy - h/2, w, h}
		if len(nums) == 5 {
			conf := nums[4]
			d.Confidence = &conf
		}
	case len(nums)%2 == 0:
		d.Points = make([][2]float64, 0, len(nums)/2)
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for i := 0; i < len(nums); i += 2 {
			x, y := nums[i], nums[i+1]
			d.Points = append(d.Points, [2]float64{x, y})
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
		d.BoundingBox = [4]float64{minX, minY, maxX - minX, maxY - minY}
	default:
		return Detection{}, fmt.Errorf("odd number of polygon coordinates (%d)", len(nums))
	}
	return d, nil
}

var imageExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

func isImage(path string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// scanImages walks dir recursively and returns image paths in lexical order.
func scanImages(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, dir)
	}
	var out []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isImage(p) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// listImages reads an image list file. "./" entries are relative to the list
// file, other relative entries to base.
func listImages(listPath, base string) ([]string, error) {
	lines, err := ReadLines(listPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, listPath)
		}
		return nil, err
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		var p string
		switch {
		case filepath.IsAbs(l):
			p = l
		case strings.HasPrefix(l, "./"):
			p = filepath.Join(filepath.Dir(listPath), l)
		default:
			p = filepath.Join(base, l)
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: image %s listed in %s", ErrNotFound, p, listPath)
		}
		out = append(out, p)
	}
	return out, nil
}

// resolveSplit expands one split entry (directory or list file) to image paths.
func resolveSplit(entry, base string) ([]string, error) {
	p := entry
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	if strings.EqualFold(filepath.Ext(p), ".txt") {
		return listImages(p, base)
	}
	return scanImages(p)
}
