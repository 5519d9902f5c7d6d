package iface

import (
	"context"
	"fmt"
	"strings"
)

type DatasetType int

const (
	YOLOv5Dataset  DatasetType = 0x3001
	YOLOv4Dataset  DatasetType = 0x3002
	ImageDirectory DatasetType = 0x3003
)

func (t DatasetType) String() string {
	switch t {
	case YOLOv5Dataset:
		return "YOLOv5Dataset"
	case YOLOv4Dataset:
		return "YOLOv4Dataset"
	case ImageDirectory:
		return "ImageDirectory"
	default:
		return fmt.Sprintf("DatasetType(%#x)", int(t))
	}
}

// ParseDatasetType accepts the type name case-insensitively, with or without
// the "Dataset" suffix.
func ParseDatasetType(s string) (DatasetType, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "dataset") {
	case "yolov5":
		return YOLOv5Dataset, nil
	case "yolov4":
		return YOLOv4Dataset, nil
	case "imagedirectory", "images":
		return ImageDirectory, nil
	}
	return 0, fmt.Errorf("unknown dataset type %q", s)
}

type Position struct {
	X, Y float32
}

type Box struct {
	LT Position
	RT Position
	RB Position
	LB Position
}

// Session is a running viewer bound to one dataset.
type Session interface {
	ID() string
	URL() string
	Wait(ctx context.Context) error
	Close() error
}
