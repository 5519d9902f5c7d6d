package iface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDatasetType(t *testing.T) {
	cases := map[string]DatasetType{
		"YOLOv5Dataset":  YOLOv5Dataset,
		"yolov5":         YOLOv5Dataset,
		" YOLOv4 ":       YOLOv4Dataset,
		"ImageDirectory": ImageDirectory,
	}
	for in, want := range cases {
		got, err := ParseDatasetType(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDatasetType("coco")
	assert.Error(t, err)
}

func TestDatasetTypeString(t *testing.T) {
	assert.Equal(t, "YOLOv5Dataset", YOLOv5Dataset.String())
	assert.Equal(t, "DatasetType(0x1)", DatasetType(1).String())
}
