package validation

import (
	"bytes"
	"errors"
	"testing"
)

type memoryFile struct {
	*bytes.Reader
}

func (f *memoryFile) Close() error { return nil }

func newMemoryFile(data []byte) *memoryFile {
	return &memoryFile{Reader: bytes.NewReader(data)}
}

func TestDetectFileType_GeoTIFF(t *testing.T) {
	littleEndian := append([]byte{0x49, 0x49, 0x2A, 0x00}, make([]byte, 100)...)
	bigEndian := append([]byte{0x4D, 0x4D, 0x00, 0x2A}, make([]byte, 100)...)

	for _, data := range [][]byte{littleEndian, bigEndian} {
		fileType, err := DetectFileType(newMemoryFile(data))
		if err != nil {
			t.Fatalf("DetectFileType failed: %v", err)
		}
		if fileType != FileTypeGeoTIFF {
			t.Errorf("Expected geotiff, got %s", fileType)
		}
	}
}

func TestDetectFileType_Shapefile(t *testing.T) {
	data := append([]byte{0x50, 0x4B, 0x03, 0x04}, make([]byte, 100)...)

	fileType, err := DetectFileType(newMemoryFile(data))
	if err != nil {
		t.Fatalf("DetectFileType failed: %v", err)
	}
	if fileType != FileTypeShapefile {
		t.Errorf("Expected shapefile, got %s", fileType)
	}
}

func TestDetectFileType_GeoJSON(t *testing.T) {
	data := []byte(`{"type":"FeatureCollection","features":[]}`)

	fileType, err := DetectFileType(newMemoryFile(data))
	if err != nil {
		t.Fatalf("DetectFileType failed: %v", err)
	}
	if fileType != FileTypeGeoJSON {
		t.Errorf("Expected geojson, got %s", fileType)
	}
}

func TestDetectFileType_TruncatedGeoJSON(t *testing.T) {
	// A document longer than the sniff window still identifies by the
	// "type" member in the head.
	head := []byte(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":`)

	fileType, err := DetectFileType(newMemoryFile(head))
	if err != nil {
		t.Fatalf("DetectFileType failed: %v", err)
	}
	if fileType != FileTypeGeoJSON {
		t.Errorf("Expected geojson, got %s", fileType)
	}
}

func TestDetectFileType_PlainJSONRejected(t *testing.T) {
	data := []byte(`{"name":"not geo data"}`)

	_, err := DetectFileType(newMemoryFile(data))
	if !errors.Is(err, ErrInvalidFileType) {
		t.Errorf("Expected ErrInvalidFileType, got %v", err)
	}
}

func TestDetectFileType_Unknown(t *testing.T) {
	data := []byte("GIF89a definitely not a geo file")

	_, err := DetectFileType(newMemoryFile(data))
	if !errors.Is(err, ErrInvalidFileType) {
		t.Errorf("Expected ErrInvalidFileType, got %v", err)
	}
}

func TestDetectFileType_SeeksBack(t *testing.T) {
	data := append([]byte{0x49, 0x49, 0x2A, 0x00}, []byte("payload")...)
	file := newMemoryFile(data)

	if _, err := DetectFileType(file); err != nil {
		t.Fatalf("DetectFileType failed: %v", err)
	}

	head := make([]byte, 4)
	if _, err := file.Read(head); err != nil {
		t.Fatalf("Read after detect failed: %v", err)
	}
	if !bytes.Equal(head, []byte{0x49, 0x49, 0x2A, 0x00}) {
		t.Error("Expected file position reset after detection")
	}
}

func TestRasterAndVectorClassification(t *testing.T) {
	if !IsRasterType(FileTypeGeoTIFF) {
		t.Error("Expected geotiff to be a raster type")
	}
	if IsRasterType(FileTypeGeoJSON) || IsRasterType(FileTypeShapefile) {
		t.Error("Expected vector types to not be raster types")
	}
	if !IsVectorType(FileTypeGeoJSON) || !IsVectorType(FileTypeShapefile) {
		t.Error("Expected geojson and shapefile to be vector types")
	}
	if IsVectorType(FileTypeGeoTIFF) {
		t.Error("Expected geotiff to not be a vector type")
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[FileType]string{
		FileTypeGeoTIFF:   "image/tiff",
		FileTypeShapefile: "application/zip",
		FileTypeGeoJSON:   "application/geo+json",
		FileType("other"): "application/octet-stream",
	}

	for fileType, want := range cases {
		if got := ContentTypeFor(fileType); got != want {
			t.Errorf("ContentTypeFor(%s) = %s, want %s", fileType, got, want)
		}
	}
}
