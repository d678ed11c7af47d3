package validation

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
)

type FileType string

const (
	FileTypeGeoTIFF   FileType = "geotiff"
	FileTypeShapefile FileType = "shapefile"
	FileTypeGeoJSON   FileType = "geojson"
)

// GeoTIFF shares the plain TIFF magic; shapefiles arrive as zip
// archives.
var magicBytes = map[FileType][][]byte{
	FileTypeGeoTIFF: {
		{0x49, 0x49, 0x2A, 0x00}, // little-endian TIFF
		{0x4D, 0x4D, 0x00, 0x2A}, // big-endian TIFF
	},
	FileTypeShapefile: {
		{0x50, 0x4B, 0x03, 0x04}, // zip
	},
}

// DetectFileType sniffs the leading bytes instead of trusting the file
// extension.
func DetectFileType(file multipart.File) (FileType, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	head := buffer[:n]
	for fileType, signatures := range magicBytes {
		for _, signature := range signatures {
			if bytes.HasPrefix(head, signature) {
				return fileType, nil
			}
		}
	}

	if looksLikeGeoJSON(head) {
		return FileTypeGeoJSON, nil
	}

	return "", ErrInvalidFileType
}

func looksLikeGeoJSON(head []byte) bool {
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}

	// The head is usually a truncated document; probe just the "type"
	// member instead of requiring a full parse.
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &probe); err == nil {
		switch probe.Type {
		case "FeatureCollection", "Feature", "Polygon", "MultiPolygon", "GeometryCollection":
			return true
		}
		return false
	}

	return bytes.Contains(trimmed, []byte(`"type"`))
}

// IsRasterType reports whether the detected type can serve as a raster
// input.
func IsRasterType(fileType FileType) bool {
	return fileType == FileTypeGeoTIFF
}

// IsVectorType reports whether the detected type can serve as a vector
// input for clipping.
func IsVectorType(fileType FileType) bool {
	return fileType == FileTypeShapefile || fileType == FileTypeGeoJSON
}

func ContentTypeFor(fileType FileType) string {
	switch fileType {
	case FileTypeGeoTIFF:
		return "image/tiff"
	case FileTypeShapefile:
		return "application/zip"
	case FileTypeGeoJSON:
		return "application/geo+json"
	default:
		return "application/octet-stream"
	}
}
