package validation

import "errors"

var (
	ErrInvalidFileType   = errors.New("unrecognized geospatial file type")
	ErrFileTooLarge      = errors.New("file size exceeds upload limit")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)
