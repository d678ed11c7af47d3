package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JobParameters is the operation-specific configuration attached to a
// job. Payloads are decoded per job type so every variant gets its own
// schema instead of an untyped map.
type JobParameters interface {
	Validate() error
}

var supportedResamplingMethods = map[string]bool{
	"nearest":  true,
	"bilinear": true,
	"cubic":    true,
	"average":  true,
}

var supportedMosaicMethods = map[string]bool{
	"first": true,
	"last":  true,
	"min":   true,
	"max":   true,
	"mean":  true,
}

// ClipParams clips a raster by a vector geometry. The raster is the
// first input ref; the vector is the second.
type ClipParams struct {
	OutputName string `json:"output_name,omitempty"`
}

func (p *ClipParams) Validate() error { return nil }

type ReprojectParams struct {
	TargetCRS  string `json:"target_crs"`
	OutputName string `json:"output_name,omitempty"`
}

func (p *ReprojectParams) Validate() error {
	if p.TargetCRS == "" {
		return fmt.Errorf("target_crs is required")
	}
	return nil
}

// ResampleParams accepts either an absolute target resolution in map
// units or a scale factor relative to the source resolution. Exactly one
// must be set.
type ResampleParams struct {
	TargetResolution float64 `json:"target_resolution,omitempty"`
	ScaleFactor      float64 `json:"scale_factor,omitempty"`
	ResamplingMethod string  `json:"resampling_method,omitempty"`
	OutputName       string  `json:"output_name,omitempty"`
}

func (p *ResampleParams) Validate() error {
	if p.TargetResolution == 0 && p.ScaleFactor == 0 {
		return fmt.Errorf("one of target_resolution or scale_factor is required")
	}
	if p.TargetResolution != 0 && p.ScaleFactor != 0 {
		return fmt.Errorf("target_resolution and scale_factor are mutually exclusive")
	}
	if p.TargetResolution < 0 {
		return fmt.Errorf("target_resolution must be positive")
	}
	if p.ScaleFactor < 0 {
		return fmt.Errorf("scale_factor must be positive")
	}
	if p.ResamplingMethod == "" {
		p.ResamplingMethod = "bilinear"
	}
	if !supportedResamplingMethods[p.ResamplingMethod] {
		return fmt.Errorf("unsupported resampling method: %s", p.ResamplingMethod)
	}
	return nil
}

type MosaicParams struct {
	Method     string `json:"method,omitempty"`
	OutputName string `json:"output_name,omitempty"`
}

func (p *MosaicParams) Validate() error {
	if p.Method == "" {
		p.Method = "first"
	}
	if !supportedMosaicMethods[p.Method] {
		return fmt.Errorf("unsupported mosaic method: %s", p.Method)
	}
	return nil
}

// ParseParameters decodes and validates the raw parameter payload for
// the given job type. Unknown fields are rejected so typos surface at
// submission time instead of silently defaulting.
func ParseParameters(jobType JobType, raw []byte) (JobParameters, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var params JobParameters
	switch jobType {
	case TypeClip:
		params = &ClipParams{}
	case TypeReproject:
		params = &ReprojectParams{}
	case TypeResample:
		params = &ResampleParams{}
	case TypeMosaic:
		params = &MosaicParams{}
	default:
		return nil, fmt.Errorf("unsupported job type: %s", jobType)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(params); err != nil {
		return nil, fmt.Errorf("malformed parameters: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// ValidateInputRefs checks the input ref arity rules per job type:
// clip takes a raster plus a vector, mosaic at least two rasters,
// everything else exactly one raster.
func ValidateInputRefs(jobType JobType, refs []string) error {
	for _, ref := range refs {
		if ref == "" {
			return fmt.Errorf("input_refs must not contain empty references")
		}
	}
	switch jobType {
	case TypeClip:
		if len(refs) != 2 {
			return fmt.Errorf("clip requires exactly 2 input refs (raster, vector), got %d", len(refs))
		}
	case TypeMosaic:
		if len(refs) < 2 {
			return fmt.Errorf("mosaic requires at least 2 input refs, got %d", len(refs))
		}
	case TypeReproject, TypeResample:
		if len(refs) != 1 {
			return fmt.Errorf("%s requires exactly 1 input ref, got %d", jobType, len(refs))
		}
	default:
		return fmt.Errorf("unsupported job type: %s", jobType)
	}
	return nil
}
