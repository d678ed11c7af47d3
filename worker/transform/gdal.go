package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"geoProcessor/storage"
	"geoProcessor/worker/repository"
)

// Progress bands per stage. The GDAL tool's own 0-100 output is mapped
// into the run band so the overall number keeps moving forward.
const (
	progressDownloaded = 10
	progressRunLow     = 30
	progressRunHigh    = 90
	progressUploaded   = 95
)

type clipParams struct {
	OutputName string `json:"output_name"`
}

type reprojectParams struct {
	TargetCRS string `json:"target_crs"`
}

type resampleParams struct {
	TargetResolution *float64 `json:"target_resolution"`
	ScaleFactor      *float64 `json:"scale_factor"`
	ResamplingMethod string   `json:"resampling_method"`
}

type mosaicParams struct {
	Method string `json:"method"`
}

// GDALExecutor runs transformations by shelling out to the GDAL
// command line tools (gdalwarp, gdal_translate, gdal_merge.py,
// gdal_calc.py). Inputs are staged from the blob store into a
// per-job scratch directory and the result is uploaded back.
type GDALExecutor struct {
	blobs   storage.BlobStore
	logger  *zap.Logger
	workDir string
}

func NewGDALExecutor(blobs storage.BlobStore, logger *zap.Logger, workDir string) *GDALExecutor {
	return &GDALExecutor{
		blobs:   blobs,
		logger:  logger,
		workDir: workDir,
	}
}

func (e *GDALExecutor) Execute(ctx context.Context, job *repository.Job, progress chan<- int) (string, error) {
	scratch, err := os.MkdirTemp(e.workDir, "job-"+job.ID+"-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	inputPaths, err := e.download(ctx, job, scratch)
	if err != nil {
		return "", err
	}
	emit(progress, progressDownloaded)

	outputName := outputFileName(job, inputPaths)
	outputPath := filepath.Join(scratch, outputName)

	name, args, err := buildCommand(job, inputPaths, outputPath)
	if err != nil {
		return "", err
	}

	if err := e.run(ctx, job, name, args, progress); err != nil {
		return "", err
	}
	emit(progress, progressRunHigh)

	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("transformation produced no output: %w", err)
	}

	resultRef, err := e.upload(ctx, job, outputPath, outputName)
	if err != nil {
		return "", err
	}
	emit(progress, progressUploaded)

	return resultRef, nil
}

func (e *GDALExecutor) download(ctx context.Context, job *repository.Job, scratch string) ([]string, error) {
	paths := make([]string, 0, len(job.InputRefs))
	for i, ref := range job.InputRefs {
		local := filepath.Join(scratch, fmt.Sprintf("input_%d%s", i, refExtension(ref)))

		obj, _, err := e.blobs.Get(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetch input %s: %w", ref, err)
		}

		file, err := os.Create(local)
		if err != nil {
			obj.Close()
			return nil, err
		}
		_, err = io.Copy(file, obj)
		obj.Close()
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("stage input %s: %w", ref, err)
		}

		paths = append(paths, local)
	}
	return paths, nil
}

func (e *GDALExecutor) run(ctx context.Context, job *repository.Job, name string, args []string, progress chan<- int) error {
	e.logger.Info("Running GDAL command",
		zap.String("job_id", job.ID),
		zap.String("command", name),
		zap.Strings("args", args),
	)

	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &progressWriter{progress: progress, low: progressRunLow, high: progressRunHigh}
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s failed: %s", name, msg)
	}
	return nil
}

func (e *GDALExecutor) upload(ctx context.Context, job *repository.Job, outputPath, outputName string) (string, error) {
	file, err := os.Open(outputPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}

	ref := "outputs/" + job.ID + "/" + outputName
	if err := e.blobs.Put(ctx, ref, file, info.Size(), "image/tiff"); err != nil {
		return "", fmt.Errorf("upload result: %w", err)
	}
	return ref, nil
}

// buildCommand translates a job into a single GDAL CLI invocation.
func buildCommand(job *repository.Job, inputPaths []string, outputPath string) (string, []string, error) {
	switch job.Type {
	case "clip":
		// inputPaths[0] is the raster, inputPaths[1] the cut geometry.
		if len(inputPaths) != 2 {
			return "", nil, fmt.Errorf("clip needs a raster and a vector input, got %d", len(inputPaths))
		}
		args := []string{
			"-cutline", inputPaths[1],
			"-crop_to_cutline",
			inputPaths[0],
			outputPath,
		}
		return "gdalwarp", args, nil

	case "reproject":
		var params reprojectParams
		if err := json.Unmarshal(job.Parameters, &params); err != nil {
			return "", nil, fmt.Errorf("decode reproject parameters: %w", err)
		}
		args := []string{
			"-t_srs", params.TargetCRS,
			inputPaths[0],
			outputPath,
		}
		return "gdalwarp", args, nil

	case "resample":
		var params resampleParams
		if err := json.Unmarshal(job.Parameters, &params); err != nil {
			return "", nil, fmt.Errorf("decode resample parameters: %w", err)
		}
		method := params.ResamplingMethod
		if method == "" {
			method = "bilinear"
		}

		var args []string
		switch {
		case params.TargetResolution != nil:
			res := strconv.FormatFloat(*params.TargetResolution, 'f', -1, 64)
			args = []string{"-tr", res, res}
		case params.ScaleFactor != nil:
			pct := strconv.FormatFloat(*params.ScaleFactor*100, 'f', -1, 64) + "%"
			args = []string{"-outsize", pct, pct}
		default:
			return "", nil, fmt.Errorf("resample needs target_resolution or scale_factor")
		}
		args = append(args, "-r", method, inputPaths[0], outputPath)
		return "gdal_translate", args, nil

	case "mosaic":
		var params mosaicParams
		if err := json.Unmarshal(job.Parameters, &params); err != nil {
			return "", nil, fmt.Errorf("decode mosaic parameters: %w", err)
		}
		method := params.Method
		if method == "" {
			method = "first"
		}

		switch method {
		case "first", "last":
			// gdal_merge paints later inputs over earlier ones, so
			// "first wins" means feeding the list in reverse.
			ordered := inputPaths
			if method == "first" {
				ordered = reversed(inputPaths)
			}
			args := append([]string{"-o", outputPath}, ordered...)
			return "gdal_merge.py", args, nil

		case "min", "max", "mean":
			calc := map[string]string{
				"min":  "numpy.nanmin(A, axis=0)",
				"max":  "numpy.nanmax(A, axis=0)",
				"mean": "numpy.nanmean(A, axis=0)",
			}[method]

			args := make([]string, 0, 2*len(inputPaths)+4)
			for _, p := range inputPaths {
				args = append(args, "-A", p)
			}
			args = append(args, "--calc="+calc, "--outfile="+outputPath)
			return "gdal_calc.py", args, nil

		default:
			return "", nil, fmt.Errorf("unsupported mosaic method: %s", method)
		}

	default:
		return "", nil, fmt.Errorf("unsupported job type: %s", job.Type)
	}
}

func outputFileName(job *repository.Job, inputPaths []string) string {
	if job.Type == "clip" {
		var params clipParams
		if err := json.Unmarshal(job.Parameters, &params); err == nil && params.OutputName != "" {
			return params.OutputName
		}
	}

	base := strings.TrimSuffix(filepath.Base(inputPaths[0]), filepath.Ext(inputPaths[0]))
	return fmt.Sprintf("%s_%s.tif", base, job.Type)
}

func refExtension(ref string) string {
	if ext := filepath.Ext(ref); ext != "" {
		return ext
	}
	return ".tif"
}

func reversed(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[len(paths)-1-i] = p
	}
	return out
}

func emit(progress chan<- int, value int) {
	select {
	case progress <- value:
	default:
	}
}

// progressWriter parses the "0...10...20...30" ticker the GDAL tools
// print to stdout and maps each percentage into the [low, high] band.
type progressWriter struct {
	progress chan<- int
	low      int
	high     int
	digits   []byte
	last     int
}

func (w *progressWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b >= '0' && b <= '9' {
			w.digits = append(w.digits, b)
			continue
		}
		w.flush()
	}
	return len(p), nil
}

func (w *progressWriter) flush() {
	if len(w.digits) == 0 {
		return
	}
	pct, err := strconv.Atoi(string(w.digits))
	w.digits = w.digits[:0]
	if err != nil || pct < 0 || pct > 100 {
		return
	}

	mapped := w.low + pct*(w.high-w.low)/100
	if mapped <= w.last {
		return
	}
	w.last = mapped
	emit(w.progress, mapped)
}
